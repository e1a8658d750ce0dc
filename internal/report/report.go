// Package report renders server statistics into the plain-text live report.
//
// Render is pure: the same snapshot always yields byte-identical text. The
// only time-dependent line ("Generated at") appears when the caller passes an
// explicit timestamp through Options.
package report

import (
	"fmt"
	"math"
	"math/big"
	"slices"
	"strconv"
	"strings"
	"time"

	"craftybot/internal/crafty"
)

// Placeholder is the whole report for an empty snapshot.
const Placeholder = "No server statistics available."

const (
	header        = "Crafty Server Summary"
	na            = "n/a"
	timeLayout    = "02.01.2006 15:04:05"
	noFlags       = "None"
	flagSeparator = ", "
)

type Options struct {
	// GeneratedAt adds a "Generated at" line when non-zero.
	GeneratedAt time.Time
	// Location converts GeneratedAt before formatting; nil keeps it as is.
	Location *time.Location
}

// Render formats stats without a timestamp line.
func Render(stats []crafty.ServerStats) string {
	return RenderWith(stats, Options{})
}

func RenderWith(stats []crafty.ServerStats, opt Options) string {
	if len(stats) == 0 {
		return Placeholder
	}

	sorted := slices.Clone(stats)
	slices.SortStableFunc(sorted, func(a, b crafty.ServerStats) int {
		return strings.Compare(strings.ToUpper(DisplayName(a)), strings.ToUpper(DisplayName(b)))
	})

	total := 0
	for _, s := range stats {
		total += s.Online
	}

	var b strings.Builder
	b.WriteString(header)
	b.WriteByte('\n')
	if !opt.GeneratedAt.IsZero() {
		b.WriteString("Generated at ")
		b.WriteString(FormatTime(opt.GeneratedAt, opt.Location))
		b.WriteByte('\n')
	}
	b.WriteString("Total servers: " + strconv.Itoa(len(stats)) + "\n")
	b.WriteString("Total players online: " + strconv.Itoa(total) + "\n\n")

	for _, s := range sorted {
		writeServer(&b, s)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), " \t\r\n")
}

func writeServer(b *strings.Builder, s crafty.ServerStats) {
	state := "Stopped"
	if s.Running {
		state = "Running"
	}
	maxPlayers := "?"
	if s.Max != nil {
		maxPlayers = strconv.Itoa(*s.Max)
	}

	b.WriteString("- " + DisplayName(s) + " (" + state + ")\n")
	b.WriteString("  Players: " + strconv.Itoa(s.Online) + "/" + maxPlayers + "\n")
	b.WriteString("  World: " + world(s) + "\n")
	b.WriteString("  CPU: " + percentOrNA(s.CPU) + "\n")
	b.WriteString("  Memory: " + memory(s) + "\n")
	b.WriteString("  Version: " + orNA(s.Version) + "\n")
	b.WriteString("  Started: " + orNA(s.Started) + "\n")
	b.WriteString("  Flags: " + flags(s.Flags()) + "\n")
}

// DisplayName resolves the name shown for a server: the server object's
// server_name, then its name, then the description, then "Server #<stats id>".
func DisplayName(s crafty.ServerStats) string {
	for _, v := range []string{s.Server.ServerName, s.Server.Name, s.Desc} {
		if !blank(v) {
			return v
		}
	}
	return "Server #" + strconv.Itoa(s.StatsID)
}

func world(s crafty.ServerStats) string {
	name, size := !blank(s.WorldName), !blank(s.WorldSize)
	switch {
	case name && size:
		return s.WorldName + " (" + s.WorldSize + ")"
	case name:
		return s.WorldName
	case size:
		return s.WorldSize
	}
	return na
}

func memory(s crafty.ServerStats) string {
	raw := string(s.Mem)
	hasRaw := !blank(raw)
	switch {
	case hasRaw && s.MemPercent != nil:
		return raw + " (" + Percent(*s.MemPercent) + ")"
	case hasRaw:
		return raw
	case s.MemPercent != nil:
		return Percent(*s.MemPercent)
	}
	return na
}

func flags(f crafty.Flag) string {
	var parts []string
	for _, fl := range crafty.AllFlags {
		if f&fl != 0 {
			parts = append(parts, fl.String())
		}
	}
	if len(parts) == 0 {
		return noFlags
	}
	return strings.Join(parts, flagSeparator)
}

func percentOrNA(v *float64) string {
	if v == nil {
		return na
	}
	return Percent(*v)
}

// Percent renders v with at most two fractional digits and a '%' suffix,
// always with '.' as the decimal separator. v is first taken to 15
// significant digits and ties round away from zero, so 2.675 gives 2.68%.
func Percent(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return na
	}
	hundredths := roundHundredths(v)
	neg := hundredths.Sign() < 0
	hundredths.Abs(hundredths)

	whole, frac := new(big.Int).QuoRem(hundredths, big.NewInt(100), new(big.Int))
	s := whole.String()
	if f := frac.Int64(); f != 0 {
		s += strings.TrimRight("."+fmt.Sprintf("%02d", f), "0")
	}
	if neg {
		s = "-" + s
	}
	return s + "%"
}

// roundHundredths returns v*100 as an integer, rounded half away from zero
// on the 15-significant-digit decimal form of v.
func roundHundredths(v float64) *big.Int {
	e := strconv.FormatFloat(math.Abs(v), 'e', 14, 64) // d.dddddddddddddde±XX
	mant, expPart, _ := strings.Cut(e, "e")
	exp, _ := strconv.Atoi(expPart)
	digits, _ := new(big.Int).SetString(strings.Replace(mant, ".", "", 1), 10)

	// digits * 10^(exp-14) is |v|; scale by 100.
	shift := exp - 14 + 2
	if shift >= 0 {
		digits.Mul(digits, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(shift)), nil))
	} else {
		div := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-shift)), nil)
		q, r := new(big.Int).QuoRem(digits, div, new(big.Int))
		if r.Lsh(r, 1).Cmp(div) >= 0 {
			q.Add(q, big.NewInt(1))
		}
		digits = q
	}
	if v < 0 {
		digits.Neg(digits)
	}
	return digits
}

// FormatTime renders t as dd.MM.yyyy HH:mm:ss, converted to loc when set.
func FormatTime(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(timeLayout)
}

func orNA(s string) string {
	if blank(s) {
		return na
	}
	return s
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }
