package report

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"craftybot/internal/crafty"
)

func ptr[T any](v T) *T { return &v }

func ref(t *testing.T, raw string) crafty.ServerRef {
	t.Helper()
	var r crafty.ServerRef
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		t.Fatalf("ServerRef(%s): %v", raw, err)
	}
	return r
}

func sampleSnapshot(t *testing.T) []crafty.ServerStats {
	return []crafty.ServerStats{
		{StatsID: 1, Server: ref(t, `{"server_name":"Beta"}`), Online: 5},
		{
			StatsID:    2,
			Server:     ref(t, `{"server_name":"Alpha"}`),
			Online:     10,
			Max:        ptr(20),
			Running:    true,
			WorldName:  "Earth",
			WorldSize:  "1.2 GB",
			CPU:        ptr(42.5),
			Mem:        "1.5 GB",
			MemPercent: ptr(75.0),
			Version:    "1.20.4",
			Started:    "2024-05-01T10:00:00Z",
			Updating:   true,
		},
	}
}

const sampleReport = `Crafty Server Summary
Total servers: 2
Total players online: 15

- Alpha (Running)
  Players: 10/20
  World: Earth (1.2 GB)
  CPU: 42.5%
  Memory: 1.5 GB (75%)
  Version: 1.20.4
  Started: 2024-05-01T10:00:00Z
  Flags: Updating

- Beta (Stopped)
  Players: 5/?
  World: n/a
  CPU: n/a
  Memory: n/a
  Version: n/a
  Started: n/a
  Flags: None`

func TestRenderSummaryAndBlocks(t *testing.T) {
	t.Parallel()

	if got := Render(sampleSnapshot(t)); got != sampleReport {
		t.Fatalf("Render mismatch\n--- got ---\n%s\n--- want ---\n%s", got, sampleReport)
	}
}

func TestRenderEmptyIsPlaceholder(t *testing.T) {
	t.Parallel()

	if got := Render(nil); got != Placeholder {
		t.Fatalf("Render(nil)=%q", got)
	}
	if got := RenderWith([]crafty.ServerStats{}, Options{GeneratedAt: time.Now()}); got != Placeholder {
		t.Fatalf("Render(empty)=%q", got)
	}
}

func TestRenderOrderIndependentAndPure(t *testing.T) {
	t.Parallel()

	snap := sampleSnapshot(t)
	reversed := []crafty.ServerStats{snap[1], snap[0]}
	first := Render(snap)
	if Render(reversed) != first {
		t.Fatalf("render depends on input order")
	}
	for i := 0; i < 3; i++ {
		if Render(snap) != first {
			t.Fatalf("render not deterministic")
		}
	}
	if snap[0].Server.ServerName != "Beta" {
		t.Fatalf("render reordered the caller's slice")
	}

	// Case is folded to upper, so punctuation between 'Z' and 'a' sorts
	// after letters.
	orders := []struct {
		first, second string
	}{
		{"AB", "a_b"},
		{"survival", "survival_1"},
		{"Zeta", "[event]"},
		{"alpha", "BETA"},
	}
	for _, o := range orders {
		for _, in := range [][]crafty.ServerStats{
			{{Desc: o.first}, {Desc: o.second}},
			{{Desc: o.second}, {Desc: o.first}},
		} {
			got := Render(in)
			i1, i2 := strings.Index(got, "- "+o.first+" ("), strings.Index(got, "- "+o.second+" (")
			if i1 < 0 || i2 < 0 || i1 > i2 {
				t.Fatalf("%q should render before %q:\n%s", o.first, o.second, got)
			}
		}
	}
}

func TestRenderStableForEqualNames(t *testing.T) {
	t.Parallel()

	snap := []crafty.ServerStats{
		{StatsID: 1, Desc: "same", Online: 1},
		{StatsID: 2, Desc: "SAME", Online: 2},
		{StatsID: 3, Desc: "Same", Online: 3},
	}
	got := Render(snap)
	i1 := strings.Index(got, "- same (")
	i2 := strings.Index(got, "- SAME (")
	i3 := strings.Index(got, "- Same (")
	if !(i1 < i2 && i2 < i3) {
		t.Fatalf("equal names not kept in input order:\n%s", got)
	}
}

func TestDisplayNameFallbacks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   crafty.ServerStats
		want string
	}{
		{"server_name", crafty.ServerStats{Server: ref(t, `{"server_name":"Lobby","name":"other"}`)}, "Lobby"},
		{"name", crafty.ServerStats{Server: ref(t, `{"server_name":"  ","name":"Hub"}`)}, "Hub"},
		{"desc", crafty.ServerStats{Server: ref(t, `"abc"`), Desc: "Creative"}, "Creative"},
		{"synthetic", crafty.ServerStats{StatsID: 42}, "Server #42"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := DisplayName(tt.in); got != tt.want {
				t.Fatalf("DisplayName()=%q want %q", got, tt.want)
			}
		})
	}
}

func TestFieldFormatting(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"percent two digits", Percent(12.3456), "12.35%"},
		{"percent trailing zero", Percent(75), "75%"},
		{"percent one digit", Percent(42.50), "42.5%"},
		{"percent negative zero", Percent(-0.001), "0%"},
		{"percent tie rounds up", Percent(0.125), "0.13%"},
		{"percent tie on decimal form", Percent(2.675), "2.68%"},
		{"percent negative tie", Percent(-1.005), "-1.01%"},
		{"percent large", Percent(1234567.891), "1234567.89%"},
		{"percent tiny", Percent(1e-20), "0%"},
		{"percent not a number", Percent(math.NaN()), "n/a"},
		{"world name only", world(crafty.ServerStats{WorldName: "w"}), "w"},
		{"world size only", world(crafty.ServerStats{WorldSize: "3 GB"}), "3 GB"},
		{"memory raw only", memory(crafty.ServerStats{Mem: "512MB"}), "512MB"},
		{"memory percent only", memory(crafty.ServerStats{MemPercent: ptr(33.333)}), "33.33%"},
		{"all flags", flags(crafty.FlagDownloading | crafty.FlagUpdating | crafty.FlagCrashed | crafty.FlagFirstRun | crafty.FlagWaitingStart),
			"Updating, Waiting start, First run, Crashed, Downloading"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Fatalf("%s: got %q want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestRenderGeneratedAt(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 5, 1, 9, 30, 5, 0, time.UTC)
	loc := time.FixedZone("MSK", 3*3600)
	got := RenderWith(sampleSnapshot(t), Options{GeneratedAt: at, Location: loc})
	lines := strings.Split(got, "\n")
	if lines[1] != "Generated at 01.05.2024 12:30:05" {
		t.Fatalf("line 2=%q", lines[1])
	}
	if lines[2] != "Total servers: 2" {
		t.Fatalf("line 3=%q", lines[2])
	}
}

func TestEventMessage(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		kind EventKind
		name string
		want string
	}{
		{EventStarted, "Alpha", "🟢 Server Alpha has started.\n🕒 01.05.2024 12:00:00"},
		{EventStopped, "Alpha", "🛑 Server Alpha has stopped.\n🕒 01.05.2024 12:00:00"},
		{EventCrashed, "", "💥 Server Unknown server has crashed!\n🕒 01.05.2024 12:00:00"},
		{EventKilled, "B", "⚡ Server B was force-stopped.\n🕒 01.05.2024 12:00:00"},
		{EventKind("other"), "B", "ℹ️ Received an event for server B.\n🕒 01.05.2024 12:00:00"},
	}
	for _, tt := range tests {
		if got := EventMessage(tt.name, tt.kind, at, nil); got != tt.want {
			t.Fatalf("EventMessage(%s)=%q want %q", tt.kind, got, tt.want)
		}
	}
	if got := EventMessage("A", EventStarted, time.Time{}, nil); strings.Contains(got, "🕒") {
		t.Fatalf("zero time should omit timestamp: %q", got)
	}
}
