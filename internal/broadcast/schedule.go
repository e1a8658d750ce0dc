package broadcast

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// MinInterval is the shortest allowed gap between two cycle starts.
const MinInterval = time.Minute

// DefaultInterval applies when neither interval nor schedule is set.
const DefaultInterval = 5 * time.Minute

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule builds the cycle schedule.
//
// expr wins when set and accepts:
//   - cron: "*/5 * * * *", "@hourly", "@every 10m" (optionally "cron:" prefixed)
//   - Go duration: "10m", "1h30m"
//   - HH:MM interval: "00:15" (15 minutes)
//
// Otherwise interval is used. Fixed intervals below MinInterval are raised
// to it; the returned bool reports that a clamp happened.
func ParseSchedule(expr string, interval time.Duration, loc *time.Location) (cron.Schedule, bool, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		if interval <= 0 {
			interval = DefaultInterval
		}
		every, clamped := clampInterval(interval)
		return cron.Every(every), clamped, nil
	}

	if strings.HasPrefix(strings.ToLower(s), "cron:") {
		return parseCron(strings.TrimSpace(s[len("cron:"):]), loc)
	}
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		return parseCron(s, loc)
	}
	if reHHMM.MatchString(s) {
		d, err := parseHHMMDuration(s)
		if err != nil {
			return nil, false, err
		}
		every, clamped := clampInterval(d)
		return cron.Every(every), clamped, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return nil, false, fmt.Errorf("invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '00:15', or duration like '10m')", expr)
	}
	if d <= 0 {
		return nil, false, fmt.Errorf("schedule interval must be > 0")
	}
	every, clamped := clampInterval(d)
	return cron.Every(every), clamped, nil
}

func parseCron(expr string, loc *time.Location) (cron.Schedule, bool, error) {
	if expr == "" {
		return nil, false, fmt.Errorf("cron schedule required after 'cron:'")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, false, fmt.Errorf("invalid cron schedule %q: %w", expr, err)
	}
	if cd, ok := sched.(cron.ConstantDelaySchedule); ok {
		every, clamped := clampInterval(cd.Delay)
		return cron.Every(every), clamped, nil
	}
	if spec, ok := sched.(*cron.SpecSchedule); ok && loc != nil && !strings.HasPrefix(expr, "CRON_TZ=") && !strings.HasPrefix(expr, "TZ=") {
		spec.Location = loc
	}
	return sched, false, nil
}

func clampInterval(d time.Duration) (time.Duration, bool) {
	if d < MinInterval {
		return MinInterval, true
	}
	return d, false
}

func parseHHMMDuration(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, fmt.Errorf("schedule interval must be > 0")
	}
	return d, nil
}
