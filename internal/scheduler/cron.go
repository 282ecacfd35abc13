package scheduler

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"time"
)

// CronExpr is a parsed 5-field cron expression: minute, hour, day-of-month, month and
// day-of-week. Each field is a bit set of the values it allows.
type CronExpr struct {
	src         string
	minutes     uint64
	hours       uint64
	daysOfMonth uint64
	months      uint64
	daysOfWeek  uint64
	// Standard cron: when both day fields are restricted, either may match.
	domStar, dowStar bool
}

var fieldNames = [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}

var bounds = [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 7}}

var macros = map[string]string{
	"@hourly":   "0 * * * *",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@weekly":   "0 0 * * 0",
	"@monthly":  "0 0 1 * *",
	"@yearly":   "0 0 1 1 *",
}

// ParseCron parses a standard 5-field cron expression or one of the @hourly style shorthands.
func ParseCron(expr string) (*CronExpr, error) {
	src := strings.TrimSpace(expr)
	if m, ok := macros[src]; ok {
		expr = m
	}
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}

	var sets [5]uint64
	for i, f := range fields {
		set, err := parseField(f, bounds[i][0], bounds[i][1])
		if err != nil {
			return nil, fmt.Errorf("%s field: %w", fieldNames[i], err)
		}
		sets[i] = set
	}
	// 7 is another spelling of Sunday.
	if sets[4]&(1<<7) != 0 {
		sets[4] = sets[4]&^(1<<7) | 1
	}

	return &CronExpr{
		src:         src,
		minutes:     sets[0],
		hours:       sets[1],
		daysOfMonth: sets[2],
		months:      sets[3],
		daysOfWeek:  sets[4],
		domStar:     fields[2] == "*" || strings.HasPrefix(fields[2], "*/"),
		dowStar:     fields[4] == "*" || strings.HasPrefix(fields[4], "*/"),
	}, nil
}

func (c *CronExpr) String() string { return c.src }

// Matches reports whether t, truncated to the minute, is a firing time.
func (c *CronExpr) Matches(t time.Time) bool {
	return has(c.minutes, t.Minute()) &&
		has(c.hours, t.Hour()) &&
		has(c.months, int(t.Month())) &&
		c.dayMatches(t)
}

func (c *CronExpr) dayMatches(t time.Time) bool {
	dom := has(c.daysOfMonth, t.Day())
	dow := has(c.daysOfWeek, int(t.Weekday()))
	if c.domStar || c.dowStar {
		return dom && dow
	}
	return dom || dow
}

// Next returns the first firing time strictly after t, or the zero time when none falls
// within five years (e.g. "0 0 31 2 *").
func (c *CronExpr) Next(t time.Time) time.Time {
	t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute()+1, 0, 0, t.Location())
	limit := t.AddDate(5, 0, 0)
	for t.Before(limit) {
		if !has(c.months, int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !c.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !has(c.hours, t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, t.Location())
			continue
		}
		if !has(c.minutes, t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}
	return time.Time{}
}

func has(set uint64, v int) bool { return set&(1<<uint(v)) != 0 }

// parseField parses one field: *, */n, n, n-m, n-m/s and comma separated lists of those.
func parseField(field string, lo, hi int) (uint64, error) {
	var set uint64
	for _, part := range strings.Split(field, ",") {
		s, err := parsePart(part, lo, hi)
		if err != nil {
			return 0, err
		}
		set |= s
	}
	if bits.OnesCount64(set) == 0 {
		return 0, fmt.Errorf("empty field %q", field)
	}
	return set, nil
}

func parsePart(part string, lo, hi int) (uint64, error) {
	rng, stepStr, hasStep := strings.Cut(part, "/")
	step := 1
	if hasStep {
		var err error
		step, err = strconv.Atoi(stepStr)
		if err != nil || step <= 0 {
			return 0, fmt.Errorf("invalid step: %s", part)
		}
	}

	start, end := lo, hi
	switch {
	case rng == "*":
	case strings.Contains(rng, "-"):
		a, b, _ := strings.Cut(rng, "-")
		var err error
		if start, err = value(a, lo, hi); err != nil {
			return 0, err
		}
		if end, err = value(b, lo, hi); err != nil {
			return 0, err
		}
		if start > end {
			return 0, fmt.Errorf("invalid range: %s", rng)
		}
	default:
		v, err := value(rng, lo, hi)
		if err != nil {
			return 0, err
		}
		start = v
		if !hasStep {
			end = v
		}
	}

	var set uint64
	for i := start; i <= end; i += step {
		set |= 1 << uint(i)
	}
	return set, nil
}

func value(s string, lo, hi int) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value: %s", s)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("value %d out of range %d-%d", v, lo, hi)
	}
	return v, nil
}
