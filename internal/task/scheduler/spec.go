package scheduler

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// ParsedSpec is a schedule string resolved to a cron expression or a fixed
// interval.
//
// Accepted forms:
//   - cron: "0 */6 * * *", "@daily", "@every 6h"
//   - Go duration: "6h", "90m"
//   - HH:MM interval: "06:00" (six hours)
//
// "cron:" and "every:" prefixes force the kind.
type ParsedSpec struct {
	Kind  SpecKind
	Cron  string
	Every time.Duration
}

var (
	reHHMM = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)

	// parser accepts 5-field specs, an optional seconds field and descriptors.
	parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, fmt.Errorf("schedule required")
	}
	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return cronSpec(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "every:"):
		return intervalSpec(strings.TrimSpace(s[len("every:"):]))
	case strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t"):
		return cronSpec(s)
	}
	if ps, err := intervalSpec(s); err == nil {
		return ps, nil
	}
	return ParsedSpec{}, fmt.Errorf("invalid schedule %q (use cron like '0 */6 * * *', '@every 6h', a duration like '6h' or HH:MM)", raw)
}

// Validate reports whether spec can be scheduled.
func Validate(spec string) error {
	_, err := ParseSchedule(spec)
	return err
}

func cronSpec(expr string) (ParsedSpec, error) {
	if expr == "" {
		return ParsedSpec{}, fmt.Errorf("cron expression required")
	}
	if _, err := parser.Parse(expr); err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return ParsedSpec{Kind: SpecCron, Cron: expr}, nil
}

func intervalSpec(v string) (ParsedSpec, error) {
	var d time.Duration
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return ParsedSpec{}, fmt.Errorf("invalid minutes in %q", v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return ParsedSpec{}, fmt.Errorf("invalid interval %q", v)
		}
	}
	if d <= 0 {
		return ParsedSpec{}, fmt.Errorf("interval must be > 0")
	}
	return ParsedSpec{Kind: SpecInterval, Every: d}, nil
}

const maxStartupSpread = 30 * time.Second

// spreadSchedule delays only the first run so interval jobs registered
// together do not all fire at once.
type spreadSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *spreadSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

func intervalWithSpread(every time.Duration, now time.Time) cron.Schedule {
	spread := min(every, maxStartupSpread)
	if spread <= 0 {
		return cron.Every(every)
	}
	return &spreadSchedule{base: cron.Every(every), first: now.Add(every + rand.N(spread))}
}
