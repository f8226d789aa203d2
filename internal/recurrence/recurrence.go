// Package recurrence expands a posting rule (start date, frequency,
// preferred weekday, count) into concrete calendar dates.
//
// All functions are pure: output depends only on the arguments.
package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// Frequency is the spacing between consecutive occurrences.
type Frequency string

const (
	Weekly   Frequency = "weekly"
	Biweekly Frequency = "biweekly"
	Monthly  Frequency = "monthly"
)

const dateLayout = "2006-01-02"

var (
	ErrInvalidWeekday   = errors.New("recurrence: invalid weekday")
	ErrInvalidFrequency = errors.New("recurrence: invalid frequency")
	ErrInvalidCount     = errors.New("recurrence: count must be positive")
	ErrInvalidDate      = errors.New("recurrence: invalid start date")
)

// Request is one recurrence rule. Start only contributes its calendar date.
type Request struct {
	Start     time.Time
	Frequency Frequency
	Weekday   time.Weekday
	Count     int
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekday maps a weekday name ("Wednesday", "wed") to time.Weekday.
func ParseWeekday(s string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if wd, ok := weekdays[name]; ok {
		return wd, nil
	}
	if len(name) == 3 {
		for full, wd := range weekdays {
			if strings.HasPrefix(full, name) {
				return wd, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidWeekday, s)
}

func ParseFrequency(s string) (Frequency, error) {
	switch f := Frequency(strings.ToLower(strings.TrimSpace(s))); f {
	case Weekly, Biweekly, Monthly:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidFrequency, s)
}

// ParseDate parses a YYYY-MM-DD calendar date at midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t, nil
}

// ParseRequest builds a Request from the string form used by the API.
func ParseRequest(startDate, frequency, weekday string, count int, loc *time.Location) (Request, error) {
	start, err := ParseDate(startDate, loc)
	if err != nil {
		return Request{}, err
	}
	freq, err := ParseFrequency(frequency)
	if err != nil {
		return Request{}, err
	}
	wd, err := ParseWeekday(weekday)
	if err != nil {
		return Request{}, err
	}
	req := Request{Start: start, Frequency: freq, Weekday: wd, Count: count}
	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

func (r Request) Validate() error {
	switch r.Frequency {
	case Weekly, Biweekly, Monthly:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidFrequency, r.Frequency)
	}
	if r.Weekday < time.Sunday || r.Weekday > time.Saturday {
		return fmt.Errorf("%w: %d", ErrInvalidWeekday, r.Weekday)
	}
	if r.Count <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCount, r.Count)
	}
	return nil
}

// Generate returns count dates for the rule, in start's location.
//
// The first date is start moved forward (0 to 6 days) onto weekday; this
// alignment applies to every frequency. Weekly and biweekly then step 7 and
// 14 days. Monthly keeps the first date's day-of-month, clamping to the last
// day of shorter months without carrying the clamp forward.
func Generate(start time.Time, freq Frequency, weekday time.Weekday, count int) ([]time.Time, error) {
	return Request{Start: start, Frequency: freq, Weekday: weekday, Count: count}.Generate()
}

func (r Request) Generate() ([]time.Time, error) {
	opt, err := r.option()
	if err != nil {
		return nil, err
	}
	rule, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("recurrence: build rule: %w", err)
	}
	dates := rule.All()
	if len(dates) != r.Count {
		return nil, fmt.Errorf("recurrence: rule produced %d dates, want %d", len(dates), r.Count)
	}
	return dates, nil
}

// RRule renders the rule as an RFC 5545 RRULE value (without DTSTART).
func (r Request) RRule() (string, error) {
	opt, err := r.option()
	if err != nil {
		return "", err
	}
	return opt.RRuleString(), nil
}

// FirstDate is the aligned first occurrence.
func (r Request) FirstDate() time.Time {
	return Align(r.Start, r.Weekday)
}

// Align moves t forward to the nearest date on weekday, keeping t's date
// when it already matches. Time of day is dropped.
func Align(t time.Time, weekday time.Weekday) time.Time {
	day := midnight(t)
	diff := (int(weekday) - int(day.Weekday()) + 7) % 7
	return day.AddDate(0, 0, diff)
}

func (r Request) option() (rrule.ROption, error) {
	if err := r.Validate(); err != nil {
		return rrule.ROption{}, err
	}
	first := r.FirstDate()
	opt := rrule.ROption{
		Dtstart: first,
		Count:   r.Count,
	}

	switch r.Frequency {
	case Weekly:
		opt.Freq = rrule.WEEKLY
		opt.Interval = 1
	case Biweekly:
		opt.Freq = rrule.WEEKLY
		opt.Interval = 2
	case Monthly:
		// BYMONTHDAY=28..d;BYSETPOS=-1 picks day d, or the month's last day
		// when d does not exist. Each month is evaluated against d itself.
		opt.Freq = rrule.MONTHLY
		opt.Interval = 1
		opt.Bymonthday = monthDayCandidates(first.Day())
		if len(opt.Bymonthday) > 1 {
			opt.Bysetpos = []int{-1}
		}
	}
	return opt, nil
}

func monthDayCandidates(anchor int) []int {
	if anchor <= 28 {
		return []int{anchor}
	}
	days := make([]int, 0, anchor-27)
	for d := 28; d <= anchor; d++ {
		days = append(days, d)
	}
	return days
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
