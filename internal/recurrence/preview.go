package recurrence

import (
	"fmt"
	"math"
	"time"
)

const previewLayout = "Mon, Jan 2, 2006"

// FormatPreview labels each date with a fixed time of day,
// e.g. "Wed, Jan 3, 2024 at 12:00".
func FormatPreview(dates []time.Time, timeOfDay string) []string {
	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = d.Format(previewLayout) + " at " + timeOfDay
	}
	return out
}

// FormatDates renders dates as YYYY-MM-DD.
func FormatDates(dates []time.Time) []string {
	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = d.Format(dateLayout)
	}
	return out
}

// NextOccurrence returns the first date strictly after from that falls on
// weekday. When from is already on weekday the result is one week later.
func NextOccurrence(weekday time.Weekday, from time.Time) time.Time {
	diff := (int(weekday) - int(from.Weekday()) + 7) % 7
	if diff == 0 {
		diff = 7
	}
	return from.AddDate(0, 0, diff)
}

// weeksPerMonth is the average month length used for span estimates.
const weeksPerMonth = 4.33

// EstimateSpan gives a rough human label for how long count posts last,
// "6 weeks" below eight weeks and "N months" beyond.
func EstimateSpan(freq Frequency, count int) string {
	var mult float64
	switch freq {
	case Weekly:
		mult = 1
	case Biweekly:
		mult = 2
	default:
		mult = weeksPerMonth
	}
	weeks := float64(count) * mult
	if weeks < 8 {
		return fmt.Sprintf("%d weeks", int(math.Round(weeks)))
	}
	return fmt.Sprintf("%d months", int(math.Round(weeks/weeksPerMonth)))
}

// BestTime is a recommended posting slot.
type BestTime struct {
	Day        string `json:"day"`
	Time       string `json:"time"`
	Label      string `json:"label"`
	Reason     string `json:"reason"`
	Engagement string `json:"engagement"`
}

var bestTimes = []BestTime{
	{Day: "wednesday", Time: "12:00", Label: "Wednesday at 12:00 PM", Reason: "Peak mid-week engagement during lunch break", Engagement: "High"},
	{Day: "friday", Time: "18:00", Label: "Friday at 6:00 PM", Reason: "Weekend anticipation drives high interaction", Engagement: "Very High"},
	{Day: "tuesday", Time: "10:00", Label: "Tuesday at 10:00 AM", Reason: "Morning productivity hours with fresh audience", Engagement: "High"},
	{Day: "thursday", Time: "15:00", Label: "Thursday at 3:00 PM", Reason: "Afternoon energy boost time", Engagement: "Medium-High"},
	{Day: "monday", Time: "09:00", Label: "Monday at 9:00 AM", Reason: "Start of week, professional audience active", Engagement: "Medium"},
}

// BestTimes returns the recommended posting slots, strongest first as listed.
func BestTimes() []BestTime {
	out := make([]BestTime, len(bestTimes))
	copy(out, bestTimes)
	return out
}
