// Package posts turns a recurrence rule into draft scheduled posts and
// stores them in one batch.
package posts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	appLog "postcal/internal/log"
	"postcal/internal/metrics"
	"postcal/internal/model"
	"postcal/internal/recurrence"
	"postcal/internal/store"
)

var ErrInvalidTime = errors.New("posts: time must be HH:MM")

const placeholderCaption = "Content to be generated"

// PlanRequest describes a smart schedule.
type PlanRequest struct {
	Rule recurrence.Request
	// Time is the HH:MM posting time for every generated date.
	Time      string
	Platforms []string
}

// Plan builds one draft post per generated date. Dates and the timezone
// come from the rule's start date location.
func Plan(req PlanRequest) ([]model.ScheduledPost, error) {
	hhmm, err := ParseTime(req.Time)
	if err != nil {
		return nil, err
	}
	dates, err := req.Rule.Generate()
	if err != nil {
		return nil, err
	}

	tz := req.Rule.Start.Location().String()
	notes := fmt.Sprintf("Auto-generated %s schedule", req.Rule.Frequency)

	out := make([]model.ScheduledPost, len(dates))
	for i, d := range dates {
		out[i] = model.ScheduledPost{
			Title:     fmt.Sprintf("Scheduled Post #%d", i+1),
			Caption:   placeholderCaption,
			Platforms: append([]string(nil), req.Platforms...),
			Date:      d.Format("2006-01-02"),
			Time:      hhmm,
			Timezone:  tz,
			Status:    model.PostDraft,
			Notes:     notes,
		}
	}
	return out, nil
}

// ParseTime validates and normalizes an HH:MM time of day ("9:05" -> "09:05").
func ParseTime(s string) (string, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	return t.Format("15:04"), nil
}

// Service plans schedules and writes them to a PostStore.
type Service struct {
	Store store.PostStore
}

func NewService(st store.PostStore) *Service {
	return &Service{Store: st}
}

// Schedule plans req and inserts every post in a single store call.
func (s *Service) Schedule(ctx context.Context, req PlanRequest) ([]model.ScheduledPost, error) {
	planned, err := Plan(req)
	if err != nil {
		return nil, err
	}
	stored, err := s.Store.InsertPosts(ctx, planned)
	if err != nil {
		return nil, fmt.Errorf("posts: insert schedule: %w", err)
	}
	metrics.IncScheduleGenerated(string(req.Rule.Frequency))
	appLog.Info("schedule created",
		"frequency", req.Rule.Frequency,
		"count", len(stored),
		"first", stored[0].Date,
		"last", stored[len(stored)-1].Date,
	)
	return stored, nil
}
