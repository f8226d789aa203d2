package ics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	appLog "postcal/internal/log"
	"postcal/internal/model"
	"postcal/internal/store"
)

var ErrInvalidCalendar = errors.New("ics: invalid calendar")

const (
	defaultHorizon   = 365 * 24 * time.Hour
	defaultPostTitle = "Imported Post"
)

// ImportConfig controls how calendar events become scheduled posts.
type ImportConfig struct {
	// Location is used for floating times and for the posts' timezone.
	Location *time.Location
	// Platforms apply to events without CATEGORIES.
	Platforms []string
	// DefaultTime is the HH:MM given to all-day events.
	DefaultTime string
	// Horizon limits recurrence expansion, counted from the start of today.
	Horizon     time.Duration
	MaxPerEvent int
}

// Importer parses calendars into draft posts and stores them in one batch.
type Importer struct {
	store   store.PostStore
	fetcher *Fetcher
	cfg     ImportConfig
	now     func() time.Time
}

func NewImporter(st store.PostStore, fetcher *Fetcher, cfg ImportConfig) *Importer {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = defaultHorizon
	}
	if cfg.DefaultTime == "" {
		cfg.DefaultTime = "12:00"
	}
	return &Importer{store: st, fetcher: fetcher, cfg: cfg, now: time.Now}
}

// ImportBody stores one draft post per occurrence between the start of
// today and the horizon.
func (im *Importer) ImportBody(ctx context.Context, body []byte) ([]model.ScheduledPost, error) {
	events, err := Parse(body, im.cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCalendar, err)
	}

	now := im.now().In(im.cfg.Location)
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, im.cfg.Location)
	res, err := Expand(events, ExpandConfig{
		Location:               im.cfg.Location,
		RangeStart:             from,
		RangeEnd:               from.Add(im.cfg.Horizon),
		MaxOccurrencesPerEvent: im.cfg.MaxPerEvent,
	})
	if err != nil {
		return nil, err
	}

	posts := ToPosts(res.Occurrences, im.cfg)
	stored, err := im.store.InsertPosts(ctx, posts)
	if err != nil {
		return nil, fmt.Errorf("ics: insert imported posts: %w", err)
	}
	appLog.Info("calendar imported", "events", len(events), "posts", len(stored), "truncated", len(res.Truncated))
	return stored, nil
}

// ImportURL fetches a remote calendar and imports it.
func (im *Importer) ImportURL(ctx context.Context, rawURL string) ([]model.ScheduledPost, error) {
	if im.fetcher == nil {
		return nil, fmt.Errorf("%w: remote import disabled", ErrFetch)
	}
	res, err := im.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return im.ImportBody(ctx, res.Body)
}

// ToPosts maps occurrences to draft posts in cfg.Location.
func ToPosts(occs []Occurrence, cfg ImportConfig) []model.ScheduledPost {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	out := make([]model.ScheduledPost, 0, len(occs))
	for _, o := range occs {
		start := o.Start.In(loc)
		p := model.ScheduledPost{
			Title:     strings.TrimSpace(o.Summary),
			Caption:   o.Description,
			Platforms: o.Categories,
			Date:      start.Format("2006-01-02"),
			Time:      start.Format("15:04"),
			Timezone:  loc.String(),
			Status:    model.PostDraft,
			Notes:     "Imported from calendar event " + o.UID,
		}
		if p.Title == "" {
			p.Title = defaultPostTitle
		}
		if len(p.Platforms) == 0 {
			p.Platforms = cfg.Platforms
		}
		p.Platforms = append([]string(nil), p.Platforms...)
		if o.AllDay {
			p.Date = o.Start.Format("2006-01-02")
			p.Time = cfg.DefaultTime
		}
		out = append(out, p)
	}
	return out
}
