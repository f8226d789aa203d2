// Package store defines the persistence ports used by the alarm loop and
// the scheduling API. Adapters live in the memory and sqlite subpackages.
package store

import (
	"context"
	"errors"

	"postcal/internal/model"
)

var ErrNotFound = errors.New("store: not found")

type AlarmStore interface {
	// ListAlarms returns every alarm ordered by alarm time.
	ListAlarms(ctx context.Context) ([]model.Alarm, error)
	GetAlarm(ctx context.Context, id string) (model.Alarm, error)
	CreateAlarm(ctx context.Context, in model.NewAlarm) (model.Alarm, error)
	// DismissAlarm sets status to dismissed. Dismissing twice is not an
	// error; an unknown id returns ErrNotFound.
	DismissAlarm(ctx context.Context, id string) error
	DeleteAlarm(ctx context.Context, id string) error
}

type PostStore interface {
	// InsertPosts stores all posts in one batch, assigning missing ids and
	// creation times, and returns the stored records.
	InsertPosts(ctx context.Context, posts []model.ScheduledPost) ([]model.ScheduledPost, error)
	// ListPosts returns posts ordered by scheduled date and time.
	ListPosts(ctx context.Context) ([]model.ScheduledPost, error)
}

type Store interface {
	AlarmStore
	PostStore
	Close() error
}
