package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"postcal/internal/model"
	"postcal/internal/store"
)

type Store struct {
	mu     sync.RWMutex
	alarms map[string]model.Alarm
	posts  []model.ScheduledPost
	now    func() time.Time
}

func New() *Store {
	return &Store{
		alarms: make(map[string]model.Alarm),
		posts:  make([]model.ScheduledPost, 0, 64),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

var _ store.Store = (*Store)(nil)

func (m *Store) ListAlarms(ctx context.Context) ([]model.Alarm, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Alarm, 0, len(m.alarms))
	for _, a := range m.alarms {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].ID < out[j].ID
		}
		return out[i].At.Before(out[j].At)
	})
	return out, nil
}

func (m *Store) GetAlarm(ctx context.Context, id string) (model.Alarm, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alarms[id]
	if !ok {
		return model.Alarm{}, store.ErrNotFound
	}
	return a, nil
}

func (m *Store) CreateAlarm(ctx context.Context, in model.NewAlarm) (model.Alarm, error) {
	a := model.Alarm{
		ID:                  uuid.NewString(),
		Title:               in.Title,
		Notes:               in.Notes,
		At:                  in.At,
		SoundEnabled:        in.SoundEnabled,
		NotificationEnabled: in.NotificationEnabled,
		Status:              model.AlarmActive,
		ScheduledPostID:     in.ScheduledPostID,
		PlannedPostID:       in.PlannedPostID,
		CreatedAt:           m.now(),
	}
	m.mu.Lock()
	m.alarms[a.ID] = a
	m.mu.Unlock()
	return a, nil
}

func (m *Store) DismissAlarm(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alarms[id]
	if !ok {
		return store.ErrNotFound
	}
	a.Status = model.AlarmDismissed
	m.alarms[id] = a
	return nil
}

func (m *Store) DeleteAlarm(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alarms[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.alarms, id)
	return nil
}

func (m *Store) InsertPosts(ctx context.Context, posts []model.ScheduledPost) ([]model.ScheduledPost, error) {
	now := m.now()
	out := make([]model.ScheduledPost, len(posts))
	for i, p := range posts {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		p.Platforms = append([]string(nil), p.Platforms...)
		out[i] = p
	}

	m.mu.Lock()
	m.posts = append(m.posts, out...)
	m.mu.Unlock()
	return out, nil
}

func (m *Store) ListPosts(ctx context.Context) ([]model.ScheduledPost, error) {
	m.mu.RLock()
	out := make([]model.ScheduledPost, len(m.posts))
	copy(out, m.posts)
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Time < out[j].Time
	})
	return out, nil
}

func (m *Store) Close() error { return nil }
