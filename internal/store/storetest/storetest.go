// Package storetest holds a behavioural suite shared by every store adapter.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"postcal/internal/model"
	"postcal/internal/store"
)

// Run exercises s against the store.Store contract. newStore must return an
// empty store; Run closes it.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()

	t.Run("alarms ordered by time", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()
		base := time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)

		late, err := s.CreateAlarm(ctx, model.NewAlarm{Title: "late", At: base.Add(2 * time.Hour), SoundEnabled: true})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		early, err := s.CreateAlarm(ctx, model.NewAlarm{Title: "early", Notes: "n", At: base, NotificationEnabled: true, ScheduledPostID: "p1"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if early.ID == "" || early.ID == late.ID {
			t.Fatalf("ids not assigned: %q %q", early.ID, late.ID)
		}
		if early.Status != model.AlarmActive {
			t.Fatalf("new alarm status = %q", early.Status)
		}

		got, err := s.ListAlarms(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(got) != 2 || got[0].ID != early.ID || got[1].ID != late.ID {
			t.Fatalf("unexpected order: %+v", got)
		}
		if !got[0].At.Equal(base) || got[0].Notes != "n" || !got[0].NotificationEnabled || got[0].SoundEnabled || got[0].ScheduledPostID != "p1" {
			t.Fatalf("fields not preserved: %+v", got[0])
		}
	})

	t.Run("dismiss is idempotent", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		a, err := s.CreateAlarm(ctx, model.NewAlarm{Title: "x", At: time.Now()})
		if err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 2; i++ {
			if err := s.DismissAlarm(ctx, a.ID); err != nil {
				t.Fatalf("dismiss #%d: %v", i+1, err)
			}
		}
		got, err := s.GetAlarm(ctx, a.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != model.AlarmDismissed {
			t.Fatalf("status = %q", got.Status)
		}
		if err := s.DismissAlarm(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("unknown id: err = %v, want ErrNotFound", err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		a, err := s.CreateAlarm(ctx, model.NewAlarm{Title: "x", At: time.Now()})
		if err != nil {
			t.Fatal(err)
		}
		if err := s.DeleteAlarm(ctx, a.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := s.GetAlarm(ctx, a.ID); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("get after delete: %v", err)
		}
		if err := s.DeleteAlarm(ctx, a.ID); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("second delete: %v", err)
		}
	})

	t.Run("bulk insert posts", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		in := []model.ScheduledPost{
			{Title: "B", Caption: "c", Platforms: []string{"instagram", "tiktok"}, Date: "2024-01-10", Time: "12:00", Timezone: "UTC", Status: model.PostDraft},
			{Title: "A", Caption: "c", Platforms: []string{"instagram"}, Date: "2024-01-03", Time: "12:00", Timezone: "UTC", Status: model.PostDraft, Notes: "note"},
		}
		stored, err := s.InsertPosts(ctx, in)
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		if len(stored) != 2 || stored[0].ID == "" || stored[0].CreatedAt.IsZero() {
			t.Fatalf("ids/timestamps not assigned: %+v", stored)
		}

		got, err := s.ListPosts(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(got) != 2 || got[0].Title != "A" || got[1].Title != "B" {
			t.Fatalf("unexpected order: %+v", got)
		}
		if len(got[1].Platforms) != 2 || got[1].Platforms[1] != "tiktok" {
			t.Fatalf("platforms lost: %+v", got[1].Platforms)
		}
		if got[0].Notes != "note" || got[0].Status != model.PostDraft {
			t.Fatalf("fields lost: %+v", got[0])
		}

		if _, err := s.InsertPosts(ctx, nil); err != nil {
			t.Fatalf("empty insert: %v", err)
		}
	})
}
