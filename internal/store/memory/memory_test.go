package memory

import (
	"context"
	"testing"

	"postcal/internal/model"
	"postcal/internal/store"
	"postcal/internal/store/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}

func TestListPostsReturnsCopy(t *testing.T) {
	m := New()
	ctx := context.Background()
	if _, err := m.InsertPosts(ctx, []model.ScheduledPost{{Title: "a", Date: "2024-01-01", Time: "09:00"}}); err != nil {
		t.Fatal(err)
	}
	got, _ := m.ListPosts(ctx)
	got[0].Title = "mutated"

	again, _ := m.ListPosts(ctx)
	if again[0].Title != "a" {
		t.Fatalf("store leaked internal slice: %q", again[0].Title)
	}
}
