package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"postcal/internal/model"
	"postcal/internal/store"
	"postcal/internal/store/storetest"
)

func setupTestDB(t *testing.T) (*DB, func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "postcal-db-test-*.db")
	if err != nil {
		t.Fatalf("creating temp file: %v", err)
	}
	tmpFile.Close()

	db, err := Open(tmpFile.Name())
	if err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("opening database: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.Remove(tmpFile.Name())
	}

	return db, cleanup
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		db, cleanup := setupTestDB(t)
		t.Cleanup(cleanup)
		return db
	})
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "postcal.db")
	ctx := context.Background()
	at := time.Date(2024, 1, 3, 12, 0, 0, 0, time.FixedZone("KST", 9*3600))

	db, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	a, err := db.CreateAlarm(ctx, model.NewAlarm{Title: "persisted", At: at, SoundEnabled: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	got, err := db.GetAlarm(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.At.Equal(at) || got.Title != "persisted" || !got.SoundEnabled {
		t.Fatalf("alarm not preserved: %+v", got)
	}
}

func TestOpen_BadPath(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "missing-dir", "x", "db.sqlite")); err == nil {
		t.Fatal("expected error for unwritable path")
	}
}
