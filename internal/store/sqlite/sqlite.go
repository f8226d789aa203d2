package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"postcal/internal/model"
	"postcal/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS alarms (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    notes TEXT NOT NULL DEFAULT '',
    alarm_at TEXT NOT NULL,
    alarm_unix_ms INTEGER NOT NULL,
    sound_enabled INTEGER NOT NULL,
    notification_enabled INTEGER NOT NULL,
    status TEXT NOT NULL,
    scheduled_post_id TEXT NOT NULL DEFAULT '',
    planned_post_id TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alarms_at ON alarms(alarm_unix_ms);

CREATE TABLE IF NOT EXISTS scheduled_posts (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    caption TEXT NOT NULL,
    platforms TEXT NOT NULL,
    scheduled_date TEXT NOT NULL,
    scheduled_time TEXT NOT NULL,
    timezone TEXT NOT NULL,
    status TEXT NOT NULL,
    notes TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_posts_date ON scheduled_posts(scheduled_date, scheduled_time);
`

type DB struct {
	conn *sql.DB
	now  func() time.Time
}

var _ store.Store = (*DB)(nil)

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	db := &DB{conn: conn, now: func() time.Time { return time.Now().UTC() }}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return db, nil
}

func (db *DB) migrate() error {
	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("executing migration: %w", err)
	}
	return nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

const alarmColumns = `id, title, notes, alarm_at, sound_enabled, notification_enabled, status, scheduled_post_id, planned_post_id, created_at`

func (db *DB) ListAlarms(ctx context.Context) ([]model.Alarm, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+alarmColumns+` FROM alarms ORDER BY alarm_unix_ms, id`)
	if err != nil {
		return nil, fmt.Errorf("querying alarms: %w", err)
	}
	defer rows.Close()

	out := make([]model.Alarm, 0)
	for rows.Next() {
		a, err := scanAlarm(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (db *DB) GetAlarm(ctx context.Context, id string) (model.Alarm, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+alarmColumns+` FROM alarms WHERE id = ?`, id)
	a, err := scanAlarm(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Alarm{}, store.ErrNotFound
	}
	return a, err
}

func (db *DB) CreateAlarm(ctx context.Context, in model.NewAlarm) (model.Alarm, error) {
	a := model.Alarm{
		ID:                  uuid.NewString(),
		Title:               in.Title,
		Notes:               in.Notes,
		At:                  in.At.UTC(),
		SoundEnabled:        in.SoundEnabled,
		NotificationEnabled: in.NotificationEnabled,
		Status:              model.AlarmActive,
		ScheduledPostID:     in.ScheduledPostID,
		PlannedPostID:       in.PlannedPostID,
		CreatedAt:           db.now(),
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO alarms (id, title, notes, alarm_at, alarm_unix_ms, sound_enabled, notification_enabled, status, scheduled_post_id, planned_post_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Title, a.Notes, a.At.Format(time.RFC3339Nano), a.At.UnixMilli(),
		boolToInt(a.SoundEnabled), boolToInt(a.NotificationEnabled), string(a.Status),
		a.ScheduledPostID, a.PlannedPostID, a.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return model.Alarm{}, fmt.Errorf("inserting alarm: %w", err)
	}
	return a, nil
}

func (db *DB) DismissAlarm(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `UPDATE alarms SET status = ? WHERE id = ?`, string(model.AlarmDismissed), id)
	if err != nil {
		return fmt.Errorf("dismissing alarm: %w", err)
	}
	return requireRow(res)
}

func (db *DB) DeleteAlarm(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM alarms WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting alarm: %w", err)
	}
	return requireRow(res)
}

func (db *DB) InsertPosts(ctx context.Context, posts []model.ScheduledPost) ([]model.ScheduledPost, error) {
	if len(posts) == 0 {
		return []model.ScheduledPost{}, nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO scheduled_posts (id, title, caption, platforms, scheduled_date, scheduled_time, timezone, status, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	now := db.now()
	out := make([]model.ScheduledPost, len(posts))
	for i, p := range posts {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		platforms, err := json.Marshal(p.Platforms)
		if err != nil {
			return nil, fmt.Errorf("encoding platforms: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, p.ID, p.Title, p.Caption, string(platforms),
			p.Date, p.Time, p.Timezone, string(p.Status), p.Notes, p.CreatedAt.Format(time.RFC3339Nano)); err != nil {
			return nil, fmt.Errorf("inserting post %d: %w", i, err)
		}
		out[i] = p
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing posts: %w", err)
	}
	return out, nil
}

func (db *DB) ListPosts(ctx context.Context) ([]model.ScheduledPost, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, title, caption, platforms, scheduled_date, scheduled_time, timezone, status, notes, created_at
		FROM scheduled_posts
		ORDER BY scheduled_date, scheduled_time, rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("querying posts: %w", err)
	}
	defer rows.Close()

	out := make([]model.ScheduledPost, 0)
	for rows.Next() {
		var (
			p                    model.ScheduledPost
			platforms, createdAt string
			status               string
		)
		if err := rows.Scan(&p.ID, &p.Title, &p.Caption, &platforms, &p.Date, &p.Time,
			&p.Timezone, &status, &p.Notes, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning post: %w", err)
		}
		if err := json.Unmarshal([]byte(platforms), &p.Platforms); err != nil {
			return nil, fmt.Errorf("decoding platforms for %s: %w", p.ID, err)
		}
		p.Status = model.PostStatus(status)
		p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAlarm(s scanner) (model.Alarm, error) {
	var (
		a                   model.Alarm
		at, createdAt       string
		sound, notification int
		status              string
	)
	if err := s.Scan(&a.ID, &a.Title, &a.Notes, &at, &sound, &notification, &status,
		&a.ScheduledPostID, &a.PlannedPostID, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, err
		}
		return a, fmt.Errorf("scanning alarm: %w", err)
	}
	var err error
	if a.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
		return a, fmt.Errorf("parsing alarm_at for %s: %w", a.ID, err)
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	a.SoundEnabled = sound != 0
	a.NotificationEnabled = notification != 0
	a.Status = model.AlarmStatus(status)
	return a, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
