package alarm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	appLog "postcal/internal/log"
	"postcal/internal/metrics"
	"postcal/internal/model"
)

// Source supplies the alarm list the loop evaluates. It must not block.
type Source interface {
	Alarms() []model.Alarm
}

// Snapshot is an in-memory alarm list swapped atomically by a Loader.
type Snapshot struct {
	p atomic.Pointer[[]model.Alarm]
}

func NewSnapshot(alarms []model.Alarm) *Snapshot {
	s := &Snapshot{}
	s.Set(alarms)
	return s
}

// Alarms returns the current list. Callers must not modify it.
func (s *Snapshot) Alarms() []model.Alarm {
	if p := s.p.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *Snapshot) Set(alarms []model.Alarm) {
	cp := make([]model.Alarm, len(alarms))
	copy(cp, alarms)
	s.p.Store(&cp)
}

// Lister is the read side of the alarm store.
type Lister interface {
	ListAlarms(ctx context.Context) ([]model.Alarm, error)
}

// Loader refreshes a Snapshot from the store on demand and on a cron
// schedule. A failed reload keeps the previous snapshot.
type Loader struct {
	store Lister
	snap  *Snapshot

	mu   sync.Mutex
	cron *cron.Cron
}

func NewLoader(store Lister, snap *Snapshot) *Loader {
	return &Loader{store: store, snap: snap}
}

func (l *Loader) Snapshot() *Snapshot { return l.snap }

// Reload reads every alarm from the store into the snapshot.
func (l *Loader) Reload(ctx context.Context) error {
	alarms, err := l.store.ListAlarms(ctx)
	metrics.ObserveSnapshotReload(len(alarms), err)
	if err != nil {
		return fmt.Errorf("alarm: reload snapshot: %w", err)
	}
	l.snap.Set(alarms)
	appLog.Debug("alarm snapshot reloaded", "count", len(alarms))
	return nil
}

// Start schedules periodic reloads using a robfig/cron spec such as
// "@every 30s" or "*/1 * * * *". ctx bounds every scheduled reload.
func (l *Loader) Start(ctx context.Context, spec string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cron != nil {
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{})))
	if _, err := c.AddFunc(spec, func() {
		if err := l.Reload(ctx); err != nil {
			appLog.Error("scheduled alarm reload failed", err)
		}
	}); err != nil {
		return fmt.Errorf("alarm: invalid refresh schedule %q: %w", spec, err)
	}
	c.Start()
	l.cron = c
	appLog.Info("alarm snapshot refresh scheduled", "spec", spec)
	return nil
}

// Stop halts the schedule and waits for a running reload to finish.
func (l *Loader) Stop() {
	l.mu.Lock()
	c := l.cron
	l.cron = nil
	l.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// cronLogger routes cron's own messages through the application log.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron: "+msg, err, kv...)
}
