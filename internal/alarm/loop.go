// Package alarm runs the polling loop that fires each active alarm once
// when its target instant arrives.
//
// Every tick compares each active alarm against the current time. An alarm
// fires when it is due and at most FiringWindow late; anything later than
// that counts as missed and stays silent. Firing records the id in a
// triggered set owned by the Loop, so later ticks skip it. The set lives
// only in memory: after a restart an alarm still inside its window can
// fire again.
package alarm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	appLog "postcal/internal/log"
	"postcal/internal/metrics"
	"postcal/internal/model"
	"postcal/internal/notify"
	"postcal/internal/sound"
	"postcal/internal/store"
)

const (
	DefaultPollInterval = time.Second
	DefaultFiringWindow = 5 * time.Second
	// DefaultRingTimeout is its own setting; it only happens to equal
	// DefaultFiringWindow.
	DefaultRingTimeout = 5 * time.Second
)

var ErrRunning = errors.New("alarm: loop already running")

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Dismisser persists the dismissed status of an alarm.
type Dismisser interface {
	DismissAlarm(ctx context.Context, id string) error
}

// Reloader refreshes the loop's Source after a mutation.
type Reloader interface {
	Reload(ctx context.Context) error
}

type Config struct {
	PollInterval time.Duration
	FiringWindow time.Duration
	RingTimeout  time.Duration
	// Muted suppresses the sound cue for every alarm.
	Muted bool
}

// Ringing is the single alarm currently presented as ringing.
type Ringing struct {
	Alarm model.Alarm `json:"alarm"`
	Since time.Time   `json:"since"`
}

type Option func(*Loop)

func WithCue(c sound.Cue) Option { return func(l *Loop) { l.cue = c } }

// WithNotifier sets the notification sink. Wrap it in a notify.Gate to get
// the lazy permission request.
func WithNotifier(n notify.Notifier) Option { return func(l *Loop) { l.notifier = n } }

func WithDismisser(d Dismisser) Option { return func(l *Loop) { l.dismisser = d } }

func WithReloader(r Reloader) Option { return func(l *Loop) { l.reloader = r } }

func WithClock(c Clock) Option { return func(l *Loop) { l.clock = c } }

// Loop evaluates alarms on a fixed tick. All trigger state belongs to the
// instance; two Loops never share it.
type Loop struct {
	source    Source
	cue       sound.Cue
	notifier  notify.Notifier
	dismisser Dismisser
	reloader  Reloader
	clock     Clock
	cfg       Config

	mu        sync.Mutex
	triggered map[string]struct{}
	ringing   *Ringing
	running   bool
}

func New(src Source, cfg Config, opts ...Option) *Loop {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.FiringWindow <= 0 {
		cfg.FiringWindow = DefaultFiringWindow
	}
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = DefaultRingTimeout
	}
	l := &Loop{
		source:    src,
		cfg:       cfg,
		clock:     systemClock{},
		triggered: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Run evaluates immediately and then on every PollInterval tick until ctx
// is cancelled. Nothing fires after Run returns.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return ErrRunning
	}
	l.running = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.running = false
		l.ringing = nil
		l.mu.Unlock()
	}()

	t := time.NewTicker(l.cfg.PollInterval)
	defer t.Stop()

	appLog.Info("alarm loop started",
		"poll_interval", l.cfg.PollInterval,
		"firing_window", l.cfg.FiringWindow,
		"ring_timeout", l.cfg.RingTimeout,
	)

	// initial pass
	l.Evaluate(ctx, l.clock.Now())

	for {
		select {
		case <-ctx.Done():
			appLog.Info("alarm loop stopped")
			return ctx.Err()
		case <-t.C:
			l.Evaluate(ctx, l.clock.Now())
		}
	}
}

// Evaluate runs one scan at now and returns the alarms that fired. It
// never returns an error: failed side effects are logged and counted.
func (l *Loop) Evaluate(ctx context.Context, now time.Time) (fired []model.Alarm) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncAlarmEffectError(metrics.EffectPanic)
			appLog.Error("alarm evaluation panicked", fmt.Errorf("%v", r))
		}
	}()

	alarms := l.source.Alarms()
	overdue := 0

	l.mu.Lock()
	l.expireRingingLocked(now)
	l.pruneTriggeredLocked(alarms)
	for _, a := range alarms {
		if !a.Active() {
			continue
		}
		if _, done := l.triggered[a.ID]; done {
			continue
		}
		diff := a.At.Sub(now)
		if diff > 0 {
			continue
		}
		if diff <= -l.cfg.FiringWindow {
			overdue++
			continue
		}
		l.triggered[a.ID] = struct{}{}
		// last write wins when several alarms fire in one tick
		l.ringing = &Ringing{Alarm: a, Since: now}
		fired = append(fired, a)
	}
	l.mu.Unlock()

	metrics.SetAlarmOverdue(overdue)

	for _, a := range fired {
		if ctx.Err() != nil {
			return fired
		}
		metrics.IncAlarmFired()
		appLog.Info("alarm firing", "id", a.ID, "title", a.Title, "at", a.At.Format(time.RFC3339), "late_by", now.Sub(a.At))
		l.emit(ctx, a)
	}
	return fired
}

// emit runs the sound and notification effects. Each one is isolated: a
// failure or panic in one never prevents the other.
func (l *Loop) emit(ctx context.Context, a model.Alarm) {
	if a.SoundEnabled && !l.cfg.Muted && l.cue != nil {
		l.safely(metrics.EffectSound, a.ID, func() error {
			return l.cue.Play(ctx)
		})
	}
	if a.NotificationEnabled && l.notifier != nil {
		l.safely(metrics.EffectNotification, a.ID, func() error {
			title, body := Content(a)
			return l.notifier.Send(ctx, title, body)
		})
	}
}

func (l *Loop) safely(effect, id string, fn func() error) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		err = fn()
	}()

	switch {
	case err == nil:
	case errors.Is(err, notify.ErrPermissionDenied):
		appLog.Debug("notification skipped, permission denied", "id", id)
	default:
		metrics.IncAlarmEffectError(effect)
		appLog.Error("alarm side effect failed", err, "effect", effect, "id", id)
	}
}

// Ringing returns the ringing alarm, if any, as of the loop's clock.
func (l *Loop) Ringing() (Ringing, bool) {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expireRingingLocked(now)
	if l.ringing == nil {
		return Ringing{}, false
	}
	return *l.ringing, true
}

// Triggered reports whether id has fired during this session.
func (l *Loop) Triggered(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.triggered[id]
	return ok
}

// Dismiss acknowledges an alarm: it clears the ringing slot when it shows
// id, marks the alarm dismissed in the store and refreshes the snapshot.
// Unknown or already dismissed ids are a no-op.
func (l *Loop) Dismiss(ctx context.Context, id string) error {
	l.mu.Lock()
	if l.ringing != nil && l.ringing.Alarm.ID == id {
		l.ringing = nil
	}
	l.mu.Unlock()

	if l.dismisser != nil {
		if err := l.dismisser.DismissAlarm(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("alarm: dismiss %s: %w", id, err)
		}
	}
	l.refresh(ctx)
	return nil
}

// Refresh asks the Reloader for a fresh snapshot. Callers use it after
// creating or deleting alarms.
func (l *Loop) Refresh(ctx context.Context) {
	l.refresh(ctx)
}

func (l *Loop) refresh(ctx context.Context) {
	if l.reloader == nil {
		return
	}
	if err := l.reloader.Reload(ctx); err != nil {
		appLog.Error("alarm snapshot refresh failed", err)
	}
}

func (l *Loop) expireRingingLocked(now time.Time) {
	if l.ringing != nil && now.Sub(l.ringing.Since) >= l.cfg.RingTimeout {
		l.ringing = nil
	}
}

// pruneTriggeredLocked drops ids that are no longer active in the
// snapshot, so the set only grows with alarms that can still matter.
func (l *Loop) pruneTriggeredLocked(alarms []model.Alarm) {
	if len(l.triggered) == 0 {
		return
	}
	active := make(map[string]struct{}, len(alarms))
	for _, a := range alarms {
		if a.Active() {
			active[a.ID] = struct{}{}
		}
	}
	for id := range l.triggered {
		if _, ok := active[id]; !ok {
			delete(l.triggered, id)
		}
	}
}

const defaultBody = "Your scheduled alarm is going off!"

// Content builds the notification title and body for a.
func Content(a model.Alarm) (title, body string) {
	body = a.Notes
	if strings.TrimSpace(body) == "" {
		body = defaultBody
	}
	return "Alarm: " + a.Title, body
}

// TimeUntil renders the countdown from now to at: "Expired" once past,
// otherwise the two most significant units ("2d 3h", "4m 5s", "9s").
func TimeUntil(at, now time.Time) string {
	diff := at.Sub(now)
	if diff < 0 {
		return "Expired"
	}
	days := int(diff / (24 * time.Hour))
	hours := int(diff%(24*time.Hour)) / int(time.Hour)
	minutes := int(diff%time.Hour) / int(time.Minute)
	seconds := int(diff%time.Minute) / int(time.Second)

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
