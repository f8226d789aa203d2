package notify

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	appLog "postcal/internal/log"
)

type DispatcherConfig struct {
	QueueSize   int
	RatePerSec  int
	SendTimeout time.Duration
}

type message struct {
	title, text string
}

// Dispatcher queues notifications and delivers them from a single worker,
// rate limited with a token bucket. Messages still queued when the
// dispatcher stops are dropped.
//
// It is safe for concurrent use.
type Dispatcher struct {
	target Notifier
	cfg    DispatcherConfig

	limiter *rate.Limiter

	// OnResult, if set, observes every delivery attempt.
	OnResult func(err error)

	mu     sync.Mutex
	queue  chan message
	cancel context.CancelFunc
	done   chan struct{}
}

func NewDispatcher(target Notifier, cfg DispatcherConfig) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	return &Dispatcher{
		target: target,
		cfg:    cfg,
		// burst = rate per sec, so a handful of simultaneous alarms go out at once.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Start launches the worker. It is a no-op when already running.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queue != nil {
		return
	}

	wctx, cancel := context.WithCancel(ctx)
	d.queue = make(chan message, d.cfg.QueueSize)
	d.cancel = cancel
	d.done = make(chan struct{})

	go d.worker(wctx, d.queue, d.done)
}

// Stop cancels the worker and waits for it to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.queue, d.cancel, d.done = nil, nil, nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Send enqueues a notification without waiting for delivery.
func (d *Dispatcher) Send(_ context.Context, title, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queue == nil {
		return ErrStopped
	}
	select {
	case d.queue <- message{title: title, text: text}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) worker(ctx context.Context, q <-chan message, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-q:
			if ctx.Err() != nil {
				return
			}
			if err := d.limiter.Wait(ctx); err != nil {
				return
			}
			d.deliver(ctx, m)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, m message) {
	sctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	err := d.target.Send(sctx, m.title, m.text)
	if err != nil {
		appLog.Error("notification delivery failed", err, "title", m.title)
	} else {
		appLog.Debug("notification delivered", "title", m.title)
	}
	if d.OnResult != nil {
		d.OnResult(err)
	}
}
