// Package notify delivers alarm notifications. Senders implement Notifier;
// Gate adds the lazily requested, session-cached permission check and
// Dispatcher moves delivery off the caller's goroutine.
package notify

import (
	"context"
	"errors"

	"go.uber.org/multierr"

	appLog "postcal/internal/log"
)

var (
	ErrDisabled         = errors.New("notify: disabled")
	ErrQueueFull        = errors.New("notify: queue full")
	ErrStopped          = errors.New("notify: dispatcher not running")
	ErrPermissionDenied = errors.New("notify: permission denied")
)

type Notifier interface {
	Send(ctx context.Context, title, text string) error
}

// Multi sends to every non-nil notifier and combines the failures.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, title, text string) error {
	var err error
	for _, n := range m {
		if n == nil {
			continue
		}
		err = multierr.Append(err, n.Send(ctx, title, text))
	}
	return err
}

// Log writes notifications to the application log. It stands in for a
// desktop notification center on headless hosts.
type Log struct{}

func (Log) Send(_ context.Context, title, text string) error {
	appLog.Info("notification", "title", title, "body", text)
	return nil
}
