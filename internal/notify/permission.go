package notify

import (
	"context"
	"sync"

	appLog "postcal/internal/log"
)

// PermissionRequester asks the host whether notifications may be shown.
type PermissionRequester interface {
	RequestPermission(ctx context.Context) (bool, error)
}

// PermissionFunc adapts a function to PermissionRequester.
type PermissionFunc func(ctx context.Context) (bool, error)

func (f PermissionFunc) RequestPermission(ctx context.Context) (bool, error) {
	return f(ctx)
}

// Static always answers with Granted.
type Static struct{ Granted bool }

func (s Static) RequestPermission(context.Context) (bool, error) { return s.Granted, nil }

// Gate forwards to Next once permission has been granted. Permission is
// requested on the first Send and the answer is kept for the lifetime of
// the Gate. A failed request is not cached and is retried on the next Send.
type Gate struct {
	Next      Notifier
	Requester PermissionRequester

	mu      sync.Mutex
	decided bool
	granted bool
}

func NewGate(next Notifier, req PermissionRequester) *Gate {
	return &Gate{Next: next, Requester: req}
}

func (g *Gate) Send(ctx context.Context, title, text string) error {
	ok, err := g.permitted(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPermissionDenied
	}
	return g.Next.Send(ctx, title, text)
}

// Granted reports the cached answer and whether one exists yet.
func (g *Gate) Granted() (granted, decided bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.granted, g.decided
}

func (g *Gate) permitted(ctx context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.decided {
		return g.granted, nil
	}
	if g.Requester == nil {
		g.decided, g.granted = true, true
		return true, nil
	}
	ok, err := g.Requester.RequestPermission(ctx)
	if err != nil {
		return false, err
	}
	g.decided, g.granted = true, ok
	appLog.Info("notification permission decided", "granted", ok)
	return ok, nil
}
