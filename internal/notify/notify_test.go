package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/multierr"
)

type recorder struct {
	mu    sync.Mutex
	sent  []string
	err   error
	block chan struct{}
}

func (r *recorder) Send(ctx context.Context, title, text string) error {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, title+"|"+text)
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func TestWebhook_OK(t *testing.T) {
	var got string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		_ = json.NewDecoder(r.Body).Decode(&payload)
		got = payload["text"]
		w.WriteHeader(200)
	}))
	defer ts.Close()

	wh := NewWebhook(ts.URL)
	if wh == nil {
		t.Fatal("expected webhook client")
	}
	if err := wh.Send(context.Background(), "Alarm: Post reel", "Your scheduled alarm is going off!"); err != nil {
		t.Fatalf("send err: %v", err)
	}
	if !strings.HasPrefix(got, "*Alarm: Post reel*\n") {
		t.Fatalf("payload not as expected: %q", got)
	}
}

func TestWebhook_Non2xx(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer ts.Close()

	if err := NewWebhook(ts.URL).Send(context.Background(), "X", "Y"); err == nil {
		t.Fatalf("expected error on non-2xx")
	}
}

func TestWebhook_EmptyURL(t *testing.T) {
	wh := NewWebhook("")
	if wh != nil {
		t.Fatal("expected nil webhook for empty url")
	}
	if err := wh.Send(context.Background(), "a", "b"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestMulti_CombinesErrors(t *testing.T) {
	ok := &recorder{}
	bad1 := &recorder{err: errors.New("one")}
	bad2 := &recorder{err: errors.New("two")}

	err := Multi{ok, nil, bad1, bad2}.Send(context.Background(), "t", "x")
	if len(multierr.Errors(err)) != 2 {
		t.Fatalf("want 2 combined errors, got %v", err)
	}
	if ok.count() != 1 || bad1.count() != 1 || bad2.count() != 1 {
		t.Fatal("every notifier should be attempted")
	}
	if err := (Multi{ok}).Send(context.Background(), "t", "x"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
}

type countingRequester struct {
	calls   int
	granted bool
	err     error
}

func (c *countingRequester) RequestPermission(context.Context) (bool, error) {
	c.calls++
	return c.granted, c.err
}

func TestGate_RequestsOnceAndCaches(t *testing.T) {
	next := &recorder{}
	req := &countingRequester{granted: true}
	g := NewGate(next, req)

	if _, decided := g.Granted(); decided {
		t.Fatal("permission should not be requested before first send")
	}
	for i := 0; i < 3; i++ {
		if err := g.Send(context.Background(), "t", "x"); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	if req.calls != 1 {
		t.Fatalf("permission requested %d times, want 1", req.calls)
	}
	if next.count() != 3 {
		t.Fatalf("delivered %d, want 3", next.count())
	}
}

func TestGate_DeniedSkips(t *testing.T) {
	next := &recorder{}
	req := &countingRequester{granted: false}
	g := NewGate(next, req)

	for i := 0; i < 2; i++ {
		if err := g.Send(context.Background(), "t", "x"); !errors.Is(err, ErrPermissionDenied) {
			t.Fatalf("err = %v, want ErrPermissionDenied", err)
		}
	}
	if next.count() != 0 {
		t.Fatal("denied gate must not forward")
	}
	if req.calls != 1 {
		t.Fatalf("denial should be cached, got %d requests", req.calls)
	}
}

func TestGate_RequestErrorNotCached(t *testing.T) {
	next := &recorder{}
	req := &countingRequester{err: errors.New("host busy")}
	g := NewGate(next, req)

	if err := g.Send(context.Background(), "t", "x"); err == nil {
		t.Fatal("expected request error")
	}
	req.err, req.granted = nil, true
	if err := g.Send(context.Background(), "t", "x"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if req.calls != 2 || next.count() != 1 {
		t.Fatalf("calls=%d delivered=%d", req.calls, next.count())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestDispatcher_Delivers(t *testing.T) {
	target := &recorder{}
	d := NewDispatcher(target, DispatcherConfig{QueueSize: 4, RatePerSec: 100})

	if err := d.Send(context.Background(), "t", "x"); !errors.Is(err, ErrStopped) {
		t.Fatalf("send before start: %v", err)
	}

	var results int
	var mu sync.Mutex
	d.OnResult = func(error) { mu.Lock(); results++; mu.Unlock() }

	d.Start(context.Background())
	defer d.Stop()

	for i := 0; i < 3; i++ {
		if err := d.Send(context.Background(), "t", "x"); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	waitFor(t, func() bool { return target.count() == 3 })
	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return results == 3 })
}

func TestDispatcher_QueueFull(t *testing.T) {
	target := &recorder{block: make(chan struct{})}
	d := NewDispatcher(target, DispatcherConfig{QueueSize: 1, RatePerSec: 100})
	d.Start(context.Background())
	defer d.Stop()

	// First message is picked up by the worker and blocks there.
	if err := d.Send(context.Background(), "a", ""); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(d.queue) == 0 })
	if err := d.Send(context.Background(), "b", ""); err != nil {
		t.Fatal(err)
	}
	if err := d.Send(context.Background(), "c", ""); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
}

func TestDispatcher_StopDropsPending(t *testing.T) {
	target := &recorder{block: make(chan struct{})}
	d := NewDispatcher(target, DispatcherConfig{QueueSize: 8, RatePerSec: 100})
	d.Start(context.Background())

	for i := 0; i < 3; i++ {
		_ = d.Send(context.Background(), "t", "x")
	}
	d.Stop()
	close(target.block)

	time.Sleep(20 * time.Millisecond)
	if n := target.count(); n != 0 {
		t.Fatalf("delivered %d after stop, want 0", n)
	}
	if err := d.Send(context.Background(), "t", "x"); !errors.Is(err, ErrStopped) {
		t.Fatalf("send after stop: %v", err)
	}
}
