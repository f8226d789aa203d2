// Package sound plays the short audible cue for a ringing alarm.
package sound

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Cue plays one short sound. Implementations must return promptly.
type Cue interface {
	Play(ctx context.Context) error
}

// Bell writes BEL characters to a terminal, three beeps like a short chime.
type Bell struct {
	mu sync.Mutex
	W  io.Writer
}

func (b *Bell) Play(context.Context) error {
	if b == nil || b.W == nil {
		return errors.New("sound: no terminal")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := io.WriteString(b.W, "\a\a\a")
	return err
}

// Command runs an external player, e.g. "paplay /usr/share/sounds/bell.oga".
// The process is started and left to finish on its own goroutine so a slow
// player never holds up the caller.
type Command struct {
	Name string
	Args []string
	// Timeout bounds the player run time (default 5s).
	Timeout time.Duration
	// OnExit, if set, receives the player's exit error.
	OnExit func(error)
}

// ParseCommand splits a whitespace separated command line.
func ParseCommand(line string) (*Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, errors.New("sound: empty command")
	}
	return &Command{Name: fields[0], Args: fields[1:]}, nil
}

func (c *Command) Play(ctx context.Context) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	// The player outlives the tick, so it gets its own deadline rather
	// than the caller's context.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	cmd := exec.CommandContext(pctx, c.Name, c.Args...)
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("sound: start %s: %w", c.Name, err)
	}
	go func() {
		defer cancel()
		err := cmd.Wait()
		if c.OnExit != nil {
			c.OnExit(err)
		}
	}()
	return nil
}

// Mute never plays anything.
type Mute struct{}

func (Mute) Play(context.Context) error { return nil }
