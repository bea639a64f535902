// Package clipboard copies text out of the writer and tracks the transient
// "copied" indicator shown next to the copy control.
package clipboard

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aymanbagabas/go-osc52/v2"
)

// ResetDelay is how long the indicator shows Copied before reverting.
const ResetDelay = 2 * time.Second

// ErrAlreadyCopied is returned when a copy is attempted while the indicator still shows Copied.
var ErrAlreadyCopied = errors.New("copy already acknowledged")

// Indicator is the state of the copy control.
type Indicator int

const (
	Default Indicator = iota
	Copied
)

func (i Indicator) String() string {
	if i == Copied {
		return "copied"
	}
	return "default"
}

// Writer places text on a clipboard.
type Writer interface {
	WriteText(text string) error
}

// OSC52 writes text as an OSC 52 escape sequence, which terminals turn into a
// system clipboard write.
type OSC52 struct {
	Out  io.Writer
	Tmux bool
}

// WriteText emits the escape sequence for text.
func (o OSC52) WriteText(text string) error {
	seq := osc52.New(text)
	if o.Tmux {
		seq = seq.Tmux()
	}
	if _, err := seq.WriteTo(o.Out); err != nil {
		return fmt.Errorf("write osc52 sequence: %w", err)
	}
	return nil
}

// Option configures a Copier.
type Option func(*Copier)

// WithDelay overrides ResetDelay.
func WithDelay(d time.Duration) Option {
	return func(c *Copier) { c.delay = d }
}

// WithNotify registers fn to be called on every indicator change.
func WithNotify(fn func(Indicator)) Option {
	return func(c *Copier) { c.notify = fn }
}

// Copier copies text and drives the indicator.
type Copier struct {
	mu     sync.Mutex
	w      Writer
	delay  time.Duration
	state  Indicator
	timer  *time.Timer
	notify func(Indicator)
}

// NewCopier creates a Copier writing through w.
func NewCopier(w Writer, opts ...Option) *Copier {
	c := &Copier{w: w, delay: ResetDelay}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Copy writes text to the clipboard. On success the indicator shows Copied
// and reverts to Default after the delay. On failure the indicator is not
// changed and the writer's error is returned.
func (c *Copier) Copy(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Copied {
		return ErrAlreadyCopied
	}
	if err := c.w.WriteText(text); err != nil {
		return fmt.Errorf("copy failed: %w", err)
	}

	c.set(Copied)
	c.timer = time.AfterFunc(c.delay, c.reset)
	return nil
}

// State returns the current indicator.
func (c *Copier) State() Indicator {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close cancels a pending reset and returns the indicator to Default.
func (c *Copier) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.state != Default {
		c.set(Default)
	}
}

func (c *Copier) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timer = nil
	if c.state != Default {
		c.set(Default)
	}
}

// set must be called with mu held.
func (c *Copier) set(state Indicator) {
	c.state = state
	if c.notify != nil {
		c.notify(state)
	}
}
