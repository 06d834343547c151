// Package human paces browser input so it resembles a person typing.
package human

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/use-agent/paywatch/browser"
)

// Pause bounds used by TypeLikeHuman.
const (
	FocusDelayMin = 100 * time.Millisecond
	FocusDelayMax = 300 * time.Millisecond
	KeyDelayMin   = 50 * time.Millisecond
	KeyDelayMax   = 150 * time.Millisecond
)

// Emulator draws delays from Rand and suspends through Sleep. The zero value
// is ready to use with the global source and a context-aware sleep.
type Emulator struct {
	// Rand returns a pseudo-random integer in [0, n).
	Rand func(n int64) int64
	// Sleep suspends for d or until ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
}

// TypeLikeHuman clicks selector, waits a short random delay, then types text
// one character at a time with an independent random delay after each.
func (e *Emulator) TypeLikeHuman(ctx context.Context, s browser.Session, selector, text string) error {
	if err := s.Click(ctx, selector); err != nil {
		return err
	}
	if err := e.RandomDelay(ctx, FocusDelayMin, FocusDelayMax); err != nil {
		return err
	}
	for _, r := range text {
		if err := s.TypeText(ctx, string(r)); err != nil {
			return err
		}
		if err := e.RandomDelay(ctx, KeyDelayMin, KeyDelayMax); err != nil {
			return err
		}
	}
	return nil
}

// RandomDelay suspends for a duration drawn uniformly from [min, max].
func (e *Emulator) RandomDelay(ctx context.Context, min, max time.Duration) error {
	return e.sleep(ctx, e.Uniform(min, max))
}

// Pause suspends for exactly d.
func (e *Emulator) Pause(ctx context.Context, d time.Duration) error {
	return e.sleep(ctx, d)
}

// Uniform draws a duration uniformly from [min, max]. A reversed range is
// swapped.
func (e *Emulator) Uniform(min, max time.Duration) time.Duration {
	if max < min {
		min, max = max, min
	}
	span := int64(max - min)
	if span == 0 {
		return min
	}
	return min + time.Duration(e.rand(span+1))
}

func (e *Emulator) rand(n int64) int64 {
	if e.Rand != nil {
		return e.Rand(n)
	}
	return rand.Int64N(n)
}

func (e *Emulator) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

// Sleep waits for d, returning early with ctx.Err() if ctx ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
