package utils

import (
	"context"
	"time"
)

// Retry runs fn up to attempts times with a fixed delay between tries.
func Retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil {
			return nil
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Backoff hands out exponentially growing delays capped at max. Next
// returns the delay to sleep before the upcoming attempt; Reset starts
// over after a success.
type Backoff struct {
	Base    time.Duration
	Max     time.Duration
	current time.Duration
}

func (b *Backoff) Next() time.Duration {
	if b.current == 0 {
		b.current = b.Base
	} else {
		b.current *= 2
		if b.current > b.Max {
			b.current = b.Max
		}
	}
	return b.current
}

func (b *Backoff) Reset() {
	b.current = 0
}

// Sleep waits for the next backoff delay or until the context is done.
func (b *Backoff) Sleep(ctx context.Context) error {
	select {
	case <-time.After(b.Next()):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
