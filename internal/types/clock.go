package types

import (
	"context"
	"time"
)

// Clock abstracts wall-clock reads and delays so polling loops can be tested
// without real sleeps. Sleep must return early with the context error when
// the context is cancelled.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RealClock returns the production clock backed by time.Now and time.Timer.
func RealClock() Clock { return realClock{} }
