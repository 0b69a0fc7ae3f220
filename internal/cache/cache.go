package cache

import (
	"context"
	"time"
)

// JSONCache stores JSON-encoded values under string keys.
type JSONCache interface {
	// Get decodes the cached value into dest and reports whether it was found.
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Acquire claims key for ttl. It reports false while an earlier claim is live.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type Noop struct{}

func (Noop) Get(_ context.Context, _ string, _ any) (bool, error) {
	return false, nil
}

func (Noop) Set(_ context.Context, _ string, _ any, _ time.Duration) error {
	return nil
}

func (Noop) Delete(_ context.Context, _ string) error {
	return nil
}

// Acquire always succeeds, so callers that throttle through the cache fall
// back to no throttling.
func (Noop) Acquire(_ context.Context, _ string, _ time.Duration) (bool, error) {
	return true, nil
}

func StatsKey() string {
	return "smartduka:stats:platform"
}

func PaymentQueryKey(paymentID string) string {
	return "smartduka:mpesa:query:" + paymentID
}
