package recognition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ledgerline/internal/domain"
	"ledgerline/internal/pkg/logger"
	"ledgerline/internal/port"
)

// circuitState tracks rate-limit backoff for a single backend.
type circuitState struct {
	mu      sync.RWMutex
	resetAt time.Time // zero value = closed (healthy)
}

func (c *circuitState) isOpenWithReset(now time.Time) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resetAt, !c.resetAt.IsZero() && now.Before(c.resetAt)
}

func (c *circuitState) open(resetAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetAt = resetAt
}

// FallbackBackend tries backends in order, skipping those with open circuits.
type FallbackBackend struct {
	backends []port.RecognitionBackend
	circuits []*circuitState
	names    []string
	log      logger.Logger
	now      func() time.Time
}

// NewFallbackBackend creates a FallbackBackend from an ordered list of backends and their names.
func NewFallbackBackend(backends []port.RecognitionBackend, names []string, log logger.Logger) *FallbackBackend {
	circuits := make([]*circuitState, len(backends))
	for i := range circuits {
		circuits[i] = &circuitState{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &FallbackBackend{
		backends: backends,
		circuits: circuits,
		names:    names,
		log:      log,
		now:      time.Now,
	}
}

// Recognize returns the first successful backend result. When every backend is rate
// limited the returned error is a RateLimitError carrying the earliest reset.
func (f *FallbackBackend) Recognize(ctx context.Context, img domain.RawImage) (*domain.RawDocument, error) {
	now := f.now()
	var lastErr error
	allRateLimited := true
	var earliestReset time.Time

	for i, b := range f.backends {
		if resetAt, open := f.circuits[i].isOpenWithReset(now); open {
			f.log.Debug("recognition", "skipping backend with open circuit", map[string]interface{}{
				"backend":  f.names[i],
				"reset_at": resetAt.Format(time.RFC3339),
			})
			if earliestReset.IsZero() || resetAt.Before(earliestReset) {
				earliestReset = resetAt
			}
			continue
		}

		doc, err := b.Recognize(ctx, img)
		if err == nil {
			return doc, nil
		}

		f.log.Warn("recognition", "backend failed", map[string]interface{}{
			"backend": f.names[i],
			"error":   err.Error(),
		})
		lastErr = err

		var rlErr *RateLimitError
		if errors.As(err, &rlErr) {
			resetAt := now.Add(rlErr.RetryAfter)
			f.circuits[i].open(resetAt)
			if earliestReset.IsZero() || resetAt.Before(earliestReset) {
				earliestReset = resetAt
			}
		} else {
			allRateLimited = false
		}
	}

	if lastErr == nil || allRateLimited {
		retryAfter := earliestReset.Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return nil, NewRateLimitError("all", fmt.Errorf("all backends rate limited"), int(retryAfter.Seconds()))
	}
	return nil, fmt.Errorf("all backends failed: %w", lastErr)
}
