package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"
)

// RetryConfig controls exponential backoff when opening a device.
type RetryConfig struct {
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// DefaultRetryConfig returns 5 attempts starting at 500ms, capped at 8s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    5,
		RetryDelay:    500 * time.Millisecond,
		MaxRetryDelay: 8 * time.Second,
	}
}

// OpenWithRetry calls open until it succeeds, retries run out or ctx ends.
// Every failed attempt increments reopens.
func OpenWithRetry(ctx context.Context, name string, cfg RetryConfig, reopens *atomic.Uint32, open func(ctx context.Context) error) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := open(ctx)
		if err == nil {
			if attempt > 0 {
				slog.Info("stream: device opened after retry", "source", name, "attempts", attempt+1)
			}
			return nil
		}

		attempt++
		if reopens != nil {
			reopens.Add(1)
		}
		slog.Error("stream: open failed", "source", name, "attempt", attempt, "error", err)

		if attempt > cfg.MaxRetries {
			return fmt.Errorf("stream: %s: max retries exceeded (%d attempts): %w", name, cfg.MaxRetries, err)
		}

		delay := backoff(attempt, cfg)
		slog.Warn("stream: retrying open",
			"source", name,
			"attempt", attempt,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// backoff is RetryDelay·2^(attempt-1), capped at MaxRetryDelay.
func backoff(attempt int, cfg RetryConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		return cfg.MaxRetryDelay
	}
	delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
	if cfg.MaxRetryDelay > 0 && delay > cfg.MaxRetryDelay {
		delay = cfg.MaxRetryDelay
	}
	return delay
}

// DevicePath maps "0" to /dev/video0 and passes paths through.
func DevicePath(device string) string {
	if _, err := strconv.Atoi(device); err == nil {
		return "/dev/video" + device
	}
	return device
}
