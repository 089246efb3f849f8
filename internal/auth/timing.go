package auth

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingConfig holds configuration for response-time padding
type TimingConfig struct {
	BaseDelayMs   int // Minimum total duration in milliseconds
	RandomDelayMs int // Random jitter range in milliseconds
}

// TimingDelay pads an operation so that every outcome takes at least the
// configured floor. Login failures and password-reset initiation use it so
// that "no such account" and "wrong password" are indistinguishable by latency.
type TimingDelay struct {
	config TimingConfig
}

// NewTimingDelay creates a new TimingDelay instance
func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{config: config}
}

// cryptoRandIntn returns a secure random number in [0, max)
func cryptoRandIntn(max int) (int, error) {
	if max <= 0 {
		return 0, nil
	}
	randomBytes := make([]byte, 8)
	if _, err := rand.Read(randomBytes); err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint64(randomBytes) % uint64(max)), nil
}

// Target returns one floor sample: base delay plus random jitter.
func (td *TimingDelay) Target() time.Duration {
	target := time.Duration(td.config.BaseDelayMs) * time.Millisecond
	if td.config.RandomDelayMs > 0 {
		if jitter, err := cryptoRandIntn(td.config.RandomDelayMs); err == nil {
			target += time.Duration(jitter) * time.Millisecond
		}
	}
	return target
}

// PadFrom sleeps until at least Target() has elapsed since start, or until
// ctx is done.
func (td *TimingDelay) PadFrom(ctx context.Context, start time.Time) {
	remaining := td.Target() - time.Since(start)
	if remaining <= 0 {
		return
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
