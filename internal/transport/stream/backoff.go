package stream

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Backoff configures dial retries while the responder is not yet listening.
type Backoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
	MaxAttempts  int
}

func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2,
		Jitter:       true,
	}
}

// NextDelay returns the retry delay for attempt N (1-based).
func (b Backoff) NextDelay(attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return b.InitialDelay
	}
	if b.InitialDelay <= 0 {
		return 0
	}
	if b.Multiplier < 1.0 {
		b.Multiplier = 1.0
	}
	delay := float64(b.InitialDelay) * math.Pow(b.Multiplier, float64(attempt-1))
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}
	if b.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}

// DialRetry dials until a peer accepts, ctx is done, or MaxAttempts (when
// positive) is exhausted.
func DialRetry(ctx context.Context, name, network, addr string, opts Options, b Backoff) (*Instance, error) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for attempt := 1; ; attempt++ {
		inst, err := Dial(ctx, name, network, addr, opts)
		if err == nil {
			return inst, nil
		}
		if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
			return nil, err
		}
		delay := b.NextDelay(attempt, rng)
		opts.Logger.Debug().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("dial failed")
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}
