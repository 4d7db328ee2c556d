package session

import (
	"math"
	"math/rand"
	"time"
)

// NextBackoffDelay returns the retry delay for attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}

// Sleeper pauses between retries. Tests substitute a recorder.
type Sleeper func(time.Duration)

// Retrier runs an operation against a bounded attempt budget.
type Retrier struct {
	Backoff    BackoffConfig
	MaxRetries int
	Sleep      Sleeper
	Rand       *rand.Rand
}

// Do calls op until it succeeds or MaxRetries failures have accumulated.
// onFail runs after every failure, before any sleep. It returns the number
// of failures seen and the last error.
func (r Retrier) Do(op func() error, onFail func(failures int, err error)) (int, error) {
	sleep := r.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	failures := 0
	for {
		err := op()
		if err == nil {
			return failures, nil
		}
		failures++
		if onFail != nil {
			onFail(failures, err)
		}
		if failures >= r.MaxRetries {
			return failures, err
		}
		if d := NextBackoffDelay(r.Backoff, failures, r.Rand); d > 0 {
			sleep(d)
		}
	}
}
