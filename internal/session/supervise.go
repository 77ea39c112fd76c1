package session

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/nerrad567/shellylink/internal/infrastructure/config"
)

// Supervisor defaults.
const (
	DefaultInitialDelay = time.Second
	DefaultMaxDelay     = 60 * time.Second
)

// SuperviseOptions controls the reconnect backoff of Supervise.
type SuperviseOptions struct {
	// InitialDelay is the first retry delay. It doubles per failed attempt
	// up to MaxDelay.
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// MaxAttempts stops Supervise after that many consecutive failed
	// connects. Zero means retry forever.
	MaxAttempts int
}

// SuperviseOptionsFrom converts the reconnect section of the MQTT config.
func SuperviseOptionsFrom(cfg config.MQTTReconnectConfig) SuperviseOptions {
	return SuperviseOptions{
		InitialDelay: time.Duration(cfg.InitialDelay) * time.Second,
		MaxDelay:     time.Duration(cfg.MaxDelay) * time.Second,
		MaxAttempts:  cfg.MaxAttempts,
	}
}

func (o SuperviseOptions) withDefaults() SuperviseOptions {
	if o.InitialDelay <= 0 {
		o.InitialDelay = DefaultInitialDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.MaxDelay < o.InitialDelay {
		o.MaxDelay = o.InitialDelay
	}
	return o
}

// Supervise keeps s connected to the broker in cfg until ctx is done.
//
// It connects, then waits. Whenever the session drops to Disconnected or
// Error and does not come back by itself within the current delay, it
// connects again, backing off exponentially with jitter while attempts
// fail. It returns ctx.Err() on cancellation, ErrSessionClosed when the
// session is closed, or the last connect error once MaxAttempts is
// exhausted.
func Supervise(ctx context.Context, s *Session, cfg config.MQTTConfig, opts SuperviseOptions) error {
	opts = opts.withDefaults()

	states, cancel := s.States()
	defer cancel()

	delay := opts.InitialDelay
	failures := 0

	for {
		err := s.Connect(ctx, cfg)
		switch {
		case err == nil:
			failures = 0
			delay = opts.InitialDelay
			if werr := waitForLoss(ctx, s, states); werr != nil {
				return werr
			}
		case errors.Is(err, ErrSessionClosed):
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			failures++
			if opts.MaxAttempts > 0 && failures >= opts.MaxAttempts {
				s.logger.Error("giving up on broker connection", "attempts", failures, "error", err)
				return err
			}
		}

		for {
			s.logger.Info("reconnecting to broker", "delay", delay, "attempt", failures+1)
			restored, werr := sleepUnlessRestored(ctx, s, states, jitter(delay))
			if werr != nil {
				return werr
			}
			if !restored {
				break
			}
			if werr := waitForLoss(ctx, s, states); werr != nil {
				return werr
			}
		}
		if failures > 0 {
			delay = min(delay*2, opts.MaxDelay)
		}
	}
}

// waitForLoss blocks until the session leaves StateConnected.
func waitForLoss(ctx context.Context, s *Session, states <-chan State) error {
	for {
		if st := s.State(); st == StateDisconnected || st == StateError {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-states:
			if !ok {
				return ErrSessionClosed
			}
		}
	}
}

// sleepUnlessRestored waits d, returning early with true if the MQTT
// client's own reconnect brings the session back to StateConnected.
func sleepUnlessRestored(ctx context.Context, s *Session, states <-chan State, d time.Duration) (bool, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
			return s.State() == StateConnected, nil
		case _, ok := <-states:
			if !ok {
				return false, ErrSessionClosed
			}
			if s.State() == StateConnected {
				return true, nil
			}
		}
	}
}

// jitter adds up to 20% to d.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d + rand.N(d/5+1)
}
