// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// State is a retry machine state.
type State int

const (
	Attempting State = iota
	BackingOff
	Exhausted
	Succeeded
)

func (s State) String() string {
	switch s {
	case Attempting:
		return "attempting"
	case BackingOff:
		return "backing-off"
	case Exhausted:
		return "exhausted"
	case Succeeded:
		return "succeeded"
	default:
		return "invalid"
	}
}

// Policy bounds a retry loop.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// Backoff returns the delay before the attempt following a failed one.
	// attempt is the 1-based number of the attempt that failed.
	// Nil means no delay.
	Backoff func(attempt int, err error) time.Duration

	// Retryable reports whether err may be retried. Nil retries everything.
	// Context errors are never retried.
	Retryable func(err error) bool
}

// FixedBackoff returns a Backoff that always waits d.
func FixedBackoff(d time.Duration) func(int, error) time.Duration {
	return func(int, error) time.Duration { return d }
}

// Transition describes one state change of a Machine.
type Transition struct {
	From    State
	To      State
	Attempt int
	Delay   time.Duration
	Err     error
}

// Machine executes an operation under a Policy. A Machine runs once;
// create a new one per operation.
type Machine struct {
	policy       Policy
	clock        Clock
	logger       *slog.Logger
	onTransition func(Transition)

	state    State
	attempts int
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock sets the clock used for backoff delays.
func WithClock(clock Clock) Option {
	return func(m *Machine) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithTransitionHook registers a callback invoked on every state change.
func WithTransitionHook(fn func(Transition)) Option {
	return func(m *Machine) {
		m.onTransition = fn
	}
}

// NewMachine creates a Machine in the Attempting state.
func NewMachine(policy Policy, opts ...Option) *Machine {
	m := &Machine{
		policy: policy,
		clock:  SystemClock(),
		logger: slog.Default(),
		state:  Attempting,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Attempts returns the number of attempts made so far.
func (m *Machine) Attempts() int {
	return m.attempts
}

// Run calls op until it succeeds, fails with a non-retryable error or the
// attempt budget is spent. The error of the last attempt is returned as is.
func (m *Machine) Run(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	if m.policy.MaxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}

	for {
		if err := ctx.Err(); err != nil {
			m.transition(Exhausted, 0, err)
			return err
		}

		m.attempts++
		err := op(ctx, m.attempts)
		if err == nil {
			if m.attempts > 1 {
				m.logger.Debug("operation succeeded after retry", "attempt", m.attempts)
			}
			m.transition(Succeeded, 0, nil)
			return nil
		}

		if m.attempts >= m.policy.MaxAttempts || !m.retryable(err) {
			m.logger.Debug("operation failed, giving up", "attempt", m.attempts, "maxAttempts", m.policy.MaxAttempts, "err", err)
			m.transition(Exhausted, 0, err)
			return err
		}

		var delay time.Duration
		if m.policy.Backoff != nil {
			delay = m.policy.Backoff(m.attempts, err)
		}
		m.logger.Debug("operation failed, will retry", "attempt", m.attempts, "maxAttempts", m.policy.MaxAttempts, "delay", delay, "err", err)
		m.transition(BackingOff, delay, err)

		if sleepErr := m.clock.Sleep(ctx, delay); sleepErr != nil {
			m.transition(Exhausted, 0, sleepErr)
			return sleepErr
		}
		m.transition(Attempting, 0, nil)
	}
}

func (m *Machine) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if m.policy.Retryable == nil {
		return true
	}
	return m.policy.Retryable(err)
}

func (m *Machine) transition(to State, delay time.Duration, err error) {
	from := m.state
	m.state = to
	if m.onTransition != nil {
		m.onTransition(Transition{From: from, To: to, Attempt: m.attempts, Delay: delay, Err: err})
	}
}

// Do is a convenience wrapper running op on a fresh Machine.
func Do(ctx context.Context, policy Policy, op func(ctx context.Context, attempt int) error, opts ...Option) error {
	return NewMachine(policy, opts...).Run(ctx, op)
}
