// Package circuit implements a reachability breaker for storage drivers
// (C3/C4/C5): once a backend's failure rate crosses its trip threshold,
// calls against it fail fast instead of piling up against a wedged S3
// endpoint or a Telegram bot the proxy can no longer reach.
package circuit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is one of a breaker's three reachability states.
type State int

const (
	// StateClosed lets requests through and counts their outcomes.
	StateClosed State = iota
	// StateOpen rejects requests outright until Timeout elapses.
	StateOpen
	// StateHalfOpen lets a bounded number of probe requests through to
	// decide whether the backend has recovered.
	StateHalfOpen
)

func (s State) String() string {
	names := map[State]string{
		StateClosed:   "CLOSED",
		StateOpen:     "OPEN",
		StateHalfOpen: "HALF_OPEN",
	}
	if n, ok := names[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// Config tunes one driver's breaker.
type Config struct {
	// MaxRequests bounds how many probe requests are allowed through
	// while half-open.
	MaxRequests uint32 `yaml:"max_requests"`

	// Interval is how long a closed breaker accumulates Counts before
	// resetting them; zero disables the periodic reset.
	Interval time.Duration `yaml:"interval"`

	// Timeout is how long an open breaker waits before probing again.
	Timeout time.Duration `yaml:"timeout"`

	// ReadyToTrip reports whether the closed breaker's current Counts
	// should trip it open. Defaults to a 20-request/50%-failure rule.
	ReadyToTrip func(counts Counts) bool `yaml:"-"`

	// OnStateChange, if set, is notified of every state transition.
	OnStateChange func(name string, from State, to State) `yaml:"-"`

	// IsSuccessful classifies a call's error as success/failure for the
	// breaker's bookkeeping. Defaults to "nil means success".
	IsSuccessful func(err error) bool `yaml:"-"`
}

// Counts tallies one breaker's traffic since its last reset.
type Counts struct {
	Requests             uint32    `json:"requests"`
	TotalSuccesses       uint32    `json:"total_successes"`
	TotalFailures        uint32    `json:"total_failures"`
	ConsecutiveSuccesses uint32    `json:"consecutive_successes"`
	ConsecutiveFailures  uint32    `json:"consecutive_failures"`
	LastActivity         time.Time `json:"last_activity"`
}

func (c *Counts) recordRequest() {
	c.Requests++
	c.LastActivity = time.Now()
}

func (c *Counts) recordSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) recordFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

func (c *Counts) reset() {
	*c = Counts{}
}

// CircuitBreaker guards calls to a single named upstream (one storage
// driver instance). It is safe for concurrent use by multiple goroutines
// issuing requests against the same backend.
type CircuitBreaker struct {
	name   string
	config Config

	mu          sync.Mutex
	state       State
	counts      Counts
	stateExpiry time.Time
}

// ErrOpenState is returned by a call made while the breaker is open.
var ErrOpenState = errors.New("circuit breaker is open")

// ErrTooManyRequests is returned when the half-open probe quota is exhausted.
var ErrTooManyRequests = errors.New("too many requests in half-open state")

// NewCircuitBreaker builds a closed breaker named name, filling any zero
// fields of config with the package defaults.
func NewCircuitBreaker(name string, config Config) *CircuitBreaker {
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.Interval <= 0 {
		config.Interval = 60 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.ReadyToTrip == nil {
		config.ReadyToTrip = tripOnHalfFailureRate
	}
	if config.IsSuccessful == nil {
		config.IsSuccessful = nilIsSuccess
	}

	return &CircuitBreaker{
		name:        name,
		config:      config,
		state:       StateClosed,
		stateExpiry: time.Now().Add(config.Interval),
	}
}

func tripOnHalfFailureRate(counts Counts) bool {
	return counts.Requests >= 20 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
}

func nilIsSuccess(err error) bool {
	return err == nil
}

// Execute runs fn if the breaker is not open, recording its outcome.
func (br *CircuitBreaker) Execute(fn func() error) error {
	err, _ := br.ExecuteWithFallback(fn, nil)
	return err
}

// ExecuteWithFallback runs fn if the breaker allows it; otherwise, if
// fallback is non-nil, runs fallback instead and reports that the primary
// call was skipped.
func (br *CircuitBreaker) ExecuteWithFallback(fn func() error, fallback func() error) (err error, usedFallback bool) {
	if admitErr := br.admit(); admitErr != nil {
		if fallback == nil {
			return admitErr, false
		}
		return fallback(), true
	}

	err = fn()
	br.record(err)
	return err, false
}

// ExecuteWithContext runs fn with ctx if the breaker allows it.
func (br *CircuitBreaker) ExecuteWithContext(ctx context.Context, fn func(context.Context) error) error {
	if err := br.admit(); err != nil {
		return err
	}

	err := fn(ctx)
	br.record(err)
	return err
}

// admit decides whether a new call may proceed, bumping the request
// counter when it does.
func (br *CircuitBreaker) admit() error {
	br.mu.Lock()
	defer br.mu.Unlock()

	state := br.settle(time.Now())
	switch {
	case state == StateOpen:
		return ErrOpenState
	case state == StateHalfOpen && br.counts.Requests >= br.config.MaxRequests:
		return ErrTooManyRequests
	}

	br.counts.recordRequest()
	return nil
}

// record applies a completed call's outcome to the breaker's state.
func (br *CircuitBreaker) record(err error) {
	br.mu.Lock()
	defer br.mu.Unlock()

	state := br.settle(time.Now())
	if br.config.IsSuccessful(err) {
		br.counts.recordSuccess()
		if state == StateHalfOpen {
			br.transition(StateClosed, time.Now())
		}
		return
	}

	br.counts.recordFailure()
	switch state {
	case StateClosed:
		if br.config.ReadyToTrip(br.counts) {
			br.transition(StateOpen, time.Now())
		}
	case StateHalfOpen:
		br.transition(StateOpen, time.Now())
	}
}

// settle advances the breaker past any expired window (closed-state
// counter reset, or open-state timeout into half-open) before reporting
// its current state. Caller must hold br.mu.
func (br *CircuitBreaker) settle(now time.Time) State {
	switch br.state {
	case StateClosed:
		if !br.stateExpiry.IsZero() && br.stateExpiry.Before(now) {
			br.counts.reset()
			br.stateExpiry = now.Add(br.config.Interval)
		}
	case StateOpen:
		if br.stateExpiry.Before(now) {
			br.transition(StateHalfOpen, now)
		}
	}
	return br.state
}

// transition moves the breaker to state, resetting its counters and
// notifying config.OnStateChange. Caller must hold br.mu.
func (br *CircuitBreaker) transition(state State, now time.Time) {
	if br.state == state {
		return
	}
	prev := br.state
	br.state = state
	br.counts.reset()

	switch state {
	case StateClosed:
		br.stateExpiry = now.Add(br.config.Interval)
	case StateOpen:
		br.stateExpiry = now.Add(br.config.Timeout)
	case StateHalfOpen:
		br.stateExpiry = time.Time{}
	}

	if br.config.OnStateChange != nil {
		br.config.OnStateChange(br.name, prev, state)
	}
}

// GetState reports the breaker's current reachability state, settling any
// pending window transition first.
func (br *CircuitBreaker) GetState() State {
	br.mu.Lock()
	defer br.mu.Unlock()
	return br.settle(time.Now())
}

// GetCounts returns a snapshot of the breaker's traffic counters.
func (br *CircuitBreaker) GetCounts() Counts {
	br.mu.Lock()
	defer br.mu.Unlock()
	return br.counts
}

// Reset forces the breaker back to closed with fresh counters, e.g. after
// an operator manually confirms a backend has recovered.
func (br *CircuitBreaker) Reset() {
	br.mu.Lock()
	defer br.mu.Unlock()
	br.counts.reset()
	br.transition(StateClosed, time.Now())
}

// Name returns the breaker's backend name (the storage_config id it guards).
func (br *CircuitBreaker) Name() string {
	return br.name
}

// Manager owns one breaker per named backend, lazily created from a shared
// Config, so the gateway doesn't need to thread per-storage_config breaker
// construction through every driver it builds.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	config   Config
}

// NewManager builds a Manager that hands out breakers built from config.
func NewManager(config Config) *Manager {
	return &Manager{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
	}
}

// GetBreaker returns the named breaker, creating it on first use.
func (m *Manager) GetBreaker(name string) *CircuitBreaker {
	m.mu.RLock()
	if br, ok := m.breakers[name]; ok {
		m.mu.RUnlock()
		return br
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if br, ok := m.breakers[name]; ok {
		return br
	}
	br := NewCircuitBreaker(name, m.config)
	m.breakers[name] = br
	return br
}

// GetAllBreakers returns a shallow copy of every breaker created so far.
func (m *Manager) GetAllBreakers() map[string]*CircuitBreaker {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]*CircuitBreaker, len(m.breakers))
	for name, br := range m.breakers {
		out[name] = br
	}
	return out
}

// RemoveBreaker drops a breaker, e.g. when its storage_config is removed
// from the running configuration.
func (m *Manager) RemoveBreaker(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.breakers, name)
}

// ResetAll forces every breaker back to closed.
func (m *Manager) ResetAll() {
	m.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(m.breakers))
	for _, br := range m.breakers {
		breakers = append(breakers, br)
	}
	m.mu.RUnlock()

	for _, br := range breakers {
		br.Reset()
	}
}

// CircuitBreakerStats is one breaker's state and counters, for reporting.
type CircuitBreakerStats struct {
	Name   string `json:"name"`
	State  State  `json:"state"`
	Counts Counts `json:"counts"`
}

// GetStats snapshots every breaker the Manager has created.
func (m *Manager) GetStats() map[string]CircuitBreakerStats {
	m.mu.RLock()
	breakers := make(map[string]*CircuitBreaker, len(m.breakers))
	for name, br := range m.breakers {
		breakers[name] = br
	}
	m.mu.RUnlock()

	stats := make(map[string]CircuitBreakerStats, len(breakers))
	for name, br := range breakers {
		stats[name] = CircuitBreakerStats{
			Name:   name,
			State:  br.GetState(),
			Counts: br.GetCounts(),
		}
	}
	return stats
}

// HealthCheck reports an error naming every backend whose breaker is
// currently open, so a health probe can surface driver unreachability
// without the caller iterating GetStats itself.
func (m *Manager) HealthCheck() error {
	var open []string
	for name, stat := range m.GetStats() {
		if stat.State == StateOpen {
			open = append(open, name)
		}
	}
	if len(open) > 0 {
		return fmt.Errorf("circuit breakers open: %v", open)
	}
	return nil
}
