// Package breaker implements a per-source three-state circuit breaker.
package breaker

import (
	"log/slog"
	"sync"
	"time"

	"marketfeed/internal/core/domain"
)

// State is the circuit position for one source.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Config holds the breaker thresholds for one source.
type Config struct {
	FailureThreshold int           // consecutive failures before opening
	OpenTimeout      time.Duration // time spent open before trialing
	MaxTrialCalls    int           // successes needed to close from half-open
}

// DefaultConfig mirrors the usual production thresholds.
var DefaultConfig = Config{
	FailureThreshold: 5,
	OpenTimeout:      5 * time.Minute,
	MaxTrialCalls:    3,
}

type circuit struct {
	cfg            Config
	state          State
	failures       int
	openedAt       time.Time
	lastFailure    time.Time
	trialCalls     int
	trialSuccesses int
}

// Info is a read-only view of one circuit, used in health reports.
type Info struct {
	State       State     `json:"state"`
	Failures    int       `json:"failures"`
	OpenedAt    time.Time `json:"openedAt,omitempty"`
	LastFailure time.Time `json:"lastFailure,omitempty"`
}

// Breaker tracks one circuit per source. All transitions are logged as
// structured events carrying the source id and counters.
type Breaker struct {
	mu       sync.Mutex
	circuits map[domain.SourceID]*circuit
	log      *slog.Logger
	now      func() time.Time

	// OnTransition is invoked outside the lock after every state change,
	// for metrics accounting. May be nil.
	OnTransition func(src domain.SourceID, from, to State)
}

// New creates an empty breaker; sources are added via Register.
func New(log *slog.Logger) *Breaker {
	if log == nil {
		log = slog.Default()
	}
	return &Breaker{
		circuits: make(map[domain.SourceID]*circuit),
		log:      log,
		now:      time.Now,
	}
}

// Register installs a circuit for the source in the closed state.
func (b *Breaker) Register(src domain.SourceID, cfg Config) {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultConfig.OpenTimeout
	}
	if cfg.MaxTrialCalls <= 0 {
		cfg.MaxTrialCalls = DefaultConfig.MaxTrialCalls
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.circuits[src] = &circuit{cfg: cfg}
}

// Allow reports whether a real call may proceed. An open circuit whose
// timeout has elapsed transitions to half-open here; half-open admits at most
// MaxTrialCalls in-flight trials.
func (b *Breaker) Allow(src domain.SourceID) bool {
	b.mu.Lock()
	c, found := b.circuits[src]
	if !found {
		b.mu.Unlock()
		return true
	}

	var transition *[2]State
	allowed := false

	switch c.state {
	case StateClosed:
		allowed = true
	case StateOpen:
		if b.now().Sub(c.openedAt) >= c.cfg.OpenTimeout {
			transition = &[2]State{StateOpen, StateHalfOpen}
			c.state = StateHalfOpen
			c.trialCalls = 1
			c.trialSuccesses = 0
			allowed = true
		}
	case StateHalfOpen:
		if c.trialCalls < c.cfg.MaxTrialCalls {
			c.trialCalls++
			allowed = true
		}
	}
	failures, trials := c.failures, c.trialSuccesses
	b.mu.Unlock()

	if transition != nil {
		b.emit(src, transition[0], transition[1], failures, trials)
	}
	return allowed
}

// RecordSuccess resets the failure counter, and in half-open counts trial
// successes toward closing the circuit.
func (b *Breaker) RecordSuccess(src domain.SourceID) {
	b.mu.Lock()
	c, found := b.circuits[src]
	if !found {
		b.mu.Unlock()
		return
	}

	var transition *[2]State
	switch c.state {
	case StateClosed:
		c.failures = 0
	case StateHalfOpen:
		c.trialSuccesses++
		if c.trialSuccesses >= c.cfg.MaxTrialCalls {
			transition = &[2]State{StateHalfOpen, StateClosed}
			c.state = StateClosed
			c.failures = 0
			c.trialCalls = 0
			c.trialSuccesses = 0
		}
	}
	failures, trials := c.failures, c.trialSuccesses
	b.mu.Unlock()

	if transition != nil {
		b.emit(src, transition[0], transition[1], failures, trials)
	}
}

// RecordFailure increments the failure counter and opens the circuit when the
// threshold is reached. Any half-open failure reopens immediately.
func (b *Breaker) RecordFailure(src domain.SourceID) {
	b.mu.Lock()
	c, found := b.circuits[src]
	if !found {
		b.mu.Unlock()
		return
	}

	c.lastFailure = b.now()
	var transition *[2]State
	switch c.state {
	case StateClosed:
		c.failures++
		if c.failures >= c.cfg.FailureThreshold {
			transition = &[2]State{StateClosed, StateOpen}
			c.state = StateOpen
			c.openedAt = b.now()
		}
	case StateHalfOpen:
		transition = &[2]State{StateHalfOpen, StateOpen}
		c.state = StateOpen
		c.openedAt = b.now()
		c.trialCalls = 0
		c.trialSuccesses = 0
	}
	failures, trials := c.failures, c.trialSuccesses
	b.mu.Unlock()

	if transition != nil {
		b.emit(src, transition[0], transition[1], failures, trials)
	}
}

// Trip forces the circuit open regardless of the failure count. Used when a
// non-recoverable failure (auth) makes further calls pointless.
func (b *Breaker) Trip(src domain.SourceID) {
	b.mu.Lock()
	c, found := b.circuits[src]
	if !found {
		b.mu.Unlock()
		return
	}
	from := c.state
	c.state = StateOpen
	c.openedAt = b.now()
	c.lastFailure = b.now()
	c.trialCalls = 0
	c.trialSuccesses = 0
	failures := c.failures
	b.mu.Unlock()

	if from != StateOpen {
		b.emit(src, from, StateOpen, failures, 0)
	}
}

// Reset is the operator override: unconditionally back to closed.
func (b *Breaker) Reset(src domain.SourceID) {
	b.mu.Lock()
	c, found := b.circuits[src]
	if !found {
		b.mu.Unlock()
		return
	}
	from := c.state
	c.state = StateClosed
	c.failures = 0
	c.trialCalls = 0
	c.trialSuccesses = 0
	b.mu.Unlock()

	if from != StateClosed {
		b.emit(src, from, StateClosed, 0, 0)
	}
}

// State returns the current circuit position without mutating it.
func (b *Breaker) State(src domain.SourceID) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, found := b.circuits[src]
	if !found {
		return StateClosed
	}
	return c.state
}

// Snapshot returns a read-only view of the circuit for reporting.
func (b *Breaker) Snapshot(src domain.SourceID) Info {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, found := b.circuits[src]
	if !found {
		return Info{State: StateClosed}
	}
	return Info{
		State:       c.state,
		Failures:    c.failures,
		OpenedAt:    c.openedAt,
		LastFailure: c.lastFailure,
	}
}

func (b *Breaker) emit(src domain.SourceID, from, to State, failures, trialSuccesses int) {
	event := "CIRCUIT_HALF_OPEN"
	switch to {
	case StateOpen:
		event = "CIRCUIT_OPENED"
	case StateClosed:
		event = "CIRCUIT_CLOSED"
	}
	b.log.Warn(event,
		"source", string(src),
		"from", from.String(),
		"to", to.String(),
		"failures", failures,
		"trial_successes", trialSuccesses,
	)
	if b.OnTransition != nil {
		b.OnTransition(src, from, to)
	}
}
