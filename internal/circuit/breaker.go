// Package circuit stops calls to a remote blob source that keeps failing, so
// cache misses fail fast instead of piling up behind timeouts.
package circuit

import (
	"context"
	"sync"
	"time"

	"github.com/thomasrockhu-codecov/cradle/pkg/errors"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed lets every call through
	StateClosed State = iota
	// StateOpen rejects calls until Timeout has passed
	StateOpen
	// StateHalfOpen lets MaxRequests trial calls through
	StateHalfOpen
)

// String returns string representation of state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config contains circuit breaker configuration
type Config struct {
	// MaxRequests is the number of trial calls allowed while half-open
	MaxRequests uint32 `yaml:"max_requests"`

	// Interval is how often the closed state clears its counts
	Interval time.Duration `yaml:"interval"`

	// Timeout is how long the breaker stays open
	Timeout time.Duration `yaml:"timeout"`

	// ReadyToTrip decides from the counts whether to open
	ReadyToTrip func(counts Counts) bool `yaml:"-"`

	// OnStateChange is called after a call changes the state
	OnStateChange func(name string, from State, to State) `yaml:"-"`

	// IsSuccessful decides whether a result counts against the source
	IsSuccessful func(err error) bool `yaml:"-"`
}

// Counts holds the numbers of requests and their outcomes in the current
// interval
type Counts struct {
	Requests             uint32    `json:"requests"`
	TotalSuccesses       uint32    `json:"total_successes"`
	TotalFailures        uint32    `json:"total_failures"`
	ConsecutiveSuccesses uint32    `json:"consecutive_successes"`
	ConsecutiveFailures  uint32    `json:"consecutive_failures"`
	LastActivity         time.Time `json:"last_activity"`
}

// Stats is a snapshot of a breaker for status endpoints
type Stats struct {
	Name   string `json:"name"`
	State  string `json:"state"`
	Counts Counts `json:"counts"`
}

// Breaker implements the circuit breaker pattern around a remote source
type Breaker struct {
	name   string
	config Config

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
}

// NewBreaker creates a breaker; zero config fields take defaults
func NewBreaker(name string, config Config) *Breaker {
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.Interval <= 0 {
		config.Interval = 60 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.ReadyToTrip == nil {
		config.ReadyToTrip = DefaultReadyToTrip
	}
	if config.IsSuccessful == nil {
		config.IsSuccessful = DefaultIsSuccessful
	}

	return &Breaker{
		name:   name,
		config: config,
		state:  StateClosed,
		expiry: time.Now().Add(config.Interval),
	}
}

// DefaultReadyToTrip opens after five consecutive failures
func DefaultReadyToTrip(counts Counts) bool {
	return counts.ConsecutiveFailures >= 5
}

// DefaultIsSuccessful counts answers the source gave on purpose, such as a
// missing object, as successes. Only failures to get an answer trip the
// breaker.
func DefaultIsSuccessful(err error) bool {
	if err == nil {
		return true
	}
	return errors.HasCode(err, errors.ErrCodeObjectNotFound) ||
		errors.HasCode(err, errors.ErrCodeAccessDenied) ||
		errors.HasCode(err, errors.ErrCodeValidationFailed) ||
		errors.HasCode(err, errors.ErrCodeOperationCanceled)
}

// Execute runs fn if the breaker allows it. A rejected call returns a
// STORAGE_UNAVAILABLE error without calling fn.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.beforeRequest(); err != nil {
		return err
	}

	err := fn(ctx)
	b.afterRequest(err)
	return err
}

func (b *Breaker) beforeRequest() error {
	b.mu.Lock()
	state := b.currentState(time.Now())
	reject := state == StateOpen ||
		(state == StateHalfOpen && b.counts.Requests >= b.config.MaxRequests)
	if !reject {
		b.counts.onRequest()
	}
	b.mu.Unlock()

	if reject {
		return errors.NewError(errors.ErrCodeStorageUnavailable, "circuit breaker is open").
			WithComponent("circuit").
			WithContext("breaker", b.name).
			WithContext("state", state.String())
	}
	return nil
}

func (b *Breaker) afterRequest(err error) {
	b.mu.Lock()
	now := time.Now()
	state := b.currentState(now)
	from := b.state

	if b.config.IsSuccessful(err) {
		b.counts.onSuccess()
		if state == StateHalfOpen {
			b.setState(StateClosed, now)
		}
	} else {
		b.counts.onFailure()
		switch state {
		case StateClosed:
			if b.config.ReadyToTrip(b.counts) {
				b.setState(StateOpen, now)
			}
		case StateHalfOpen:
			b.setState(StateOpen, now)
		}
	}
	to := b.state
	b.mu.Unlock()

	if from != to && b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, from, to)
	}
}

// currentState requires b.mu to be held.
func (b *Breaker) currentState(now time.Time) State {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.counts.clear()
			b.expiry = now.Add(b.config.Interval)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.setState(StateHalfOpen, now)
		}
	}
	return b.state
}

// setState requires b.mu to be held.
func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}

	b.state = state
	b.counts.clear()

	switch state {
	case StateClosed:
		b.expiry = now.Add(b.config.Interval)
	case StateOpen:
		b.expiry = now.Add(b.config.Timeout)
	case StateHalfOpen:
		b.expiry = time.Time{}
	}
}

// State returns the current state of the breaker
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState(time.Now())
}

// Stats returns a snapshot of the breaker
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	state := b.currentState(time.Now())
	return Stats{Name: b.name, State: state.String(), Counts: b.counts}
}

// Reset closes the breaker and clears its counts
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.setState(StateClosed, time.Now())
	b.counts.clear()
	b.mu.Unlock()
}

// Name returns the name of the breaker
func (b *Breaker) Name() string {
	return b.name
}

func (c *Counts) onRequest() {
	c.Requests++
	c.LastActivity = time.Now()
}

func (c *Counts) onSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

func (c *Counts) clear() {
	*c = Counts{}
}
