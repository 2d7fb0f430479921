// Package health tracks the health of cache components and reports
// graceful degradation.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/thomasrockhu-codecov/cradle/pkg/errors"
	"github.com/thomasrockhu-codecov/cradle/pkg/types"
)

// HealthState represents the health state of a component
type HealthState int

const (
	// StateHealthy indicates the component is fully operational
	StateHealthy HealthState = iota

	// StateDegraded indicates the component works but keeps failing
	StateDegraded

	// StateReadOnly indicates reads work but writes keep failing
	StateReadOnly

	// StateUnavailable indicates the component is not operational
	StateUnavailable
)

// String returns the string representation of a health state
func (s HealthState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateReadOnly:
		return "read-only"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name.
func (s HealthState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ComponentHealth tracks the health of one component
type ComponentHealth struct {
	Name              string            `json:"name"`
	State             HealthState       `json:"state"`
	LastStateChange   time.Time         `json:"last_state_change"`
	LastHealthCheck   time.Time         `json:"last_health_check"`
	ConsecutiveErrors int               `json:"consecutive_errors"`
	LastErrorMessage  string            `json:"last_error_message,omitempty"`
	Details           map[string]string `json:"details,omitempty"`
}

// StateChangeCallback is called when a component's health state changes
type StateChangeCallback func(component string, oldState, newState HealthState, err error)

// CheckFunc checks the health of one component.
type CheckFunc func(ctx context.Context) error

// Tracker tracks component health and derives the overall state
type Tracker struct {
	mu         sync.RWMutex
	components map[string]*ComponentHealth
	config     TrackerConfig
	callbacks  []StateChangeCallback
}

// TrackerConfig configures health tracking behavior
type TrackerConfig struct {
	// ErrorThreshold is the number of consecutive errors before a component is degraded
	ErrorThreshold int `yaml:"error_threshold" json:"error_threshold"`

	// UnavailableThreshold is the number of consecutive errors before it is unavailable
	UnavailableThreshold int `yaml:"unavailable_threshold" json:"unavailable_threshold"`

	// HealthCheckInterval is the interval for periodic checks
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// DefaultConfig returns a default tracker configuration
func DefaultConfig() TrackerConfig {
	return TrackerConfig{
		ErrorThreshold:       3,
		UnavailableThreshold: 10,
		HealthCheckInterval:  30 * time.Second,
	}
}

// NewTracker creates a new health tracker
func NewTracker(config TrackerConfig) *Tracker {
	return &Tracker{
		components: make(map[string]*ComponentHealth),
		config:     config,
	}
}

// RegisterComponent registers a component as healthy
func (t *Tracker) RegisterComponent(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.components[name]; !exists {
		now := time.Now()
		t.components[name] = &ComponentHealth{
			Name:            name,
			State:           StateHealthy,
			LastStateChange: now,
			LastHealthCheck: now,
			Details:         make(map[string]string),
		}
	}
}

// RecordSuccess records a successful operation. Each success cancels one
// earlier error; the component recovers once none are left.
func (t *Tracker) RecordSuccess(component string) {
	t.mu.Lock()
	health, exists := t.components[component]
	if !exists {
		t.mu.Unlock()
		return
	}

	oldState := health.State
	health.LastHealthCheck = time.Now()
	if health.ConsecutiveErrors > 0 {
		health.ConsecutiveErrors--
		if health.ConsecutiveErrors == 0 && health.State != StateHealthy {
			t.transitionState(health, StateHealthy)
		}
	}
	newState := health.State
	callbacks := t.callbacks
	t.mu.Unlock()

	if oldState != newState {
		notify(callbacks, component, oldState, newState, nil)
	}
}

// RecordError records a failed operation for a component
func (t *Tracker) RecordError(component string, err error) {
	t.mu.Lock()
	health, exists := t.components[component]
	if !exists {
		t.mu.Unlock()
		return
	}

	oldState := health.State
	health.LastHealthCheck = time.Now()
	health.ConsecutiveErrors++
	if err != nil {
		health.LastErrorMessage = err.Error()
	}

	newState := health.State
	switch {
	case health.ConsecutiveErrors >= t.config.UnavailableThreshold:
		newState = StateUnavailable
	case health.ConsecutiveErrors >= t.config.ErrorThreshold:
		if isWriteError(err) {
			newState = StateReadOnly
		} else {
			newState = StateDegraded
		}
	}
	if newState != oldState {
		t.transitionState(health, newState)
	}
	callbacks := t.callbacks
	t.mu.Unlock()

	if oldState != newState {
		notify(callbacks, component, oldState, newState, err)
	}
}

// MarkHealthy clears the recorded errors of a component, for example after
// a trial operation proved it works again.
func (t *Tracker) MarkHealthy(component string) {
	t.mu.Lock()
	health, exists := t.components[component]
	if !exists {
		t.mu.Unlock()
		return
	}

	oldState := health.State
	health.LastHealthCheck = time.Now()
	health.ConsecutiveErrors = 0
	if oldState != StateHealthy {
		t.transitionState(health, StateHealthy)
	}
	callbacks := t.callbacks
	t.mu.Unlock()

	if oldState != StateHealthy {
		notify(callbacks, component, oldState, StateHealthy, nil)
	}
}

// GetState returns the current health state of a component
func (t *Tracker) GetState(component string) HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if health, exists := t.components[component]; exists {
		return health.State
	}
	return StateUnavailable
}

// GetComponentHealth returns a copy of the health of one component
func (t *Tracker) GetComponentHealth(component string) (*ComponentHealth, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	health, exists := t.components[component]
	if !exists {
		return nil, fmt.Errorf("component %s not registered", component)
	}
	return health.copy(), nil
}

// GetAllComponents returns copies of every registered component
func (t *Tracker) GetAllComponents() map[string]*ComponentHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]*ComponentHealth, len(t.components))
	for name, health := range t.components {
		result[name] = health.copy()
	}
	return result
}

// GetOverallHealth returns the worst state of any component
func (t *Tracker) GetOverallHealth() HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	overallState := StateHealthy
	for _, health := range t.components {
		if health.State > overallState {
			overallState = health.State
		}
	}
	return overallState
}

// CanRead returns true if the component can serve reads
func (t *Tracker) CanRead(component string) bool {
	state := t.GetState(component)
	return state != StateUnavailable
}

// CanWrite returns true if the component can accept writes
func (t *Tracker) CanWrite(component string) bool {
	return AllowsWrites(t.GetState(component))
}

// AllowsWrites reports whether a component in state accepts writes
func AllowsWrites(state HealthState) bool {
	return state == StateHealthy || state == StateDegraded
}

// OnStateChange registers a callback for every state change
func (t *Tracker) OnStateChange(callback StateChangeCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, callback)
}

// SetDetail attaches a descriptive value to a component
func (t *Tracker) SetDetail(component, key, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if health, exists := t.components[component]; exists {
		health.Details[key] = value
	}
}

// Status renders every component as a types.HealthStatus, sorted by name.
func (t *Tracker) Status() []types.HealthStatus {
	components := t.GetAllComponents()
	names := make([]string, 0, len(components))
	for name := range components {
		names = append(names, name)
	}
	sort.Strings(names)

	statuses := make([]types.HealthStatus, 0, len(names))
	for _, name := range names {
		c := components[name]
		details := map[string]string{"component": name}
		for k, v := range c.Details {
			details[k] = v
		}
		statuses = append(statuses, types.HealthStatus{
			Status:    c.State.String(),
			LastCheck: c.LastHealthCheck,
			Message:   c.LastErrorMessage,
			Details:   details,
		})
	}
	return statuses
}

// StartHealthChecks runs the check for every component in checks on each interval
// until ctx is done.
func (t *Tracker) StartHealthChecks(ctx context.Context, checks map[string]CheckFunc) {
	ticker := time.NewTicker(t.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.RunChecks(ctx, checks)
		}
	}
}

// RunChecks runs the check for every component in checks once.
func (t *Tracker) RunChecks(ctx context.Context, checks map[string]CheckFunc) {
	for component, check := range checks {
		if err := check(ctx); err != nil {
			t.RecordError(component, err)
		} else {
			t.RecordSuccess(component)
		}
	}
}

// transitionState requires t.mu to be held.
func (t *Tracker) transitionState(health *ComponentHealth, newState HealthState) {
	health.State = newState
	health.LastStateChange = time.Now()
	if newState == StateHealthy {
		health.ConsecutiveErrors = 0
		health.LastErrorMessage = ""
	}
}

func (h *ComponentHealth) copy() *ComponentHealth {
	c := *h
	c.Details = make(map[string]string, len(h.Details))
	for k, v := range h.Details {
		c.Details[k] = v
	}
	return &c
}

func notify(callbacks []StateChangeCallback, component string, oldState, newState HealthState, err error) {
	for _, callback := range callbacks {
		callback(component, oldState, newState, err)
	}
}

// isWriteError reports errors after which reads are still expected to work.
func isWriteError(err error) bool {
	return errors.HasCode(err, errors.ErrCodeDiskCacheWrite) ||
		errors.HasCode(err, errors.ErrCodeAccessDenied)
}
