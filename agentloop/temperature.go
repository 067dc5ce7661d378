package agentloop

import (
	"errors"
	"fmt"
	"sync"
)

// DefaultMaxTemperatureRetries bounds how often a task halves its
// temperature.
const DefaultMaxTemperatureRetries = 3

// ErrCannotRetry is returned once the temperature budget is spent.
var ErrCannotRetry = errors.New("cannot retry: temperature reduction attempts exhausted")

// TemperatureRetry tracks the sampling temperature of a task and how many
// times it has been reduced after lazy edit output.
type TemperatureRetry struct {
	mu          sync.Mutex
	temperature *float64
	attempts    int
	limit       int
}

// NewTemperatureRetry starts at temperature (nil means the provider
// default) with limit reductions allowed, attempts of which are already used.
func NewTemperatureRetry(temperature *float64, attempts, limit int) *TemperatureRetry {
	if limit <= 0 {
		limit = DefaultMaxTemperatureRetries
	}
	r := &TemperatureRetry{attempts: attempts, limit: limit}
	if temperature != nil {
		v := *temperature
		r.temperature = &v
	}
	return r
}

// Temperature returns the current temperature, or nil when unset.
func (r *TemperatureRetry) Temperature() *float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.temperature == nil {
		return nil
	}
	v := *r.temperature
	return &v
}

// Value returns the current temperature, or 0 when unset.
func (r *TemperatureRetry) Value() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.temperature == nil {
		return 0
	}
	return *r.temperature
}

// Attempts returns how many reductions have happened.
func (r *TemperatureRetry) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// Reduce halves the temperature. Once the attempt budget is spent it
// returns ErrCannotRetry and leaves the temperature unchanged.
func (r *TemperatureRetry) Reduce() (from, to float64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.temperature == nil {
		return 0, 0, fmt.Errorf("%w: no temperature is set", ErrCannotRetry)
	}
	from = *r.temperature
	if r.attempts >= r.limit {
		return from, from, fmt.Errorf("%w (%d of %d used)", ErrCannotRetry, r.attempts, r.limit)
	}
	to = from / 2
	r.temperature = &to
	r.attempts++
	return from, to, nil
}
