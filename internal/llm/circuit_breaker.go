package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrCircuitOpen is returned without calling the provider while its
// breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState represents the circuit breaker state
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerConfig holds the thresholds shared by every breaker of a
// CircuitBreaker.
type BreakerConfig struct {
	FailureThreshold uint32
	SuccessThreshold uint32
	Timeout          time.Duration
}

// DefaultBreakerConfig opens after 5 consecutive failures and probes again
// after 30 seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// CircuitBreaker implements the circuit breaker pattern per key
type CircuitBreaker struct {
	breakers map[string]*breaker
	cfg      BreakerConfig
	logger   logrus.FieldLogger
	now      func() time.Time
	mu       sync.Mutex
}

type breaker struct {
	failures    uint32
	successes   uint32
	lastFailure time.Time
	state       BreakerState
	mu          sync.Mutex
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(cfg BreakerConfig, logger logrus.FieldLogger) *CircuitBreaker {
	return &CircuitBreaker{
		breakers: make(map[string]*breaker),
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Execute executes a function with circuit breaker protection
func (cb *CircuitBreaker) Execute(key string, fn func() error) error {
	b := cb.get(key)

	if cb.state(key, b) == StateOpen {
		return fmt.Errorf("%w for %s", ErrCircuitOpen, key)
	}

	err := fn()
	if err != nil && !errors.Is(err, context.Canceled) {
		cb.recordFailure(key, b)
	} else if err == nil {
		cb.recordSuccess(key, b)
	}
	return err
}

// GetState returns the state of a specific breaker
func (cb *CircuitBreaker) GetState(key string) BreakerState {
	return cb.state(key, cb.get(key))
}

// Reset closes a specific breaker
func (cb *CircuitBreaker) Reset(key string) {
	b := cb.get(key)
	b.mu.Lock()
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
	b.mu.Unlock()
}

func (cb *CircuitBreaker) get(key string) *breaker {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	b, ok := cb.breakers[key]
	if !ok {
		b = &breaker{state: StateClosed}
		cb.breakers[key] = b
	}
	return b
}

func (cb *CircuitBreaker) state(key string, b *breaker) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Open moves to half-open once the timeout has passed
	if b.state == StateOpen && cb.now().Sub(b.lastFailure) > cb.cfg.Timeout {
		b.state = StateHalfOpen
		b.failures = 0
		b.successes = 0
		cb.logger.WithField("key", key).Info("Circuit breaker half-open, probing")
	}
	return b.state
}

func (cb *CircuitBreaker) recordFailure(key string, b *breaker) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = cb.now()

	switch b.state {
	case StateClosed:
		if b.failures >= cb.cfg.FailureThreshold {
			b.state = StateOpen
			cb.logger.WithFields(logrus.Fields{"key": key, "failures": b.failures}).Warn("Opening circuit breaker")
		}
	case StateHalfOpen:
		b.state = StateOpen
		cb.logger.WithField("key", key).Warn("Re-opening circuit breaker after failure in half-open state")
	}
}

func (cb *CircuitBreaker) recordSuccess(key string, b *breaker) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successes++

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		if b.successes >= cb.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
			cb.logger.WithField("key", key).Info("Closing circuit breaker")
		}
	}
}

// GuardedProvider routes every call through a circuit breaker so a dead
// upstream fails fast instead of stalling each turn.
type GuardedProvider struct {
	next    ChatProvider
	breaker *CircuitBreaker
	key     string
	metrics *MetricsCollector
}

// Guard wraps a provider with breaker protection under key.
func Guard(next ChatProvider, breaker *CircuitBreaker, key string) *GuardedProvider {
	return &GuardedProvider{next: next, breaker: breaker, key: key}
}

// WithMetrics records every call under the provider's key.
func (g *GuardedProvider) WithMetrics(m *MetricsCollector) *GuardedProvider {
	cp := *g
	cp.metrics = m
	return &cp
}

// Complete implements CompletionProvider
func (g *GuardedProvider) Complete(ctx context.Context, prompt string) (string, error) {
	var out string
	err := g.execute(func() error {
		var err error
		out, err = g.next.Complete(ctx, prompt)
		return err
	})
	return out, err
}

// Chat implements ChatProvider
func (g *GuardedProvider) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	var out string
	err := g.execute(func() error {
		var err error
		out, err = g.next.Chat(ctx, messages, opts)
		return err
	})
	return out, err
}

func (g *GuardedProvider) execute(fn func() error) error {
	start := time.Now()
	called := false
	err := g.breaker.Execute(g.key, func() error {
		called = true
		return fn()
	})
	if g.metrics != nil {
		if called {
			g.metrics.RecordRequest(g.key, err == nil, time.Since(start))
		} else {
			g.metrics.RecordRejected(g.key)
		}
	}
	return err
}
