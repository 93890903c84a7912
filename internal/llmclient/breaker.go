package llmclient

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/loopsmith/api/schemas"
)

// CircuitState represents the state of the generation circuit breaker.
type CircuitState int

const (
	// CircuitClosed allows requests through normally.
	CircuitClosed CircuitState = iota

	// CircuitOpen rejects all requests immediately.
	CircuitOpen

	// CircuitHalfOpen allows a single probe request to test recovery.
	CircuitHalfOpen
)

// String returns the human-readable name for the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the circuit breaker behavior.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int

	// OpenTimeout is how long the breaker stays open before allowing a
	// half-open probe.
	OpenTimeout time.Duration
}

// CircuitBreaker tracks consecutive generation failures and fails fast while
// the downstream service is struggling.
//
// Closed passes requests through; FailureThreshold consecutive failures
// open it;
// after OpenTimeout one probe is allowed, whose outcome closes or reopens
// the circuit. Safe for concurrent use.
type CircuitBreaker struct {
	config BreakerConfig

	mu                  sync.RWMutex
	state               CircuitState
	consecutiveFailures int
	probeInFlight       bool
	lastFailureTime     time.Time
}

// NewCircuitBreaker creates a breaker in the closed state.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{config: cfg, state: CircuitClosed}
}

// Allow reports whether a request may proceed. In the open state it
// transitions to half-open once OpenTimeout has elapsed and admits a single
// probe.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(cb.lastFailureTime) >= cb.config.OpenTimeout {
			cb.state = CircuitHalfOpen
			cb.probeInFlight = true
			return true
		}
		return false
	case CircuitHalfOpen:
		if !cb.probeInFlight {
			cb.probeInFlight = true
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess resets the failure count; a successful half-open probe
// closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	cb.probeInFlight = false
	cb.state = CircuitClosed
}

// RecordFailure counts a failure; reaching the threshold, or any failed
// half-open probe, opens the circuit.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = time.Now()
	cb.probeInFlight = false

	switch cb.state {
	case CircuitClosed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.state = CircuitOpen
		}
	case CircuitHalfOpen:
		cb.state = CircuitOpen
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// ConsecutiveFailures returns the current closed-state failure streak.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.consecutiveFailures
}

// BreakerClient wraps an LLMClient with a circuit breaker. While the circuit
// is open every call returns schemas.ErrCircuitOpen without touching the
// wrapped client.
type BreakerClient struct {
	inner   schemas.LLMClient
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewBreakerClient wraps inner with breaker protection.
func NewBreakerClient(inner schemas.LLMClient, cfg BreakerConfig, logger *zap.Logger) *BreakerClient {
	return &BreakerClient{
		inner:   inner,
		breaker: NewCircuitBreaker(cfg),
		logger:  logger.Named("breaker"),
	}
}

// Generate forwards to the wrapped client when the breaker admits the call.
func (b *BreakerClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	if !b.breaker.Allow() {
		b.logger.Warn("Generation request rejected, circuit open")
		return "", schemas.ErrCircuitOpen
	}

	out, err := b.inner.Generate(ctx, req)
	if err != nil {
		b.breaker.RecordFailure()
		if b.breaker.State() == CircuitOpen {
			b.logger.Error("Generation circuit opened",
				zap.Int("consecutive_failures", b.breaker.ConsecutiveFailures()),
				zap.Error(err))
		}
		return "", err
	}

	b.breaker.RecordSuccess()
	return out, nil
}

// Close closes the wrapped client.
func (b *BreakerClient) Close() error {
	return b.inner.Close()
}

// State exposes the breaker state for status reporting.
func (b *BreakerClient) State() CircuitState {
	return b.breaker.State()
}
