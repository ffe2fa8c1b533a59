package hybrid

import (
	"sync"
	"time"
)

// CircuitBreakerState mirrors the three states spec.md names for the
// cold-tier breaker.
type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig controls the trip threshold and cooldown.
type CircuitBreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
}

func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{FailureThreshold: 5, ResetTimeout: 30 * time.Second}
}

// CircuitBreakerStats is the admin-surface snapshot.
type CircuitBreakerStats struct {
	State        string
	FailureCount int
	LastFailure  time.Time
	LastSuccess  time.Time
}

// circuitBreaker guards calls into the cold tier only. It is safe for
// concurrent use and admits exactly one probe while half-open, per
// spec.md's "allow one probe".
type circuitBreaker struct {
	mu sync.Mutex

	cfg CircuitBreakerConfig

	state        CircuitBreakerState
	failureCount int
	lastFailure  time.Time
	lastSuccess  time.Time
	probing      bool

	onOpen     func()
	onClose    func()
	onHalfOpen func()
	onState    func(CircuitBreakerState)
}

func newCircuitBreaker(cfg CircuitBreakerConfig) *circuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &circuitBreaker{cfg: cfg, state: StateClosed}
}

// allow reports whether a cold-tier call may proceed right now, and
// whether this call is the designated half-open probe.
func (cb *circuitBreaker) allow() (proceed bool, isProbe bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFailure) < cb.cfg.ResetTimeout {
			return false, false
		}
		cb.state = StateHalfOpen
		cb.probing = false
		cb.emitState(StateHalfOpen)
		if cb.onHalfOpen != nil {
			cb.onHalfOpen()
		}
		fallthrough
	case StateHalfOpen:
		if cb.probing {
			return false, false
		}
		cb.probing = true
		return true, true
	default: // StateClosed
		return true, false
	}
}

func (cb *circuitBreaker) recordSuccess(isProbe bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	cb.lastSuccess = time.Now()
	if cb.state != StateClosed {
		cb.state = StateClosed
		cb.probing = false
		cb.emitState(StateClosed)
		if cb.onClose != nil {
			cb.onClose()
		}
	}
}

func (cb *circuitBreaker) recordFailure(isProbe bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = time.Now()
	cb.probing = false

	if isProbe {
		cb.state = StateOpen
		cb.emitState(StateOpen)
		if cb.onOpen != nil {
			cb.onOpen()
		}
		return
	}

	cb.failureCount++
	if cb.state == StateClosed && cb.failureCount >= cb.cfg.FailureThreshold {
		cb.state = StateOpen
		cb.emitState(StateOpen)
		if cb.onOpen != nil {
			cb.onOpen()
		}
	}
}

func (cb *circuitBreaker) emitState(s CircuitBreakerState) {
	if cb.onState != nil {
		cb.onState(s)
	}
}

func (cb *circuitBreaker) isOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state == StateOpen
}

func (cb *circuitBreaker) stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitBreakerStats{
		State:        cb.state.String(),
		FailureCount: cb.failureCount,
		LastFailure:  cb.lastFailure,
		LastSuccess:  cb.lastSuccess,
	}
}
