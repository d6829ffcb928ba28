package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// ErrCircuitOpen is returned when a call is rejected because the breaker
// tripped for that service.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// BreakerConfig controls circuit breaker behavior.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before the
	// breaker opens. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long the breaker stays open before allowing a
	// probe call through. Default: 30s.
	ResetTimeout time.Duration
}

// DefaultBreakerConfig returns sensible breaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// Breaker is a consecutive-failure circuit breaker for one external service.
// After FailureThreshold consecutive failures calls are rejected until
// ResetTimeout elapses, after which one probe call is allowed; a successful
// probe closes the breaker again.
type Breaker struct {
	cfg BreakerConfig

	mu       sync.Mutex
	failures int
	openedAt time.Time
	now      func() time.Time
}

// NewBreaker creates a Breaker with the given config.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Allow reports whether a call may proceed. Returns ErrCircuitOpen when the
// breaker is open and the reset timeout has not elapsed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures < b.cfg.FailureThreshold {
		return nil
	}
	if b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		// Probe window: let one call through without resetting the counter.
		return nil
	}
	return ErrCircuitOpen
}

// Record feeds a call outcome into the breaker. A nil error closes the
// breaker; a non-nil error counts toward the threshold.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures == b.cfg.FailureThreshold {
		b.openedAt = b.now()
	} else if b.failures > b.cfg.FailureThreshold {
		// Failed probe: restart the open window.
		b.openedAt = b.now()
	}
}

// Open reports whether the breaker is currently rejecting calls.
func (b *Breaker) Open() bool {
	return b.Allow() != nil
}

// Breakers holds one Breaker per named external service.
type Breakers struct {
	mu  sync.Mutex
	m   map[string]*Breaker
	cfg BreakerConfig
}

// NewBreakers creates a per-service breaker registry.
func NewBreakers(cfg BreakerConfig) *Breakers {
	return &Breakers{m: make(map[string]*Breaker), cfg: cfg}
}

// Get returns the breaker for the named service, creating one if needed.
func (bs *Breakers) Get(service string) *Breaker {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	b, ok := bs.m[service]
	if !ok {
		b = NewBreaker(bs.cfg)
		bs.m[service] = b
	}
	return b
}
