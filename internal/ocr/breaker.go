package ocr

import (
	"time"

	"github.com/sony/gobreaker"

	"github.com/gregorydickson/loan-sub000/internal/logging"
)

const (
	// DefaultBreakerFailMax opens the breaker after this many consecutive
	// failures against the GPU service.
	DefaultBreakerFailMax = 3

	// DefaultBreakerResetTimeout is how long the breaker stays open before
	// allowing a half-open probe.
	DefaultBreakerResetTimeout = 60 * time.Second
)

// BreakerConfig tunes the GPU service circuit breaker.
type BreakerConfig struct {
	FailMax      uint32
	ResetTimeout time.Duration
}

// Breaker guards calls to the GPU OCR service. It is process-wide state:
// every task shares the one breaker for a given target service.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker builds a breaker that opens after cfg.FailMax consecutive
// failures, stays open for cfg.ResetTimeout, then admits a single
// half-open probe.
func NewBreaker(cfg BreakerConfig, log *logging.Logger) *Breaker {
	if cfg.FailMax == 0 {
		cfg.FailMax = DefaultBreakerFailMax
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultBreakerResetTimeout
	}
	if log == nil {
		log = logging.Nop()
	}

	settings := gobreaker.Settings{
		Name:        "gpu-ocr",
		MaxRequests: 1,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailMax
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn under the breaker. When the breaker is open it returns
// gobreaker.ErrOpenState without invoking fn; in half-open state requests
// beyond the single probe return gobreaker.ErrTooManyRequests.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	return b.cb.Execute(fn)
}

// State reports the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
