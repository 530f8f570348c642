package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/raakeshmj/nfcverify/internal/cache"
)

var (
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// Keys:
// cb:{service}:open -> present while the circuit is open (TTL = timeout)
// cb:{service}:failures -> consecutive failure count

// CircuitBreaker trips after failureThreshold consecutive failures and stays
// open for timeout. State lives in the cache so instances sharing Redis share it.
type CircuitBreaker struct {
	store            cache.Client
	failureThreshold int64
	timeout          time.Duration
}

func New(store cache.Client, failureThreshold int64, timeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CircuitBreaker{
		store:            store,
		failureThreshold: failureThreshold,
		timeout:          timeout,
	}
}

// Execute runs action unless the circuit is open. Only errors for which
// countable returns true are treated as failures; a nil countable counts all.
func (cb *CircuitBreaker) Execute(ctx context.Context, serviceName string, action func() error, countable func(error) bool) error {
	openKey := "cb:" + serviceName + ":open"
	failureKey := "cb:" + serviceName + ":failures"

	if _, err := cb.store.Get(ctx, openKey); err == nil {
		return ErrCircuitOpen
	}
	// A store error other than a miss is ignored: the breaker must not become
	// a second point of failure in front of the backend.

	opErr := action()

	if opErr != nil && (countable == nil || countable(opErr)) {
		failures, err := cb.store.Incr(ctx, failureKey, cb.timeout)
		if err == nil && failures >= cb.failureThreshold {
			_ = cb.store.Set(ctx, openKey, "1", cb.timeout)
			_ = cb.store.Delete(ctx, failureKey)
		}
		return opErr
	}

	// Consecutive failures only: any success or non-countable outcome resets.
	_ = cb.store.Delete(ctx, failureKey)
	return opErr
}

// IsOpen reports the current state without running anything.
func (cb *CircuitBreaker) IsOpen(ctx context.Context, serviceName string) bool {
	_, err := cb.store.Get(ctx, "cb:"+serviceName+":open")
	return err == nil
}
