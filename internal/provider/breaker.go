package provider

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while a provider's breaker is open. Transient:
// the breaker half-opens after its timeout and the next cycle retries.
var ErrCircuitOpen = errors.New("provider circuit open")

// BreakerSettings tunes the circuit breaker wrapped around an adapter.
type BreakerSettings struct {
	// ConsecutiveFailures before the breaker opens.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before half-opening.
	OpenTimeout time.Duration
}

func (s BreakerSettings) withDefaults() BreakerSettings {
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	if s.OpenTimeout == 0 {
		s.OpenTimeout = 60 * time.Second
	}
	return s
}

// breakerAdapter decorates an Adapter with a circuit breaker so a provider
// outage stops consuming rate-limit quota and wall-clock budget.
type breakerAdapter struct {
	inner Adapter
	cb    *gobreaker.CircuitBreaker
}

// WithBreaker wraps an adapter with a circuit breaker. Credential failures
// do not count toward tripping: they are a property of one connection, not
// of the provider.
func WithBreaker(inner Adapter, settings BreakerSettings) Adapter {
	settings = settings.withDefaults()

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        inner.ProviderID(),
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("Provider %s: circuit breaker %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrUnauthorized)
		},
	})

	return &breakerAdapter{inner: inner, cb: cb}
}

func (b *breakerAdapter) ProviderID() string {
	return b.inner.ProviderID()
}

func (b *breakerAdapter) FetchRawAccounts(ctx context.Context, creds Credentials) (*RawAccountBatch, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.FetchRawAccounts(ctx, creds)
	})
	if err != nil {
		return nil, b.mapErr(err)
	}
	return res.(*RawAccountBatch), nil
}

func (b *breakerAdapter) FetchRawTransactions(ctx context.Context, creds Credentials, externalAccountID string, query TransactionQuery) (*RawTransactionBatch, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.FetchRawTransactions(ctx, creds, externalAccountID, query)
	})
	if err != nil {
		return nil, b.mapErr(err)
	}
	return res.(*RawTransactionBatch), nil
}

func (b *breakerAdapter) RefreshAccessToken(ctx context.Context, refreshToken string) (*Tokens, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.RefreshAccessToken(ctx, refreshToken)
	})
	if err != nil {
		return nil, b.mapErr(err)
	}
	return res.(*Tokens), nil
}

func (b *breakerAdapter) IsTokenExpired(expiry time.Time) bool {
	return b.inner.IsTokenExpired(expiry)
}

func (b *breakerAdapter) mapErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s", ErrCircuitOpen, b.inner.ProviderID())
	}
	return err
}
