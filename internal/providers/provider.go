// Package providers implements the market-data provider layer: the provider
// contract, typed error classification, the central retry policy and the
// priority-ordered failover registry with health demotion and circuit
// breakers.
package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quorum-trader/pkg/models"
)

// ErrorKind classifies a provider failure for retry and failover decisions.
type ErrorKind string

const (
	KindTransient     ErrorKind = "TRANSIENT"
	KindAuth          ErrorKind = "AUTH"
	KindRateLimited   ErrorKind = "RATE_LIMITED"
	KindRegionBlocked ErrorKind = "REGION_BLOCKED"
	KindPermanent     ErrorKind = "PERMANENT"
)

// Retryable reports whether the same provider should be retried for this
// kind. Auth and permanent failures go straight to the next provider.
func (k ErrorKind) Retryable() bool {
	return k != KindAuth && k != KindPermanent
}

// CycleKind maps the provider error kind onto the journal error taxonomy.
func (k ErrorKind) CycleKind() models.ErrorKind {
	switch k {
	case KindAuth:
		return models.ErrKindProviderAuth
	case KindRateLimited:
		return models.ErrKindProviderRateLimited
	case KindRegionBlocked:
		return models.ErrKindProviderRegion
	case KindPermanent:
		return models.ErrKindProviderPermanent
	default:
		return models.ErrKindProviderTransient
	}
}

// ProviderError is the typed error every provider implementation returns.
// RetryAfter is only set for KindRateLimited.
type ProviderError struct {
	Provider   string
	Kind       ErrorKind
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Err)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Kind)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError builds a classified provider error.
func NewProviderError(provider string, kind ErrorKind, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}

// NewRateLimited builds a rate-limit error carrying the server's retry hint.
func NewRateLimited(provider string, retryAfter time.Duration, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: KindRateLimited, RetryAfter: retryAfter, Err: err}
}

// Classify extracts the error kind, defaulting to transient for anything
// that is not a ProviderError (network errors, timeouts).
func Classify(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}

// classifyHTTPStatus maps an HTTP status code to an error kind. 418 is
// Binance's IP auto-ban response and is treated like 429.
func classifyHTTPStatus(status int) ErrorKind {
	switch {
	case status == 429 || status == 418:
		return KindRateLimited
	case status == 401 || status == 403:
		return KindAuth
	case status == 451:
		return KindRegionBlocked
	case status >= 400 && status < 500:
		return KindPermanent
	default:
		return KindTransient
	}
}

// Provider is the contract a market-data source implements. Every method
// returns either valid data or a *ProviderError; implementations never
// return partially-populated results.
type Provider interface {
	ID() string
	Capabilities() models.CapabilitySet

	FetchCandles(ctx context.Context, pair models.Pair, interval models.Interval, limit int) ([]models.Candle, error)
	FetchTicker(ctx context.Context, pair models.Pair) (models.Ticker, error)
	FetchDepth(ctx context.Context, pair models.Pair, levels int) (models.DepthLevels, error)
	FetchDerivatives(ctx context.Context, pair models.Pair) (models.DerivativesFact, error)
}

// AuthProber is implemented by providers that can verify their credentials
// with a cheap authenticated call. The startup probe treats a KindAuth
// failure here as fatal.
type AuthProber interface {
	ProbeAuth(ctx context.Context) error
}

// ExhaustedError is returned when every provider in the failover chain
// failed for a capability. The snapshot assembler maps it to
// DataUnavailable when the capability is required.
type ExhaustedError struct {
	Capability models.Capability
	Attempts   []error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all providers exhausted for %s: %v", e.Capability, errors.Join(e.Attempts...))
}

func (e *ExhaustedError) Unwrap() error {
	return errors.Join(e.Attempts...)
}
