package fetcher

import (
	"errors"
	"fmt"
)

// Error taxonomy for fetch outcomes. RateLimited and SourceUnavailable are
// transient and retried with bounded backoff; InvalidSymbol is permanent and
// scoped to the one symbol that raised it.
var (
	ErrRateLimited       = errors.New("rate limited")
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrInvalidSymbol     = errors.New("invalid symbol")
)

// FetchError wraps a taxonomy error with the symbol and data kind that
// produced it so callers can log and skip without losing the cause.
type FetchError struct {
	Symbol string
	Kind   string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s/%s: %v", e.Symbol, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrSourceUnavailable)
}

// IsPermanent reports whether err should never be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidSymbol)
}
