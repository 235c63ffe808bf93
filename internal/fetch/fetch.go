// Package fetch defines the capability interfaces the scheduler and migration engine
// consume to reach a remote quote provider and exchange venue (spec.md §4.3). No HTTP
// implementation ships here — that collaborator is explicitly out of scope (spec.md §1).
package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/tickerfeed/internal/model"
)

// ErrorKind is the error taxonomy from spec.md §4.3/§7. Callers branch on Kind rather than
// string-matching error messages.
type ErrorKind int

const (
	// Transient covers network errors and 5xx responses; the scheduler retries next sweep.
	Transient ErrorKind = iota
	// RateLimited covers HTTP 429; treated identically to Transient by the scheduler.
	RateLimited
	// NotFound means the queried window returned no rows — not an error, a genuine result.
	NotFound
	// WindowExceeded means the requested window violates a provider constraint (spec.md
	// §4.4); this is a config bug, never retried.
	WindowExceeded
	// Fatal covers schema/parse failures in the fetcher's own normalization step.
	Fatal
)

func (k ErrorKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	case NotFound:
		return "not_found"
	case WindowExceeded:
		return "window_exceeded"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps an ErrorKind with context. Use errors.As to recover the Kind.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a fetch.Error.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Window is the [Start, End) range a fetch request covers, UTC-naïve per spec.md §4.3.
type Window struct {
	Start time.Time
	End   time.Time
}

// BarFetcher fetches an incremental OHLCV window for one symbol+interval. Implementations
// must apply the normalization rules in spec.md §4.3 (lowercase columns, UTC-naïve
// timestamps, schema coercion) before returning.
type BarFetcher interface {
	FetchBars(ctx context.Context, symbol, interval string, window Window) (model.BarFrame, error)
}

// FileRef identifies one remote trade file for a venue+day.
type FileRef struct {
	Venue string
	Date  time.Time
	Name  string
}

// TradeFetcher lists and retrieves raw per-trade files for one venue+day.
type TradeFetcher interface {
	ListFiles(ctx context.Context, venue string, date time.Time) ([]FileRef, error)
	FetchFile(ctx context.Context, ref FileRef) (model.TradeFrame, error)
}
