// Package provider defines the daily-bar data source contract and its
// error taxonomy, with Yahoo chart API and Alpaca market-data
// implementations.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"limitboard/internal/domain"
)

// Provider fetches daily OHLCV bars. Dates are YYYY-MM-DD; end is
// exclusive.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// FetchDaily fetches every symbol over [start, endExclusive) in one
	// logical request. A returned error means the whole request failed.
	FetchDaily(ctx context.Context, symbols []string, start, endExclusive string) (Batch, error)

	// FetchOne fetches a single symbol. An empty result with a nil error
	// means the provider has no rows for the range.
	FetchOne(ctx context.Context, symbol, start, endExclusive string) ([]domain.Bar, error)
}

// Batch is the outcome of a bulk fetch. Symbols absent from both maps
// returned nothing.
type Batch struct {
	Bars   map[string][]domain.Bar
	Errors map[string]error
}

// Kind classifies provider failures.
type Kind int

const (
	// KindTransient failures may succeed on retry.
	KindTransient Kind = iota
	// KindPermanent failures will never succeed for the symbol.
	KindPermanent
	// KindShape means the response was missing columns or rows.
	KindShape
)

func (k Kind) String() string {
	switch k {
	case KindPermanent:
		return "permanent"
	case KindShape:
		return "shape"
	default:
		return "transient"
	}
}

// Permanent reasons recorded in the skiplist.
const (
	ReasonTZMissing = "tz_missing"
	ReasonNoPrice   = "no_price"
)

// Error is a classified provider failure.
type Error struct {
	Kind   Kind
	Reason string
	Symbol string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Reason != "" {
		b.WriteString("(" + e.Reason + ")")
	}
	if e.Symbol != "" {
		b.WriteString(" " + e.Symbol)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// NewPermanent returns a permanent error with a skiplist reason.
func NewPermanent(symbol, reason string, err error) *Error {
	return &Error{Kind: KindPermanent, Reason: reason, Symbol: symbol, Err: err}
}

// NewShape returns a shape error.
func NewShape(symbol string, format string, args ...any) *Error {
	return &Error{Kind: KindShape, Symbol: symbol, Err: fmt.Errorf(format, args...)}
}

// Classify maps any error to an *Error. Typed errors pass through; message
// matching on untyped errors happens here and nowhere else.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Kind: KindTransient, Err: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no timezone found"):
		return &Error{Kind: KindPermanent, Reason: ReasonTZMissing, Err: err}
	case strings.Contains(msg, "no price data found"),
		strings.Contains(msg, "symbol may be delisted"):
		return &Error{Kind: KindPermanent, Reason: ReasonNoPrice, Err: err}
	}
	return &Error{Kind: KindTransient, Err: err}
}

// IsPermanent reports whether err is permanent and returns its reason.
func IsPermanent(err error) (string, bool) {
	ce := Classify(err)
	if ce == nil || ce.Kind != KindPermanent || ce.Reason == "" {
		return "", false
	}
	return ce.Reason, true
}

// Normalize fills missing open/high/low from close. A bar without a
// positive close is rejected.
func Normalize(b domain.Bar) (domain.Bar, bool) {
	if b.Close <= 0 {
		return b, false
	}
	if b.Open <= 0 {
		b.Open = b.Close
	}
	if b.High <= 0 {
		b.High = b.Close
	}
	if b.Low <= 0 {
		b.Low = b.Close
	}
	return b, b.Valid()
}
