// Package models defines the domain entities shared by every stage of the
// decision pipeline: market data, analyst opinions, combined decisions,
// portfolio state, trade intents and journal records.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Interval is a candle interval supported by the scheduler and providers.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
)

// SupportedIntervals lists all valid intervals in ascending duration order.
var SupportedIntervals = []Interval{
	Interval1m, Interval5m, Interval15m, Interval1h, Interval4h, Interval1d,
}

// Duration returns the wall-clock length of one candle at this interval.
func (i Interval) Duration() time.Duration {
	switch i {
	case Interval1m:
		return time.Minute
	case Interval5m:
		return 5 * time.Minute
	case Interval15m:
		return 15 * time.Minute
	case Interval1h:
		return time.Hour
	case Interval4h:
		return 4 * time.Hour
	case Interval1d:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Valid reports whether the interval is one of the supported set.
func (i Interval) Valid() bool {
	return i.Duration() > 0
}

// ParseInterval converts a string such as "1h" into an Interval.
func ParseInterval(s string) (Interval, error) {
	iv := Interval(strings.ToLower(strings.TrimSpace(s)))
	if !iv.Valid() {
		return "", fmt.Errorf("unsupported interval: %q", s)
	}
	return iv, nil
}

// Pair identifies a trading pair and the candle interval its cycles run on.
// Pairs are immutable after construction.
type Pair struct {
	Base     string   `json:"base"`
	Quote    string   `json:"quote"`
	Interval Interval `json:"interval"`
}

// NewPair builds a Pair, normalizing asset codes to upper case.
func NewPair(base, quote string, interval Interval) (Pair, error) {
	p := Pair{
		Base:     strings.ToUpper(strings.TrimSpace(base)),
		Quote:    strings.ToUpper(strings.TrimSpace(quote)),
		Interval: interval,
	}
	if err := p.Validate(); err != nil {
		return Pair{}, err
	}
	return p, nil
}

// ParsePair parses "BASE/QUOTE" with an explicit interval.
func ParsePair(s string, interval Interval) (Pair, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return Pair{}, fmt.Errorf("invalid pair %q: want BASE/QUOTE", s)
	}
	return NewPair(parts[0], parts[1], interval)
}

// Validate checks the pair invariants.
func (p Pair) Validate() error {
	if p.Base == "" || p.Quote == "" {
		return fmt.Errorf("pair requires both base and quote assets")
	}
	if p.Base == p.Quote {
		return fmt.Errorf("pair base and quote must differ: %s", p.Base)
	}
	if !p.Interval.Valid() {
		return fmt.Errorf("pair %s/%s has unsupported interval %q", p.Base, p.Quote, p.Interval)
	}
	return nil
}

// String renders the canonical "BASE/QUOTE" form used in journal records.
func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

// Symbol renders the exchange-style concatenated symbol, e.g. "BTCUSDT".
func (p Pair) Symbol() string {
	return p.Base + p.Quote
}
