package models

import (
	"fmt"
	"strings"
)

// Capability names one kind of market data a provider can serve.
type Capability string

const (
	CapCandles Capability = "CANDLES"
	CapTicker  Capability = "TICKER"
	CapDepth   Capability = "DEPTH"
	CapFunding Capability = "FUNDING"
	CapOI      Capability = "OI"
)

// AllCapabilities lists every known capability.
var AllCapabilities = []Capability{CapCandles, CapTicker, CapDepth, CapFunding, CapOI}

// ParseCapability converts a config string into a Capability.
func ParseCapability(s string) (Capability, error) {
	c := Capability(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllCapabilities {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown capability: %q", s)
}

// CapabilitySet is a set of capabilities keyed by name.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a set from a list.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	set := make(CapabilitySet, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return set
}

// Has reports membership.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}
