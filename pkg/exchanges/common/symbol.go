package common

import (
	"fmt"
	"strings"
)

// Symbol is a parsed unified market symbol BASE/QUOTE[:SETTLE].
type Symbol struct {
	Base   string
	Quote  string
	Settle string
}

// ParseSymbol splits a unified symbol such as "BTC/USDT:USDT" or "BTC/USD:BTC".
func ParseSymbol(s string) (Symbol, error) {
	pair, settle, _ := strings.Cut(strings.ToUpper(strings.TrimSpace(s)), ":")
	base, quote, ok := strings.Cut(pair, "/")
	if !ok || base == "" || quote == "" {
		return Symbol{}, fmt.Errorf("invalid symbol %q: want BASE/QUOTE[:SETTLE]", s)
	}
	return Symbol{Base: base, Quote: quote, Settle: settle}, nil
}

// String returns the unified form.
func (s Symbol) String() string {
	if s.Settle == "" {
		return s.Base + "/" + s.Quote
	}
	return s.Base + "/" + s.Quote + ":" + s.Settle
}

// Joined returns BASEQUOTE, the linear contract id most venues use.
func (s Symbol) Joined() string {
	return s.Base + s.Quote
}

// USDTMargined reports whether contracts are quoted and settled in USDT.
// Everything else is treated as coin-margined.
func (s Symbol) USDTMargined() bool {
	if s.Settle != "" {
		return s.Quote == "USDT" && s.Settle == "USDT"
	}
	return s.Quote == "USDT"
}

// IsUSDTMargined parses symbol and reports USDTMargined; unparsable
// symbols count as coin-margined.
func IsUSDTMargined(symbol string) bool {
	s, err := ParseSymbol(symbol)
	if err != nil {
		return false
	}
	return s.USDTMargined()
}
