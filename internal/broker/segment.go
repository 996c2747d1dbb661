package broker

import (
	"strings"

	"optionchain/internal/models"
)

// commodities are underlyings whose derivatives trade on MCX.
var commodities = map[string]bool{
	"COPPER":     true,
	"CRUDEOIL":   true,
	"CRUDEOILM":  true,
	"GOLD":       true,
	"GOLDM":      true,
	"NATGASMINI": true,
	"NATURALGAS": true,
	"SILVER":     true,
	"SILVERM":    true,
	"ZINC":       true,
}

// bseDerivatives are underlyings whose options trade on BSE F&O.
var bseDerivatives = map[string]bool{
	"SENSEX": true,
	"BANKEX": true,
}

// indexSpots maps index underlyings to their quote identifiers.
var indexSpots = map[string]string{
	"NIFTY":      "NSE:NIFTY 50",
	"BANKNIFTY":  "NSE:NIFTY BANK",
	"FINNIFTY":   "NSE:NIFTY FIN SERVICE",
	"MIDCPNIFTY": "NSE:NIFTY MID SELECT",
	"SENSEX":     "BSE:SENSEX",
	"BANKEX":     "BSE:BANKEX",
}

// NormalizeSymbol upper-cases and trims an underlying name.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// IsCommodity reports whether the underlying trades on MCX.
func IsCommodity(symbol string) bool {
	return commodities[NormalizeSymbol(symbol)]
}

// DerivativesExchange returns the exchange listing the underlying's options.
func DerivativesExchange(symbol string) models.Exchange {
	s := NormalizeSymbol(symbol)
	switch {
	case commodities[s]:
		return models.MCX
	case bseDerivatives[s]:
		return models.BFO
	default:
		return models.NFO
	}
}

// SpotKey returns the quote identifier of a non-commodity underlying.
// Commodities have no cash market and resolve through their nearest future.
func SpotKey(symbol string) (string, bool) {
	s := NormalizeSymbol(symbol)
	if commodities[s] {
		return "", false
	}
	if key, ok := indexSpots[s]; ok {
		return key, true
	}
	return "NSE:" + s, true
}

// QuoteKey returns the "EXCHANGE:TRADINGSYMBOL" identifier for an instrument.
func QuoteKey(inst models.Instrument) string {
	return string(inst.Exchange) + ":" + inst.Symbol
}
