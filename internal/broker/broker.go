// Package broker provides the upstream market-data contract and its Kite Connect implementation.
package broker

import (
	"context"
	"time"

	"optionchain/internal/models"
)

// Historical candle intervals.
const (
	IntervalDay    = "day"
	IntervalMinute = "minute"
)

// MarketData is the subset of the brokerage API the engine depends on.
//
// Implementations must wrap throttling responses with errors.ErrRateLimited
// so callers can engage cooldowns.
type MarketData interface {
	// Instruments returns every contract listed on an exchange.
	Instruments(ctx context.Context, exchange models.Exchange) ([]models.Instrument, error)

	// Quotes fetches quotes keyed by the request identifier. Identifiers are
	// decimal instrument tokens or "EXCHANGE:TRADINGSYMBOL" strings.
	Quotes(ctx context.Context, instruments []string) (map[string]models.Quote, error)

	// Historical returns candles for a token between from and to.
	Historical(ctx context.Context, token uint32, from, to time.Time, interval string) ([]models.Candle, error)
}

// Authenticator covers the interactive login flow used by the CLI.
type Authenticator interface {
	LoginURL() string
	CompleteLogin(ctx context.Context, requestToken string) error
	Logout(ctx context.Context) error
	IsAuthenticated() bool
}
