// Package models provides domain models for the option-chain engine.
package models

import (
	"strconv"
	"time"
)

// Exchange represents a stock exchange.
type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
	NFO Exchange = "NFO" // NSE F&O
	BFO Exchange = "BFO" // BSE F&O
	MCX Exchange = "MCX" // Commodity
)

// OptionType distinguishes calls, puts and futures.
type OptionType string

const (
	Call   OptionType = "CE"
	Put    OptionType = "PE"
	Future OptionType = "FUT"
)

// IsOption reports whether the type is a call or a put.
func (t OptionType) IsOption() bool {
	return t == Call || t == Put
}

// Candle represents OHLCV data for a time period.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// OHLC is an open/high/low/close tuple.
type OHLC struct {
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// Valid reports whether every field is positive.
func (o OHLC) Valid() bool {
	return o.Open > 0 && o.High > 0 && o.Low > 0 && o.Close > 0
}

// Quote represents a live market quote for one instrument.
type Quote struct {
	Token        uint32
	LastPrice    float64
	OHLC         OHLC
	Volume       int64
	OpenInterest float64
	BidPrice     float64
	BidQty       int64
	AskPrice     float64
	AskQty       int64
	NetChange    float64
	ObservedAt   time.Time
}

// SpotQuote is the underlying's quote as shown on a chain snapshot.
type SpotQuote struct {
	Symbol        string    `json:"symbol"`
	TradingSymbol string    `json:"trading_symbol"`
	Price         float64   `json:"price"`
	PreviousClose float64   `json:"previous_close"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Volume        int64     `json:"volume"`
	ObservedAt    time.Time `json:"observed_at"`
}

// Instrument represents a tradeable contract.
type Instrument struct {
	Token      uint32
	Symbol     string // trading symbol
	Name       string // underlying
	Exchange   Exchange
	Segment    string
	LotSize    int
	TickSize   float64
	Expiry     time.Time
	Strike     float64
	OptionType OptionType
}

// TokenKey renders the token in the form the quote endpoint accepts.
func (i Instrument) TokenKey() string {
	return strconv.FormatUint(uint64(i.Token), 10)
}

// SessionOHLC is the running OHLC built from observed prices on one day.
type SessionOHLC struct {
	Token      uint32
	OHLC       OHLC
	TradingDay time.Time
}

// PrevDayRecord holds the previous trading day's daily OHLC for a token.
type PrevDayRecord struct {
	Token         uint32
	ForTradingDay time.Time
	OHLC          OHLC
	// CandleDay is the day of the candle actually used; it differs from
	// ForTradingDay when the weekday fallback skipped a holiday.
	CandleDay time.Time
}

// IntradayRecord is a same-day OHLC reconstructed from minute candles.
type IntradayRecord struct {
	Token     uint32
	Day       time.Time
	OHLC      OHLC
	FetchedAt time.Time
}

// CooldownScope names an independent rate-limit cooldown.
type CooldownScope string

const (
	ScopePrevDay  CooldownScope = "prevday"
	ScopeIntraday CooldownScope = "intraday"
)

// RateLimitCooldown is an active throttle window for one scope.
type RateLimitCooldown struct {
	Scope       CooldownScope
	ActiveUntil time.Time
}

// WarmJob describes one background previous-day warming shard.
type WarmJob struct {
	Key       string
	Symbol    string
	Expiry    time.Time
	Shard     int
	Tokens    int
	Running   bool
	StartedAt time.Time
}
