package models

import "time"

// OptionGreeks holds Greeks for an option leg.
type OptionGreeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
	Rho   float64 `json:"rho"`
}

// SignalType is the directional call of the signal heuristic.
type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
	SignalHold SignalType = "HOLD"
)

// Signal is the heuristic score attached to an option leg.
type Signal struct {
	Type          SignalType `json:"type"`
	Strength      int        `json:"strength"`
	Quality       string     `json:"quality"`
	Confidence    string     `json:"confidence"`
	IntrinsicVal  float64    `json:"intrinsic_value"`
	TimeValue     float64    `json:"time_value"`
	BuyPercent    float64    `json:"buy_percent"`
	SellPercent   float64    `json:"sell_percent"`
	TargetPrice1  float64    `json:"tp1"`
	TargetPrice2  float64    `json:"tp2"`
	TargetPrice3  float64    `json:"tp3"`
	StopLoss      float64    `json:"stop_loss"`
}

// OptionLeg is one side (call or put) of a chain row.
type OptionLeg struct {
	Token     uint32  `json:"token"`
	Symbol    string  `json:"symbol"`
	LTP       float64 `json:"ltp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	// Prev* are nil when no previous-day record exists.
	PrevOpen  *float64     `json:"prev_open"`
	PrevHigh  *float64     `json:"prev_high"`
	PrevLow   *float64     `json:"prev_low"`
	PrevClose *float64     `json:"prev_close"`
	Volume    int64        `json:"volume"`
	OI        float64      `json:"oi"`
	BidPrice  float64      `json:"bid"`
	BidQty    int64        `json:"bid_qty"`
	AskPrice  float64      `json:"ask"`
	AskQty    int64        `json:"ask_qty"`
	NetChange float64      `json:"net_change"`
	IV        float64      `json:"iv"` // percent
	Greeks    OptionGreeks `json:"greeks"`
	Signal    Signal       `json:"signal"`
}

// ChainRow is one strike of the chain.
type ChainRow struct {
	Strike float64    `json:"strike"`
	Call   *OptionLeg `json:"call,omitempty"`
	Put    *OptionLeg `json:"put,omitempty"`
}

// ChainTotals aggregates open interest and volume over the chain.
type ChainTotals struct {
	CallOI     float64 `json:"call_oi"`
	PutOI      float64 `json:"put_oi"`
	CallVolume int64   `json:"call_volume"`
	PutVolume  int64   `json:"put_volume"`
	PCR        float64 `json:"pcr"`
	MaxPain    float64 `json:"max_pain"`
}

// Coverage reports how much of the chain each cache tier could serve.
type Coverage struct {
	PrevDay  float64 `json:"prev_day"`
	Intraday float64 `json:"intraday"`
	Quotes   float64 `json:"quotes"`
}

// ChainSnapshot is an immutable, fully assembled option chain.
type ChainSnapshot struct {
	BuildID     string      `json:"build_id"`
	Symbol      string      `json:"symbol"`
	Exchange    Exchange    `json:"exchange"`
	Expiry      time.Time   `json:"expiry"`
	Spot        SpotQuote   `json:"spot"`
	SpotPrice   float64     `json:"spot_price"`
	ATMStrike   float64     `json:"atm_strike"`
	Rows        []ChainRow  `json:"rows"`
	Totals      ChainTotals `json:"totals"`
	Coverage    Coverage    `json:"coverage"`
	GeneratedAt time.Time   `json:"generated_at"`
}

// Dashboard is the condensed market view derived from a snapshot.
type Dashboard struct {
	Symbol        string    `json:"symbol"`
	Expiry        time.Time `json:"expiry"`
	SpotPrice     float64   `json:"spot_price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	ATMStrike     float64   `json:"atm_strike"`
	PCR           float64   `json:"pcr"`
	MaxPain       float64   `json:"max_pain"`
	Sentiment     string    `json:"sentiment"`
	CallOI        float64   `json:"call_oi"`
	PutOI         float64   `json:"put_oi"`
	CallVolume    int64     `json:"call_volume"`
	PutVolume     int64     `json:"put_volume"`
	// Strikes carrying the largest open interest, a proxy for resistance and support.
	CallWall    float64   `json:"call_wall"`
	PutWall     float64   `json:"put_wall"`
	ATMCallIV   float64   `json:"atm_call_iv"`
	ATMPutIV    float64   `json:"atm_put_iv"`
	GeneratedAt time.Time `json:"generated_at"`
}
