// Package session tracks per-instrument OHLC from prices observed during the day.
package session

import (
	"sync"
	"time"

	"optionchain/internal/models"
	"optionchain/pkg/utils"
)

// Aggregator keeps a running OHLC per token for the current trading day.
// All state is dropped the moment an observation arrives for a different day.
type Aggregator struct {
	mu   sync.Mutex
	day  time.Time
	ohlc map[uint32]models.OHLC
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{ohlc: make(map[uint32]models.OHLC)}
}

// Observe folds one last-traded price into the token's running OHLC.
// Non-positive prices are ignored.
func (a *Aggregator) Observe(token uint32, price float64, at time.Time) {
	if price <= 0 {
		return
	}
	day := utils.TradingDay(at)

	a.mu.Lock()
	defer a.mu.Unlock()

	if !day.Equal(a.day) {
		a.day = day
		a.ohlc = make(map[uint32]models.OHLC)
	}

	cur, ok := a.ohlc[token]
	if !ok {
		a.ohlc[token] = models.OHLC{Open: price, High: price, Low: price, Close: price}
		return
	}
	if price > cur.High {
		cur.High = price
	}
	if price < cur.Low {
		cur.Low = price
	}
	cur.Close = price
	a.ohlc[token] = cur
}

// ObserveQuotes feeds every quote's last price observed at at.
func (a *Aggregator) ObserveQuotes(quotes map[uint32]models.Quote, at time.Time) {
	for token, q := range quotes {
		a.Observe(token, q.LastPrice, at)
	}
}

// Get returns a copy of the token's aggregate for the tracked day.
func (a *Aggregator) Get(token uint32) (models.SessionOHLC, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	o, ok := a.ohlc[token]
	if !ok {
		return models.SessionOHLC{}, false
	}
	return models.SessionOHLC{Token: token, OHLC: o, TradingDay: a.day}, true
}

// Len returns the number of tokens tracked today.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.ohlc)
}
