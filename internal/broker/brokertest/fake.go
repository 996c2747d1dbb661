// Package brokertest provides an in-memory MarketData for tests.
package brokertest

import (
	"context"
	"sync"
	"time"

	"optionchain/internal/broker"
	"optionchain/internal/models"
)

// Fake is a scriptable MarketData. Fields may be set before use; counters
// are safe to read through the accessor methods while calls are in flight.
type Fake struct {
	mu sync.Mutex

	Listing        map[models.Exchange][]models.Instrument
	InstrumentsErr error

	QuoteData map[string]models.Quote
	// QuoteErrs are returned by successive Quotes calls; nil entries succeed.
	QuoteErrs []error

	Daily  map[uint32][]models.Candle
	Minute map[uint32][]models.Candle
	// HistoricalErr fails every historical call for a token.
	HistoricalErr map[uint32]error
	// HistoricalHook runs before each historical call when set.
	HistoricalHook func(token uint32, interval string) error

	instrumentCalls int
	quoteBatches    [][]string
	historicalCalls map[uint32]int
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		Listing:         make(map[models.Exchange][]models.Instrument),
		QuoteData:       make(map[string]models.Quote),
		Daily:           make(map[uint32][]models.Candle),
		Minute:          make(map[uint32][]models.Candle),
		HistoricalErr:   make(map[uint32]error),
		historicalCalls: make(map[uint32]int),
	}
}

// Instruments implements broker.MarketData.
func (f *Fake) Instruments(ctx context.Context, exchange models.Exchange) ([]models.Instrument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instrumentCalls++
	if f.InstrumentsErr != nil {
		return nil, f.InstrumentsErr
	}
	out := make([]models.Instrument, len(f.Listing[exchange]))
	copy(out, f.Listing[exchange])
	return out, nil
}

// Quotes implements broker.MarketData.
func (f *Fake) Quotes(ctx context.Context, instruments []string) (map[string]models.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	batch := make([]string, len(instruments))
	copy(batch, instruments)
	f.quoteBatches = append(f.quoteBatches, batch)

	if len(f.QuoteErrs) > 0 {
		err := f.QuoteErrs[0]
		f.QuoteErrs = f.QuoteErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	out := make(map[string]models.Quote, len(instruments))
	for _, key := range instruments {
		if q, ok := f.QuoteData[key]; ok {
			out[key] = q
		}
	}
	return out, nil
}

// Historical implements broker.MarketData.
func (f *Fake) Historical(ctx context.Context, token uint32, from, to time.Time, interval string) ([]models.Candle, error) {
	f.mu.Lock()
	f.historicalCalls[token]++
	hook := f.HistoricalHook
	err := f.HistoricalErr[token]
	source := f.Daily[token]
	if interval == broker.IntervalMinute {
		source = f.Minute[token]
	}
	f.mu.Unlock()

	if hook != nil {
		if err := hook(token, interval); err != nil {
			return nil, err
		}
	}
	if err != nil {
		return nil, err
	}

	var out []models.Candle
	for _, c := range source {
		if !c.Timestamp.Before(from) && !c.Timestamp.After(to) {
			out = append(out, c)
		}
	}
	return out, nil
}

// InstrumentCalls returns how many listing calls were made.
func (f *Fake) InstrumentCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.instrumentCalls
}

// QuoteBatches returns the instrument lists of every Quotes call.
func (f *Fake) QuoteBatches() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.quoteBatches))
	copy(out, f.quoteBatches)
	return out
}

// HistoricalCalls returns the number of historical calls for token.
func (f *Fake) HistoricalCalls(token uint32) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.historicalCalls[token]
}

// TotalHistoricalCalls returns the number of historical calls for all tokens.
func (f *Fake) TotalHistoricalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.historicalCalls {
		n += c
	}
	return n
}

// SetHistoricalErr sets or clears a per-token historical failure.
func (f *Fake) SetHistoricalErr(token uint32, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.HistoricalErr, token)
		return
	}
	f.HistoricalErr[token] = err
}

var _ broker.MarketData = (*Fake)(nil)
