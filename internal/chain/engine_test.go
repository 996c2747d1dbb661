package chain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionchain/internal/broker/brokertest"
	"optionchain/internal/catalog"
	apperrors "optionchain/internal/errors"
	"optionchain/internal/intraday"
	"optionchain/internal/models"
	"optionchain/internal/prevday"
	"optionchain/internal/quotes"
	"optionchain/internal/ratelimit"
	"optionchain/internal/session"
)

type fixture struct {
	fake     *brokertest.Fake
	engine   *Engine
	governor *ratelimit.Governor
	prevday  *prevday.Store
	expiry   time.Time
	calls    []models.Instrument
	puts     []models.Instrument
}

var (
	strikes = []float64{24400, 24450, 24500, 24550, 24600}
	callOI  = []float64{100, 50, 30, 20, 10}
	putOI   = []float64{10, 20, 30, 50, 100}
	callLTP = []float64{260, 225, 200, 170, 145}
	putLTP  = []float64{110, 140, 180, 210, 250}
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Now()
	expiry := time.Date(now.Year(), now.Month(), now.Day()+7, 0, 0, 0, 0, time.UTC)

	f := brokertest.New()
	fx := &fixture{fake: f, expiry: expiry}
	for i, k := range strikes {
		ce := models.Instrument{Token: uint32(100 + i), Symbol: fmt.Sprintf("NIFTY%.0fCE", k), Name: "NIFTY", Exchange: models.NFO, Expiry: expiry, Strike: k, OptionType: models.Call}
		pe := models.Instrument{Token: uint32(200 + i), Symbol: fmt.Sprintf("NIFTY%.0fPE", k), Name: "NIFTY", Exchange: models.NFO, Expiry: expiry, Strike: k, OptionType: models.Put}
		fx.calls = append(fx.calls, ce)
		fx.puts = append(fx.puts, pe)
		f.QuoteData[ce.TokenKey()] = models.Quote{
			Token: ce.Token, LastPrice: callLTP[i], OpenInterest: callOI[i], Volume: int64(1000 * (i + 1)),
			OHLC: models.OHLC{Open: callLTP[i] - 5, High: callLTP[i] + 10, Low: callLTP[i] - 10, Close: callLTP[i] - 2},
		}
		f.QuoteData[pe.TokenKey()] = models.Quote{
			Token: pe.Token, LastPrice: putLTP[i], OpenInterest: putOI[i], Volume: int64(500 * (i + 1)),
			OHLC: models.OHLC{Open: putLTP[i] + 5, High: putLTP[i] + 10, Low: putLTP[i] - 10, Close: putLTP[i] + 2},
		}
	}
	f.Listing[models.NFO] = append(append([]models.Instrument{}, fx.puts...), fx.calls...)
	f.QuoteData["NSE:NIFTY 50"] = models.Quote{LastPrice: 24500, OHLC: models.OHLC{Close: 24400}}

	logger := zerolog.Nop()
	fx.governor = ratelimit.NewGovernor(logger)
	limiter := ratelimit.NewLimiter("test", 1000, 1000)

	pdCfg := prevday.DefaultConfig(t.TempDir())
	pdCfg.CallPacing = time.Millisecond
	pdCfg.PauseFor = time.Millisecond
	pd, err := prevday.New(f, fx.governor, limiter, pdCfg, logger)
	require.NoError(t, err)
	t.Cleanup(pd.Stop)
	fx.prevday = pd

	qc := quotes.NewClient(f, quotes.Config{BatchSize: 400, RetryDelay: time.Millisecond, Pacing: time.Millisecond, CacheTTL: time.Millisecond}, logger)

	fx.engine = NewEngine(Deps{
		Catalog:  catalog.New(f, nil, time.Hour, logger),
		Quotes:   qc,
		Session:  session.NewAggregator(),
		PrevDay:  pd,
		Intraday: intraday.New(f, fx.governor, limiter, intraday.DefaultConfig(), logger),
	}, DefaultConfig(), logger)
	return fx
}

func legAt(t *testing.T, snap *models.ChainSnapshot, strike float64) models.ChainRow {
	t.Helper()
	for _, r := range snap.Rows {
		if r.Strike == strike {
			return r
		}
	}
	t.Fatalf("strike %.0f missing", strike)
	return models.ChainRow{}
}

func TestBuildScenario(t *testing.T) {
	fx := newFixture(t)

	snap, err := fx.engine.Build(context.Background(), "nifty", time.Time{})
	require.NoError(t, err)

	assert.NotEmpty(t, snap.BuildID)
	assert.Equal(t, "NIFTY", snap.Symbol)
	assert.Equal(t, models.NFO, snap.Exchange)
	assert.Equal(t, fx.expiry, snap.Expiry)
	assert.Equal(t, 24500.0, snap.SpotPrice)
	assert.Equal(t, 100.0, snap.Spot.Change)
	assert.Equal(t, 24500.0, snap.ATMStrike)

	require.Len(t, snap.Rows, 5)
	for i, r := range snap.Rows {
		assert.Equal(t, strikes[i], r.Strike)
		require.NotNil(t, r.Call)
		require.NotNil(t, r.Put)
	}

	assert.Equal(t, 210.0, snap.Totals.CallOI)
	assert.Equal(t, 210.0, snap.Totals.PutOI)
	assert.Equal(t, 1.0, snap.Totals.PCR)
	assert.Equal(t, 24500.0, snap.Totals.MaxPain)
	assert.Equal(t, int64(15000), snap.Totals.CallVolume)
	assert.Equal(t, 1.0, snap.Coverage.Quotes)

	atm := legAt(t, snap, 24500)
	assert.Greater(t, atm.Call.IV, 1.0, "IV is reported in percent")
	assert.Greater(t, atm.Call.Greeks.Delta, 0.0)
	assert.Less(t, atm.Put.Greeks.Delta, 0.0)
	assert.NotEmpty(t, atm.Call.Signal.Type)
}

func TestBuildPrevDayFields(t *testing.T) {
	fx := newFixture(t)
	day := fx.prevday.PreviousTradingDay(time.Now())
	ce := fx.calls[2]
	fx.fake.Daily[ce.Token] = []models.Candle{{Timestamp: day, Open: 150, High: 230, Low: 140, Close: 190}}

	snap, err := fx.engine.Build(context.Background(), "NIFTY", fx.expiry)
	require.NoError(t, err)

	row := legAt(t, snap, ce.Strike)
	require.NotNil(t, row.Call.PrevOpen)
	assert.Equal(t, 150.0, *row.Call.PrevOpen)
	assert.Equal(t, 230.0, *row.Call.PrevHigh)
	assert.Equal(t, 140.0, *row.Call.PrevLow)
	assert.Equal(t, 190.0, *row.Call.PrevClose)

	// No candle for the put: prev close falls back to the quote's close only.
	assert.Nil(t, row.Put.PrevOpen)
	assert.Nil(t, row.Put.PrevHigh)
	require.NotNil(t, row.Put.PrevClose)
	assert.Equal(t, putLTP[2]+2, *row.Put.PrevClose)

	assert.InDelta(t, 0.1, snap.Coverage.PrevDay, 1e-9)
}

func TestBuildRetriesRateLimitedQuotesWithoutCooldown(t *testing.T) {
	fx := newFixture(t)
	// Spot succeeds, the chain batch is throttled once and then served.
	fx.fake.QuoteErrs = []error{nil, fmt.Errorf("quote: %w", apperrors.ErrRateLimited), nil}

	snap, err := fx.engine.Build(context.Background(), "NIFTY", fx.expiry)
	require.NoError(t, err)

	assert.Equal(t, 1.0, snap.Coverage.Quotes)
	for _, r := range snap.Rows {
		assert.Positive(t, r.Call.LTP)
		assert.Positive(t, r.Put.LTP)
	}
	assert.False(t, fx.governor.Active(models.ScopePrevDay))
	assert.False(t, fx.governor.Active(models.ScopeIntraday))
	assert.Len(t, fx.fake.QuoteBatches(), 3)
}

func TestBuildFailsWhenQuotesUnavailable(t *testing.T) {
	fx := newFixture(t)
	boom := errors.New("connection reset")
	fx.fake.QuoteErrs = []error{nil, boom, boom}

	_, err := fx.engine.Build(context.Background(), "NIFTY", fx.expiry)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnavailable)
	assert.True(t, apperrors.IsFatal(err))
}

func TestBuildUnknownSymbol(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.engine.Build(context.Background(), "ACME", time.Time{})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestBuildWithoutSpot(t *testing.T) {
	fx := newFixture(t)
	delete(fx.fake.QuoteData, "NSE:NIFTY 50")

	snap, err := fx.engine.Build(context.Background(), "NIFTY", fx.expiry)
	require.NoError(t, err)

	assert.Zero(t, snap.SpotPrice)
	assert.Zero(t, snap.ATMStrike)
	assert.Equal(t, 1.0, snap.Totals.PCR)
	row := legAt(t, snap, 24500)
	assert.Zero(t, row.Call.IV)
	assert.Equal(t, models.SignalHold, row.Call.Signal.Type)
}

func TestAssembleLegPrecedence(t *testing.T) {
	fx := newFixture(t)
	e := fx.engine
	inst := fx.calls[0]

	quoteMap := map[uint32]models.Quote{inst.Token: {Token: inst.Token, LastPrice: 50, OHLC: models.OHLC{Open: 40, High: 0, Low: 35, Close: 0}}}
	intra := map[uint32]models.IntradayRecord{inst.Token: {OHLC: models.OHLC{Open: 0, High: 70}}}
	e.session.Observe(inst.Token, 45, time.Now())
	e.session.Observe(inst.Token, 55, time.Now())

	leg := e.assembleLeg(inst, quoteMap, nil, intra, 0, 0.02)
	assert.Equal(t, 40.0, leg.Open, "quote open when intraday has none")
	assert.Equal(t, 70.0, leg.High, "intraday wins")
	assert.Equal(t, 35.0, leg.Low, "quote low")
	assert.Equal(t, 55.0, leg.Close, "session close after empty quote close")
	assert.Nil(t, leg.PrevClose)
}

func TestDashboard(t *testing.T) {
	fx := newFixture(t)

	d, err := fx.engine.Dashboard(context.Background(), "NIFTY", fx.expiry)
	require.NoError(t, err)

	assert.Equal(t, "NIFTY", d.Symbol)
	assert.Equal(t, 24500.0, d.ATMStrike)
	assert.Equal(t, 1.0, d.PCR)
	assert.Equal(t, "neutral", d.Sentiment)
	assert.Equal(t, 24400.0, d.CallWall)
	assert.Equal(t, 24600.0, d.PutWall)
	assert.Greater(t, d.ATMCallIV, 0.0)
}

func TestExpiries(t *testing.T) {
	fx := newFixture(t)
	got, err := fx.engine.Expiries(context.Background(), "NIFTY")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, fx.expiry, got[0])
}

func TestWarmQueuesShards(t *testing.T) {
	fx := newFixture(t)

	n, err := fx.engine.Warm(context.Background(), "NIFTY", fx.expiry)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = fx.engine.Warm(context.Background(), "ACME", time.Time{})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
