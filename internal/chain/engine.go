// Package chain assembles option-chain snapshots from every data tier.
package chain

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"optionchain/internal/catalog"
	apperrors "optionchain/internal/errors"
	"optionchain/internal/greeks"
	"optionchain/internal/intraday"
	"optionchain/internal/logging"
	"optionchain/internal/metrics"
	"optionchain/internal/models"
	"optionchain/internal/prevday"
	"optionchain/internal/quotes"
	"optionchain/internal/session"
	"optionchain/internal/signal"
	"optionchain/pkg/utils"
)

// Config controls one build.
type Config struct {
	BuildTimeout   time.Duration
	PrefetchBudget time.Duration
	IntradayBudget time.Duration
	PrefetchCap    int
	IntradaySubset int
	IntradayMaxAge time.Duration
	RiskFreeRate   float64
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		BuildTimeout:   30 * time.Second,
		PrefetchBudget: 8 * time.Second,
		IntradayBudget: 8 * time.Second,
		PrefetchCap:    450,
		IntradaySubset: 150,
		IntradayMaxAge: 180 * time.Second,
		RiskFreeRate:   0.05,
	}
}

// Deps are the caches and clients an Engine orchestrates.
type Deps struct {
	Catalog  *catalog.Catalog
	Quotes   *quotes.Client
	Session  *session.Aggregator
	PrevDay  *prevday.Store
	Intraday *intraday.Reconstructor
	// Strategy defaults to signal.NewDeltaTheta.
	Strategy signal.Strategy
}

// Engine builds chain snapshots.
type Engine struct {
	catalog  *catalog.Catalog
	quotes   *quotes.Client
	session  *session.Aggregator
	prevday  *prevday.Store
	intraday *intraday.Reconstructor
	strategy signal.Strategy
	cfg      Config
	logger   zerolog.Logger
	now      func() time.Time
}

// NewEngine creates an engine over deps.
func NewEngine(deps Deps, cfg Config, logger zerolog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.BuildTimeout <= 0 {
		cfg.BuildTimeout = def.BuildTimeout
	}
	if cfg.IntradaySubset <= 0 {
		cfg.IntradaySubset = def.IntradaySubset
	}
	if cfg.IntradayMaxAge <= 0 {
		cfg.IntradayMaxAge = def.IntradayMaxAge
	}
	strategy := deps.Strategy
	if strategy == nil {
		strategy = signal.NewDeltaTheta()
	}
	return &Engine{
		catalog:  deps.Catalog,
		quotes:   deps.Quotes,
		session:  deps.Session,
		prevday:  deps.PrevDay,
		intraday: deps.Intraday,
		strategy: strategy,
		cfg:      cfg,
		logger:   logging.WithComponent(logger, "chain"),
		now:      time.Now,
	}
}

// Build assembles the chain for symbol and expiry. A zero expiry selects the
// nearest live one. Only an unresolvable contract set or a total quote
// failure is returned as an error; every other gap degrades the snapshot.
func (e *Engine) Build(ctx context.Context, symbol string, expiry time.Time) (*models.ChainSnapshot, error) {
	start := time.Now()
	buildID := uuid.NewString()
	logger := logging.WithBuildID(logging.WithSymbol(e.logger, symbol), buildID)

	ctx, cancel := context.WithTimeout(logging.WithLogger(ctx, logger), e.cfg.BuildTimeout)
	defer cancel()

	snap, err := e.build(ctx, logger, buildID, symbol, expiry)
	metrics.RecordBuild(symbol, time.Since(start), err)
	if err != nil {
		logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("Chain build failed")
		return nil, err
	}

	logger.Info().
		Str("expiry", snap.Expiry.Format(utils.DayLayout)).
		Int("strikes", len(snap.Rows)).
		Float64("spot", snap.SpotPrice).
		Float64("prevday_coverage", snap.Coverage.PrevDay).
		Float64("intraday_coverage", snap.Coverage.Intraday).
		Dur("duration", time.Since(start)).
		Msg("Chain built")
	return snap, nil
}

func (e *Engine) build(ctx context.Context, logger zerolog.Logger, buildID, symbol string, expiry time.Time) (*models.ChainSnapshot, error) {
	set, err := e.catalog.Options(ctx, symbol, expiry)
	if err != nil {
		return nil, apperrors.Wrapf(err, "resolving %s options", symbol)
	}
	all := set.All()

	spot := e.fetchSpot(ctx, logger, set.Symbol)

	tokens := make([]uint32, len(all))
	for i, inst := range all {
		tokens[i] = inst.Token
	}
	quoteMap, err := e.quotes.FetchQuotes(ctx, tokens)
	if err != nil {
		return nil, apperrors.Wrapf(err, "quotes for %s", set.Symbol)
	}

	now := e.now()
	e.session.ObserveQuotes(quoteMap, now)

	ref := spot.Price
	if ref <= 0 {
		ref = medianStrike(all)
	}
	ordered := byProximity(all, ref)

	e.prevday.StartWarm(set.Symbol, set.Expiry, ordered)
	prev := e.prefetch(ctx, ordered)
	intra := e.reconstruct(ctx, ordered)

	tte := greeks.TimeToExpiry(utils.MarketClose(set.Expiry), now)
	rows := make(map[float64]*models.ChainRow)
	for _, inst := range all {
		leg := e.assembleLeg(inst, quoteMap, prev, intra, spot.Price, tte)
		row, ok := rows[inst.Strike]
		if !ok {
			row = &models.ChainRow{Strike: inst.Strike}
			rows[inst.Strike] = row
		}
		if inst.OptionType == models.Call {
			row.Call = leg
		} else {
			row.Put = leg
		}
	}

	snap := &models.ChainSnapshot{
		BuildID:     buildID,
		Symbol:      set.Symbol,
		Exchange:    set.Exchange,
		Expiry:      set.Expiry,
		Spot:        spot,
		SpotPrice:   spot.Price,
		Rows:        make([]models.ChainRow, 0, len(rows)),
		GeneratedAt: now,
	}
	strikes := make([]float64, 0, len(rows))
	for k, row := range rows {
		strikes = append(strikes, k)
		snap.Rows = append(snap.Rows, *row)
	}
	sort.Float64s(strikes)
	sort.Slice(snap.Rows, func(i, j int) bool { return snap.Rows[i].Strike < snap.Rows[j].Strike })

	snap.ATMStrike = ATMStrike(strikes, spot.Price)
	snap.Totals = Totals(snap.Rows)
	snap.Coverage = coverage(tokens, quoteMap, prev, intra)
	recordCoverage(set.Symbol, snap.Coverage)

	return snap, nil
}

func (e *Engine) fetchSpot(ctx context.Context, logger zerolog.Logger, symbol string) models.SpotQuote {
	key, err := e.catalog.SpotKey(ctx, symbol)
	if err == nil {
		var spot models.SpotQuote
		spot, err = e.quotes.Spot(ctx, symbol, key)
		if err == nil {
			return spot
		}
	}
	logger.Warn().Err(err).Msg("Spot unavailable, continuing without it")
	return models.SpotQuote{Symbol: symbol}
}

// prefetch runs the synchronous previous-day fetch under its stage budget.
func (e *Engine) prefetch(ctx context.Context, ordered []uint32) map[uint32]models.PrevDayRecord {
	if e.cfg.PrefetchBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.PrefetchBudget)
		defer cancel()
	}
	return e.prevday.FetchBatch(ctx, ordered, e.cfg.PrefetchCap)
}

// reconstruct runs intraday reconstruction for the strikes nearest spot
// under its stage budget.
func (e *Engine) reconstruct(ctx context.Context, ordered []uint32) map[uint32]models.IntradayRecord {
	if e.cfg.IntradayBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.IntradayBudget)
		defer cancel()
	}
	subset := ordered
	if len(subset) > e.cfg.IntradaySubset {
		subset = subset[:e.cfg.IntradaySubset]
	}
	return e.intraday.Reconstruct(ctx, subset, e.cfg.IntradayMaxAge)
}

func (e *Engine) assembleLeg(
	inst models.Instrument,
	quoteMap map[uint32]models.Quote,
	prev map[uint32]models.PrevDayRecord,
	intra map[uint32]models.IntradayRecord,
	spot, tte float64,
) *models.OptionLeg {
	q := quoteMap[inst.Token]
	sess, _ := e.session.Get(inst.Token)
	ohlc := mergeOHLC(intra[inst.Token].OHLC, q.OHLC, sess.OHLC, q.LastPrice)

	leg := &models.OptionLeg{
		Token:     inst.Token,
		Symbol:    inst.Symbol,
		LTP:       q.LastPrice,
		Open:      ohlc.Open,
		High:      ohlc.High,
		Low:       ohlc.Low,
		Close:     ohlc.Close,
		Volume:    q.Volume,
		OI:        q.OpenInterest,
		BidPrice:  q.BidPrice,
		BidQty:    q.BidQty,
		AskPrice:  q.AskPrice,
		AskQty:    q.AskQty,
		NetChange: q.NetChange,
		Signal:    signal.Neutral(),
	}

	if rec, ok := prev[inst.Token]; ok {
		leg.PrevOpen = ptr(rec.OHLC.Open)
		leg.PrevHigh = ptr(rec.OHLC.High)
		leg.PrevLow = ptr(rec.OHLC.Low)
		leg.PrevClose = ptr(rec.OHLC.Close)
	} else if q.OHLC.Close > 0 {
		leg.PrevClose = ptr(q.OHLC.Close)
	}

	if q.LastPrice > 0 && spot > 0 {
		res := greeks.Compute(q.LastPrice, spot, inst.Strike, tte, e.cfg.RiskFreeRate, inst.OptionType)
		leg.IV = res.IV * 100
		leg.Greeks = res.Greeks
		leg.Signal = e.strategy.Derive(signal.Input{
			Type:   inst.OptionType,
			LTP:    q.LastPrice,
			Spot:   spot,
			Strike: inst.Strike,
			Greeks: res.Greeks,
		})
	}
	return leg
}

func coverage(tokens []uint32, q map[uint32]models.Quote, prev map[uint32]models.PrevDayRecord, intra map[uint32]models.IntradayRecord) models.Coverage {
	if len(tokens) == 0 {
		return models.Coverage{PrevDay: 1, Intraday: 1, Quotes: 1}
	}
	var c models.Coverage
	for _, tok := range tokens {
		if _, ok := q[tok]; ok {
			c.Quotes++
		}
		if _, ok := prev[tok]; ok {
			c.PrevDay++
		}
		if _, ok := intra[tok]; ok {
			c.Intraday++
		}
	}
	n := float64(len(tokens))
	c.Quotes /= n
	c.PrevDay /= n
	c.Intraday /= n
	return c
}

func recordCoverage(symbol string, c models.Coverage) {
	metrics.CacheCoverage.WithLabelValues(symbol, "quote").Set(c.Quotes)
	metrics.CacheCoverage.WithLabelValues(symbol, "prevday").Set(c.PrevDay)
	metrics.CacheCoverage.WithLabelValues(symbol, "intraday").Set(c.Intraday)
}

// Expiries lists the live expiries for symbol.
func (e *Engine) Expiries(ctx context.Context, symbol string) ([]time.Time, error) {
	return e.catalog.Expiries(ctx, symbol)
}

// Warm queues background previous-day fetches for a chain without building
// it, nearest strikes first. It returns the number of jobs queued.
func (e *Engine) Warm(ctx context.Context, symbol string, expiry time.Time) (int, error) {
	set, err := e.catalog.Options(ctx, symbol, expiry)
	if err != nil {
		return 0, apperrors.Wrapf(err, "resolving %s options", symbol)
	}
	all := set.All()
	ref := e.fetchSpot(ctx, e.logger, set.Symbol).Price
	if ref <= 0 {
		ref = medianStrike(all)
	}
	return e.prevday.StartWarm(set.Symbol, set.Expiry, byProximity(all, ref)), nil
}

// PrevDay exposes the previous-day store for cache maintenance.
func (e *Engine) PrevDay() *prevday.Store {
	return e.prevday
}
