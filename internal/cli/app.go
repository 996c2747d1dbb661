package cli

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"optionchain/internal/broker"
	"optionchain/internal/catalog"
	"optionchain/internal/chain"
	"optionchain/internal/config"
	apperrors "optionchain/internal/errors"
	"optionchain/internal/intraday"
	"optionchain/internal/models"
	"optionchain/internal/prevday"
	"optionchain/internal/quotes"
	"optionchain/internal/ratelimit"
	"optionchain/internal/session"
	"optionchain/internal/store"
)

// App holds the application dependencies.
type App struct {
	Config    *config.Config
	ConfigDir string
	Logger    zerolog.Logger
	Kite      *broker.KiteClient

	once     sync.Once
	err      error
	engine   *chain.Engine
	catalog  *catalog.Catalog
	governor *ratelimit.Governor
	store    *store.SQLiteStore
	offline  *prevday.Store
}

// Engine wires the chain engine on first use. It needs an authenticated
// Kite session.
func (a *App) Engine() (*chain.Engine, error) {
	a.once.Do(func() {
		a.err = a.wire()
	})
	return a.engine, a.err
}

func (a *App) wire() error {
	if a.Kite == nil {
		return apperrors.Wrap(apperrors.ErrConfigInvalid, "kite api_key missing from credentials.toml")
	}
	if !a.Kite.IsAuthenticated() {
		return apperrors.ErrNotAuthenticated
	}
	cfg := a.Config

	// The catalog works without persistence, so a broken database only costs
	// the last-good fallback.
	var instruments store.InstrumentStore
	st, err := store.NewSQLiteStore(filepath.Join(a.ConfigDir, "catalog.db"))
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to open catalog store, continuing without it")
	} else {
		a.store = st
		instruments = st
	}

	a.governor = ratelimit.NewGovernor(a.Logger)
	limiter := ratelimit.NewLimiter("historical", cfg.Historical.RatePerSecond, cfg.Historical.Burst)
	a.catalog = catalog.New(a.Kite, instruments, cfg.Engine.InstrumentTTL, a.Logger)

	pdCfg, err := a.prevDayConfig()
	if err != nil {
		return err
	}
	pd, err := prevday.New(a.Kite, a.governor, limiter, pdCfg, a.Logger)
	if err != nil {
		return apperrors.Wrap(err, "opening previous-day cache")
	}

	now := time.Now()
	if n, err := pd.Load(now); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to load previous-day file")
	} else {
		a.Logger.Debug().Int("records", n).Msg("Previous-day cache loaded")
	}
	if n, err := pd.Prune(now); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to prune previous-day files")
	} else if n > 0 {
		a.Logger.Info().Int("files", n).Msg("Pruned stale previous-day files")
	}

	a.engine = chain.NewEngine(chain.Deps{
		Catalog: a.catalog,
		Quotes: quotes.NewClient(a.Kite, quotes.Config{
			BatchSize:  cfg.Engine.QuoteBatchSize,
			RetryDelay: cfg.Engine.QuoteRetryDelay,
			Pacing:     cfg.Engine.QuoteBatchPacing,
			CacheTTL:   cfg.Engine.QuoteCacheTTL,
		}, a.Logger),
		Session: session.NewAggregator(),
		PrevDay: pd,
		Intraday: intraday.New(a.Kite, a.governor, limiter, intraday.Config{
			MaxTokens: cfg.Intraday.MaxTokens,
			Cooldown:  cfg.Intraday.Cooldown,
		}, a.Logger),
	}, chain.Config{
		BuildTimeout:   cfg.Engine.BuildTimeout,
		PrefetchBudget: cfg.Engine.PrefetchBudget,
		IntradayBudget: cfg.Engine.IntradayBudget,
		PrefetchCap:    cfg.PrevDay.PrefetchCap,
		IntradaySubset: cfg.Intraday.ChainSubset,
		IntradayMaxAge: cfg.Intraday.MaxAge,
		RiskFreeRate:   cfg.Engine.RiskFreeRate,
	}, a.Logger)
	return nil
}

func (a *App) prevDayConfig() (prevday.Config, error) {
	cfg := a.Config.PrevDay
	holidays, err := a.Config.HolidayDates()
	if err != nil {
		return prevday.Config{}, err
	}
	return prevday.Config{
		Dir:               cfg.CacheDir,
		LookbackDays:      cfg.LookbackDays,
		Cooldown:          cfg.Cooldown,
		CoverageThreshold: cfg.CoverageThreshold,
		Shards:            cfg.Shards,
		Workers:           cfg.Workers,
		QueueSize:         cfg.QueueSize,
		CallPacing:        cfg.CallPacing,
		PauseEvery:        cfg.PauseEvery,
		PauseFor:          cfg.PauseFor,
		RateLimitBackoff:  cfg.RateLimitBackoff,
		RetentionDays:     cfg.RetentionDays,
		HolidayRule:       cfg.HolidayRule,
		Holidays:          holidays,
	}, nil
}

// PrevDay returns the engine's previous-day store, or an offline store over
// the same directory when no session is available. The offline store serves
// maintenance only and never fetches.
func (a *App) PrevDay() (*prevday.Store, error) {
	if engine, err := a.Engine(); err == nil {
		return engine.PrevDay(), nil
	}
	if a.offline != nil {
		return a.offline, nil
	}
	pdCfg, err := a.prevDayConfig()
	if err != nil {
		return nil, err
	}
	pdCfg.Workers = 1
	pd, err := prevday.New(nil, ratelimit.NewGovernor(a.Logger), nil, pdCfg, a.Logger)
	if err != nil {
		return nil, apperrors.Wrap(err, "opening previous-day cache")
	}
	a.offline = pd
	return pd, nil
}

// Governor returns the shared cooldown governor, nil before the engine is wired.
func (a *App) Governor() *ratelimit.Governor {
	return a.governor
}

// Exchanges returns the configured exchanges for scheduled refresh.
func (a *App) Exchanges() []models.Exchange {
	out := make([]models.Exchange, 0, len(a.Config.Engine.Exchanges))
	for _, ex := range a.Config.Engine.Exchanges {
		out = append(out, models.Exchange(ex))
	}
	return out
}

// Close stops warm workers and closes the catalog store.
func (a *App) Close() {
	if a.engine != nil {
		a.engine.PrevDay().Stop()
	}
	if a.offline != nil {
		a.offline.Stop()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close catalog store")
		}
	}
}
