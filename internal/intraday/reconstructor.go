// Package intraday rebuilds same-day OHLC from minute candles for a bounded
// set of tokens.
package intraday

import (
	"context"
	"sort"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"optionchain/internal/broker"
	apperrors "optionchain/internal/errors"
	"optionchain/internal/logging"
	"optionchain/internal/metrics"
	"optionchain/internal/models"
	"optionchain/internal/ratelimit"
	"optionchain/pkg/utils"
)

// Config bounds reconstruction.
type Config struct {
	// MaxTokens is the largest request served; bigger requests are skipped.
	MaxTokens int
	Cooldown  time.Duration
	// Retention is how long records stay in memory regardless of freshness.
	Retention time.Duration
}

// DefaultConfig returns production limits.
func DefaultConfig() Config {
	return Config{
		MaxTokens: 400,
		Cooldown:  90 * time.Second,
		Retention: 30 * time.Minute,
	}
}

// Reconstructor caches per-token intraday OHLC with a freshness bound.
type Reconstructor struct {
	md       broker.MarketData
	governor *ratelimit.Governor
	limiter  *ratelimit.Limiter
	cache    *gocache.Cache
	cfg      Config
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates a reconstructor.
func New(md broker.MarketData, governor *ratelimit.Governor, limiter *ratelimit.Limiter, cfg Config, logger zerolog.Logger) *Reconstructor {
	def := DefaultConfig()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	return &Reconstructor{
		md:       md,
		governor: governor,
		limiter:  limiter,
		cache:    gocache.New(cfg.Retention, 5*time.Minute),
		cfg:      cfg,
		logger:   logging.WithComponent(logger, "intraday"),
		now:      time.Now,
	}
}

func cacheKey(token uint32) string {
	return strconv.FormatUint(uint64(token), 10)
}

// cached returns today's record for token and whether it is younger than maxAge.
func (r *Reconstructor) cached(token uint32, now time.Time, maxAge time.Duration) (models.IntradayRecord, bool, bool) {
	v, ok := r.cache.Get(cacheKey(token))
	if !ok {
		return models.IntradayRecord{}, false, false
	}
	rec := v.(models.IntradayRecord)
	if !utils.SameDay(rec.Day, now) {
		return models.IntradayRecord{}, false, false
	}
	return rec, true, now.Sub(rec.FetchedAt) < maxAge
}

// Reconstruct returns intraday OHLC for tokens. Nothing is returned before
// the session opens or when more than MaxTokens are requested. While the
// cooldown is active, or after a throttle stops the batch, only cached
// records are served. Failures leave tokens out of the result.
func (r *Reconstructor) Reconstruct(ctx context.Context, tokens []uint32, maxAge time.Duration) map[uint32]models.IntradayRecord {
	now := r.now()
	out := make(map[uint32]models.IntradayRecord)

	if !utils.SessionStarted(now) {
		return out
	}
	if len(tokens) > r.cfg.MaxTokens {
		r.logger.Debug().Int("tokens", len(tokens)).Int("max", r.cfg.MaxTokens).Msg("Intraday request too large, skipping")
		return out
	}

	throttled := r.governor.Active(models.ScopeIntraday)
	fetched := 0
	for _, tok := range tokens {
		rec, have, fresh := r.cached(tok, now, maxAge)
		metrics.RecordCache("intraday", fresh)
		if fresh {
			out[tok] = rec
			continue
		}
		if throttled || ctx.Err() != nil {
			if have {
				out[tok] = rec
			}
			continue
		}

		rec, ok, err := r.fetch(ctx, tok, now)
		switch {
		case err != nil && apperrors.IsRateLimited(err):
			r.governor.Engage(models.ScopeIntraday, r.cfg.Cooldown)
			throttled = true
			if have {
				out[tok] = rec
			}
		case err != nil:
			if ctx.Err() == nil {
				r.logger.Debug().Err(err).Uint32("token", tok).Msg("Intraday fetch failed")
			}
		case ok:
			r.cache.SetDefault(cacheKey(tok), rec)
			out[tok] = rec
			fetched++
		}
	}

	if fetched > 0 {
		r.logger.Debug().Int("requested", len(tokens)).Int("fetched", fetched).Int("served", len(out)).Msg("Intraday reconstruction")
	}
	return out
}

func (r *Reconstructor) fetch(ctx context.Context, token uint32, now time.Time) (models.IntradayRecord, bool, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return models.IntradayRecord{}, false, err
	}

	start := time.Now()
	candles, err := r.md.Historical(ctx, token, utils.MarketOpen(now), now, broker.IntervalMinute)
	metrics.RecordUpstreamCall("historical_minute", time.Since(start), err, apperrors.IsRateLimited(err))
	if err != nil {
		return models.IntradayRecord{}, false, err
	}

	ohlc, ok := Fold(candles)
	if !ok {
		return models.IntradayRecord{}, false, nil
	}
	return models.IntradayRecord{
		Token:     token,
		Day:       utils.TradingDay(now),
		OHLC:      ohlc,
		FetchedAt: now,
	}, true, nil
}

// Fold reduces candles to the first open, highest high, lowest low and last
// close in time order.
func Fold(candles []models.Candle) (models.OHLC, bool) {
	if len(candles) == 0 {
		return models.OHLC{}, false
	}
	sorted := make([]models.Candle, len(candles))
	copy(sorted, candles)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	ohlc := models.OHLC{
		Open:  sorted[0].Open,
		High:  sorted[0].High,
		Low:   sorted[0].Low,
		Close: sorted[len(sorted)-1].Close,
	}
	for _, c := range sorted[1:] {
		if c.High > ohlc.High {
			ohlc.High = c.High
		}
		if c.Low < ohlc.Low {
			ohlc.Low = c.Low
		}
	}
	return ohlc, ohlc.Valid()
}
