// Package prevday caches the previous trading day's daily OHLC per token,
// in memory and in one JSON file per trading day.
package prevday

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"optionchain/internal/broker"
	apperrors "optionchain/internal/errors"
	"optionchain/internal/logging"
	"optionchain/internal/metrics"
	"optionchain/internal/models"
	"optionchain/internal/ratelimit"
	"optionchain/internal/workers"
	"optionchain/pkg/utils"
)

// Holiday rules for picking the candle when the target day has none.
const (
	RuleWeekday = "weekday"
	RuleStrict  = "strict"
)

// Config controls fetching, warming and retention.
type Config struct {
	Dir               string
	LookbackDays      int
	Cooldown          time.Duration
	CoverageThreshold float64
	Shards            int
	Workers           int
	QueueSize         int
	CallPacing        time.Duration
	PauseEvery        int
	PauseFor          time.Duration
	RateLimitBackoff  time.Duration
	RetentionDays     int
	HolidayRule       string
	Holidays          []time.Time
}

// DefaultConfig returns the production settings rooted at dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:               dir,
		LookbackDays:      7,
		Cooldown:          180 * time.Second,
		CoverageThreshold: 0.7,
		Shards:            3,
		Workers:           3,
		QueueSize:         64,
		CallPacing:        10 * time.Millisecond,
		PauseEvery:        15,
		PauseFor:          200 * time.Millisecond,
		RateLimitBackoff:  5 * time.Second,
		RetentionDays:     7,
		HolidayRule:       RuleWeekday,
	}
}

// Store serves previous-day records for the current previous trading day.
// Records for an older day are dropped as soon as the day advances.
type Store struct {
	cfg      Config
	md       broker.MarketData
	governor *ratelimit.Governor
	limiter  *ratelimit.Limiter
	logger   zerolog.Logger
	now      func() time.Time
	holidays map[string]bool

	mu      sync.RWMutex
	day     string
	records map[uint32]models.PrevDayRecord

	// fileMu serializes read-merge-write cycles on day files.
	fileMu sync.Mutex

	pool  *workers.Pool
	jobMu sync.Mutex
	jobs  map[string]models.WarmJob
}

// New creates a store and starts its warm worker pool.
func New(md broker.MarketData, governor *ratelimit.Governor, limiter *ratelimit.Limiter, cfg Config, logger zerolog.Logger) (*Store, error) {
	def := DefaultConfig(cfg.Dir)
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = def.LookbackDays
	}
	if cfg.Shards <= 0 {
		cfg.Shards = def.Shards
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.PauseEvery <= 0 {
		cfg.PauseEvery = def.PauseEvery
	}
	if cfg.HolidayRule == "" {
		cfg.HolidayRule = RuleWeekday
	}
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, apperrors.Wrap(err, "creating prevday cache dir")
		}
	}

	holidays := make(map[string]bool, len(cfg.Holidays))
	for _, h := range cfg.Holidays {
		holidays[h.Format(utils.DayLayout)] = true
	}

	pool := workers.NewPool(cfg.Workers, cfg.QueueSize)
	pool.Start()

	return &Store{
		cfg:      cfg,
		md:       md,
		governor: governor,
		limiter:  limiter,
		logger:   logging.WithComponent(logger, "prevday"),
		now:      time.Now,
		holidays: holidays,
		records:  make(map[uint32]models.PrevDayRecord),
		pool:     pool,
		jobs:     make(map[string]models.WarmJob),
	}, nil
}

// PreviousTradingDay returns the last weekday before now's IST day that is
// not a configured holiday.
func (s *Store) PreviousTradingDay(now time.Time) time.Time {
	d := utils.TradingDay(now).AddDate(0, 0, -1)
	for utils.IsWeekend(d) || s.holidays[d.Format(utils.DayLayout)] {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// Load reads the day file for the previous trading day of now into memory.
// A missing file is not an error.
func (s *Store) Load(now time.Time) (int, error) {
	day := s.PreviousTradingDay(now)
	key := day.Format(utils.DayLayout)

	recs, err := s.readDay(day)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	if s.day != key {
		s.day = key
		s.records = make(map[uint32]models.PrevDayRecord, len(recs))
	}
	for tok, rec := range recs {
		s.records[tok] = rec
	}
	s.mu.Unlock()

	s.logger.Info().Str("day", key).Int("records", len(recs)).Msg("Previous-day cache loaded")
	return len(recs), nil
}

// ensureDay switches the in-memory map to day, loading its file on a switch.
func (s *Store) ensureDay(day time.Time) string {
	key := day.Format(utils.DayLayout)

	s.mu.RLock()
	current := s.day
	s.mu.RUnlock()
	if current == key {
		return key
	}

	recs, err := s.readDay(day)
	if err != nil {
		s.logger.Warn().Err(err).Str("day", key).Msg("Failed to read day file")
	}

	s.mu.Lock()
	if s.day != key {
		s.day = key
		s.records = make(map[uint32]models.PrevDayRecord, len(recs))
		for tok, rec := range recs {
			s.records[tok] = rec
		}
	}
	s.mu.Unlock()
	return key
}

// Get returns the cached record for token for the current previous trading day.
func (s *Store) Get(token uint32) (models.PrevDayRecord, bool) {
	key := s.ensureDay(s.PreviousTradingDay(s.now()))
	return s.lookup(key, token)
}

func (s *Store) lookup(key string, token uint32) (models.PrevDayRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.day != key {
		return models.PrevDayRecord{}, false
	}
	rec, ok := s.records[token]
	return rec, ok
}

// Coverage returns the fraction of tokens already cached. An empty list is
// fully covered.
func (s *Store) Coverage(tokens []uint32) float64 {
	if len(tokens) == 0 {
		return 1
	}
	key := s.ensureDay(s.PreviousTradingDay(s.now()))

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.day != key {
		return 0
	}
	hit := 0
	for _, tok := range tokens {
		if _, ok := s.records[tok]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(tokens))
}

// FetchBatch returns records for tokens, fetching at most maxFetch missing
// ones. While the cooldown is active only cached records are returned. A
// throttle aborts the remaining fetches and engages the cooldown.
func (s *Store) FetchBatch(ctx context.Context, tokens []uint32, maxFetch int) map[uint32]models.PrevDayRecord {
	day := s.PreviousTradingDay(s.now())
	key := s.ensureDay(day)

	result := make(map[uint32]models.PrevDayRecord, len(tokens))
	var missing []uint32
	for _, tok := range tokens {
		if rec, ok := s.lookup(key, tok); ok {
			result[tok] = rec
			metrics.RecordCache("prevday", true)
			continue
		}
		metrics.RecordCache("prevday", false)
		missing = append(missing, tok)
	}

	if len(missing) == 0 || maxFetch <= 0 {
		return result
	}
	if s.governor.Active(models.ScopePrevDay) {
		s.logger.Debug().
			Int("missing", len(missing)).
			Dur("remaining", s.governor.Remaining(models.ScopePrevDay)).
			Msg("Cooldown active, serving cached previous-day records")
		return result
	}

	fetched := make(map[uint32]models.PrevDayRecord)
	for i, tok := range missing {
		if i >= maxFetch || ctx.Err() != nil {
			break
		}
		rec, ok, err := s.fetchOne(ctx, tok, day)
		if err != nil {
			if apperrors.IsRateLimited(err) {
				s.governor.Engage(models.ScopePrevDay, s.cfg.Cooldown)
				break
			}
			if ctx.Err() != nil {
				break
			}
			s.logger.Debug().Err(err).Uint32("token", tok).Msg("Previous-day fetch failed")
			continue
		}
		if ok {
			fetched[tok] = rec
			result[tok] = rec
		}
	}

	s.remember(key, fetched)
	if err := s.persist(day, fetched); err != nil {
		s.logger.Error().Err(err).Str("day", key).Msg("Failed to write day file")
	}
	return result
}

// fetchOne pulls daily candles over the lookback window and picks the one for
// day. ok is false when no acceptable candle exists.
func (s *Store) fetchOne(ctx context.Context, token uint32, day time.Time) (models.PrevDayRecord, bool, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return models.PrevDayRecord{}, false, err
	}

	from := day.AddDate(0, 0, -s.cfg.LookbackDays)
	to := day.AddDate(0, 0, 1).Add(-time.Second)

	start := time.Now()
	candles, err := s.md.Historical(ctx, token, from, to, broker.IntervalDay)
	metrics.RecordUpstreamCall("historical_day", time.Since(start), err, apperrors.IsRateLimited(err))
	if err != nil {
		return models.PrevDayRecord{}, false, err
	}

	c, ok := pickCandle(candles, day, s.cfg.HolidayRule)
	if !ok {
		return models.PrevDayRecord{}, false, nil
	}
	ohlc := models.OHLC{Open: c.Open, High: c.High, Low: c.Low, Close: c.Close}
	if !ohlc.Valid() {
		return models.PrevDayRecord{}, false, nil
	}
	return models.PrevDayRecord{
		Token:         token,
		ForTradingDay: day,
		OHLC:          ohlc,
		CandleDay:     utils.TradingDay(c.Timestamp),
	}, true, nil
}

// pickCandle selects the candle dated day. Under the weekday rule a missing
// day falls back to the latest earlier candle.
func pickCandle(candles []models.Candle, day time.Time, rule string) (models.Candle, bool) {
	target := day.Format(utils.DayLayout)

	var best models.Candle
	var bestKey string
	for _, c := range candles {
		key := utils.DayKey(c.Timestamp)
		if key == target {
			return c, true
		}
		if rule == RuleStrict || key > target {
			continue
		}
		if key > bestKey {
			best, bestKey = c, key
		}
	}
	return best, bestKey != ""
}

func (s *Store) remember(key string, recs map[uint32]models.PrevDayRecord) {
	if len(recs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.day != key {
		return
	}
	for tok, rec := range recs {
		s.records[tok] = rec
	}
}
