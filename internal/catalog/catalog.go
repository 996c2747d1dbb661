// Package catalog maintains the tradable contract listing per exchange.
package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"optionchain/internal/broker"
	apperrors "optionchain/internal/errors"
	"optionchain/internal/logging"
	"optionchain/internal/metrics"
	"optionchain/internal/models"
	"optionchain/internal/store"
	"optionchain/pkg/utils"
)

// DefaultTTL is how long a listing is served before it is refetched.
const DefaultTTL = time.Hour

// staleRetry is how long a last-good listing is served before retrying upstream.
const staleRetry = time.Minute

// Catalog serves instrument listings cached for TTL. When a refresh fails the
// last good listing is served, first from memory and then from the store.
type Catalog struct {
	md     broker.MarketData
	store  store.InstrumentStore
	cache  *gocache.Cache
	group  singleflight.Group
	logger zerolog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	lastGood map[models.Exchange][]models.Instrument
}

// New creates a catalog. st may be nil to disable persistence.
func New(md broker.MarketData, st store.InstrumentStore, ttl time.Duration, logger zerolog.Logger) *Catalog {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Catalog{
		md:       md,
		store:    st,
		cache:    gocache.New(ttl, 10*time.Minute),
		logger:   logging.WithComponent(logger, "catalog"),
		now:      time.Now,
		lastGood: make(map[models.Exchange][]models.Instrument),
	}
}

// Fetch returns the listing for exchange, refreshing it when the cached copy
// has expired. Concurrent refreshes of one exchange share a single upstream call.
func (c *Catalog) Fetch(ctx context.Context, exchange models.Exchange) ([]models.Instrument, error) {
	if v, ok := c.cache.Get(string(exchange)); ok {
		metrics.RecordCache("catalog", true)
		return v.([]models.Instrument), nil
	}
	metrics.RecordCache("catalog", false)

	v, err, _ := c.group.Do(string(exchange), func() (interface{}, error) {
		return c.refresh(ctx, exchange)
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.Instrument), nil
}

// Refresh forces a refetch of exchange regardless of cache age.
func (c *Catalog) Refresh(ctx context.Context, exchange models.Exchange) error {
	c.cache.Delete(string(exchange))
	_, err := c.Fetch(ctx, exchange)
	return err
}

func (c *Catalog) refresh(ctx context.Context, exchange models.Exchange) ([]models.Instrument, error) {
	start := time.Now()
	instruments, err := c.md.Instruments(ctx, exchange)
	metrics.RecordUpstreamCall("instruments", time.Since(start), err, apperrors.IsRateLimited(err))

	if err == nil && len(instruments) > 0 {
		c.cache.SetDefault(string(exchange), instruments)
		c.mu.Lock()
		c.lastGood[exchange] = instruments
		c.mu.Unlock()

		if c.store != nil {
			if err := c.store.SaveInstruments(ctx, exchange, instruments); err != nil {
				c.logger.Warn().Err(err).Str("exchange", string(exchange)).Msg("Failed to persist instruments")
			} else {
				_ = c.store.SetLastSync(syncKey(exchange), c.now())
			}
		}

		c.logger.Info().Str("exchange", string(exchange)).Int("count", len(instruments)).Msg("Instrument listing refreshed")
		return instruments, nil
	}
	if err == nil {
		err = apperrors.Wrapf(apperrors.ErrDataNotFound, "empty listing for %s", exchange)
	}

	c.mu.RLock()
	good, ok := c.lastGood[exchange]
	c.mu.RUnlock()
	if ok {
		c.logger.Warn().Err(err).Str("exchange", string(exchange)).Msg("Instrument refresh failed, serving last good listing")
		c.cache.Set(string(exchange), good, staleRetry)
		return good, nil
	}

	if c.store != nil {
		stored, serr := c.store.LoadInstruments(ctx, exchange)
		if serr == nil {
			c.mu.Lock()
			c.lastGood[exchange] = stored
			c.mu.Unlock()
			c.logger.Warn().Err(err).
				Str("exchange", string(exchange)).
				Time("synced_at", c.store.GetLastSync(syncKey(exchange))).
				Msg("Instrument refresh failed, serving stored listing")
			return stored, nil
		}
	}

	return nil, apperrors.Wrapf(apperrors.ErrUnavailable, "instruments for %s: %v", exchange, err)
}

func syncKey(exchange models.Exchange) string {
	return "instruments:" + string(exchange)
}

// OptionSet is the resolved contract set for one underlying and expiry.
type OptionSet struct {
	Symbol   string
	Exchange models.Exchange
	Expiry   time.Time
	Calls    []models.Instrument // strike ascending
	Puts     []models.Instrument // strike ascending
}

// All returns calls followed by puts.
func (s OptionSet) All() []models.Instrument {
	out := make([]models.Instrument, 0, len(s.Calls)+len(s.Puts))
	out = append(out, s.Calls...)
	return append(out, s.Puts...)
}

// Options resolves the call and put contracts for symbol. A zero expiry
// selects the earliest expiry on or after today (IST).
func (c *Catalog) Options(ctx context.Context, symbol string, expiry time.Time) (OptionSet, error) {
	symbol = broker.NormalizeSymbol(symbol)
	exchange := broker.DerivativesExchange(symbol)

	listing, err := c.Fetch(ctx, exchange)
	if err != nil {
		return OptionSet{}, err
	}

	contracts := optionsFor(listing, symbol)
	if len(contracts) == 0 {
		return OptionSet{}, apperrors.Wrapf(apperrors.ErrNotFound, "no options for %s on %s", symbol, exchange)
	}

	var target string
	if expiry.IsZero() {
		expiries := distinctExpiries(contracts, utils.DayKey(c.now()))
		if len(expiries) == 0 {
			return OptionSet{}, apperrors.Wrapf(apperrors.ErrNotFound, "no live expiry for %s", symbol)
		}
		target = dateKey(expiries[0])
	} else {
		target = dateKey(expiry)
	}

	set := OptionSet{Symbol: symbol, Exchange: exchange}
	for _, inst := range contracts {
		if dateKey(inst.Expiry) != target {
			continue
		}
		set.Expiry = inst.Expiry
		if inst.OptionType == models.Call {
			set.Calls = append(set.Calls, inst)
		} else {
			set.Puts = append(set.Puts, inst)
		}
	}
	if len(set.Calls)+len(set.Puts) == 0 {
		return OptionSet{}, apperrors.Wrapf(apperrors.ErrNotFound, "no options for %s expiring %s", symbol, target)
	}

	byStrike := func(s []models.Instrument) {
		sort.SliceStable(s, func(i, j int) bool { return s[i].Strike < s[j].Strike })
	}
	byStrike(set.Calls)
	byStrike(set.Puts)

	return set, nil
}

// Lookup returns one side of the chain sorted by strike ascending.
func (c *Catalog) Lookup(ctx context.Context, symbol string, expiry time.Time, optType models.OptionType) ([]models.Instrument, error) {
	set, err := c.Options(ctx, symbol, expiry)
	if err != nil {
		return nil, err
	}
	side := set.Calls
	if optType == models.Put {
		side = set.Puts
	}
	if len(side) == 0 {
		return nil, apperrors.Wrapf(apperrors.ErrNotFound, "no %s contracts for %s", optType, symbol)
	}
	return side, nil
}

// Expiries lists the live option expiries for symbol in ascending order.
func (c *Catalog) Expiries(ctx context.Context, symbol string) ([]time.Time, error) {
	symbol = broker.NormalizeSymbol(symbol)
	listing, err := c.Fetch(ctx, broker.DerivativesExchange(symbol))
	if err != nil {
		return nil, err
	}
	expiries := distinctExpiries(optionsFor(listing, symbol), utils.DayKey(c.now()))
	if len(expiries) == 0 {
		return nil, apperrors.Wrapf(apperrors.ErrNotFound, "no expiries for %s", symbol)
	}
	return expiries, nil
}

// SpotKey returns the quote identifier of symbol's underlying. Commodities
// resolve to their nearest live future on MCX.
func (c *Catalog) SpotKey(ctx context.Context, symbol string) (string, error) {
	if key, ok := broker.SpotKey(symbol); ok {
		return key, nil
	}

	symbol = broker.NormalizeSymbol(symbol)
	listing, err := c.Fetch(ctx, models.MCX)
	if err != nil {
		return "", err
	}

	today := utils.DayKey(c.now())
	var nearest *models.Instrument
	for i := range listing {
		inst := &listing[i]
		if inst.Name != symbol || inst.OptionType != models.Future || dateKey(inst.Expiry) < today {
			continue
		}
		if nearest == nil || inst.Expiry.Before(nearest.Expiry) {
			nearest = inst
		}
	}
	if nearest == nil {
		return "", apperrors.Wrapf(apperrors.ErrNotFound, "no live future for %s", symbol)
	}
	return broker.QuoteKey(*nearest), nil
}

// Run refreshes exchanges every interval until ctx is cancelled.
func (c *Catalog) Run(ctx context.Context, exchanges []models.Exchange, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultTTL
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for _, ex := range exchanges {
			if err := c.Refresh(ctx, ex); err != nil && ctx.Err() == nil {
				c.logger.Error().Err(err).Str("exchange", string(ex)).Msg("Scheduled instrument refresh failed")
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func optionsFor(listing []models.Instrument, symbol string) []models.Instrument {
	var out []models.Instrument
	for _, inst := range listing {
		if inst.Name == symbol && inst.OptionType.IsOption() {
			out = append(out, inst)
		}
	}
	return out
}

// distinctExpiries returns unique expiries on or after today, ascending.
func distinctExpiries(contracts []models.Instrument, today string) []time.Time {
	seen := make(map[string]time.Time)
	for _, inst := range contracts {
		key := dateKey(inst.Expiry)
		if key < today {
			continue
		}
		if _, ok := seen[key]; !ok {
			seen[key] = inst.Expiry
		}
	}
	out := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return dateKey(out[i]) < dateKey(out[j]) })
	return out
}

// dateKey formats an expiry by its own calendar date; listings carry bare dates.
func dateKey(t time.Time) string {
	return t.Format(utils.DayLayout)
}
