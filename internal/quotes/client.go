// Package quotes fetches live quotes in ceiling-bounded batches.
package quotes

import (
	"context"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"optionchain/internal/broker"
	apperrors "optionchain/internal/errors"
	"optionchain/internal/logging"
	"optionchain/internal/metrics"
	"optionchain/internal/models"
	"optionchain/pkg/utils"
)

// Config controls batching and caching.
type Config struct {
	BatchSize  int
	RetryDelay time.Duration
	Pacing     time.Duration
	CacheTTL   time.Duration
}

// DefaultConfig returns the upstream's documented ceiling and pacing.
func DefaultConfig() Config {
	return Config{
		BatchSize:  400,
		RetryDelay: time.Second,
		Pacing:     150 * time.Millisecond,
		CacheTTL:   time.Second,
	}
}

// Client fetches quotes with retry-once per batch and a short dedup cache.
// Quote throttling never engages a historical cooldown.
type Client struct {
	md     broker.MarketData
	cfg    Config
	cache  *gocache.Cache
	logger zerolog.Logger
}

// NewClient creates a quote client.
func NewClient(md broker.MarketData, cfg Config, logger zerolog.Logger) *Client {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultConfig().CacheTTL
	}
	return &Client{
		md:     md,
		cfg:    cfg,
		cache:  gocache.New(cfg.CacheTTL, 30*time.Second),
		logger: logging.WithComponent(logger, "quotes"),
	}
}

func tokenCacheKey(token uint32) string {
	return "q:" + strconv.FormatUint(uint64(token), 10)
}

// FetchQuotes returns quotes for tokens. Batches that fail twice are omitted;
// an error is returned only when every batch failed and nothing was cached.
func (c *Client) FetchQuotes(ctx context.Context, tokens []uint32) (map[uint32]models.Quote, error) {
	result := make(map[uint32]models.Quote, len(tokens))
	seen := make(map[uint32]bool, len(tokens))
	var pending []string

	for _, tok := range tokens {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		if v, ok := c.cache.Get(tokenCacheKey(tok)); ok {
			result[tok] = v.(models.Quote)
			metrics.RecordCache("quote", true)
			continue
		}
		metrics.RecordCache("quote", false)
		pending = append(pending, strconv.FormatUint(uint64(tok), 10))
	}

	batches := chunk(pending, c.cfg.BatchSize)
	failed := 0
	var lastErr error

	for i, batch := range batches {
		if i > 0 {
			if err := utils.Sleep(ctx, c.cfg.Pacing); err != nil {
				failed += len(batches) - i
				lastErr = err
				break
			}
		}

		quotes, err := c.fetchBatch(ctx, batch)
		if err != nil {
			failed++
			lastErr = err
			c.logger.Warn().Err(err).Int("batch", i).Int("size", len(batch)).Msg("Quote batch dropped after retry")
			continue
		}

		for key, q := range quotes {
			tok := q.Token
			if tok == 0 {
				parsed, err := strconv.ParseUint(key, 10, 32)
				if err != nil {
					continue
				}
				tok = uint32(parsed)
				q.Token = tok
			}
			result[tok] = q
			c.cache.SetDefault(tokenCacheKey(tok), q)
		}
	}

	if len(batches) > 0 && failed == len(batches) && len(result) == 0 {
		return nil, apperrors.Wrapf(apperrors.ErrUnavailable, "all %d quote batches failed: %v", len(batches), lastErr)
	}

	return result, nil
}

// fetchBatch issues one batch, retrying once after RetryDelay on a throttle
// or transient failure.
func (c *Client) fetchBatch(ctx context.Context, batch []string) (map[string]models.Quote, error) {
	cfg := utils.RetryOnce(c.cfg.RetryDelay)
	cfg.ShouldRetry = func(err error) bool {
		return ctx.Err() == nil && !apperrors.Is(err, apperrors.ErrNotAuthenticated)
	}

	return utils.RetryWithResult(ctx, cfg, func() (map[string]models.Quote, error) {
		start := time.Now()
		quotes, err := c.md.Quotes(ctx, batch)
		metrics.RecordUpstreamCall("quote", time.Since(start), err, apperrors.IsRateLimited(err))
		return quotes, err
	})
}

// Spot fetches the underlying's quote identified by key (EXCHANGE:SYMBOL).
func (c *Client) Spot(ctx context.Context, symbol, key string) (models.SpotQuote, error) {
	cacheKey := "s:" + key
	if v, ok := c.cache.Get(cacheKey); ok {
		metrics.RecordCache("quote", true)
		return v.(models.SpotQuote), nil
	}
	metrics.RecordCache("quote", false)

	quotes, err := c.fetchBatch(ctx, []string{key})
	if err != nil {
		return models.SpotQuote{}, apperrors.Wrapf(err, "spot quote %s", key)
	}
	q, ok := quotes[key]
	if !ok || q.LastPrice <= 0 {
		return models.SpotQuote{}, apperrors.Wrapf(apperrors.ErrNotFound, "spot quote %s", key)
	}

	spot := models.SpotQuote{
		Symbol:        symbol,
		TradingSymbol: key,
		Price:         q.LastPrice,
		PreviousClose: q.OHLC.Close,
		Change:        q.NetChange,
		Volume:        q.Volume,
		ObservedAt:    q.ObservedAt,
	}
	if spot.PreviousClose > 0 {
		spot.Change = spot.Price - spot.PreviousClose
		spot.ChangePercent = spot.Change / spot.PreviousClose * 100
	}

	c.cache.SetDefault(cacheKey, spot)
	return spot, nil
}

func chunk(items []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
