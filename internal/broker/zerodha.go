package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	apperrors "optionchain/internal/errors"
	"optionchain/internal/logging"
	"optionchain/internal/models"
	"optionchain/pkg/utils"
)

// KiteClient implements MarketData and Authenticator on Kite Connect.
type KiteClient struct {
	client        *kiteconnect.Client
	apiKey        string
	apiSecret     string
	accessToken   string
	tokenPath     string
	authenticated bool
	logger        zerolog.Logger
	mu            sync.RWMutex
}

// KiteConfig holds configuration for the Kite client.
type KiteConfig struct {
	APIKey      string
	APISecret   string
	AccessToken string
	TokenPath   string
	HTTPTimeout time.Duration
	Logger      zerolog.Logger
}

// DefaultTokenPath returns where the session file is stored.
func DefaultTokenPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "optionchain", "session.json")
}

// NewKiteClient creates a Kite client. An explicit access token wins over a
// saved session; otherwise any saved session is loaded from disk.
func NewKiteClient(cfg KiteConfig) *KiteClient {
	client := kiteconnect.New(cfg.APIKey)
	if cfg.HTTPTimeout > 0 {
		client.SetHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout})
	}

	tokenPath := cfg.TokenPath
	if tokenPath == "" {
		tokenPath = DefaultTokenPath()
	}

	kc := &KiteClient{
		client:    client,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		tokenPath: tokenPath,
		logger:    logging.WithComponent(cfg.Logger, "kite"),
	}

	if cfg.AccessToken != "" {
		kc.setToken(cfg.AccessToken)
	} else {
		_ = kc.loadSession()
	}

	return kc
}

// sessionData represents persisted session data.
type sessionData struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (k *KiteClient) setToken(token string) {
	k.mu.Lock()
	k.accessToken = token
	k.authenticated = true
	k.client.SetAccessToken(token)
	k.mu.Unlock()
}

// LoginURL returns the Kite login URL for the OAuth flow.
func (k *KiteClient) LoginURL() string {
	return k.client.GetLoginURL()
}

// CompleteLogin exchanges the request token for an access token and persists it.
func (k *KiteClient) CompleteLogin(ctx context.Context, requestToken string) error {
	session, err := k.client.GenerateSession(requestToken, k.apiSecret)
	if err != nil {
		return apperrors.NewBrokerError("generate_session", "auth", "failed to generate session", err)
	}

	k.setToken(session.AccessToken)

	if err := k.saveSession(session.AccessToken); err != nil {
		k.logger.Warn().Err(err).Msg("Failed to persist session")
	}

	return nil
}

// Logout invalidates the session and clears stored credentials.
func (k *KiteClient) Logout(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.authenticated {
		if _, err := k.client.InvalidateAccessToken(); err != nil {
			k.logger.Warn().Err(err).Msg("Failed to invalidate token")
		}
	}

	k.accessToken = ""
	k.authenticated = false

	if err := os.Remove(k.tokenPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}

	return nil
}

// IsAuthenticated returns whether an access token is set.
func (k *KiteClient) IsAuthenticated() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.authenticated
}

func (k *KiteClient) loadSession() error {
	data, err := os.ReadFile(k.tokenPath)
	if err != nil {
		return err
	}

	var session sessionData
	if err := json.Unmarshal(data, &session); err != nil {
		return err
	}

	// Kite tokens expire at 6 AM IST next day
	if time.Now().After(session.ExpiresAt) {
		return apperrors.ErrSessionExpired
	}

	k.setToken(session.AccessToken)
	return nil
}

func (k *KiteClient) saveSession(accessToken string) error {
	dir := filepath.Dir(k.tokenPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	session := sessionData{
		AccessToken: accessToken,
		ExpiresAt:   utils.SessionExpiry(time.Now()),
	}

	data, err := json.Marshal(session)
	if err != nil {
		return err
	}

	// Write with restricted permissions
	return os.WriteFile(k.tokenPath, data, 0600)
}

// Instruments fetches all contracts for an exchange.
func (k *KiteClient) Instruments(ctx context.Context, exchange models.Exchange) ([]models.Instrument, error) {
	if !k.IsAuthenticated() {
		return nil, apperrors.ErrNotAuthenticated
	}

	start := time.Now()
	instruments, err := withContext(ctx, func() ([]kiteconnect.Instrument, error) {
		return k.client.GetInstrumentsByExchange(string(exchange))
	})
	logging.LogAPICall(k.logger, "GET", "/instruments/"+string(exchange), time.Since(start), err)
	if err != nil {
		return nil, classify("instruments", err)
	}

	result := make([]models.Instrument, 0, len(instruments))
	for _, inst := range instruments {
		result = append(result, models.Instrument{
			Token:      uint32(inst.InstrumentToken),
			Symbol:     inst.Tradingsymbol,
			Name:       inst.Name,
			Exchange:   models.Exchange(inst.Exchange),
			Segment:    inst.Segment,
			LotSize:    int(inst.LotSize),
			TickSize:   inst.TickSize,
			Expiry:     inst.Expiry.Time,
			Strike:     inst.StrikePrice,
			OptionType: models.OptionType(inst.InstrumentType),
		})
	}

	return result, nil
}

// Quotes fetches full quotes for up to one batch of instruments.
func (k *KiteClient) Quotes(ctx context.Context, instruments []string) (map[string]models.Quote, error) {
	if !k.IsAuthenticated() {
		return nil, apperrors.ErrNotAuthenticated
	}

	start := time.Now()
	quotes, err := withContext(ctx, func() (kiteconnect.Quote, error) {
		return k.client.GetQuote(instruments...)
	})
	logging.LogAPICall(k.logger, "GET", fmt.Sprintf("/quote (%d)", len(instruments)), time.Since(start), err)
	if err != nil {
		return nil, classify("quote", err)
	}

	now := time.Now()
	result := make(map[string]models.Quote, len(quotes))
	for key, q := range quotes {
		quote := models.Quote{
			Token:     uint32(q.InstrumentToken),
			LastPrice: q.LastPrice,
			OHLC: models.OHLC{
				Open:  q.OHLC.Open,
				High:  q.OHLC.High,
				Low:   q.OHLC.Low,
				Close: q.OHLC.Close,
			},
			Volume:       int64(q.Volume),
			OpenInterest: q.OI,
			NetChange:    q.NetChange,
			ObservedAt:   now,
		}
		if len(q.Depth.Buy) > 0 {
			quote.BidPrice = q.Depth.Buy[0].Price
			quote.BidQty = int64(q.Depth.Buy[0].Quantity)
		}
		if len(q.Depth.Sell) > 0 {
			quote.AskPrice = q.Depth.Sell[0].Price
			quote.AskQty = int64(q.Depth.Sell[0].Quantity)
		}
		result[key] = quote
	}

	return result, nil
}

// Historical fetches candles for a token.
func (k *KiteClient) Historical(ctx context.Context, token uint32, from, to time.Time, interval string) ([]models.Candle, error) {
	if !k.IsAuthenticated() {
		return nil, apperrors.ErrNotAuthenticated
	}

	start := time.Now()
	data, err := withContext(ctx, func() ([]kiteconnect.HistoricalData, error) {
		return k.client.GetHistoricalData(int(token), interval, from, to, false, false)
	})
	logging.LogAPICall(k.logger, "GET", fmt.Sprintf("/instruments/historical/%d/%s", token, interval), time.Since(start), err)
	if err != nil {
		return nil, classify("historical", err)
	}

	candles := make([]models.Candle, len(data))
	for i, d := range data {
		candles[i] = models.Candle{
			Timestamp: d.Date.Time,
			Open:      d.Open,
			High:      d.High,
			Low:       d.Low,
			Close:     d.Close,
			Volume:    int64(d.Volume),
		}
	}

	return candles, nil
}

// withContext runs a blocking SDK call and abandons it when ctx is done.
// The SDK call itself finishes in the background, bounded by the HTTP timeout.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	type result struct {
		value T
		err   error
	}

	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		return zero, fmt.Errorf("%w: %v", apperrors.ErrTimeout, ctx.Err())
	}
}

// classify maps SDK failures onto the engine's sentinel errors.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if apperrors.Is(err, apperrors.ErrTimeout) {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "too many requests") || strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return apperrors.NewBrokerError(op, "429", "throttled", fmt.Errorf("%w: %v", apperrors.ErrRateLimited, err))
	case strings.Contains(msg, "tokenexception") || strings.Contains(msg, "invalid token") || strings.Contains(msg, "incorrect `api_key` or `access_token`"):
		return apperrors.NewBrokerError(op, "403", "session rejected", fmt.Errorf("%w: %v", apperrors.ErrNotAuthenticated, err))
	default:
		return apperrors.NewBrokerError(op, "upstream", "request failed", err)
	}
}

var (
	_ MarketData    = (*KiteClient)(nil)
	_ Authenticator = (*KiteClient)(nil)
)
