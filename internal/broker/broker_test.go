package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	apperrors "optionchain/internal/errors"
	"optionchain/internal/models"
)

func TestDerivativesExchange(t *testing.T) {
	tests := []struct {
		symbol string
		want   models.Exchange
	}{
		{"NIFTY", models.NFO},
		{"banknifty", models.NFO},
		{"SENSEX", models.BFO},
		{"CRUDEOIL", models.MCX},
		{" goldm ", models.MCX},
		{"RELIANCE", models.NFO},
	}

	for _, tt := range tests {
		if got := DerivativesExchange(tt.symbol); got != tt.want {
			t.Errorf("DerivativesExchange(%q) = %s, want %s", tt.symbol, got, tt.want)
		}
	}
}

func TestSpotKey(t *testing.T) {
	tests := []struct {
		symbol string
		want   string
		ok     bool
	}{
		{"NIFTY", "NSE:NIFTY 50", true},
		{"BANKNIFTY", "NSE:NIFTY BANK", true},
		{"FINNIFTY", "NSE:NIFTY FIN SERVICE", true},
		{"MIDCPNIFTY", "NSE:NIFTY MID SELECT", true},
		{"SENSEX", "BSE:SENSEX", true},
		{"TCS", "NSE:TCS", true},
		{"SILVER", "", false},
	}

	for _, tt := range tests {
		got, ok := SpotKey(tt.symbol)
		if got != tt.want || ok != tt.ok {
			t.Errorf("SpotKey(%q) = (%q, %v), want (%q, %v)", tt.symbol, got, ok, tt.want, tt.ok)
		}
	}
}

func TestClassifyRateLimit(t *testing.T) {
	err := classify("quote", errors.New("Too many requests"))
	if !apperrors.IsRateLimited(err) {
		t.Fatalf("expected rate limit, got %v", err)
	}

	err = classify("quote", errors.New("connection reset by peer"))
	if apperrors.IsRateLimited(err) {
		t.Fatalf("unexpected rate limit classification: %v", err)
	}
	var be *apperrors.BrokerError
	if !apperrors.As(err, &be) || be.Op != "quote" {
		t.Fatalf("expected BrokerError for quote, got %v", err)
	}
}

func TestWithContextAbandonsSlowCall(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	release := make(chan struct{})
	defer close(release)

	_, err := withContext(ctx, func() (int, error) {
		<-release
		return 1, nil
	})
	if !errors.Is(err, apperrors.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

// Property: For any non-commodity symbol, the spot key is exchange-qualified
// and the options exchange is an equity derivatives segment.
func TestProperty_EquityRoutingIsConsistent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("Non-commodity symbols route to NFO/BFO with a qualified spot key", prop.ForAll(
		func(symbol string) bool {
			if IsCommodity(symbol) {
				return true
			}
			key, ok := SpotKey(symbol)
			if !ok || len(key) < 5 || (key[:4] != "NSE:" && key[:4] != "BSE:") {
				return false
			}
			ex := DerivativesExchange(symbol)
			return ex == models.NFO || ex == models.BFO
		},
		gen.Identifier(),
	))

	properties.TestingRun(t)
}
