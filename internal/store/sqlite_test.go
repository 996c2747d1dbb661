package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	apperrors "optionchain/internal/errors"
	"optionchain/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInstrumentsReplacePerExchange(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	expiry := time.Date(2026, 3, 26, 0, 0, 0, 0, time.UTC)

	first := []models.Instrument{
		{Token: 1, Symbol: "NIFTY26MAR24500CE", Name: "NIFTY", Strike: 24500, OptionType: models.Call, Expiry: expiry, LotSize: 75},
		{Token: 2, Symbol: "NIFTY26MAR24500PE", Name: "NIFTY", Strike: 24500, OptionType: models.Put, Expiry: expiry, LotSize: 75},
	}
	if err := s.SaveInstruments(ctx, models.NFO, first); err != nil {
		t.Fatalf("save: %v", err)
	}

	second := first[:1]
	if err := s.SaveInstruments(ctx, models.NFO, second); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.LoadInstruments(ctx, models.NFO)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0].Token != 1 || got[0].Exchange != models.NFO {
		t.Fatalf("unexpected instruments: %+v", got)
	}
	if !got[0].Expiry.Equal(expiry) {
		t.Errorf("expiry = %v, want %v", got[0].Expiry, expiry)
	}

	if _, err := s.LoadInstruments(ctx, models.MCX); !apperrors.Is(err, apperrors.ErrDataNotFound) {
		t.Errorf("empty exchange err = %v, want ErrDataNotFound", err)
	}
}

func TestLastSync(t *testing.T) {
	s := newTestStore(t)

	if !s.GetLastSync("instruments:NFO").IsZero() {
		t.Fatal("expected zero time before first sync")
	}

	now := time.Now().UTC().Truncate(time.Second)
	if err := s.SetLastSync("instruments:NFO", now); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := s.GetLastSync("instruments:NFO"); !got.Equal(now) {
		t.Errorf("last sync = %v, want %v", got, now)
	}
}

// Property: For any generated option contract, saving and loading the exchange
// listing preserves strike, type and token.
func TestProperty_InstrumentRoundTrip(t *testing.T) {
	s := newTestStore(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("Instrument round-trip preserves contract fields", prop.ForAll(
		func(token uint32, strike float64, isCall bool) bool {
			ctx := context.Background()
			optType := models.Put
			if isCall {
				optType = models.Call
			}
			inst := models.Instrument{
				Token:      token,
				Symbol:     "TEST",
				Name:       "TEST",
				Strike:     strike,
				OptionType: optType,
				Expiry:     time.Date(2026, 1, 29, 0, 0, 0, 0, time.UTC),
			}
			if err := s.SaveInstruments(ctx, models.NFO, []models.Instrument{inst}); err != nil {
				return false
			}
			got, err := s.LoadInstruments(ctx, models.NFO)
			if err != nil || len(got) != 1 {
				return false
			}
			return got[0].Token == token && got[0].Strike == strike && got[0].OptionType == optType
		},
		gen.UInt32Range(1, 1<<31),
		gen.Float64Range(100, 100000),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
