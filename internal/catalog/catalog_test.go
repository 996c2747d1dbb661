package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionchain/internal/broker/brokertest"
	apperrors "optionchain/internal/errors"
	"optionchain/internal/models"
	"optionchain/internal/store"
	"optionchain/pkg/utils"
)

var (
	today  = time.Date(2026, 3, 20, 11, 0, 0, 0, utils.IndiaLocation)
	past   = time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC)
	near   = time.Date(2026, 3, 26, 0, 0, 0, 0, time.UTC)
	far    = time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC)
	tokSeq uint32
)

func opt(name string, expiry time.Time, strike float64, typ models.OptionType) models.Instrument {
	tokSeq++
	return models.Instrument{
		Token:      tokSeq,
		Symbol:     name + expiry.Format("06Jan") + string(typ),
		Name:       name,
		Exchange:   models.NFO,
		Expiry:     expiry,
		Strike:     strike,
		OptionType: typ,
	}
}

func newFixture(t *testing.T, withStore bool) (*Catalog, *brokertest.Fake) {
	t.Helper()
	f := brokertest.New()
	f.Listing[models.NFO] = []models.Instrument{
		opt("NIFTY", near, 24600, models.Call),
		opt("NIFTY", near, 24400, models.Call),
		opt("NIFTY", near, 24500, models.Call),
		opt("NIFTY", near, 24500, models.Put),
		opt("NIFTY", near, 24400, models.Put),
		opt("NIFTY", far, 25000, models.Call),
		opt("NIFTY", past, 24000, models.Call),
		opt("BANKNIFTY", near, 52000, models.Call),
	}
	f.Listing[models.MCX] = []models.Instrument{
		{Token: 900, Symbol: "CRUDEOIL26APRFUT", Name: "CRUDEOIL", Exchange: models.MCX, Expiry: far, OptionType: models.Future},
		{Token: 901, Symbol: "CRUDEOIL26MARFUT", Name: "CRUDEOIL", Exchange: models.MCX, Expiry: near, OptionType: models.Future},
		{Token: 902, Symbol: "CRUDEOIL26FEBFUT", Name: "CRUDEOIL", Exchange: models.MCX, Expiry: past, OptionType: models.Future},
	}

	var st store.InstrumentStore
	if withStore {
		s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "catalog.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		st = s
	}

	c := New(f, st, time.Hour, zerolog.Nop())
	c.now = func() time.Time { return today }
	return c, f
}

func TestLookupSortsByStrikeAndPicksNearestExpiry(t *testing.T) {
	c, _ := newFixture(t, false)

	calls, err := c.Lookup(context.Background(), "nifty", time.Time{}, models.Call)
	require.NoError(t, err)
	require.Len(t, calls, 3)
	assert.Equal(t, []float64{24400, 24500, 24600}, []float64{calls[0].Strike, calls[1].Strike, calls[2].Strike})
	for _, inst := range calls {
		assert.Equal(t, near, inst.Expiry)
	}

	puts, err := c.Lookup(context.Background(), "NIFTY", near, models.Put)
	require.NoError(t, err)
	assert.Len(t, puts, 2)
}

func TestLookupNotFound(t *testing.T) {
	c, _ := newFixture(t, false)

	_, err := c.Lookup(context.Background(), "UNKNOWN", time.Time{}, models.Call)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = c.Lookup(context.Background(), "NIFTY", time.Date(2026, 5, 28, 0, 0, 0, 0, time.UTC), models.Call)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = c.Lookup(context.Background(), "BANKNIFTY", time.Time{}, models.Put)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestExpiriesSkipsPast(t *testing.T) {
	c, _ := newFixture(t, false)

	expiries, err := c.Expiries(context.Background(), "NIFTY")
	require.NoError(t, err)
	assert.Equal(t, []time.Time{near, far}, expiries)
}

func TestFetchCachesAndCollapses(t *testing.T) {
	c, f := newFixture(t, false)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Fetch(context.Background(), models.NFO)
		}()
	}
	wg.Wait()
	_, err := c.Fetch(context.Background(), models.NFO)
	require.NoError(t, err)

	assert.LessOrEqual(t, f.InstrumentCalls(), 2)
}

func TestFetchServesLastGoodOnFailure(t *testing.T) {
	c, f := newFixture(t, false)
	_, err := c.Fetch(context.Background(), models.NFO)
	require.NoError(t, err)

	f.InstrumentsErr = errors.New("upstream down")
	require.NoError(t, c.Refresh(context.Background(), models.NFO))

	got, err := c.Fetch(context.Background(), models.NFO)
	require.NoError(t, err)
	assert.Len(t, got, 8)
}

func TestFetchFallsBackToStore(t *testing.T) {
	c, f := newFixture(t, true)
	_, err := c.Fetch(context.Background(), models.NFO)
	require.NoError(t, err)

	// A fresh catalog over the same store simulates a restart while upstream is down.
	cold := New(f, c.store, time.Hour, zerolog.Nop())
	f.InstrumentsErr = errors.New("upstream down")

	got, err := cold.Fetch(context.Background(), models.NFO)
	require.NoError(t, err)
	assert.Len(t, got, 8)
}

func TestFetchUnavailableWithoutFallback(t *testing.T) {
	c, f := newFixture(t, false)
	f.InstrumentsErr = errors.New("upstream down")

	_, err := c.Fetch(context.Background(), models.NFO)
	assert.ErrorIs(t, err, apperrors.ErrUnavailable)
}

func TestSpotKey(t *testing.T) {
	c, _ := newFixture(t, false)

	key, err := c.SpotKey(context.Background(), "NIFTY")
	require.NoError(t, err)
	assert.Equal(t, "NSE:NIFTY 50", key)

	key, err = c.SpotKey(context.Background(), "CRUDEOIL")
	require.NoError(t, err)
	assert.Equal(t, "MCX:CRUDEOIL26MARFUT", key)

	_, err = c.SpotKey(context.Background(), "ZINC")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
