package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionchain/internal/models"
)

func newTestGovernor(now *time.Time) *Governor {
	g := NewGovernor(zerolog.Nop())
	g.now = func() time.Time { return *now }
	return g
}

func TestGovernorScopesAreIndependent(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	g := newTestGovernor(&now)

	g.Engage(models.ScopePrevDay, 180*time.Second)

	assert.True(t, g.Active(models.ScopePrevDay))
	assert.False(t, g.Active(models.ScopeIntraday))
	assert.Equal(t, 180*time.Second, g.Remaining(models.ScopePrevDay))

	now = now.Add(181 * time.Second)
	assert.False(t, g.Active(models.ScopePrevDay))
	assert.Zero(t, g.Remaining(models.ScopePrevDay))
}

func TestGovernorNeverShortens(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	g := newTestGovernor(&now)

	first := g.Engage(models.ScopeIntraday, 90*time.Second)
	second := g.Engage(models.ScopeIntraday, 10*time.Second)
	assert.Equal(t, first, second)

	snap := g.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, models.ScopeIntraday, snap[0].Scope)
}

func TestLimiterWaitHonoursContext(t *testing.T) {
	l := NewLimiter("historical", 0.001, 1)
	require.True(t, l.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx))
}

func TestNilLimiterIsUnlimited(t *testing.T) {
	var l *Limiter
	assert.True(t, l.Allow())
	assert.NoError(t, l.Wait(context.Background()))
}
