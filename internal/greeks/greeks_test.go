package greeks

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"optionchain/internal/models"
)

func newProperties() *gopter.Properties {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())
	return gopter.NewProperties(parameters)
}

// Property: For any valid inputs, call delta lies in [0,1], put delta in [-1,0]
// and the two differ by exactly one.
func TestProperty_DeltaBounds(t *testing.T) {
	properties := newProperties()

	properties.Property("Call and put deltas are bounded and differ by one", prop.ForAll(
		func(spot, strikeRatio, years, vol float64) bool {
			p := Params{Spot: spot, Strike: spot * strikeRatio, T: years, Rate: 0.05, Vol: vol}
			p.Type = models.Call
			call := Delta(p)
			p.Type = models.Put
			put := Delta(p)

			return call >= 0 && call <= 1 &&
				put >= -1 && put <= 0 &&
				math.Abs(put-(call-1)) < 1e-12
		},
		gen.Float64Range(50, 60000),
		gen.Float64Range(0.7, 1.3),
		gen.Float64Range(0.001, 2),
		gen.Float64Range(0.05, 1.5),
	))

	properties.TestingRun(t)
}

// Property: For any valid inputs, C - P = S - K*exp(-rT) within tolerance.
func TestProperty_PutCallParity(t *testing.T) {
	properties := newProperties()

	properties.Property("Put-call parity holds", prop.ForAll(
		func(spot, strikeRatio, years, vol float64) bool {
			p := Params{Spot: spot, Strike: spot * strikeRatio, T: years, Rate: 0.05, Vol: vol}
			p.Type = models.Call
			call := Price(p)
			p.Type = models.Put
			put := Price(p)

			parity := spot - p.Strike*math.Exp(-p.Rate*p.T)
			return math.Abs((call-put)-parity) < 1e-6*spot
		},
		gen.Float64Range(50, 60000),
		gen.Float64Range(0.8, 1.2),
		gen.Float64Range(0.01, 2),
		gen.Float64Range(0.05, 1.0),
	))

	properties.TestingRun(t)
}

// Property: Gamma and vega are non-negative and identical for calls and puts.
func TestProperty_GammaVegaSymmetric(t *testing.T) {
	properties := newProperties()

	properties.Property("Gamma and vega do not depend on option type", prop.ForAll(
		func(spot, strikeRatio, years, vol float64) bool {
			p := Params{Spot: spot, Strike: spot * strikeRatio, T: years, Rate: 0.05, Vol: vol, Type: models.Call}
			cg, cv := Gamma(p), Vega(p)
			p.Type = models.Put
			return cg >= 0 && cv >= 0 && cg == Gamma(p) && cv == Vega(p)
		},
		gen.Float64Range(50, 60000),
		gen.Float64Range(0.7, 1.3),
		gen.Float64Range(0.001, 2),
		gen.Float64Range(0.05, 1.5),
	))

	properties.TestingRun(t)
}

func TestImpliedVolatilityRecoversInput(t *testing.T) {
	tests := []struct {
		name string
		vol  float64
		typ  models.OptionType
		k    float64
	}{
		{"atm call", 0.18, models.Call, 24500},
		{"otm put", 0.25, models.Put, 24000},
		{"itm call", 0.22, models.Call, 24000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Params{Spot: 24500, Strike: tt.k, T: 30.0 / 365, Rate: 0.05, Vol: tt.vol, Type: tt.typ}
			price := Price(p)
			iv := ImpliedVolatility(price, p)
			if math.Abs(iv-tt.vol) > 0.01 {
				t.Errorf("iv = %.4f, want %.4f", iv, tt.vol)
			}
		})
	}
}

func TestImpliedVolatilityDegenerate(t *testing.T) {
	p := Params{Spot: 24500, Strike: 24500, T: 0.1, Rate: 0.05, Type: models.Call}
	if iv := ImpliedVolatility(0, p); iv != 0.20 {
		t.Errorf("zero price iv = %v, want 0.20", iv)
	}
	p.Spot = 0
	if iv := ImpliedVolatility(100, p); iv != 0.20 {
		t.Errorf("zero spot iv = %v, want 0.20", iv)
	}
}

func TestImpliedVolatilityFloor(t *testing.T) {
	// A price below the no-arbitrage bound cannot be matched.
	p := Params{Spot: 25000, Strike: 20000, T: 7.0 / 365, Rate: 0.05, Type: models.Call}
	iv := ImpliedVolatility(4980, p)
	if iv < 0.01 {
		t.Errorf("iv = %v below floor", iv)
	}
}

func TestTimeToExpiryFloor(t *testing.T) {
	now := time.Date(2026, 3, 26, 15, 0, 0, 0, time.UTC)
	if got := TimeToExpiry(now.Add(-time.Hour), now); got != 0.001 {
		t.Errorf("expired T = %v, want 0.001", got)
	}
	if got := TimeToExpiry(now.AddDate(0, 0, 365), now); math.Abs(got-1) > 1e-9 {
		t.Errorf("one year T = %v, want 1", got)
	}
}

func TestPriceAtExpiryIsIntrinsic(t *testing.T) {
	p := Params{Spot: 24600, Strike: 24500, T: 0, Rate: 0.05, Vol: 0.2, Type: models.Call}
	if got := Price(p); got != 100 {
		t.Errorf("call at expiry = %v, want 100", got)
	}
	p.Type = models.Put
	if got := Price(p); got != 0 {
		t.Errorf("put at expiry = %v, want 0", got)
	}
}

func TestComputeSigns(t *testing.T) {
	res := Compute(150, 24500, 24500, 14.0/365, 0.05, models.Call)
	if res.Greeks.Delta <= 0 || res.Greeks.Theta >= 0 || res.Greeks.Rho <= 0 {
		t.Errorf("unexpected call greeks: %+v", res.Greeks)
	}

	res = Compute(150, 24500, 24500, 14.0/365, 0.05, models.Put)
	if res.Greeks.Delta >= 0 || res.Greeks.Rho >= 0 {
		t.Errorf("unexpected put greeks: %+v", res.Greeks)
	}
}
