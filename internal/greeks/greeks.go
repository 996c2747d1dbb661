// Package greeks implements Black-Scholes pricing, implied volatility and
// option Greeks. All functions are pure.
package greeks

import (
	"math"
	"time"

	"optionchain/internal/models"
)

const (
	minTimeToExpiry = 0.001
	initialVol      = 0.20
	minVol          = 0.01
	ivIterations    = 10
	ivPriceTol      = 0.01
	ivVegaFloor     = 0.001
)

// Params are the inputs shared by every formula.
type Params struct {
	Spot   float64
	Strike float64
	T      float64 // years
	Rate   float64
	Vol    float64
	Type   models.OptionType
}

func (p Params) valid() bool {
	return p.Spot > 0 && p.Strike > 0 && p.T > 0 && p.Vol > 0
}

// TimeToExpiry returns calendar time to expiry in years, floored so that
// contracts expiring today still price.
func TimeToExpiry(expiry, now time.Time) float64 {
	years := expiry.Sub(now).Hours() / 24 / 365
	return math.Max(years, minTimeToExpiry)
}

// NormCDF is the standard normal cumulative distribution.
func NormCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

// NormPDF is the standard normal density.
func NormPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}

func d1d2(p Params) (float64, float64) {
	sqrtT := math.Sqrt(p.T)
	d1 := (math.Log(p.Spot/p.Strike) + (p.Rate+0.5*p.Vol*p.Vol)*p.T) / (p.Vol * sqrtT)
	return d1, d1 - p.Vol*sqrtT
}

// Intrinsic returns the exercise value of the option at spot.
func Intrinsic(spot, strike float64, t models.OptionType) float64 {
	if t == models.Put {
		return math.Max(strike-spot, 0)
	}
	return math.Max(spot-strike, 0)
}

// Price returns the Black-Scholes premium. At or past expiry it is the intrinsic value.
func Price(p Params) float64 {
	if p.T <= 0 {
		return Intrinsic(p.Spot, p.Strike, p.Type)
	}
	if !p.valid() {
		return 0
	}
	d1, d2 := d1d2(p)
	disc := p.Strike * math.Exp(-p.Rate*p.T)
	if p.Type == models.Put {
		return math.Max(disc*NormCDF(-d2)-p.Spot*NormCDF(-d1), 0)
	}
	return math.Max(p.Spot*NormCDF(d1)-disc*NormCDF(d2), 0)
}

// Delta is the premium sensitivity to spot.
func Delta(p Params) float64 {
	if !p.valid() {
		return 0
	}
	d1, _ := d1d2(p)
	if p.Type == models.Put {
		return NormCDF(d1) - 1
	}
	return NormCDF(d1)
}

// Gamma is the delta sensitivity to spot.
func Gamma(p Params) float64 {
	if !p.valid() {
		return 0
	}
	d1, _ := d1d2(p)
	return NormPDF(d1) / (p.Spot * p.Vol * math.Sqrt(p.T))
}

// Vega is the premium change for a one percentage point move in volatility.
func Vega(p Params) float64 {
	if !p.valid() {
		return 0
	}
	d1, _ := d1d2(p)
	return p.Spot * NormPDF(d1) * math.Sqrt(p.T) / 100
}

// Theta is the premium decay per calendar day.
func Theta(p Params) float64 {
	if !p.valid() {
		return 0
	}
	d1, d2 := d1d2(p)
	decay := -p.Spot * NormPDF(d1) * p.Vol / (2 * math.Sqrt(p.T))
	carry := p.Rate * p.Strike * math.Exp(-p.Rate*p.T)
	if p.Type == models.Put {
		return (decay + carry*NormCDF(-d2)) / 365
	}
	return (decay - carry*NormCDF(d2)) / 365
}

// Rho is the premium change for a one percentage point move in rates.
func Rho(p Params) float64 {
	if !p.valid() {
		return 0
	}
	_, d2 := d1d2(p)
	k := p.Strike * p.T * math.Exp(-p.Rate*p.T)
	if p.Type == models.Put {
		return -k * NormCDF(-d2) / 100
	}
	return k * NormCDF(d2) / 100
}

// ImpliedVolatility solves for the volatility that reproduces price with
// Newton-Raphson. Degenerate inputs return the seed volatility.
func ImpliedVolatility(price float64, p Params) float64 {
	if price <= 0 || p.Spot <= 0 || p.Strike <= 0 || p.T <= 0 {
		return initialVol
	}

	vol := initialVol
	for i := 0; i < ivIterations; i++ {
		p.Vol = vol
		diff := Price(p) - price
		if math.Abs(diff) < ivPriceTol {
			break
		}
		vega := Vega(p)
		if vega < ivVegaFloor {
			break
		}
		vol -= diff / (vega * 100)
		if vol < minVol {
			vol = minVol
		}
	}
	return vol
}

// Result bundles implied volatility and Greeks for one option leg.
type Result struct {
	IV     float64 // annualized, fraction
	Greeks models.OptionGreeks
}

// Compute derives IV from the market price and evaluates every Greek at it.
func Compute(price, spot, strike, t, rate float64, optType models.OptionType) Result {
	p := Params{Spot: spot, Strike: strike, T: t, Rate: rate, Type: optType}
	p.Vol = ImpliedVolatility(price, p)
	return Result{
		IV: p.Vol,
		Greeks: models.OptionGreeks{
			Delta: Delta(p),
			Gamma: Gamma(p),
			Theta: Theta(p),
			Vega:  Vega(p),
			Rho:   Rho(p),
		},
	}
}
