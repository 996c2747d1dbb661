// Package signal scores option legs with pluggable heuristics.
package signal

import (
	"math"

	"optionchain/internal/greeks"
	"optionchain/internal/models"
)

// Input is everything a strategy may look at for one leg.
type Input struct {
	Type   models.OptionType
	LTP    float64
	Spot   float64
	Strike float64
	Greeks models.OptionGreeks
}

// Strategy derives a signal for one option leg.
type Strategy interface {
	Name() string
	Derive(in Input) models.Signal
}

// Neutral is the signal reported for a missing leg or an unusable price.
func Neutral() models.Signal {
	return models.Signal{
		Type:       models.SignalHold,
		Strength:   3,
		Quality:    "moderate",
		Confidence: "medium",
	}
}

// DeltaTheta grades legs by delta band, gamma/vega quality and a theta penalty.
type DeltaTheta struct {
	// TargetMoves are spot moves as fractions of spot for TP1..TP3.
	TargetMoves [3]float64
}

// NewDeltaTheta returns the default strategy with 1/2/3 percent targets.
func NewDeltaTheta() *DeltaTheta {
	return &DeltaTheta{TargetMoves: [3]float64{0.01, 0.02, 0.03}}
}

// Name implements Strategy.
func (s *DeltaTheta) Name() string { return "delta-theta" }

// Derive implements Strategy.
func (s *DeltaTheta) Derive(in Input) models.Signal {
	if in.LTP <= 0 || in.Spot <= 0 {
		return Neutral()
	}

	absDelta := math.Abs(in.Greeks.Delta)
	absTheta := math.Abs(in.Greeks.Theta)
	gamma := in.Greeks.Gamma
	vega := in.Greeks.Vega

	intrinsic := greeks.Intrinsic(in.Spot, in.Strike, in.Type)
	sig := models.Signal{
		IntrinsicVal: round2(intrinsic),
		TimeValue:    round2(math.Max(0, in.LTP-intrinsic)),
	}

	buy := clamp(absDelta*100, 0, 100)
	sig.BuyPercent = round2(buy)
	sig.SellPercent = round2(100 - buy)

	targets := [3]float64{}
	for i, move := range s.TargetMoves {
		m := in.Spot * move
		tp := in.LTP + absDelta*m
		if i > 0 {
			tp += 0.5 * gamma * m * m
		}
		targets[i] = round2(tp)
	}
	sig.TargetPrice1, sig.TargetPrice2, sig.TargetPrice3 = targets[0], targets[1], targets[2]
	sig.StopLoss = round2(math.Max(0, in.LTP-2*absTheta-0.1*in.LTP))

	switch {
	case absDelta > 0.7:
		sig.Type, sig.Strength = models.SignalBuy, 5
	case absDelta > 0.5:
		sig.Type, sig.Strength = models.SignalBuy, 4
	case absDelta > 0.3:
		sig.Type, sig.Strength = models.SignalHold, 3
	case absTheta > 0.05:
		sig.Type, sig.Strength = models.SignalSell, 2
	default:
		sig.Type, sig.Strength = models.SignalHold, 3
	}

	switch {
	case gamma > 0.01 && vega > 0.1:
		sig.Quality, sig.Confidence = "strong", "high"
	case gamma > 0.005 || vega > 0.05:
		sig.Quality, sig.Confidence = "moderate", "medium"
	default:
		sig.Quality, sig.Confidence = "weak", "low"
	}

	// Fast decay erodes long premium.
	if absTheta > 0.05 {
		if sig.Strength > 3 {
			sig.Strength--
		} else {
			sig.Type = models.SignalSell
			sig.Strength--
		}
	}
	sig.Strength = int(clamp(float64(sig.Strength), 1, 5))

	return sig
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

var _ Strategy = (*DeltaTheta)(nil)
