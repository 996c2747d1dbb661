package chain

import (
	"math"
	"sort"

	"optionchain/internal/models"
)

// PCR is the put/call open-interest ratio, zero when there is no call OI.
func PCR(putOI, callOI float64) float64 {
	if callOI <= 0 {
		return 0
	}
	return putOI / callOI
}

// ATMStrike returns the strike closest to spot. Ties go to the lower strike.
func ATMStrike(strikes []float64, spot float64) float64 {
	if spot <= 0 || len(strikes) == 0 {
		return 0
	}
	best := strikes[0]
	bestDist := math.Abs(best - spot)
	for _, k := range strikes[1:] {
		d := math.Abs(k - spot)
		if d < bestDist || (d == bestDist && k < best) {
			best, bestDist = k, d
		}
	}
	return best
}

// StrikeOI is the open interest at one strike.
type StrikeOI struct {
	Strike float64
	CallOI float64
	PutOI  float64
}

// Pain is the total intrinsic value option writers pay if the underlying
// settles at settle.
func Pain(settle float64, oi []StrikeOI) float64 {
	total := 0.0
	for _, s := range oi {
		if settle > s.Strike {
			total += s.CallOI * (settle - s.Strike)
		}
		if settle < s.Strike {
			total += s.PutOI * (s.Strike - settle)
		}
	}
	return total
}

// MaxPain returns the listed strike minimizing Pain. Ties go to the lowest
// strike; an empty chain yields zero.
func MaxPain(oi []StrikeOI) float64 {
	if len(oi) == 0 {
		return 0
	}
	sorted := make([]StrikeOI, len(oi))
	copy(sorted, oi)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Strike < sorted[j].Strike })

	best := sorted[0].Strike
	bestPain := Pain(best, sorted)
	for _, s := range sorted[1:] {
		if p := Pain(s.Strike, sorted); p < bestPain {
			best, bestPain = s.Strike, p
		}
	}
	return best
}

// Totals sums OI and volume over rows and derives PCR and max pain.
func Totals(rows []models.ChainRow) models.ChainTotals {
	var t models.ChainTotals
	oi := make([]StrikeOI, 0, len(rows))
	for _, r := range rows {
		s := StrikeOI{Strike: r.Strike}
		if r.Call != nil {
			t.CallOI += r.Call.OI
			t.CallVolume += r.Call.Volume
			s.CallOI = r.Call.OI
		}
		if r.Put != nil {
			t.PutOI += r.Put.OI
			t.PutVolume += r.Put.Volume
			s.PutOI = r.Put.OI
		}
		oi = append(oi, s)
	}
	t.PCR = PCR(t.PutOI, t.CallOI)
	t.MaxPain = MaxPain(oi)
	return t
}

// firstPositive returns the first positive value, or zero.
func firstPositive(vals ...float64) float64 {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

// mergeOHLC resolves a leg's OHLC from the freshest source that has a value.
// High and low fall back to the resolved open.
func mergeOHLC(intraday, quote, session models.OHLC, ltp float64) models.OHLC {
	open := firstPositive(intraday.Open, quote.Open, session.Open, ltp)
	return models.OHLC{
		Open:  open,
		High:  firstPositive(intraday.High, quote.High, session.High, ltp, open),
		Low:   firstPositive(intraday.Low, quote.Low, session.Low, ltp, open),
		Close: firstPositive(intraday.Close, quote.Close, session.Close, ltp),
	}
}

// byProximity orders tokens by the distance of their strike from ref.
func byProximity(insts []models.Instrument, ref float64) []uint32 {
	sorted := make([]models.Instrument, len(insts))
	copy(sorted, insts)
	sort.SliceStable(sorted, func(i, j int) bool {
		return math.Abs(sorted[i].Strike-ref) < math.Abs(sorted[j].Strike-ref)
	})
	out := make([]uint32, len(sorted))
	for i, inst := range sorted {
		out[i] = inst.Token
	}
	return out
}

// medianStrike is the proximity reference when spot is unknown.
func medianStrike(insts []models.Instrument) float64 {
	if len(insts) == 0 {
		return 0
	}
	strikes := make([]float64, len(insts))
	for i, inst := range insts {
		strikes[i] = inst.Strike
	}
	sort.Float64s(strikes)
	return strikes[len(strikes)/2]
}

func ptr(v float64) *float64 {
	return &v
}
