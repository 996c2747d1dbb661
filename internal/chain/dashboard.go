package chain

import (
	"context"
	"time"

	"optionchain/internal/models"
)

// Sentiment bands on the put/call ratio.
const (
	bullishPCR = 1.2
	bearishPCR = 0.8
)

// Dashboard builds a chain and condenses it into a summary.
func (e *Engine) Dashboard(ctx context.Context, symbol string, expiry time.Time) (*models.Dashboard, error) {
	snap, err := e.Build(ctx, symbol, expiry)
	if err != nil {
		return nil, err
	}
	return Summarize(snap), nil
}

// Summarize derives the dashboard view of a snapshot.
func Summarize(snap *models.ChainSnapshot) *models.Dashboard {
	d := &models.Dashboard{
		Symbol:        snap.Symbol,
		Expiry:        snap.Expiry,
		SpotPrice:     snap.SpotPrice,
		Change:        snap.Spot.Change,
		ChangePercent: snap.Spot.ChangePercent,
		ATMStrike:     snap.ATMStrike,
		PCR:           snap.Totals.PCR,
		MaxPain:       snap.Totals.MaxPain,
		Sentiment:     Sentiment(snap.Totals.PCR),
		CallOI:        snap.Totals.CallOI,
		PutOI:         snap.Totals.PutOI,
		CallVolume:    snap.Totals.CallVolume,
		PutVolume:     snap.Totals.PutVolume,
		GeneratedAt:   snap.GeneratedAt,
	}

	var maxCallOI, maxPutOI float64
	for _, row := range snap.Rows {
		if row.Call != nil && row.Call.OI > maxCallOI {
			maxCallOI, d.CallWall = row.Call.OI, row.Strike
		}
		if row.Put != nil && row.Put.OI > maxPutOI {
			maxPutOI, d.PutWall = row.Put.OI, row.Strike
		}
		if row.Strike == snap.ATMStrike {
			if row.Call != nil {
				d.ATMCallIV = row.Call.IV
			}
			if row.Put != nil {
				d.ATMPutIV = row.Put.IV
			}
		}
	}
	return d
}

// Sentiment labels a put/call ratio. Heavy put writing reads as support.
func Sentiment(pcr float64) string {
	switch {
	case pcr <= 0:
		return "unknown"
	case pcr >= bullishPCR:
		return "bullish"
	case pcr <= bearishPCR:
		return "bearish"
	default:
		return "neutral"
	}
}
