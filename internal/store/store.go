// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"optionchain/internal/models"
)

// InstrumentStore persists the last good instrument list per exchange so a
// cold start can serve the catalog while the upstream listing is down.
type InstrumentStore interface {
	SaveInstruments(ctx context.Context, exchange models.Exchange, instruments []models.Instrument) error
	LoadInstruments(ctx context.Context, exchange models.Exchange) ([]models.Instrument, error)

	// Sync tracking
	GetLastSync(dataType string) time.Time
	SetLastSync(dataType string, t time.Time) error

	Close() error
}
