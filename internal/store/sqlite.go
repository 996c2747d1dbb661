package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "optionchain/internal/errors"
	"optionchain/internal/models"
)

// SQLiteStore implements InstrumentStore using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	syncTimes map[string]time.Time
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:        db,
		syncTimes: make(map[string]time.Time),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Last good instrument listing per exchange
	CREATE TABLE IF NOT EXISTS instruments (
		exchange TEXT NOT NULL,
		token INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		name TEXT NOT NULL,
		segment TEXT,
		lot_size INTEGER,
		tick_size REAL,
		expiry DATETIME,
		strike REAL,
		option_type TEXT,
		PRIMARY KEY (exchange, token)
	);

	CREATE INDEX IF NOT EXISTS idx_instruments_name ON instruments(exchange, name, expiry);

	-- Sync status table
	CREATE TABLE IF NOT EXISTS sync_status (
		data_type TEXT PRIMARY KEY,
		last_sync DATETIME NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveInstruments replaces the stored listing for an exchange.
func (s *SQLiteStore) SaveInstruments(ctx context.Context, exchange models.Exchange, instruments []models.Instrument) error {
	if len(instruments) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM instruments WHERE exchange = ?`, string(exchange)); err != nil {
		return fmt.Errorf("failed to clear instruments: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO instruments
			(exchange, token, symbol, name, segment, lot_size, tick_size, expiry, strike, option_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, inst := range instruments {
		_, err := stmt.ExecContext(ctx, string(exchange), inst.Token, inst.Symbol, inst.Name, inst.Segment,
			inst.LotSize, inst.TickSize, inst.Expiry.UTC(), inst.Strike, string(inst.OptionType))
		if err != nil {
			return fmt.Errorf("failed to insert instrument %d: %w", inst.Token, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// LoadInstruments returns the stored listing for an exchange.
func (s *SQLiteStore) LoadInstruments(ctx context.Context, exchange models.Exchange) ([]models.Instrument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token, symbol, name, segment, lot_size, tick_size, expiry, strike, option_type
		FROM instruments
		WHERE exchange = ?
	`, string(exchange))
	if err != nil {
		return nil, fmt.Errorf("failed to query instruments: %w", err)
	}
	defer rows.Close()

	var instruments []models.Instrument
	for rows.Next() {
		var (
			inst       models.Instrument
			segment    sql.NullString
			optionType sql.NullString
			expiry     sql.NullTime
		)
		if err := rows.Scan(&inst.Token, &inst.Symbol, &inst.Name, &segment, &inst.LotSize,
			&inst.TickSize, &expiry, &inst.Strike, &optionType); err != nil {
			return nil, fmt.Errorf("failed to scan instrument: %w", err)
		}
		inst.Exchange = exchange
		inst.Segment = segment.String
		inst.OptionType = models.OptionType(optionType.String)
		if expiry.Valid {
			inst.Expiry = expiry.Time
		}
		instruments = append(instruments, inst)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating instruments: %w", err)
	}

	if len(instruments) == 0 {
		return nil, apperrors.Wrapf(apperrors.ErrDataNotFound, "no stored instruments for %s", exchange)
	}

	return instruments, nil
}

// GetLastSync returns the last sync time for a data type.
func (s *SQLiteStore) GetLastSync(dataType string) time.Time {
	s.mu.RLock()
	if t, ok := s.syncTimes[dataType]; ok {
		s.mu.RUnlock()
		return t
	}
	s.mu.RUnlock()

	var lastSync time.Time
	err := s.db.QueryRow(`
		SELECT last_sync FROM sync_status WHERE data_type = ?
	`, dataType).Scan(&lastSync)
	if err != nil {
		return time.Time{}
	}

	s.mu.Lock()
	s.syncTimes[dataType] = lastSync
	s.mu.Unlock()

	return lastSync
}

// SetLastSync sets the last sync time for a data type.
func (s *SQLiteStore) SetLastSync(dataType string, t time.Time) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sync_status (data_type, last_sync, updated_at)
		VALUES (?, ?, ?)
	`, dataType, t, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set last sync: %w", err)
	}

	s.mu.Lock()
	s.syncTimes[dataType] = t
	s.mu.Unlock()

	return nil
}

var _ InstrumentStore = (*SQLiteStore)(nil)
