// Package storage implements ports.Storage over SQLite (pure Go, no cgo).
//
// Strategy:
//   - `trades`: one row per order_id (UPSERT). Looked up by order_id so
//     repeated calls for the same order never duplicate a row.
//   - `entry_snapshots`: one row per trade_id, a rich feature record for a
//     downstream learning component; opaque to this package.
//   - `candidates`: lifecycle state transitions.
//   - An in-memory set of known order_ids is filled at open and on every
//     write; no method reads it, since the upsert is a single
//     INSERT ... ON CONFLICT(order_id) statement.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/alejandrodnm/putpipeline/internal/domain"
	"github.com/alejandrodnm/putpipeline/internal/ports"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
    trade_id     TEXT PRIMARY KEY,
    order_id     TEXT NOT NULL UNIQUE,
    symbol       TEXT NOT NULL,
    strike       TEXT NOT NULL,
    expiration   DATETIME NOT NULL,
    option_type  TEXT NOT NULL,
    entry_date   DATETIME,
    entry_premium TEXT NOT NULL DEFAULT '0',
    contracts    INTEGER NOT NULL DEFAULT 0,
    otm_fraction TEXT NOT NULL DEFAULT '0',
    dte          INTEGER NOT NULL DEFAULT 0,
    reasoning    TEXT,
    confidence   REAL NOT NULL DEFAULT 0,
    state        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS entry_snapshots (
    trade_id TEXT PRIMARY KEY,
    fields   TEXT NOT NULL,
    FOREIGN KEY(trade_id) REFERENCES trades(trade_id)
);

CREATE TABLE IF NOT EXISTS candidates (
    candidate_id INTEGER PRIMARY KEY,
    state        TEXT NOT NULL,
    updated_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
CREATE INDEX IF NOT EXISTS idx_trades_state  ON trades(state);
`

// SQLiteStorage implements ports.Storage using modernc.org/sqlite.
type SQLiteStorage struct {
	db *sql.DB

	mu            sync.Mutex
	knownOrderIDs map[string]struct{}
}

// NewSQLiteStorage opens (or creates) the database at path, applies the
// schema, and warms the known-order-id cache.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{db: db, knownOrderIDs: make(map[string]struct{})}
	s.warmCache(context.Background())
	return s, nil
}

// ApplySchema is a no-op beyond construction; present to satisfy
// ports.Storage for callers that apply schema lazily.
func (s *SQLiteStorage) ApplySchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// InsertTrade inserts a new Trade row. Callers must ensure order_id is
// not already present; use UpsertTrade for the common save_pending /
// save_filled flow.
func (s *SQLiteStorage) InsertTrade(ctx context.Context, t domain.Trade) error {
	if err := s.exec(ctx, t, false); err != nil {
		return fmt.Errorf("storage.InsertTrade: %w", err)
	}
	s.mu.Lock()
	s.knownOrderIDs[t.OrderID] = struct{}{}
	s.mu.Unlock()
	return nil
}

// UpsertTrade inserts a new row keyed by order_id, or updates the
// existing row's mutable fields (entry_premium, entry_date, reasoning,
// state) if order_id is already present. This is the discipline behind
// save_pending / save_filled: repeated calls for the same order_id never
// duplicate a row.
func (s *SQLiteStorage) UpsertTrade(ctx context.Context, t domain.Trade) error {
	if err := s.exec(ctx, t, true); err != nil {
		return fmt.Errorf("storage.UpsertTrade: %w", err)
	}
	s.mu.Lock()
	s.knownOrderIDs[t.OrderID] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *SQLiteStorage) exec(ctx context.Context, t domain.Trade, upsert bool) error {
	q := `
		INSERT INTO trades
			(trade_id, order_id, symbol, strike, expiration, option_type,
			 entry_date, entry_premium, contracts, otm_fraction, dte,
			 reasoning, confidence, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if upsert {
		q += `
		ON CONFLICT(order_id) DO UPDATE SET
			entry_premium = excluded.entry_premium,
			entry_date    = excluded.entry_date,
			reasoning     = excluded.reasoning,
			state         = excluded.state`
	}
	_, err := s.db.ExecContext(ctx, q,
		t.TradeID, t.OrderID, t.Symbol, t.Strike.String(), t.Expiration.UTC(), t.OptionType,
		nullableTime(t.EntryDate), t.EntryPremium.String(), t.Contracts, t.OTMFraction.String(), t.DTE,
		t.Reasoning, t.Confidence, string(t.State),
	)
	return err
}

// GetTradeByOrderID looks up a Trade by its broker order id.
func (s *SQLiteStorage) GetTradeByOrderID(ctx context.Context, orderID string) (domain.Trade, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT trade_id, order_id, symbol, strike, expiration, option_type,
		       entry_date, entry_premium, contracts, otm_fraction, dte,
		       reasoning, confidence, state
		FROM trades WHERE order_id = ?`, orderID)
	t, err := scanTrade(row)
	if err == sql.ErrNoRows {
		return domain.Trade{}, false, nil
	}
	if err != nil {
		return domain.Trade{}, false, fmt.Errorf("storage.GetTradeByOrderID: %w", err)
	}
	return t, true, nil
}

// GetAllTrades returns every persisted Trade, used by the Reconciler.
func (s *SQLiteStorage) GetAllTrades(ctx context.Context) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trade_id, order_id, symbol, strike, expiration, option_type,
		       entry_date, entry_premium, contracts, otm_fraction, dte,
		       reasoning, confidence, state
		FROM trades`)
	if err != nil {
		return nil, fmt.Errorf("storage.GetAllTrades: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.GetAllTrades: scan: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(row scanner) (domain.Trade, error) {
	var t domain.Trade
	var strikeStr, premiumStr, otmStr, state string
	var expiration time.Time
	var entryDate sql.NullTime

	if err := row.Scan(
		&t.TradeID, &t.OrderID, &t.Symbol, &strikeStr, &expiration, &t.OptionType,
		&entryDate, &premiumStr, &t.Contracts, &otmStr, &t.DTE,
		&t.Reasoning, &t.Confidence, &state,
	); err != nil {
		return domain.Trade{}, err
	}

	t.Expiration = expiration
	if entryDate.Valid {
		t.EntryDate = entryDate.Time
	}
	t.State = domain.TradeState(state)
	t.Strike, _ = decimal.NewFromString(strikeStr)
	t.EntryPremium, _ = decimal.NewFromString(premiumStr)
	t.OTMFraction, _ = decimal.NewFromString(otmStr)
	return t, nil
}

// InsertEntrySnapshot persists an opaque feature record keyed by trade id.
func (s *SQLiteStorage) InsertEntrySnapshot(ctx context.Context, snap ports.EntrySnapshot) error {
	data, err := json.Marshal(snap.Fields)
	if err != nil {
		return fmt.Errorf("storage.InsertEntrySnapshot: marshal: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entry_snapshots (trade_id, fields) VALUES (?, ?)
		ON CONFLICT(trade_id) DO UPDATE SET fields = excluded.fields`,
		snap.TradeID, string(data))
	if err != nil {
		return fmt.Errorf("storage.InsertEntrySnapshot: %w", err)
	}
	return nil
}

// UpdateCandidateState records a candidate's lifecycle transition.
func (s *SQLiteStorage) UpdateCandidateState(ctx context.Context, candidateID int64, state domain.CandidateState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO candidates (candidate_id, state, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(candidate_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		candidateID, string(state), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("storage.UpdateCandidateState: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) warmCache(ctx context.Context) {
	rows, err := s.db.QueryContext(ctx, `SELECT order_id FROM trades`)
	if err != nil {
		return
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for rows.Next() {
		var orderID string
		if rows.Scan(&orderID) == nil {
			s.knownOrderIDs[orderID] = struct{}{}
		}
	}
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
