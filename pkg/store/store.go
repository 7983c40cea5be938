// Package store is the persistent event store: a TTL cache, an append-only
// intelligence event log, the SOL-flow and cartel-edge graph tables, and the
// alert subscription table, all in one SQLite database.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

const schema = `
PRAGMA auto_vacuum = INCREMENTAL;

CREATE TABLE IF NOT EXISTS cache (
    key TEXT PRIMARY KEY,
    value BLOB,
    expires_at REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS intelligence_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    event_type TEXT NOT NULL,
    mint TEXT NOT NULL,
    deployer TEXT,
    name TEXT,
    symbol TEXT,
    narrative TEXT,
    mcap_usd REAL DEFAULT 0,
    liq_usd REAL DEFAULT 0,
    created_at TEXT,
    rugged_at TEXT,
    recorded_at REAL NOT NULL,
    extra_json TEXT DEFAULT ''
);

CREATE TABLE IF NOT EXISTS sol_flows (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    mint TEXT NOT NULL,
    from_address TEXT NOT NULL,
    to_address TEXT NOT NULL,
    amount_lamports INTEGER NOT NULL,
    signature TEXT NOT NULL,
    slot INTEGER DEFAULT 0,
    block_time INTEGER DEFAULT 0,
    hop INTEGER DEFAULT 0,
    UNIQUE(mint, signature, from_address, to_address)
);

CREATE TABLE IF NOT EXISTS cartel_edges (
    wallet_a TEXT NOT NULL,
    wallet_b TEXT NOT NULL,
    signal_type TEXT NOT NULL,
    signal_strength REAL NOT NULL,
    evidence_json TEXT DEFAULT '',
    recorded_at REAL NOT NULL,
    UNIQUE(wallet_a, wallet_b, signal_type)
);

CREATE TABLE IF NOT EXISTS operator_mappings (
    fingerprint TEXT NOT NULL,
    wallet TEXT NOT NULL,
    UNIQUE(fingerprint, wallet)
);

CREATE TABLE IF NOT EXISTS alert_subscriptions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    chat_id INTEGER NOT NULL,
    sub_type TEXT NOT NULL,
    value TEXT NOT NULL,
    recorded_at REAL NOT NULL,
    UNIQUE(chat_id, sub_type, value)
);

CREATE TABLE IF NOT EXISTS bundle_reports (
    mint TEXT PRIMARY KEY,
    report_json TEXT NOT NULL,
    generated_at REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_type_mint ON intelligence_events(event_type, mint);
CREATE INDEX IF NOT EXISTS idx_events_deployer ON intelligence_events(deployer);
CREATE INDEX IF NOT EXISTS idx_events_recorded ON intelligence_events(recorded_at);
CREATE INDEX IF NOT EXISTS idx_flows_mint ON sol_flows(mint);
CREATE INDEX IF NOT EXISTS idx_flows_from ON sol_flows(from_address);
CREATE INDEX IF NOT EXISTS idx_flows_time ON sol_flows(block_time);
CREATE INDEX IF NOT EXISTS idx_edges_a ON cartel_edges(wallet_a);
CREATE INDEX IF NOT EXISTS idx_edges_b ON cartel_edges(wallet_b);
CREATE INDEX IF NOT EXISTS idx_mappings_fp ON operator_mappings(fingerprint);
`

// Retention windows enforced by Maintain.
const (
	flowRetention  = 90 * 24 * time.Hour
	eventRetention = 180 * 24 * time.Hour
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite tolerates one writer; serialise through a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// now is the store clock in unix seconds, the resolution of recorded_at.
func now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// ---- Maintenance ----

// Maintain purges expired cache rows and rows past their retention window,
// then forces a WAL checkpoint.
func (s *Store) Maintain() error {
	if n, err := s.PurgeExpiredCache(); err != nil {
		return err
	} else if n > 0 {
		log.Debug().Int64("rows", n).Msg("purged expired cache")
	}

	flowCutoff := time.Now().Add(-flowRetention).Unix()
	if _, err := s.db.Exec("DELETE FROM sol_flows WHERE block_time > 0 AND block_time < ?", flowCutoff); err != nil {
		return err
	}

	eventCutoff := now() - eventRetention.Seconds()
	if _, err := s.db.Exec("DELETE FROM intelligence_events WHERE recorded_at < ?", eventCutoff); err != nil {
		return err
	}

	_, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Vacuum reclaims freed pages; run far less often than Maintain.
func (s *Store) Vacuum() error {
	_, err := s.db.Exec("PRAGMA incremental_vacuum")
	return err
}

// ---- Stats ----

func (s *Store) Stats() map[string]int64 {
	stats := map[string]int64{}
	tables := []string{"cache", "intelligence_events", "sol_flows", "cartel_edges",
		"operator_mappings", "alert_subscriptions", "bundle_reports"}

	for _, t := range tables {
		var count int64
		if err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", t)).Scan(&count); err == nil {
			stats[t] = count
		}
	}
	return stats
}
