package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rug-tracer/pkg/model"
)

// ---- Intelligence events ----

// InsertEvent appends a row; recorded_at is set server-side and is
// non-decreasing per inserter.
func (s *Store) InsertEvent(ev model.TokenEvent) error {
	_, err := s.db.Exec(`
		INSERT INTO intelligence_events
		(event_type, mint, deployer, name, symbol, narrative, mcap_usd, liq_usd, created_at, rugged_at, recorded_at, extra_json)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		ev.EventType, ev.Mint, ev.Deployer, ev.Name, ev.Symbol, ev.Narrative,
		ev.McapUSD, ev.LiqUSD, ev.CreatedAt, ev.RuggedAt, now(), ev.ExtraJSON)
	return err
}

// QueryEvents is the generic read. The where clause is trusted in-process
// code; arguments are always parameterised.
func (s *Store) QueryEvents(where string, args []any, orderBy string, limit int) ([]model.TokenEvent, error) {
	q := `SELECT event_type, mint, COALESCE(deployer,''), COALESCE(name,''), COALESCE(symbol,''),
		COALESCE(narrative,''), mcap_usd, liq_usd, COALESCE(created_at,''), COALESCE(rugged_at,''),
		recorded_at, COALESCE(extra_json,'') FROM intelligence_events`
	if where != "" {
		q += " WHERE " + where
	}
	if orderBy != "" {
		q += " ORDER BY " + orderBy
	}
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.TokenEvent
	for rows.Next() {
		var ev model.TokenEvent
		if err := rows.Scan(&ev.EventType, &ev.Mint, &ev.Deployer, &ev.Name, &ev.Symbol,
			&ev.Narrative, &ev.McapUSD, &ev.LiqUSD, &ev.CreatedAt, &ev.RuggedAt,
			&ev.RecordedAt, &ev.ExtraJSON); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// HasEvent reports whether any row matches (event_type, mint).
func (s *Store) HasEvent(eventType, mint string) bool {
	var n int64
	s.db.QueryRow("SELECT COUNT(*) FROM intelligence_events WHERE event_type=? AND mint=?", eventType, mint).Scan(&n)
	return n > 0
}

// UpdateEventExtra merges fields into the extra_json blob of the newest row
// matching (event_type, mint). Lazy enrichment caching for the cartel sweep.
func (s *Store) UpdateEventExtra(eventType, mint string, fields map[string]any) error {
	var id int64
	var raw string
	err := s.db.QueryRow(`SELECT id, COALESCE(extra_json,'') FROM intelligence_events
		WHERE event_type=? AND mint=? ORDER BY recorded_at DESC LIMIT 1`, eventType, mint).Scan(&id, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	merged := (&model.TokenEvent{ExtraJSON: raw}).Extra()
	if merged == nil {
		merged = map[string]any{}
	}
	for k, v := range fields {
		merged[k] = v
	}
	blob, err := json.Marshal(merged)
	if err != nil {
		return err
	}

	_, err = s.db.Exec("UPDATE intelligence_events SET extra_json=? WHERE id=?", string(blob), id)
	return err
}

// ---- SOL flows ----

// InsertSolFlows writes a batch atomically; idempotent on
// (mint, signature, from, to).
func (s *Store) InsertSolFlows(edges []model.SolFlowEdge) error {
	if len(edges) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO sol_flows
		(mint, from_address, to_address, amount_lamports, signature, slot, block_time, hop)
		VALUES (?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range edges {
		if e.FromAddress == e.ToAddress {
			continue
		}
		if _, err := stmt.Exec(e.Mint, e.FromAddress, e.ToAddress, e.AmountLamports,
			e.Signature, e.Slot, e.BlockTime, e.Hop); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) SolFlowsForMint(mint string) ([]model.SolFlowEdge, error) {
	return s.scanFlows("SELECT mint, from_address, to_address, amount_lamports, signature, slot, block_time, hop FROM sol_flows WHERE mint=? ORDER BY hop, block_time", mint)
}

func (s *Store) SolFlowsFrom(address string) ([]model.SolFlowEdge, error) {
	return s.scanFlows("SELECT mint, from_address, to_address, amount_lamports, signature, slot, block_time, hop FROM sol_flows WHERE from_address=?", address)
}

func (s *Store) scanFlows(q string, args ...any) ([]model.SolFlowEdge, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []model.SolFlowEdge
	for rows.Next() {
		var e model.SolFlowEdge
		if err := rows.Scan(&e.Mint, &e.FromAddress, &e.ToAddress, &e.AmountLamports,
			&e.Signature, &e.Slot, &e.BlockTime, &e.Hop); err != nil {
			continue
		}
		e.AmountSOL = float64(e.AmountLamports) / model.LamportsPerSOL
		edges = append(edges, e)
	}
	return edges, nil
}

// ---- Cartel edges ----

// UpsertCartelEdge normalises the pair ordering so (X,Y) and (Y,X) land on a
// single row, then keeps whichever observation carries the higher strength.
func (s *Store) UpsertCartelEdge(a, b, signalType string, strength float64, evidence string) error {
	if a == b {
		return nil
	}
	if a > b {
		a, b = b, a
	}
	_, err := s.db.Exec(`
		INSERT INTO cartel_edges (wallet_a, wallet_b, signal_type, signal_strength, evidence_json, recorded_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(wallet_a, wallet_b, signal_type) DO UPDATE SET
			signal_strength = excluded.signal_strength,
			evidence_json = excluded.evidence_json,
			recorded_at = excluded.recorded_at
		WHERE excluded.signal_strength >= cartel_edges.signal_strength`,
		a, b, signalType, strength, evidence, now())
	return err
}

func (s *Store) CartelEdges() ([]model.CartelEdge, error) {
	rows, err := s.db.Query("SELECT wallet_a, wallet_b, signal_type, signal_strength, COALESCE(evidence_json,''), recorded_at FROM cartel_edges")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []model.CartelEdge
	for rows.Next() {
		var e model.CartelEdge
		if err := rows.Scan(&e.WalletA, &e.WalletB, &e.SignalType, &e.SignalStrength, &e.EvidenceJSON, &e.RecordedAt); err != nil {
			continue
		}
		edges = append(edges, e)
	}
	return edges, nil
}

// CartelEdgesFor returns every edge touching the wallet.
func (s *Store) CartelEdgesFor(wallet string) ([]model.CartelEdge, error) {
	rows, err := s.db.Query("SELECT wallet_a, wallet_b, signal_type, signal_strength, COALESCE(evidence_json,''), recorded_at FROM cartel_edges WHERE wallet_a=? OR wallet_b=?", wallet, wallet)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []model.CartelEdge
	for rows.Next() {
		var e model.CartelEdge
		if err := rows.Scan(&e.WalletA, &e.WalletB, &e.SignalType, &e.SignalStrength, &e.EvidenceJSON, &e.RecordedAt); err != nil {
			continue
		}
		edges = append(edges, e)
	}
	return edges, nil
}

// ---- Operator mappings ----

func (s *Store) UpsertOperatorMapping(fingerprint, wallet string) error {
	_, err := s.db.Exec("INSERT OR IGNORE INTO operator_mappings (fingerprint, wallet) VALUES (?,?)", fingerprint, wallet)
	return err
}

func (s *Store) OperatorMappings() ([]model.OperatorMapping, error) {
	rows, err := s.db.Query("SELECT fingerprint, wallet FROM operator_mappings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.OperatorMapping
	for rows.Next() {
		var m model.OperatorMapping
		if err := rows.Scan(&m.Fingerprint, &m.Wallet); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) WalletsForFingerprint(fingerprint string) ([]string, error) {
	rows, err := s.db.Query("SELECT wallet FROM operator_mappings WHERE fingerprint=?", fingerprint)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wallets []string
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			continue
		}
		wallets = append(wallets, w)
	}
	return wallets, nil
}

// ---- Alert subscriptions ----

func (s *Store) Subscribe(chatID int64, subType, value string) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO alert_subscriptions (chat_id, sub_type, value, recorded_at) VALUES (?,?,?,?)`,
		chatID, subType, value, now())
	return err
}

func (s *Store) Unsubscribe(chatID int64, subType, value string) error {
	_, err := s.db.Exec("DELETE FROM alert_subscriptions WHERE chat_id=? AND sub_type=? AND value=?", chatID, subType, value)
	return err
}

func (s *Store) SubscriptionsFor(chatID int64) ([]model.AlertSubscription, error) {
	return s.scanSubs("SELECT id, chat_id, sub_type, value, recorded_at FROM alert_subscriptions WHERE chat_id=?", chatID)
}

func (s *Store) AllSubscriptions() ([]model.AlertSubscription, error) {
	return s.scanSubs("SELECT id, chat_id, sub_type, value, recorded_at FROM alert_subscriptions")
}

func (s *Store) scanSubs(q string, args ...any) ([]model.AlertSubscription, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []model.AlertSubscription
	for rows.Next() {
		var sub model.AlertSubscription
		if err := rows.Scan(&sub.ID, &sub.ChatID, &sub.SubType, &sub.Value, &sub.RecordedAt); err != nil {
			continue
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// ---- Bundle reports ----

func (s *Store) SaveBundleReport(mint string, report *model.BundleExtractionReport) error {
	blob, err := json.Marshal(report)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO bundle_reports (mint, report_json, generated_at) VALUES (?,?,?)
		ON CONFLICT(mint) DO UPDATE SET report_json=excluded.report_json, generated_at=excluded.generated_at`,
		mint, string(blob), now())
	return err
}

// FreshBundleReport returns a cached report newer than ttl, or nil.
func (s *Store) FreshBundleReport(mint string, ttl time.Duration) *model.BundleExtractionReport {
	var blob string
	var generatedAt float64
	err := s.db.QueryRow("SELECT report_json, generated_at FROM bundle_reports WHERE mint=?", mint).Scan(&blob, &generatedAt)
	if err != nil {
		return nil
	}
	if now()-generatedAt > ttl.Seconds() {
		return nil
	}

	var report model.BundleExtractionReport
	if err := json.Unmarshal([]byte(blob), &report); err != nil {
		return nil
	}
	return &report
}
