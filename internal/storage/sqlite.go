package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"broadcaster/internal/model"
)

type Store struct {
	DB *sql.DB
}

// Open opens/initializes SQLite database with WAL, then migrates schema.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// One writer keeps the send loop and HTTP handlers from tripping SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		// continue; non-fatal
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{DB: db}, nil
}

// Close closes underlying DB.
func (s *Store) Close() error { return s.DB.Close() }

func migrate(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS campaign_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			campaign_id TEXT NOT NULL,
			status TEXT NOT NULL,
			payload TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS campaign_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			campaign_id TEXT,
			message TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS send_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			campaign_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			target TEXT,
			status TEXT NOT NULL,
			error TEXT,
			message_preview TEXT,
			attempt INTEGER NOT NULL DEFAULT 1
		);`,
		`CREATE INDEX IF NOT EXISTS idx_campaign_logs_campaign_ts ON campaign_logs(campaign_id, ts);`,
		`CREATE INDEX IF NOT EXISTS idx_send_logs_campaign_ts ON send_logs(campaign_id, ts);`,
		`CREATE INDEX IF NOT EXISTS idx_send_logs_status ON send_logs(campaign_id, status);`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// GetSnapshot returns the persisted campaign, or nil if there is none.
func (s *Store) GetSnapshot() (*model.Snapshot, error) {
	var payload string
	err := s.DB.QueryRow(`SELECT payload FROM campaign_state WHERE id=1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap model.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// SetSnapshot replaces the persisted campaign.
func (s *Store) SetSnapshot(snap model.Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(`
		INSERT INTO campaign_state (id, campaign_id, status, payload, updated_at)
		VALUES (1,?,?,?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			campaign_id=excluded.campaign_id,
			status=excluded.status,
			payload=excluded.payload,
			updated_at=CURRENT_TIMESTAMP
	`, snap.ID, string(snap.Status), string(b))
	return err
}

// ClearSnapshot deletes the persisted campaign.
func (s *Store) ClearSnapshot() error {
	_, err := s.DB.Exec(`DELETE FROM campaign_state WHERE id=1`)
	return err
}

// AppendLog stores one campaign log line.
func (s *Store) AppendLog(campaignID, message string) error {
	_, err := s.DB.Exec(`INSERT INTO campaign_logs (ts, campaign_id, message) VALUES (?,?,?)`,
		time.Now().UTC(), campaignID, message)
	return err
}

// RecentLogs returns up to limit log lines, newest first. An empty campaignID
// matches every campaign.
func (s *Store) RecentLogs(campaignID string, limit int) ([]model.CampaignLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if campaignID != "" {
		rows, err = s.DB.Query(`SELECT id,ts,COALESCE(campaign_id,''),message FROM campaign_logs WHERE campaign_id=? ORDER BY id DESC LIMIT ?`, campaignID, limit)
	} else {
		rows, err = s.DB.Query(`SELECT id,ts,COALESCE(campaign_id,''),message FROM campaign_logs ORDER BY id DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []model.CampaignLog
	for rows.Next() {
		var l model.CampaignLog
		if err := rows.Scan(&l.ID, &l.TS, &l.CampaignID, &l.Message); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

// LogSend records one per-recipient outcome.
func (s *Store) LogSend(r model.SendResult) error {
	ts := r.At
	if ts.IsZero() {
		ts = time.Now()
	}
	attempts := r.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	_, err := s.DB.Exec(`INSERT INTO send_logs (ts,campaign_id,idx,target,status,error,message_preview,attempt)
		VALUES (?,?,?,?,?,?,?,?)`,
		ts.UTC(), r.CampaignID, r.Index, r.Target, r.Status, r.Error, r.Preview, attempts)
	return err
}

// FailedSends lists the recipients of a campaign whose retries were exhausted,
// in send order.
func (s *Store) FailedSends(campaignID string) ([]model.LogEntry, error) {
	rows, err := s.DB.Query(`SELECT id,ts,campaign_id,idx,COALESCE(target,''),status,COALESCE(error,''),COALESCE(message_preview,''),attempt
		FROM send_logs WHERE campaign_id=? AND status=? ORDER BY idx, id`, campaignID, model.SendFailed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []model.LogEntry
	for rows.Next() {
		var e model.LogEntry
		if err := rows.Scan(&e.ID, &e.TS, &e.CampaignID, &e.Index, &e.Target, &e.Status, &e.Error, &e.MessagePrev, &e.Attempt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// Stats aggregates send_logs for one campaign.
type Stats struct {
	Total   int64 `json:"total"`
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
	Skipped int64 `json:"skipped"`
}

func (s *Store) CampaignStats(campaignID string) (Stats, error) {
	var st Stats
	row := s.DB.QueryRow(`
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN status='sent' THEN 1 ELSE 0 END), 0) AS sent,
			COALESCE(SUM(CASE WHEN status='failed' THEN 1 ELSE 0 END), 0) AS failed,
			COALESCE(SUM(CASE WHEN status='skipped' THEN 1 ELSE 0 END), 0) AS skipped
		FROM send_logs
		WHERE campaign_id=?`, campaignID)
	if err := row.Scan(&st.Total, &st.Sent, &st.Failed, &st.Skipped); err != nil {
		return Stats{}, err
	}
	return st, nil
}

// StatsToday aggregates every send recorded since local midnight.
func (s *Store) StatsToday() (total, success, failed int64, err error) {
	row := s.DB.QueryRow(`
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN status='sent' THEN 1 ELSE 0 END), 0) AS success,
			COALESCE(SUM(CASE WHEN status='failed' THEN 1 ELSE 0 END), 0) AS failed
		FROM send_logs
		WHERE ts >= ?`, startOfDay(time.Now()).UTC())
	if err := row.Scan(&total, &success, &failed); err != nil {
		return 0, 0, 0, err
	}
	return total, success, failed, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
