package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"shopbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

// DB implements RecipientStore and BroadcastStore on sqlite.
type DB struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*DB, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &DB{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *DB) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *DB) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- RecipientStore ----

func (s *DB) Touch(ctx context.Context, id int64, username string, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	ts := at.UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recipients(id, username, first_seen_at, last_interaction_at)
		 VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   username = excluded.username,
		   last_interaction_at = excluded.last_interaction_at`,
		id, nullStr(username), ts, ts,
	)
	return err
}

func (s *DB) All(ctx context.Context) ([]Recipient, error) {
	return s.queryRecipients(ctx,
		`SELECT id, username, first_seen_at, last_interaction_at
		 FROM recipients ORDER BY id`)
}

func (s *DB) ActiveSince(ctx context.Context, cutoff time.Time) ([]Recipient, error) {
	return s.queryRecipients(ctx,
		`SELECT id, username, first_seen_at, last_interaction_at
		 FROM recipients WHERE last_interaction_at >= ? ORDER BY id`,
		cutoff.UTC().Format(time.RFC3339Nano))
}

func (s *DB) queryRecipients(ctx context.Context, query string, args ...any) ([]Recipient, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Recipient
	for rows.Next() {
		var (
			r        Recipient
			username sql.NullString
			seen     string
			last     string
		)
		if err := rows.Scan(&r.ID, &username, &seen, &last); err != nil {
			return nil, err
		}
		r.Username = username.String
		r.FirstSeenAt = parseTime(seen)
		r.LastInteractionAt = parseTime(last)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---- BroadcastStore ----

func (s *DB) Create(ctx context.Context, rec BroadcastRecord) error {
	if rec.ID == "" {
		return errors.New("broadcast id is required")
	}
	if rec.Status == "" {
		rec.Status = StatusDraft
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO broadcasts(id, title, message, image_url, audience, status,
		   sent_count, blocked_count, failed_count, total_count, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.Title, rec.Message, nullStr(rec.ImageURL), rec.Audience,
		string(rec.Status), rec.SentCount, rec.BlockedCount, rec.FailedCount,
		rec.TotalCount, rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *DB) MarkSending(ctx context.Context, id string, total int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE broadcasts SET status = ?, total_count = ?
		 WHERE id = ? AND status = ?`,
		string(StatusSending), total, id, string(StatusDraft),
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *DB) Finalize(ctx context.Context, id string, status BroadcastStatus, sent, blocked, failed int, completedAt time.Time) error {
	if status != StatusSent && status != StatusFailed {
		return fmt.Errorf("finalize with non-final status %q", status)
	}
	if completedAt.IsZero() {
		completedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE broadcasts
		 SET status = ?, sent_count = ?, blocked_count = ?, failed_count = ?, completed_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		string(status), sent, blocked, failed,
		completedAt.UTC().Format(time.RFC3339Nano),
		id, string(StatusDraft), string(StatusSending),
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *DB) List(ctx context.Context, limit int) ([]BroadcastRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, message, image_url, audience, status,
		   sent_count, blocked_count, failed_count, total_count,
		   created_at, completed_at
		 FROM broadcasts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BroadcastRecord
	for rows.Next() {
		rec, err := scanBroadcast(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *DB) Get(ctx context.Context, id string) (BroadcastRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, message, image_url, audience, status,
		   sent_count, blocked_count, failed_count, total_count,
		   created_at, completed_at
		 FROM broadcasts WHERE id = ?`, id)
	rec, err := scanBroadcast(row)
	if errors.Is(err, sql.ErrNoRows) {
		return BroadcastRecord{}, ErrNotFound
	}
	return rec, err
}

func (s *DB) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM broadcasts
		 WHERE status IN (?, ?) AND completed_at < ?`,
		string(StatusSent), string(StatusFailed),
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBroadcast(row rowScanner) (BroadcastRecord, error) {
	var (
		rec       BroadcastRecord
		imageURL  sql.NullString
		status    string
		created   string
		completed sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.Title, &rec.Message, &imageURL, &rec.Audience,
		&status, &rec.SentCount, &rec.BlockedCount, &rec.FailedCount,
		&rec.TotalCount, &created, &completed)
	if err != nil {
		return BroadcastRecord{}, err
	}
	rec.ImageURL = imageURL.String
	rec.Status = BroadcastStatus(status)
	rec.CreatedAt = parseTime(created)
	if completed.Valid {
		t := parseTime(completed.String)
		rec.CompletedAt = &t
	}
	return rec, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
