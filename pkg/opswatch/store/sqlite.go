package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/randalmurphal/opswatch/pkg/opswatch/errtrack"
	"github.com/randalmurphal/opswatch/pkg/opswatch/notify"
)

// SQLiteStore persists error records and notifications to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS error_records (
	id       TEXT PRIMARY KEY,
	type     TEXT NOT NULL,
	message  TEXT NOT NULL,
	severity TEXT NOT NULL,
	ts       INTEGER NOT NULL,
	context  TEXT,
	metadata TEXT
);
CREATE INDEX IF NOT EXISTS idx_error_records_ts ON error_records(ts);
CREATE INDEX IF NOT EXISTS idx_error_records_key ON error_records(type, message);

CREATE TABLE IF NOT EXISTS notifications (
	id      TEXT PRIMARY KEY,
	type    TEXT NOT NULL,
	message TEXT NOT NULL,
	ts      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_ts ON notifications(ts);

CREATE TABLE IF NOT EXISTS notification_receipts (
	notification_id TEXT NOT NULL REFERENCES notifications(id) ON DELETE CASCADE,
	recipient_id    TEXT NOT NULL,
	pos             INTEGER NOT NULL,
	read            INTEGER NOT NULL DEFAULT 0,
	read_at         INTEGER,
	PRIMARY KEY (notification_id, recipient_id)
);
CREATE INDEX IF NOT EXISTS idx_receipts_recipient ON notification_receipts(recipient_id, read);
`

// NewSQLiteStore creates a SQLite-backed store. The path should be a
// file path (e.g. "./opswatch.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite single writer
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Ping reports whether the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Close closes the database. Subsequent operations return ErrStoreClosed.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *SQLiteStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// ErrorRecords returns the errtrack.Repository view of the store.
func (s *SQLiteStore) ErrorRecords() *SQLiteErrorRepo {
	return &SQLiteErrorRepo{store: s}
}

// Notifications returns the notify.Repository view of the store.
func (s *SQLiteStore) Notifications() *SQLiteNotificationRepo {
	return &SQLiteNotificationRepo{store: s}
}

// SQLiteErrorRepo implements errtrack.Repository over a SQLiteStore.
type SQLiteErrorRepo struct {
	store *SQLiteStore
}

// Compile-time interface check.
var _ errtrack.Repository = (*SQLiteErrorRepo)(nil)

// Insert implements errtrack.Repository.
func (r *SQLiteErrorRepo) Insert(ctx context.Context, rec *errtrack.Record) error {
	if err := r.store.checkOpen(); err != nil {
		return err
	}

	contextJSON, err := marshalMap(rec.Context)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}
	metadataJSON, err := marshalMap(rec.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	_, err = r.store.db.ExecContext(ctx, `
		INSERT INTO error_records (id, type, message, severity, ts, context, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Type, rec.Message, string(rec.Severity), rec.Time.UnixNano(),
		contextJSON, metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("insert error record: %w", err)
	}
	return nil
}

// List implements errtrack.Repository.
func (r *SQLiteErrorRepo) List(ctx context.Context, f errtrack.Filter) ([]*errtrack.Record, error) {
	if err := r.store.checkOpen(); err != nil {
		return nil, err
	}

	var where []string
	var args []any
	if !f.From.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, f.From.UnixNano())
	}
	if !f.To.IsZero() {
		where = append(where, "ts < ?")
		args = append(args, f.To.UnixNano())
	}
	if f.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, string(f.Severity))
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}

	query := "SELECT id, type, message, severity, ts, context, metadata FROM error_records"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts ASC"

	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error records: %w", err)
	}
	defer rows.Close()

	var out []*errtrack.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteBefore implements errtrack.Repository.
func (r *SQLiteErrorRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if err := r.store.checkOpen(); err != nil {
		return 0, err
	}

	res, err := r.store.db.ExecContext(ctx,
		"DELETE FROM error_records WHERE ts < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete error records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func scanRecord(rows *sql.Rows) (*errtrack.Record, error) {
	var rec errtrack.Record
	var severity string
	var ts int64
	var contextJSON, metadataJSON sql.NullString

	if err := rows.Scan(&rec.ID, &rec.Type, &rec.Message, &severity, &ts, &contextJSON, &metadataJSON); err != nil {
		return nil, fmt.Errorf("scan error record: %w", err)
	}
	rec.Severity = errtrack.Severity(severity)
	rec.Time = time.Unix(0, ts).UTC()

	var err error
	if rec.Context, err = unmarshalMap(contextJSON); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	if rec.Metadata, err = unmarshalMap(metadataJSON); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &rec, nil
}

func marshalMap(m map[string]any) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalMap(ns sql.NullString) (map[string]any, error) {
	if !ns.Valid {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// SQLiteNotificationRepo implements notify.Repository over a SQLiteStore.
type SQLiteNotificationRepo struct {
	store *SQLiteStore
}

// Compile-time interface check.
var _ notify.Repository = (*SQLiteNotificationRepo)(nil)

// Insert implements notify.Repository.
func (r *SQLiteNotificationRepo) Insert(ctx context.Context, n *notify.Notification) error {
	if err := r.store.checkOpen(); err != nil {
		return err
	}

	tx, err := r.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO notifications (id, type, message, ts) VALUES (?, ?, ?, ?)",
		n.ID, string(n.Type), n.Message, n.Time.UnixNano(),
	); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}

	for i, receipt := range n.Receipts {
		var readAt sql.NullInt64
		if receipt.ReadAt != nil {
			readAt = sql.NullInt64{Int64: receipt.ReadAt.UnixNano(), Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO notification_receipts (notification_id, recipient_id, pos, read, read_at) VALUES (?, ?, ?, ?, ?)",
			n.ID, receipt.RecipientID, i, boolToInt(receipt.Read), readAt,
		); err != nil {
			return fmt.Errorf("insert receipt: %w", err)
		}
	}

	return tx.Commit()
}

// Get implements notify.Repository.
func (r *SQLiteNotificationRepo) Get(ctx context.Context, id string) (*notify.Notification, error) {
	if err := r.store.checkOpen(); err != nil {
		return nil, err
	}
	return r.load(ctx, id)
}

func (r *SQLiteNotificationRepo) load(ctx context.Context, id string) (*notify.Notification, error) {
	var n notify.Notification
	var typ string
	var ts int64
	err := r.store.db.QueryRowContext(ctx,
		"SELECT id, type, message, ts FROM notifications WHERE id = ?", id,
	).Scan(&n.ID, &typ, &n.Message, &ts)
	if err == sql.ErrNoRows {
		return nil, notify.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query notification: %w", err)
	}
	n.Type = notify.Type(typ)
	n.Time = time.Unix(0, ts).UTC()

	rows, err := r.store.db.QueryContext(ctx,
		"SELECT recipient_id, read, read_at FROM notification_receipts WHERE notification_id = ? ORDER BY pos",
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var receipt notify.Receipt
		var read int
		var readAt sql.NullInt64
		if err := rows.Scan(&receipt.RecipientID, &read, &readAt); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		receipt.Read = read != 0
		if readAt.Valid {
			t := time.Unix(0, readAt.Int64).UTC()
			receipt.ReadAt = &t
		}
		n.Receipts = append(n.Receipts, receipt)
	}
	return &n, rows.Err()
}

// MarkRead implements notify.Repository.
func (r *SQLiteNotificationRepo) MarkRead(ctx context.Context, id, recipientID string, at time.Time) (bool, error) {
	if err := r.store.checkOpen(); err != nil {
		return false, err
	}

	res, err := r.store.db.ExecContext(ctx,
		"UPDATE notification_receipts SET read = 1, read_at = ? WHERE notification_id = ? AND recipient_id = ? AND read = 0",
		at.UnixNano(), id, recipientID,
	)
	if err != nil {
		return false, fmt.Errorf("mark read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}

	// Nothing flipped: distinguish already-read from absent.
	var read int
	err = r.store.db.QueryRowContext(ctx,
		"SELECT read FROM notification_receipts WHERE notification_id = ? AND recipient_id = ?",
		id, recipientID,
	).Scan(&read)
	if err == sql.ErrNoRows {
		return false, notify.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("check receipt: %w", err)
	}
	return false, nil
}

// MarkAllRead implements notify.Repository.
func (r *SQLiteNotificationRepo) MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int, error) {
	if err := r.store.checkOpen(); err != nil {
		return 0, err
	}

	res, err := r.store.db.ExecContext(ctx,
		"UPDATE notification_receipts SET read = 1, read_at = ? WHERE recipient_id = ? AND read = 0",
		at.UnixNano(), recipientID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// UnreadCount implements notify.Repository.
func (r *SQLiteNotificationRepo) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	if err := r.store.checkOpen(); err != nil {
		return 0, err
	}

	var count int
	err := r.store.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM notification_receipts WHERE recipient_id = ? AND read = 0",
		recipientID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

// ListByRecipient implements notify.Repository.
func (r *SQLiteNotificationRepo) ListByRecipient(ctx context.Context, recipientID string, limit int) ([]*notify.Notification, error) {
	if err := r.store.checkOpen(); err != nil {
		return nil, err
	}

	query := `
		SELECT n.id FROM notifications n
		JOIN notification_receipts r ON r.notification_id = n.id
		WHERE r.recipient_id = ?
		ORDER BY n.ts DESC`
	args := []any{recipientID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*notify.Notification, 0, len(ids))
	for _, id := range ids {
		n, err := r.load(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// Delete implements notify.Repository.
func (r *SQLiteNotificationRepo) Delete(ctx context.Context, id string) error {
	if err := r.store.checkOpen(); err != nil {
		return err
	}

	res, err := r.store.db.ExecContext(ctx, "DELETE FROM notifications WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notify.ErrNotFound
	}
	return nil
}

// DeleteReadBefore implements notify.Repository.
func (r *SQLiteNotificationRepo) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if err := r.store.checkOpen(); err != nil {
		return 0, err
	}

	res, err := r.store.db.ExecContext(ctx, `
		DELETE FROM notifications
		WHERE ts < ?
		AND NOT EXISTS (
			SELECT 1 FROM notification_receipts r
			WHERE r.notification_id = notifications.id AND r.read = 0
		)`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete read notifications: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
