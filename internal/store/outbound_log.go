package store

import (
	"fmt"
	"time"
)

// RecordOutbound appends e to the outbound log and returns its row id.
// A zero CreatedAt is set to now.
func (db *DB) RecordOutbound(e *OutboundEntry) (int64, error) {
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().UnixMilli()
	}
	res, err := db.Exec(`
		INSERT INTO outbound_log (local_id, chat_key, target, kind, body, filename, status, http_status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.LocalID, e.ChatKey, e.Target, e.Kind, e.Body, e.Filename, e.Status, e.HTTPStatus, e.Error, e.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("record outbound: %w", err)
	}
	e.ID, err = res.LastInsertId()
	return e.ID, err
}

// ListOutbound returns the most recent attempts, newest first.
func (db *DB) ListOutbound(limit int) ([]OutboundEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, local_id, chat_key, target, kind, body, filename, status, http_status, error, created_at
		FROM outbound_log ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list outbound: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboundEntry
	for rows.Next() {
		var e OutboundEntry
		if err := rows.Scan(&e.ID, &e.LocalID, &e.ChatKey, &e.Target, &e.Kind, &e.Body, &e.Filename,
			&e.Status, &e.HTTPStatus, &e.Error, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountOutbound returns the number of attempts with the given status.
func (db *DB) CountOutbound(status string) (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM outbound_log WHERE status = ?`, status).Scan(&n); err != nil {
		return 0, fmt.Errorf("count outbound: %w", err)
	}
	return n, nil
}
