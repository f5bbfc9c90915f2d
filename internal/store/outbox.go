package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Outbox statuses.
const (
	OutboxQueued  = "queued"
	OutboxSending = "sending"
	OutboxSent    = "sent"
	OutboxFailed  = "failed"
)

// OutboxEntry is a locally originated message and its delivery state.
type OutboxEntry struct {
	ID             int64
	ClientMsgID    string
	ConversationID int64
	Content        string
	Type           string
	FilePath       string
	Status         string
	ErrorMessage   string
	ServerMsgID    int64
	Attempts       int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ErrOutboxNotFound is returned when no entry matches a client message id.
var ErrOutboxNotFound = errors.New("outbox entry not found")

// QueueOutbox records a send attempt as queued. Queuing an existing client id
// again (a retry) resets it to queued and bumps the attempt counter.
func (db *DB) QueueOutbox(e *OutboxEntry) error {
	now := time.Now().UnixMilli()
	msgType := e.Type
	if msgType == "" {
		msgType = "text"
	}
	_, err := db.Exec(`
		INSERT INTO outbox (client_msg_id, conversation_id, content, type, file_path, status, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'queued', 1, ?, ?)
		ON CONFLICT(client_msg_id) DO UPDATE SET
			status = 'queued',
			error_message = '',
			attempts = outbox.attempts + 1,
			updated_at = excluded.updated_at`,
		e.ClientMsgID, e.ConversationID, e.Content, msgType, e.FilePath, now, now)
	return err
}

// MarkOutboxSending updates an outbox entry to 'sending' status.
func (db *DB) MarkOutboxSending(clientMsgID string) error {
	return db.updateOutbox(`UPDATE outbox SET status = 'sending', updated_at = ? WHERE client_msg_id = ?`,
		time.Now().UnixMilli(), clientMsgID)
}

// MarkOutboxSent updates an outbox entry to 'sent' with the server message ID.
func (db *DB) MarkOutboxSent(clientMsgID string, serverMsgID int64) error {
	return db.updateOutbox(`UPDATE outbox SET status = 'sent', server_msg_id = ?, error_message = '', updated_at = ? WHERE client_msg_id = ?`,
		serverMsgID, time.Now().UnixMilli(), clientMsgID)
}

// MarkOutboxFailed updates an outbox entry to 'failed' with an error message.
func (db *DB) MarkOutboxFailed(clientMsgID, errMsg string) error {
	return db.updateOutbox(`UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE client_msg_id = ?`,
		errMsg, time.Now().UnixMilli(), clientMsgID)
}

func (db *DB) updateOutbox(query string, args ...any) error {
	res, err := db.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrOutboxNotFound
	}
	return nil
}

// GetOutbox returns a single entry by client message id.
func (db *DB) GetOutbox(clientMsgID string) (*OutboxEntry, error) {
	row := db.QueryRow(`SELECT `+outboxColumns+` FROM outbox WHERE client_msg_id = ?`, clientMsgID)
	e, err := scanOutbox(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOutboxNotFound
	}
	return e, err
}

// ListOutbox returns entries in creation order. An empty status lists all.
func (db *DB) ListOutbox(status string) ([]OutboxEntry, error) {
	query := `SELECT ` + outboxColumns + ` FROM outbox`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// FailedOutbox returns entries awaiting a manual retry.
func (db *DB) FailedOutbox() ([]OutboxEntry, error) {
	return db.ListOutbox(OutboxFailed)
}

// RecoverInterruptedOutbox marks rows left queued or sending by a previous
// process as failed. Returns how many rows were touched.
func (db *DB) RecoverInterruptedOutbox(reason string) (int64, error) {
	res, err := db.Exec(`
		UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ?
		WHERE status IN ('queued', 'sending')`,
		reason, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("recover outbox: %w", err)
	}
	return res.RowsAffected()
}

// DeleteOutbox drops an entry.
func (db *DB) DeleteOutbox(clientMsgID string) error {
	return db.updateOutbox(`DELETE FROM outbox WHERE client_msg_id = ?`, clientMsgID)
}

const outboxColumns = `id, client_msg_id, conversation_id, content, type, file_path, status, error_message, server_msg_id, attempts, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutbox(r rowScanner) (*OutboxEntry, error) {
	var (
		e                OutboxEntry
		created, updated int64
	)
	if err := r.Scan(&e.ID, &e.ClientMsgID, &e.ConversationID, &e.Content, &e.Type, &e.FilePath,
		&e.Status, &e.ErrorMessage, &e.ServerMsgID, &e.Attempts, &created, &updated); err != nil {
		return nil, err
	}
	e.CreatedAt = time.UnixMilli(created)
	e.UpdatedAt = time.UnixMilli(updated)
	return &e, nil
}
