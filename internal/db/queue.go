package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound is returned by Get when no row has the requested id.
var ErrNotFound = errors.New("queued message not found")

// QueueOption customises a Queue.
type QueueOption func(*Queue)

// WithNowFunc overrides the clock used for created_at.
func WithNowFunc(now func() time.Time) QueueOption {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// Queue is the persistent FIFO of pending webhook messages.
// Every method is a single SQL statement, so each call is atomic.
type Queue struct {
	db     *DB
	logger *zap.Logger
	now    func() time.Time
}

// NewQueue creates a queue over an opened store.
func NewQueue(db *DB, logger *zap.Logger, opts ...QueueOption) *Queue {
	q := &Queue{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends a message. threadID may be nil when the session has no thread yet.
// body is serialized to JSON before it is stored.
func (q *Queue) Enqueue(ctx context.Context, sessionID string, threadID *string, body any) (int64, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshal webhook body: %w", err)
	}

	query := q.db.rebind(`
		INSERT INTO discord_queue (session_id, thread_id, webhook_body, created_at, retry_count, last_error)
		VALUES (?, ?, ?, ?, 0, NULL)
		RETURNING id
	`)

	var id int64
	err = q.db.sql.QueryRowContext(ctx, query,
		sessionID,
		nullString(threadID),
		string(payload),
		q.now().UnixMilli(),
	).Scan(&id)
	if err != nil {
		q.logger.Error("failed to enqueue message",
			zap.Error(err),
			zap.String("session_id", sessionID),
		)
		return 0, fmt.Errorf("insert queued message: %w", err)
	}

	q.logger.Debug("message enqueued",
		zap.Int64("message_id", id),
		zap.String("session_id", sessionID),
		zap.Bool("has_thread", threadID != nil),
	)

	return id, nil
}

// Dequeue returns up to limit of the oldest rows without removing them.
// An empty result means the queue is drained.
func (q *Queue) Dequeue(ctx context.Context, limit int) ([]*QueuedMessage, error) {
	query := q.db.rebind(`
		SELECT id, session_id, thread_id, webhook_body, created_at, retry_count, last_error
		FROM discord_queue
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`)

	rows, err := q.db.sql.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query queued messages: %w", err)
	}
	defer rows.Close()

	var messages []*QueuedMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queued message: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return messages, nil
}

// Get loads a single row by id.
func (q *Queue) Get(ctx context.Context, id int64) (*QueuedMessage, error) {
	query := q.db.rebind(`
		SELECT id, session_id, thread_id, webhook_body, created_at, retry_count, last_error
		FROM discord_queue
		WHERE id = ?
	`)

	msg, err := scanMessage(q.db.sql.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query queued message: %w", err)
	}
	return msg, nil
}

// Delete acknowledges a row. Deleting a missing id is a no-op.
func (q *Queue) Delete(ctx context.Context, id int64) error {
	query := q.db.rebind(`DELETE FROM discord_queue WHERE id = ?`)

	if _, err := q.db.sql.ExecContext(ctx, query, id); err != nil {
		q.logger.Error("failed to delete queued message",
			zap.Error(err),
			zap.Int64("message_id", id),
		)
		return fmt.Errorf("delete queued message: %w", err)
	}
	return nil
}

// UpdateThreadID assigns threadID to every row of the session that has no thread yet.
// Rows that already carry a thread id are left untouched. Returns the number of rows patched.
func (q *Queue) UpdateThreadID(ctx context.Context, sessionID, threadID string) (int64, error) {
	query := q.db.rebind(`
		UPDATE discord_queue
		SET thread_id = ?
		WHERE session_id = ? AND thread_id IS NULL
	`)

	result, err := q.db.sql.ExecContext(ctx, query, threadID, sessionID)
	if err != nil {
		q.logger.Error("failed to update thread id",
			zap.Error(err),
			zap.String("session_id", sessionID),
		)
		return 0, fmt.Errorf("update thread id: %w", err)
	}

	patched, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	q.logger.Debug("thread id assigned",
		zap.String("session_id", sessionID),
		zap.String("thread_id", threadID),
		zap.Int64("rows", patched),
	)

	return patched, nil
}

// UpdateRetryCount records a failed delivery attempt for one row.
func (q *Queue) UpdateRetryCount(ctx context.Context, id int64, retryCount int, lastError string) error {
	query := q.db.rebind(`
		UPDATE discord_queue
		SET retry_count = ?, last_error = ?
		WHERE id = ?
	`)

	if _, err := q.db.sql.ExecContext(ctx, query, retryCount, lastError, id); err != nil {
		q.logger.Error("failed to update retry count",
			zap.Error(err),
			zap.Int64("message_id", id),
		)
		return fmt.Errorf("update retry count: %w", err)
	}
	return nil
}

// Count returns the number of pending rows.
func (q *Queue) Count(ctx context.Context) (int, error) {
	var count int
	if err := q.db.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM discord_queue`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count queued messages: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*QueuedMessage, error) {
	var (
		msg        QueuedMessage
		threadID   sql.NullString
		body       string
		retryCount sql.NullInt64
		lastError  sql.NullString
	)

	if err := row.Scan(
		&msg.ID,
		&msg.SessionID,
		&threadID,
		&body,
		&msg.CreatedAt,
		&retryCount,
		&lastError,
	); err != nil {
		return nil, err
	}

	if threadID.Valid {
		msg.ThreadID = &threadID.String
	}
	if lastError.Valid {
		msg.LastError = &lastError.String
	}
	msg.RetryCount = int(retryCount.Int64)
	msg.WebhookBody = json.RawMessage(body)

	return &msg, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
