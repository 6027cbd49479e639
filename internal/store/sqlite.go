// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Single-writer discipline with a bounded-wait gate and transactional multi-row writes

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// defaultWriteWait bounds how long a mutating operation waits for the
// writer gate before failing with ErrBusy.
const defaultWriteWait = 5 * time.Second

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	logger    *slog.Logger
	writeGate chan struct{}
	writeWait time.Duration
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:        db,
		logger:    logger,
		writeGate: make(chan struct{}, 1),
		writeWait: defaultWriteWait,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS threads (
			thread_id        TEXT PRIMARY KEY,
			subject          TEXT NOT NULL,
			participants     TEXT NOT NULL DEFAULT '[]',
			metadata         TEXT NOT NULL DEFAULT '{}',
			created_at       TEXT NOT NULL,
			last_activity_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_threads_last_activity
			ON threads(last_activity_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			message_id  TEXT PRIMARY KEY,
			thread_id   TEXT NOT NULL REFERENCES threads(thread_id),
			from_handle TEXT NOT NULL,
			to_handles  TEXT NOT NULL DEFAULT '[]',
			subject     TEXT NOT NULL,
			body        TEXT NOT NULL,
			in_reply_to TEXT,
			tags        TEXT NOT NULL DEFAULT '[]',
			created_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_thread_created
			ON messages(thread_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_messages_from
			ON messages(from_handle);

		CREATE TABLE IF NOT EXISTS address_book (
			handle       TEXT PRIMARY KEY,
			display_name TEXT,
			description  TEXT,
			tags         TEXT NOT NULL DEFAULT '[]',
			is_active    INTEGER NOT NULL DEFAULT 1,
			version      INTEGER NOT NULL DEFAULT 1,
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL,
			updated_by   TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS audit_log (
			event_id      TEXT PRIMARY KEY,
			event_type    TEXT NOT NULL,
			actor_handle  TEXT NOT NULL,
			target_handle TEXT,
			details_json  TEXT,
			ts            TEXT NOT NULL,

			CHECK (event_type IN (
				'thread_create',
				'message_send',
				'message_reply',
				'address_book_add',
				'address_book_update',
				'thread_metadata_update'
			))
		);

		CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_log(actor_handle);
		CREATE INDEX IF NOT EXISTS idx_audit_target ON audit_log(target_handle);
		CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_log(event_type);

		CREATE TABLE IF NOT EXISTS schema_metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);

		INSERT OR IGNORE INTO schema_metadata (key, value) VALUES ('schema_version', '1');
	`

	_, err := s.db.Exec(schema)
	return err
}

// dataTables are the tables whose joint existence (with schema_metadata)
// signals an initialized database to external health checks.
var dataTables = []string{"messages", "threads", "address_book", "audit_log", "schema_metadata"}

// Health reports whether all expected tables exist.
func (s *SQLiteStore) Health(ctx context.Context) error {
	for _, table := range dataTables {
		var name string
		err := s.db.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
		).Scan(&name)
		if err == sql.ErrNoRows {
			return fmt.Errorf("table %s missing: database not initialized", table)
		}
		if err != nil {
			return fmt.Errorf("checking table %s: %w", table, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// acquireWrite takes the single-writer gate, waiting at most writeWait.
// Concurrent mutations queue here rather than interleave.
func (s *SQLiteStore) acquireWrite(ctx context.Context) (release func(), err error) {
	timer := time.NewTimer(s.writeWait)
	defer timer.Stop()

	select {
	case s.writeGate <- struct{}{}:
		return func() { <-s.writeGate }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrBusy
	}
}

// withWriteTx runs fn inside a transaction behind the writer gate.
func (s *SQLiteStore) withWriteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	release, err := s.acquireWrite(ctx)
	if err != nil {
		return err
	}
	defer release()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation.
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullString returns nil for empty strings, otherwise the string itself.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func marshalStrings(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshaling string list: %w", err)
	}
	return string(data), nil
}

func unmarshalStrings(data string) ([]string, error) {
	if data == "" {
		return []string{}, nil
	}
	var v []string
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, fmt.Errorf("unmarshaling string list: %w", err)
	}
	return v, nil
}

// CreateThread inserts a thread, its first message, and the accompanying
// audit events as one atomic unit.
func (s *SQLiteStore) CreateThread(ctx context.Context, thread *Thread, first *Message, events []*AuditEvent) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		participants, err := marshalStrings(thread.Participants)
		if err != nil {
			return err
		}
		metadata := thread.Metadata
		if metadata == nil {
			metadata = map[string]string{}
		}
		metadataJSON, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshaling thread metadata: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO threads (thread_id, subject, participants, metadata, created_at, last_activity_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`,
			thread.ID,
			thread.Subject,
			participants,
			string(metadataJSON),
			thread.CreatedAt.UTC().Format(time.RFC3339),
			thread.LastActivity.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("inserting thread: %w", err)
		}

		if err := insertMessage(ctx, tx, first); err != nil {
			return err
		}
		if err := appendEvents(ctx, tx, events); err != nil {
			return err
		}

		s.logger.Debug("created thread", "thread_id", thread.ID, "message_id", first.ID)
		return nil
	})
}

// AppendMessage inserts a reply, advances the thread's participant set and
// last_activity_at, and appends audit events, all in one transaction.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message, participants []string, lastActivity time.Time, events []*AuditEvent) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		if err := insertMessage(ctx, tx, msg); err != nil {
			return err
		}

		participantsJSON, err := marshalStrings(participants)
		if err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, `
			UPDATE threads
			SET participants = ?,
			    last_activity_at = MAX(last_activity_at, ?)
			WHERE thread_id = ?
		`, participantsJSON, lastActivity.UTC().Format(time.RFC3339), msg.ThreadID)
		if err != nil {
			return fmt.Errorf("updating thread activity: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("getting rows affected: %w", err)
		}
		if rows == 0 {
			return ErrNotFound
		}

		if err := appendEvents(ctx, tx, events); err != nil {
			return err
		}

		s.logger.Debug("appended message", "message_id", msg.ID, "thread_id", msg.ThreadID)
		return nil
	})
}

func insertMessage(ctx context.Context, tx *sql.Tx, msg *Message) error {
	to, err := marshalStrings(msg.To)
	if err != nil {
		return err
	}
	tags, err := marshalStrings(msg.Tags)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (message_id, thread_id, from_handle, to_handles, subject, body, in_reply_to, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.ThreadID,
		msg.From,
		to,
		msg.Subject,
		msg.Body,
		nullString(msg.InReplyTo),
		tags,
		msg.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

const threadColumns = `thread_id, subject, participants, metadata, created_at, last_activity_at`

func scanThread(scanner interface{ Scan(dest ...any) error }) (*Thread, error) {
	var t Thread
	var participants, metadata, createdAt, lastActivity string

	if err := scanner.Scan(&t.ID, &t.Subject, &participants, &metadata, &createdAt, &lastActivity); err != nil {
		return nil, err
	}

	var err error
	t.Participants, err = unmarshalStrings(participants)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(metadata), &t.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshaling thread metadata: %w", err)
	}
	t.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	t.LastActivity, err = time.Parse(time.RFC3339, lastActivity)
	if err != nil {
		return nil, fmt.Errorf("parsing last_activity_at: %w", err)
	}
	return &t, nil
}

// GetThread retrieves a thread by ID.
// Returns ErrNotFound if the thread doesn't exist.
func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*Thread, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+threadColumns+` FROM threads WHERE thread_id = ?`, id)

	thread, err := scanThread(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying thread: %w", err)
	}
	return thread, nil
}

// ListThreads retrieves threads ordered by most recent activity, newest
// first. Threads touched within the same second keep a stable order via the
// thread ID tiebreak (IDs are monotonic ULIDs). The participant restriction
// runs in SQL, before the limit, so a participant's threads cannot be
// displaced by newer threads they are not in.
func (s *SQLiteStore) ListThreads(ctx context.Context, f ThreadFilter) ([]*Thread, error) {
	query := `SELECT ` + threadColumns + ` FROM threads`
	var args []any
	if f.Participant != "" {
		// Participants are a JSON string array; the quoted pattern matches
		// whole elements only, since handles cannot contain quotes.
		query += ` WHERE participants LIKE ? ESCAPE '\'`
		args = append(args, `%"`+escapeLike(f.Participant)+`"%`)
	}
	query += ` ORDER BY last_activity_at DESC, thread_id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying threads: %w", err)
	}
	defer rows.Close()

	var threads []*Thread
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning thread row: %w", err)
		}
		threads = append(threads, thread)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating thread rows: %w", err)
	}
	return threads, nil
}

// escapeLike escapes LIKE metacharacters so user text matches literally.
// Every pattern built with it must carry ESCAPE '\' on the LIKE clause.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// normalizeLimit applies default (100) and cap (1000) to list limits.
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

const messageColumns = `message_id, thread_id, from_handle, to_handles, subject, body, in_reply_to, tags, created_at`

func scanMessage(scanner interface{ Scan(dest ...any) error }) (*Message, error) {
	var m Message
	var to, tags, createdAt string
	var inReplyTo sql.NullString

	if err := scanner.Scan(&m.ID, &m.ThreadID, &m.From, &to, &m.Subject, &m.Body, &inReplyTo, &tags, &createdAt); err != nil {
		return nil, err
	}

	var err error
	m.To, err = unmarshalStrings(to)
	if err != nil {
		return nil, err
	}
	m.Tags, err = unmarshalStrings(tags)
	if err != nil {
		return nil, err
	}
	if inReplyTo.Valid {
		m.InReplyTo = inReplyTo.String
	}
	m.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing message created_at: %w", err)
	}
	return &m, nil
}

// GetMessage retrieves a message by ID.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE message_id = ?`, id)

	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}
	return msg, nil
}

// LatestMessage returns the most recently created message in a thread.
// Creation-time ties are broken by message ID, which preserves insertion
// order because IDs are monotonic ULIDs.
func (s *SQLiteStore) LatestMessage(ctx context.Context, threadID string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE thread_id = ?
		ORDER BY created_at DESC, message_id DESC
		LIMIT 1
	`, threadID)

	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest message: %w", err)
	}
	return msg, nil
}

// ListMessages returns messages matching the filter in created_at ascending
// order (message ID tiebreak). Text matching is a case-insensitive substring
// match; recipient matching checks the to_handles JSON payload.
func (s *SQLiteStore) ListMessages(ctx context.Context, f MessageFilter) ([]*Message, error) {
	var conds []string
	var args []any

	if f.ThreadID != "" {
		conds = append(conds, "thread_id = ?")
		args = append(args, f.ThreadID)
	}
	if f.ThreadIDs != nil {
		if len(f.ThreadIDs) == 0 {
			return []*Message{}, nil
		}
		placeholders := strings.Repeat("?,", len(f.ThreadIDs))
		conds = append(conds, fmt.Sprintf("thread_id IN (%s)", placeholders[:len(placeholders)-1]))
		for _, id := range f.ThreadIDs {
			args = append(args, id)
		}
	}
	if f.Query != "" {
		pattern := "%" + escapeLike(strings.ToLower(f.Query)) + "%"
		inSubject, inBody := f.InSubject, f.InBody
		if !inSubject && !inBody {
			inSubject, inBody = true, true
		}
		switch {
		case inSubject && inBody:
			conds = append(conds, `(LOWER(subject) LIKE ? ESCAPE '\' OR LOWER(body) LIKE ? ESCAPE '\')`)
			args = append(args, pattern, pattern)
		case inSubject:
			conds = append(conds, `LOWER(subject) LIKE ? ESCAPE '\'`)
			args = append(args, pattern)
		default:
			conds = append(conds, `LOWER(body) LIKE ? ESCAPE '\'`)
			args = append(args, pattern)
		}
	}
	if f.From != "" {
		conds = append(conds, "from_handle = ?")
		args = append(args, f.From)
	}
	if f.To != "" {
		// Handles contain no quotes, so matching the JSON-encoded form is
		// exact; underscores in the handle are escaped to keep it so.
		conds = append(conds, `to_handles LIKE ? ESCAPE '\'`)
		args = append(args, `%"`+escapeLike(f.To)+`"%`)
	}

	query := `SELECT ` + messageColumns + ` FROM messages`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC, message_id ASC"
	query += " LIMIT ? OFFSET ?"
	args = append(args, normalizeLimit(f.Limit), max(f.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

// SetThreadMetadata sets or removes one metadata key. A nil value removes
// the key; setting an existing key to the same value is a no-op write.
// The metadata read and rewrite happen inside the write transaction so
// concurrent updates to different keys cannot lose each other.
func (s *SQLiteStore) SetThreadMetadata(ctx context.Context, threadID, key string, value *string, events []*AuditEvent) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		var metadataJSON string
		err := tx.QueryRowContext(ctx,
			`SELECT metadata FROM threads WHERE thread_id = ?`, threadID,
		).Scan(&metadataJSON)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("querying thread metadata: %w", err)
		}

		var metadata map[string]string
		if err := json.Unmarshal([]byte(metadataJSON), &metadata); err != nil {
			return fmt.Errorf("unmarshaling thread metadata: %w", err)
		}
		if metadata == nil {
			metadata = map[string]string{}
		}

		if value == nil {
			delete(metadata, key)
		} else {
			metadata[key] = *value
		}

		updated, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshaling thread metadata: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE threads SET metadata = ? WHERE thread_id = ?`, string(updated), threadID,
		); err != nil {
			return fmt.Errorf("updating thread metadata: %w", err)
		}

		if err := appendEvents(ctx, tx, events); err != nil {
			return err
		}

		s.logger.Debug("set thread metadata", "thread_id", threadID, "key", key, "removed", value == nil)
		return nil
	})
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)
