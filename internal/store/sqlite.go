package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"

	"github.com/ent0n29/hrdesk/internal/dialogue"
)

// SQLiteStore is the single-node store. Timestamps are kept as RFC 3339
// text with nanoseconds so ordering by string matches ordering by time.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; the engine already serializes per session.
	db.SetMaxOpenConns(1)
	if err := initSQLiteSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func initSQLiteSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS conversations (
			session_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL DEFAULT '',
			active_intent TEXT NOT NULL DEFAULT '',
			task_status TEXT NOT NULL DEFAULT '',
			turn_count INTEGER NOT NULL DEFAULT 0,
			snapshot TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations (updated_at);`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			turn_id TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			pii_redacted INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session_seq ON messages (session_id, seq);`,
		`CREATE TABLE IF NOT EXISTS action_executions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			task_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			intent TEXT NOT NULL,
			action TEXT NOT NULL,
			notifier TEXT NOT NULL,
			status TEXT NOT NULL,
			payload TEXT NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_action_executions_session_seq ON action_executions (session_id, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_action_executions_task ON action_executions (task_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init store schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (*dialogue.Session, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM conversations WHERE session_id=?`, sessionID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dialogue.ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	return decodeSession([]byte(raw))
}

func (s *SQLiteStore) Save(ctx context.Context, sess *dialogue.Session) error {
	raw, err := encodeSession(sess)
	if err != nil {
		return err
	}
	st := sess.Status()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (
			session_id, user_id, active_intent, task_status, turn_count, snapshot, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT (session_id) DO UPDATE SET
			user_id=excluded.user_id,
			active_intent=excluded.active_intent,
			task_status=excluded.task_status,
			turn_count=excluded.turn_count,
			snapshot=excluded.snapshot,
			updated_at=excluded.updated_at`,
		sess.ID,
		sess.UserID,
		st.ActiveIntent,
		string(st.TaskStatus),
		sess.TurnCount,
		string(raw),
		formatTime(sess.CreatedAt),
		formatTime(sess.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, user_id, turn_id, role, content, pii_redacted, created_at)
		 VALUES (?,?,?,?,?,?,?,?)`,
		msg.ID, msg.SessionID, msg.UserID, msg.TurnID, string(msg.Role), msg.Content, msg.PIIRedacted, formatTime(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Messages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, user_id, turn_id, role, content, pii_redacted, created_at FROM (
			SELECT * FROM messages WHERE session_id=? ORDER BY seq DESC LIMIT ?
		 ) ORDER BY seq ASC`,
		sessionID, listLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			msg     Message
			role    string
			created string
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.UserID, &msg.TurnID, &role, &msg.Content, &msg.PIIRedacted, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = Role(role)
		msg.CreatedAt = parseTime(created)
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) RecordAction(ctx context.Context, exec ActionExecution) error {
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = time.Now().UTC()
	}
	if exec.Payload == "" {
		exec.Payload = "{}"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO action_executions (
			id, task_id, session_id, intent, action, notifier, status, payload, message, error, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		exec.ID, exec.TaskID, exec.SessionID, exec.Intent, exec.Action, exec.Notifier,
		string(exec.Status), exec.Payload, exec.Message, exec.Error, formatTime(exec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("record action: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Actions(ctx context.Context, sessionID string, limit int) ([]ActionExecution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, session_id, intent, action, notifier, status, payload, message, error, created_at FROM (
			SELECT * FROM action_executions WHERE session_id=? ORDER BY seq DESC LIMIT ?
		 ) ORDER BY seq ASC`,
		sessionID, listLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var out []ActionExecution
	for rows.Next() {
		var (
			exec    ActionExecution
			status  string
			created string
		)
		if err := rows.Scan(
			&exec.ID,
			&exec.TaskID,
			&exec.SessionID,
			&exec.Intent,
			&exec.Action,
			&exec.Notifier,
			&status,
			&exec.Payload,
			&exec.Message,
			&exec.Error,
			&created,
		); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		exec.Status = ActionStatus(status)
		exec.CreatedAt = parseTime(created)
		out = append(out, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate action rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) SentAction(ctx context.Context, taskID string) (ActionExecution, bool, error) {
	var (
		exec    ActionExecution
		status  string
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, task_id, session_id, intent, action, notifier, status, payload, message, error, created_at
		 FROM action_executions WHERE task_id=? AND status=? ORDER BY seq DESC LIMIT 1`,
		taskID, string(ActionSent),
	).Scan(
		&exec.ID,
		&exec.TaskID,
		&exec.SessionID,
		&exec.Intent,
		&exec.Action,
		&exec.Notifier,
		&status,
		&exec.Payload,
		&exec.Message,
		&exec.Error,
		&created,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return ActionExecution{}, false, nil
	}
	if err != nil {
		return ActionExecution{}, false, fmt.Errorf("lookup action for task %s: %w", taskID, err)
	}
	exec.Status = ActionStatus(status)
	exec.CreatedAt = parseTime(created)
	return exec, true, nil
}

func (s *SQLiteStore) ExpireIdle(ctx context.Context, before time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cutoff := formatTime(before)
	for _, stmt := range []string{
		`DELETE FROM messages WHERE session_id IN (SELECT session_id FROM conversations WHERE updated_at < ?)`,
		`DELETE FROM action_executions WHERE session_id IN (SELECT session_id FROM conversations WHERE updated_at < ?)`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, cutoff); err != nil {
			return 0, fmt.Errorf("expire session rows: %w", err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTime)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(sqliteTime, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
