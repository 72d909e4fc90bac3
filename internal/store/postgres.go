package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ent0n29/hrdesk/internal/dialogue"
)

// PostgresStore keeps one JSONB snapshot row per session plus the
// transcript and action log tables.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			session_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL DEFAULT '',
			active_intent TEXT NOT NULL DEFAULT '',
			task_status TEXT NOT NULL DEFAULT '',
			queue TEXT[] NOT NULL DEFAULT '{}',
			turn_count INTEGER NOT NULL DEFAULT 0,
			snapshot JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations (updated_at);`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			turn_id TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			pii_redacted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session_seq ON messages (session_id, seq);`,
		`CREATE TABLE IF NOT EXISTS action_executions (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			task_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			intent TEXT NOT NULL,
			action TEXT NOT NULL,
			notifier TEXT NOT NULL,
			status TEXT NOT NULL,
			payload JSONB NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_action_executions_session_seq ON action_executions (session_id, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_action_executions_task ON action_executions (task_id);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init store schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, sessionID string) (*dialogue.Session, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT snapshot FROM conversations WHERE session_id=$1`, sessionID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, dialogue.ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	return decodeSession(raw)
}

func (s *PostgresStore) Save(ctx context.Context, sess *dialogue.Session) error {
	raw, err := encodeSession(sess)
	if err != nil {
		return err
	}
	st := sess.Status()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO conversations (
			session_id, user_id, active_intent, task_status, queue, turn_count, snapshot, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (session_id) DO UPDATE SET
			user_id=EXCLUDED.user_id,
			active_intent=EXCLUDED.active_intent,
			task_status=EXCLUDED.task_status,
			queue=EXCLUDED.queue,
			turn_count=EXCLUDED.turn_count,
			snapshot=EXCLUDED.snapshot,
			updated_at=EXCLUDED.updated_at`,
		sess.ID,
		sess.UserID,
		st.ActiveIntent,
		string(st.TaskStatus),
		st.Queue,
		sess.TurnCount,
		raw,
		sess.CreatedAt,
		sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, msg Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, session_id, user_id, turn_id, role, content, pii_redacted, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		msg.ID, msg.SessionID, msg.UserID, msg.TurnID, string(msg.Role), msg.Content, msg.PIIRedacted, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *PostgresStore) Messages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, user_id, turn_id, role, content, pii_redacted, created_at FROM (
			SELECT * FROM messages WHERE session_id=$1 ORDER BY seq DESC LIMIT $2
		 ) recent ORDER BY seq ASC`,
		sessionID, listLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			msg  Message
			role string
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.UserID, &msg.TurnID, &role, &msg.Content, &msg.PIIRedacted, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = Role(role)
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) RecordAction(ctx context.Context, exec ActionExecution) error {
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = time.Now().UTC()
	}
	payload := exec.Payload
	if payload == "" {
		payload = "{}"
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO action_executions (
			id, task_id, session_id, intent, action, notifier, status, payload, message, error, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		exec.ID, exec.TaskID, exec.SessionID, exec.Intent, exec.Action, exec.Notifier,
		string(exec.Status), payload, exec.Message, exec.Error, exec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record action: %w", err)
	}
	return nil
}

func (s *PostgresStore) Actions(ctx context.Context, sessionID string, limit int) ([]ActionExecution, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, session_id, intent, action, notifier, status, payload::text, message, error, created_at FROM (
			SELECT * FROM action_executions WHERE session_id=$1 ORDER BY seq DESC LIMIT $2
		 ) recent ORDER BY seq ASC`,
		sessionID, listLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var out []ActionExecution
	for rows.Next() {
		var (
			exec   ActionExecution
			status string
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
			&exec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		exec.Status = ActionStatus(status)
		out = append(out, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate action rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SentAction(ctx context.Context, taskID string) (ActionExecution, bool, error) {
	var (
		exec   ActionExecution
		status string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, task_id, session_id, intent, action, notifier, status, payload::text, message, error, created_at
		 FROM action_executions WHERE task_id=$1 AND status=$2 ORDER BY seq DESC LIMIT 1`,
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
		&exec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return ActionExecution{}, false, nil
	}
	if err != nil {
		return ActionExecution{}, false, fmt.Errorf("lookup action for task %s: %w", taskID, err)
	}
	exec.Status = ActionStatus(status)
	return exec, true, nil
}

func (s *PostgresStore) ExpireIdle(ctx context.Context, before time.Time) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `DELETE FROM conversations WHERE updated_at < $1 RETURNING session_id`, before)
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return 0, fmt.Errorf("collect expired sessions: %w", err)
	}
	if len(ids) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE session_id = ANY($1)`, ids); err != nil {
			return 0, fmt.Errorf("expire messages: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM action_executions WHERE session_id = ANY($1)`, ids); err != nil {
			return 0, fmt.Errorf("expire actions: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return len(ids), nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
