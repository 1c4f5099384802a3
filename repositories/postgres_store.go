package repositories

import (
	"context"
	"database/sql"
	goerrors "errors"
	"fmt"
	"log/slog"

	"chat-relay/domain"
	"chat-relay/errors"

	"github.com/lib/pq"
	"github.com/samber/lo"
)

// foreign_key_violation
const pqForeignKeyViolation = "23503"

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id       TEXT PRIMARY KEY,
	username TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	is_group   BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS conversation_participants (
	conversation_id TEXT NOT NULL REFERENCES conversations (id) ON DELETE CASCADE,
	user_id         TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	PRIMARY KEY (conversation_id, user_id)
);
CREATE TABLE IF NOT EXISTS messages (
	id              BIGSERIAL PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations (id) ON DELETE CASCADE,
	sender_id       TEXT NOT NULL REFERENCES users (id),
	content         TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages (conversation_id, id);
`

const (
	queryUpsertUser = `INSERT INTO users (id, username) VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username`
	queryUpsertConversation = `INSERT INTO conversations (id, name, is_group, created_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, is_group = EXCLUDED.is_group`
	queryDeleteParticipants = `DELETE FROM conversation_participants WHERE conversation_id = $1`
	queryInsertParticipant  = `INSERT INTO conversation_participants (conversation_id, user_id) VALUES ($1, $2)`
	queryConversationExists = `SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1)`
	queryIsParticipant      = `SELECT EXISTS (SELECT 1 FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2)`
	queryLockConversation   = `SELECT id FROM conversations WHERE id = $1 FOR UPDATE`
	querySenderUsername     = `SELECT u.username FROM conversation_participants p
JOIN users u ON u.id = p.user_id
WHERE p.conversation_id = $1 AND p.user_id = $2`
	queryInsertMessage = `INSERT INTO messages (conversation_id, sender_id, content, created_at)
VALUES ($1, $2, $3, GREATEST(clock_timestamp(),
	COALESCE((SELECT max(created_at) FROM messages WHERE conversation_id = $1), '-infinity')))
RETURNING id, created_at`
	queryHistory = `SELECT m.id, m.sender_id, u.username, m.content, m.created_at
FROM messages m JOIN users u ON u.id = m.sender_id
WHERE m.conversation_id = $1 AND ($2::bigint = 0 OR m.id < $2::bigint)
ORDER BY m.id DESC
LIMIT $3`
)

// PostgresStore implements Store on PostgreSQL through database/sql and lib/pq.
// Appends lock the conversation row, so writes to one conversation are
// serialized and their IDs follow their timestamps.
type PostgresStore struct {
	db  *sql.DB
	log *slog.Logger
}

func OpenPostgresStore(ctx context.Context, dsn string, log *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := NewPostgresStore(db, log)
	if err = store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func NewPostgresStore(db *sql.DB, log *slog.Logger) *PostgresStore {
	return &PostgresStore{db: db, log: log}
}

// Migrate creates the tables when they are missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveUser(ctx context.Context, identity domain.Identity) error {
	record, err := newUserRecord(identity)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, queryUpsertUser, record.ID, record.Username)
	return err
}

func (s *PostgresStore) SaveConversation(ctx context.Context, conversation domain.Conversation) (err error) {
	record, err := newConversationRecord(conversation)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, queryUpsertConversation, record.ID, record.Name, record.IsGroup, record.CreatedAt); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, queryDeleteParticipants, record.ID); err != nil {
		return err
	}
	for _, member := range record.MemberIDs {
		if _, err = tx.ExecContext(ctx, queryInsertParticipant, record.ID, member); err != nil {
			return translate(err, fmt.Sprintf("user %s", member))
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) Exists(ctx context.Context, roomID domain.RoomID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, queryConversationExists, string(roomID)).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) IsMember(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (bool, error) {
	var member bool
	err := s.db.QueryRowContext(ctx, queryIsParticipant, string(roomID), string(userID)).Scan(&member)
	return member, err
}

func (s *PostgresStore) Append(ctx context.Context, roomID domain.RoomID, senderID domain.UserID, text string) (msg domain.Message, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Message{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var locked string
	if err = tx.QueryRowContext(ctx, queryLockConversation, string(roomID)).Scan(&locked); err != nil {
		if goerrors.Is(err, sql.ErrNoRows) {
			return domain.Message{}, fmt.Errorf("%w: conversation %s", errors.ErrNotFound, roomID)
		}
		return domain.Message{}, err
	}

	var username string
	if err = tx.QueryRowContext(ctx, querySenderUsername, string(roomID), string(senderID)).Scan(&username); err != nil {
		if goerrors.Is(err, sql.ErrNoRows) {
			return domain.Message{}, fmt.Errorf("%w: user %s in conversation %s", errors.ErrForbidden, senderID, roomID)
		}
		return domain.Message{}, err
	}

	msg = domain.Message{Room: roomID, SenderID: senderID, SenderUsername: username, Content: text}
	if err = tx.QueryRowContext(ctx, queryInsertMessage, string(roomID), string(senderID), text).
		Scan(&msg.ID, &msg.CreatedAt); err != nil {
		return domain.Message{}, translate(err, fmt.Sprintf("conversation %s", roomID))
	}
	if err = tx.Commit(); err != nil {
		return domain.Message{}, err
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	return msg, nil
}

// History returns up to limit messages with an ID below before (all when
// before is 0), oldest first. limit <= 0 means no limit.
func (s *PostgresStore) History(ctx context.Context, roomID domain.RoomID, before int64, limit int) ([]domain.Message, error) {
	// LIMIT NULL is LIMIT ALL
	var pageSize sql.NullInt64
	if limit > 0 {
		pageSize = sql.NullInt64{Int64: int64(limit), Valid: true}
	}
	rows, err := s.db.QueryContext(ctx, queryHistory, string(roomID), before, pageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		msg := domain.Message{Room: roomID}
		var sender string
		if err = rows.Scan(&msg.ID, &sender, &msg.SenderUsername, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.SenderID = domain.UserID(sender)
		msg.CreatedAt = msg.CreatedAt.UTC()
		messages = append(messages, msg)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	// fetched newest first
	return lo.Reverse(messages), nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// translate maps a referential integrity failure to errors.ErrNotFound.
func translate(err error, what string) error {
	var pqErr *pq.Error
	if goerrors.As(err, &pqErr) && pqErr.Code == pqForeignKeyViolation {
		return fmt.Errorf("%w: %s (%s)", errors.ErrNotFound, what, pqErr.Constraint)
	}
	return err
}
