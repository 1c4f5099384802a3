package repositories

import (
	"context"
	"database/sql"
	"log/slog"
	"testing"
	"time"

	"chat-relay/domain"
	"chat-relay/errors"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

func newPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewPostgresStore(db, slog.Default()), mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	req := require.New(t)
	store, mock := newPostgresStore(t)
	mock.ExpectExec(schema).WillReturnResult(sqlmock.NewResult(0, 0))

	req.NoError(store.Migrate(context.Background()))
}

func TestPostgresStore_Directory(t *testing.T) {
	req := require.New(t)
	store, mock := newPostgresStore(t)
	ctx := context.Background()

	mock.ExpectQuery(queryConversationExists).WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(queryIsParticipant).WithArgs("r1", "u-carol").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	exists, err := store.Exists(ctx, "r1")
	req.NoError(err)
	req.True(exists)

	member, err := store.IsMember(ctx, "r1", carol.ID)
	req.NoError(err)
	req.False(member)
}

func TestPostgresStore_Append(t *testing.T) {
	req := require.New(t)
	store, mock := newPostgresStore(t)
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	// Given a conversation alice belongs to
	mock.ExpectBegin()
	mock.ExpectQuery(queryLockConversation).WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("r1"))
	mock.ExpectQuery(querySenderUsername).WithArgs("r1", "u-alice").
		WillReturnRows(sqlmock.NewRows([]string{"username"}).AddRow("alice"))
	mock.ExpectQuery(queryInsertMessage).WithArgs("r1", "u-alice", "hi").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(42), at))
	mock.ExpectCommit()

	// When she posts
	msg, err := store.Append(context.Background(), "r1", alice.ID, "hi")

	// Then the database assigned the ID and timestamp
	req.NoError(err)
	req.Equal(domain.Message{
		ID: 42, Room: "r1", SenderID: alice.ID, SenderUsername: "alice", Content: "hi", CreatedAt: at,
	}, msg)
}

func TestPostgresStore_Append_Rejects(t *testing.T) {
	testCases := []struct {
		name   string
		expect func(mock sqlmock.Sqlmock)
		want   error
	}{
		{
			name: "missing conversation",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(queryLockConversation).WithArgs("r1").WillReturnError(sql.ErrNoRows)
			},
			want: errors.ErrNotFound,
		},
		{
			name: "not a participant",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(queryLockConversation).WithArgs("r1").
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("r1"))
				mock.ExpectQuery(querySenderUsername).WithArgs("r1", "u-alice").WillReturnError(sql.ErrNoRows)
			},
			want: errors.ErrForbidden,
		},
		{
			name: "conversation deleted concurrently",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(queryLockConversation).WithArgs("r1").
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("r1"))
				mock.ExpectQuery(querySenderUsername).WithArgs("r1", "u-alice").
					WillReturnRows(sqlmock.NewRows([]string{"username"}).AddRow("alice"))
				mock.ExpectQuery(queryInsertMessage).WithArgs("r1", "u-alice", "hi").
					WillReturnError(&pq.Error{Code: pqForeignKeyViolation, Constraint: "messages_conversation_id_fkey"})
			},
			want: errors.ErrNotFound,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store, mock := newPostgresStore(t)
			mock.ExpectBegin()
			tc.expect(mock)
			mock.ExpectRollback()

			_, err := store.Append(context.Background(), "r1", alice.ID, "hi")

			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestPostgresStore_History(t *testing.T) {
	req := require.New(t)
	store, mock := newPostgresStore(t)
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	// rows come back newest first
	mock.ExpectQuery(queryHistory).WithArgs("r1", int64(10), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "sender_id", "username", "content", "created_at"}).
			AddRow(int64(9), "u-bob", "bob", "second", at.Add(time.Second)).
			AddRow(int64(8), "u-alice", "alice", "first", at))

	history, err := store.History(context.Background(), "r1", 10, 2)

	req.NoError(err)
	req.Equal([]string{"first", "second"}, contents(history))
	req.Equal(domain.UserID("u-bob"), history[1].SenderID)
	req.Equal(domain.RoomID("r1"), history[0].Room)
}

func TestPostgresStore_History_Without_Limit(t *testing.T) {
	req := require.New(t)
	store, mock := newPostgresStore(t)

	mock.ExpectQuery(queryHistory).WithArgs("r1", int64(0), nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "sender_id", "username", "content", "created_at"}))

	history, err := store.History(context.Background(), "r1", 0, 0)

	req.NoError(err)
	req.Empty(history)
}

func TestPostgresStore_SaveConversation(t *testing.T) {
	req := require.New(t)
	store, mock := newPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(queryUpsertConversation).WithArgs("r1", "", false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(queryDeleteParticipants).WithArgs("r1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(queryInsertParticipant).WithArgs("r1", "u-alice").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(queryInsertParticipant).WithArgs("r1", "u-bob").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.SaveConversation(context.Background(), domain.Conversation{
		ID: "r1", MemberIDs: []domain.UserID{alice.ID, bob.ID},
	})

	req.NoError(err)
}

func TestPostgresStore_SaveConversation_Unknown_User(t *testing.T) {
	req := require.New(t)
	store, mock := newPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(queryUpsertConversation).WithArgs("g1", "team", true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(queryDeleteParticipants).WithArgs("g1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(queryInsertParticipant).WithArgs("g1", "u-ghost").
		WillReturnError(&pq.Error{Code: pqForeignKeyViolation})
	mock.ExpectRollback()

	err := store.SaveConversation(context.Background(), domain.Conversation{
		ID: "g1", Name: "team", IsGroup: true, MemberIDs: []domain.UserID{"u-ghost"},
	})

	req.ErrorIs(err, errors.ErrNotFound)
}

func TestPostgresStore_SaveUser(t *testing.T) {
	req := require.New(t)
	store, mock := newPostgresStore(t)
	mock.ExpectExec(queryUpsertUser).WithArgs("u-alice", "alice").WillReturnResult(sqlmock.NewResult(0, 1))

	req.NoError(store.SaveUser(context.Background(), alice))
	req.ErrorIs(store.SaveUser(context.Background(), domain.Identity{ID: "u:x", Username: "x"}), errors.ErrValidation)
}
