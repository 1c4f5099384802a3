package repositories

import (
	"context"
	"encoding/binary"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chat-relay/domain"
	"chat-relay/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

const sequenceBandwidth = 100

// BadgerStore keeps conversations, members and messages in an embedded
// BadgerDB. Key layout:
//
//	user:{user_id}                  -> userRecord
//	conv:{room_id}                  -> conversationRecord
//	member:{room_id}:{user_id}      -> empty
//	clock:{room_id}                 -> last message time, unix nanos
//	msg:{room_id}:{message_id%019d} -> messageRecord
//
// The zero padded ID keeps a prefix scan in message order.
type BadgerStore struct {
	db  *badger.DB
	log *slog.Logger
	seq *badger.Sequence
	// appends are serialized so that ID order and timestamp order agree
	mu  sync.Mutex
	now func() time.Time
}

func OpenBadgerStore(path string, log *slog.Logger) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	store, err := NewBadgerStore(db, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func NewBadgerStore(db *badger.DB, log *slog.Logger) (*BadgerStore, error) {
	seq, err := db.GetSequence([]byte("seq:message"), sequenceBandwidth)
	if err != nil {
		return nil, fmt.Errorf("message sequence: %w", err)
	}
	return &BadgerStore{db: db, log: log, seq: seq, now: time.Now}, nil
}

func userKey(id domain.UserID) []byte { return []byte("user:" + string(id)) }

func conversationKey(id domain.RoomID) []byte { return []byte("conv:" + string(id)) }

func memberKey(room domain.RoomID, user domain.UserID) []byte {
	return []byte("member:" + string(room) + ":" + string(user))
}

func clockKey(room domain.RoomID) []byte { return []byte("clock:" + string(room)) }

func messagePrefix(room domain.RoomID) []byte { return []byte("msg:" + string(room) + ":") }

func messageKey(room domain.RoomID, id int64) []byte {
	return append(messagePrefix(room), fmt.Sprintf("%019d", id)...)
}

func (s *BadgerStore) SaveUser(_ context.Context, identity domain.Identity) error {
	record, err := newUserRecord(identity)
	if err != nil {
		return err
	}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(userKey(identity.ID), data)
	})
}

// SaveConversation creates or replaces a conversation and its member set.
// Every member must already exist as a user.
func (s *BadgerStore) SaveConversation(_ context.Context, conversation domain.Conversation) error {
	record, err := newConversationRecord(conversation)
	if err != nil {
		return err
	}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, member := range record.MemberIDs {
			if _, err := txn.Get(userKey(domain.UserID(member))); err != nil {
				if goerrors.Is(err, badger.ErrKeyNotFound) {
					return fmt.Errorf("%w: user %s", errors.ErrNotFound, member)
				}
				return err
			}
		}
		if err := s.dropMembers(txn, conversation.ID); err != nil {
			return err
		}
		for _, member := range record.MemberIDs {
			if err := txn.Set(memberKey(conversation.ID, domain.UserID(member)), nil); err != nil {
				return err
			}
		}
		return txn.Set(conversationKey(conversation.ID), data)
	})
}

func (s *BadgerStore) dropMembers(txn *badger.Txn, room domain.RoomID) error {
	prefix := []byte("member:" + string(room) + ":")
	options := badger.DefaultIteratorOptions
	options.PrefetchValues = false
	it := txn.NewIterator(options)
	defer it.Close()

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	for _, key := range keys {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

func (s *BadgerStore) Exists(_ context.Context, roomID domain.RoomID) (bool, error) {
	return s.has(conversationKey(roomID))
}

func (s *BadgerStore) IsMember(_ context.Context, roomID domain.RoomID, userID domain.UserID) (bool, error) {
	return s.has(memberKey(roomID, userID))
}

func (s *BadgerStore) has(key []byte) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	switch {
	case err == nil:
		return true, nil
	case goerrors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Append checks conversation and membership, then writes the message in the
// same transaction.
func (s *BadgerStore) Append(_ context.Context, roomID domain.RoomID, senderID domain.UserID, text string) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var record messageRecord
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(conversationKey(roomID)); err != nil {
			if goerrors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: conversation %s", errors.ErrNotFound, roomID)
			}
			return err
		}
		if _, err := txn.Get(memberKey(roomID, senderID)); err != nil {
			if goerrors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: user %s in conversation %s", errors.ErrForbidden, senderID, roomID)
			}
			return err
		}

		username, err := s.username(txn, senderID)
		if err != nil {
			return err
		}
		last, err := s.clock(txn, roomID)
		if err != nil {
			return err
		}
		next, err := s.seq.Next()
		if err != nil {
			return err
		}

		record = messageRecord{
			// sequences start at zero, message IDs at one
			ID:        int64(next) + 1,
			Room:      string(roomID),
			SenderID:  string(senderID),
			Username:  username,
			Content:   text,
			CreatedAt: monotonic(s.now().UTC(), last),
		}
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		if err = txn.Set(messageKey(roomID, record.ID), data); err != nil {
			return err
		}
		return txn.Set(clockKey(roomID), binary.BigEndian.AppendUint64(nil, uint64(record.CreatedAt.UnixNano())))
	})
	if err != nil {
		return domain.Message{}, err
	}
	return record.toMessage(), nil
}

func (s *BadgerStore) username(txn *badger.Txn, id domain.UserID) (string, error) {
	item, err := txn.Get(userKey(id))
	if goerrors.Is(err, badger.ErrKeyNotFound) {
		return string(id), nil
	}
	if err != nil {
		return "", err
	}
	var user userRecord
	if err = item.Value(func(val []byte) error { return json.Unmarshal(val, &user) }); err != nil {
		return "", err
	}
	return user.Username, nil
}

func (s *BadgerStore) clock(txn *badger.Txn, room domain.RoomID) (time.Time, error) {
	item, err := txn.Get(clockKey(room))
	if goerrors.Is(err, badger.ErrKeyNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	var last time.Time
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupted clock for room %s", room)
		}
		last = time.Unix(0, int64(binary.BigEndian.Uint64(val))).UTC()
		return nil
	})
	return last, err
}

// History returns up to limit messages older than the message ID before
// (all messages when before is 0), oldest first. limit <= 0 means no limit.
func (s *BadgerStore) History(_ context.Context, roomID domain.RoomID, before int64, limit int) ([]domain.Message, error) {
	var records []messageRecord
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := messagePrefix(roomID)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		seek := append(messagePrefix(roomID), "9999999999999999999"...)
		if before > 0 {
			seek = messageKey(roomID, before)
		}
		it.Seek(seek)
		if before > 0 && it.ValidForPrefix(prefix) && string(it.Item().Key()) == string(seek) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(records) == limit {
				break
			}
			var record messageRecord
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &record) }); err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// collected newest first
	return lo.Reverse(lo.Map(records, func(r messageRecord, _ int) domain.Message { return r.toMessage() })), nil
}

func (s *BadgerStore) Close() error {
	if err := s.seq.Release(); err != nil {
		s.log.Warn("could not release message sequence", "error", err)
	}
	return s.db.Close()
}
