package rpcserver

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"knowthis/internal/metrics"
)

// SessionTTL is a session's lifetime from creation (spec §4.9: "Missing/expired
// session -> -32002"). Badger's per-key TTL enforces this without a sweep
// goroutine.
const SessionTTL = 24 * time.Hour

// Session is the metadata attached to an initialize call. No streaming state
// is held across requests (spec §4.9 Concurrency).
type Session struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ErrSessionInvalid covers both a missing session id and an expired one; the
// caller cannot and does not need to distinguish them (spec Open Question
// (c): expired sessions are never invisibly recreated).
var ErrSessionInvalid = errors.New("session invalid")

// SessionStore is a badger database opened purely in memory: sessions do not
// survive a process restart, matching "no streaming state is held across
// requests" plus the 24h TTL living entirely within one process's lifetime.
type SessionStore struct {
	db *badger.DB
}

func NewSessionStore() (*SessionStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &SessionStore{db: db}, nil
}

// Create mints a session and persists it with a hard TTL.
func (s *SessionStore) Create() (Session, error) {
	now := time.Now()
	sess := Session{
		SessionID: uuid.NewString(),
		CreatedAt: now,
		ExpiresAt: now.Add(SessionTTL),
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return Session{}, err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(sess.SessionID), data).WithTTL(SessionTTL)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return Session{}, err
	}
	metrics.RPCSessionsActive.Inc()
	return sess, nil
}

// Get returns ErrSessionInvalid for both an unknown id and a key badger has
// already expired.
func (s *SessionStore) Get(sessionID string) (Session, error) {
	var sess Session
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sessionID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrSessionInvalid
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &sess)
		})
	})
	if err != nil {
		return Session{}, err
	}
	if time.Now().After(sess.ExpiresAt) {
		return Session{}, ErrSessionInvalid
	}
	return sess, nil
}

func (s *SessionStore) Close() error { return s.db.Close() }
