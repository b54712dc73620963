package upload

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

// ErrSessionNotFound is returned when no session row exists for an id, or
// when the provider has forgotten the session and the row was errored.
var ErrSessionNotFound = errors.New("upload: session not found")

// Store persists upload session rows. The row is the synchronization point
// for client reconnects; implementations must be safe for concurrent use.
type Store interface {
	Put(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error

	// FindFingerprint returns the active session matching the resumable
	// lookup tuple, or ErrSessionNotFound.
	FindFingerprint(ctx context.Context, key string) (*Session, error)

	// ListActive returns active sessions whose FsPath starts with prefix.
	ListActive(ctx context.Context, prefix string) ([]*Session, error)

	Close() error
}

var (
	sessionsBucket     = []byte("sessions")
	fingerprintsBucket = []byte("fingerprints")
)

// boltStore keeps session rows in a bbolt file: one bucket for rows keyed by
// id, one index bucket mapping fingerprint keys to ids.
type boltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if needed) a bbolt-backed session store.
func NewBoltStore(path string) (Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(sessionsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(fingerprintsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &boltStore{db: db}, nil
}

func (st *boltStore) Put(_ context.Context, s *Session) error {
	s.UpdatedAt = time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = s.UpdatedAt
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return st.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(sessionsBucket).Put([]byte(s.ID), payload); err != nil {
			return err
		}
		if key := s.fingerprintKey(); key != "" {
			idx := tx.Bucket(fingerprintsBucket)
			if s.Status == StatusActive {
				return idx.Put([]byte(key), []byte(s.ID))
			}
			// terminal rows no longer answer fingerprint lookups
			if id := idx.Get([]byte(key)); string(id) == s.ID {
				return idx.Delete([]byte(key))
			}
		}
		return nil
	})
}

func (st *boltStore) Get(_ context.Context, id string) (*Session, error) {
	var s *Session
	err := st.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(sessionsBucket).Get([]byte(id))
		if raw == nil {
			return ErrSessionNotFound
		}
		s = &Session{}
		return json.Unmarshal(raw, s)
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (st *boltStore) Delete(_ context.Context, id string) error {
	return st.db.Update(func(tx *bolt.Tx) error {
		raw := tx.Bucket(sessionsBucket).Get([]byte(id))
		if raw == nil {
			return nil
		}
		var s Session
		if err := json.Unmarshal(raw, &s); err == nil {
			if key := s.fingerprintKey(); key != "" {
				_ = tx.Bucket(fingerprintsBucket).Delete([]byte(key))
			}
		}
		return tx.Bucket(sessionsBucket).Delete([]byte(id))
	})
}

func (st *boltStore) FindFingerprint(ctx context.Context, key string) (*Session, error) {
	var id string
	err := st.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(fingerprintsBucket).Get([]byte(key))
		if raw == nil {
			return ErrSessionNotFound
		}
		id = string(raw)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s, err := st.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status != StatusActive {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (st *boltStore) ListActive(_ context.Context, prefix string) ([]*Session, error) {
	var out []*Session
	err := st.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).ForEach(func(_, raw []byte) error {
			var s Session
			if err := json.Unmarshal(raw, &s); err != nil {
				return err
			}
			if s.Status != StatusActive {
				return nil
			}
			if prefix != "" && !strings.HasPrefix(s.FsPath, prefix) {
				return nil
			}
			out = append(out, &s)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (st *boltStore) Close() error {
	return st.db.Close()
}

// memStore is an in-memory Store used by tests.
type memStore struct {
	sessions     map[string]*Session
	fingerprints map[string]string
}

// NewMemStore returns a Store backed by process memory.
func NewMemStore() Store {
	return &memStore{
		sessions:     make(map[string]*Session),
		fingerprints: make(map[string]string),
	}
}

func (st *memStore) Put(_ context.Context, s *Session) error {
	s.UpdatedAt = time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = s.UpdatedAt
	}
	cp := *s
	st.sessions[s.ID] = &cp
	if key := s.fingerprintKey(); key != "" {
		if s.Status == StatusActive {
			st.fingerprints[key] = s.ID
		} else if st.fingerprints[key] == s.ID {
			delete(st.fingerprints, key)
		}
	}
	return nil
}

func (st *memStore) Get(_ context.Context, id string) (*Session, error) {
	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (st *memStore) Delete(_ context.Context, id string) error {
	if s, ok := st.sessions[id]; ok {
		if key := s.fingerprintKey(); key != "" {
			delete(st.fingerprints, key)
		}
	}
	delete(st.sessions, id)
	return nil
}

func (st *memStore) FindFingerprint(ctx context.Context, key string) (*Session, error) {
	id, ok := st.fingerprints[key]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return st.Get(ctx, id)
}

func (st *memStore) ListActive(_ context.Context, prefix string) ([]*Session, error) {
	var out []*Session
	for _, s := range st.sessions {
		if s.Status != StatusActive {
			continue
		}
		if prefix != "" && !strings.HasPrefix(s.FsPath, prefix) {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (st *memStore) Close() error { return nil }
