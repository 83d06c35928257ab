package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/edelzer/authgate/store"
)

var (
	// ErrNotFound is returned when the session is absent or expired.
	ErrNotFound = errors.New("session not found")
	// ErrCorrupt is returned when the stored record cannot be decoded.
	ErrCorrupt = errors.New("session corrupt")
)

const defaultTTL = time.Hour

// Config controls the session window.
type Config struct {
	// TTL is the inactivity window; every Touch restarts it.
	TTL time.Duration
	// Now overrides the clock used for timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Store is the session store. It keeps one record per session at session:{id}
// with a sliding TTL.
//
//	Performance: Create 1 SETEX, Get 1 GET, Touch 1 GET + 1 SET XX, Destroy 1 DEL.
type Store struct {
	store store.ExpiringStore
	ttl   time.Duration
	now   func() time.Time
}

// NewStore creates a session [Store] over st.
func NewStore(st store.ExpiringStore, cfg Config) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{store: st, ttl: cfg.TTL, now: cfg.Now}
}

// TTL returns the session window.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

func key(id string) string {
	return "session:" + id
}

// Create starts a session for userID and returns its id (a random UUID).
func (s *Store) Create(ctx context.Context, userID string, data map[string]any) (string, error) {
	if userID == "" {
		return "", errors.New("session: empty user id")
	}
	id := uuid.NewString()
	now := s.now()
	sess := &Session{ID: id, UserID: userID, CreatedAt: now, LastActivity: now, Data: data}

	raw, err := encode(sess)
	if err != nil {
		return "", fmt.Errorf("session: encode: %w", err)
	}
	if err := s.store.SetEx(ctx, key(id), s.ttl, raw); err != nil {
		return "", err
	}
	return id, nil
}

// Get returns the session without extending it.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	raw, ok, err := s.store.Get(ctx, key(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	sess, err := decode(id, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return sess, nil
}

// Touch records activity and restarts the full session window. The rewrite only
// lands while the record still exists, so a Destroy racing with Touch wins and
// Touch reports ErrNotFound. Concurrent touches of one session are
// last-writer-wins on LastActivity.
func (s *Store) Touch(ctx context.Context, id string) (*Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	sess.LastActivity = s.now()

	raw, err := encode(sess)
	if err != nil {
		return nil, fmt.Errorf("session: encode: %w", err)
	}
	ok, err := s.store.SetExIfExists(ctx, key(id), s.ttl, raw)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Destroy removes the session. Destroying a missing session is not an error.
func (s *Store) Destroy(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	_, err := s.store.Del(ctx, key(id))
	return err
}
