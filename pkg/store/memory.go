package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store backed by a mutex-guarded map with
// timer-based TTL eviction. It is the default backend for tests and
// single-node deployments.
type MemoryStore struct {
	mu     sync.Mutex
	tokens map[string]*memToken
	resets map[string]*memReset
	index  map[string]map[string]struct{} // email → set of token values
	subs   []ExpiryFunc
	clock  func() time.Time
}

type memToken struct {
	rec   TokenRecord
	timer *time.Timer
}

type memReset struct {
	rec   PasswordResetRecord
	timer *time.Timer
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the store's time source. Used by tests to simulate
// TTL expiry without waiting; reads re-check expiry against this clock.
func WithClock(clock func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.clock = clock }
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		tokens: make(map[string]*memToken),
		resets: make(map[string]*memReset),
		index:  make(map[string]map[string]struct{}),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, rec TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.tokens[rec.Token]; ok {
		prev.timer.Stop()
	}

	entry := &memToken{rec: rec}
	ttl := rec.TTL(s.clock())
	if ttl <= 0 {
		ttl = time.Nanosecond
	}
	token := rec.Token
	entry.timer = time.AfterFunc(ttl, func() { s.evictToken(token) })
	s.tokens[token] = entry

	owned, ok := s.index[rec.Email]
	if !ok {
		owned = make(map[string]struct{})
		s.index[rec.Email] = owned
	}
	owned[token] = struct{}{}
	return nil
}

// Get implements Store. Records past their TTL according to the store's
// clock are evicted on read, so a simulated clock observes the same
// behavior as timer-driven eviction.
func (s *MemoryStore) Get(_ context.Context, token string) (*TokenRecord, error) {
	s.mu.Lock()
	entry, ok := s.tokens[token]
	if ok && !s.clock().Before(entry.rec.ExpiresAt) {
		s.mu.Unlock()
		s.evictToken(token)
		return nil, ErrNotFound
	}
	s.mu.Unlock()

	if !ok {
		return nil, ErrNotFound
	}
	rec := entry.rec
	return &rec, nil
}

// FindAllByEmail implements Store.
func (s *MemoryStore) FindAllByEmail(_ context.Context, email string) ([]TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	var recs []TokenRecord
	for token := range s.index[email] {
		if entry, ok := s.tokens[token]; ok && now.Before(entry.rec.ExpiresAt) {
			recs = append(recs, entry.rec)
		}
	}
	return recs, nil
}

// DeleteAll implements Store. Explicit deletion does not emit expiry
// notifications.
func (s *MemoryStore) DeleteAll(_ context.Context, recs []TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range recs {
		if entry, ok := s.tokens[rec.Token]; ok {
			entry.timer.Stop()
			delete(s.tokens, rec.Token)
			s.dropFromIndex(entry.rec.Email, rec.Token)
		}
	}
	return nil
}

// PutPasswordReset implements Store.
func (s *MemoryStore) PutPasswordReset(_ context.Context, rec PasswordResetRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.resets[rec.Token]; ok {
		prev.timer.Stop()
	}
	entry := &memReset{rec: rec}
	ttl := rec.ExpiresAt.Sub(s.clock())
	if ttl <= 0 {
		ttl = time.Nanosecond
	}
	token := rec.Token
	entry.timer = time.AfterFunc(ttl, func() { s.evictReset(token) })
	s.resets[token] = entry
	return nil
}

// GetPasswordReset implements Store.
func (s *MemoryStore) GetPasswordReset(_ context.Context, token string) (*PasswordResetRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.resets[token]
	if !ok || !s.clock().Before(entry.rec.ExpiresAt) {
		return nil, ErrNotFound
	}
	rec := entry.rec
	return &rec, nil
}

// DeletePasswordReset implements Store.
func (s *MemoryStore) DeletePasswordReset(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.resets[token]; ok {
		entry.timer.Stop()
		delete(s.resets, token)
	}
	return nil
}

// OnExpired implements Store.
func (s *MemoryStore) OnExpired(fn ExpiryFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

func (s *MemoryStore) evictToken(token string) {
	s.mu.Lock()
	entry, ok := s.tokens[token]
	if ok {
		entry.timer.Stop()
		delete(s.tokens, token)
		s.dropFromIndex(entry.rec.Email, token)
	}
	subs := make([]ExpiryFunc, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	if !ok {
		return
	}
	rec := entry.rec
	for _, fn := range subs {
		fn(ExpiredRecord{Kind: ExpiredToken, Token: &rec})
	}
}

func (s *MemoryStore) evictReset(token string) {
	s.mu.Lock()
	entry, ok := s.resets[token]
	if ok {
		entry.timer.Stop()
		delete(s.resets, token)
	}
	subs := make([]ExpiryFunc, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	if !ok {
		return
	}
	rec := entry.rec
	for _, fn := range subs {
		fn(ExpiredRecord{Kind: ExpiredPasswordReset, PasswordReset: &rec})
	}
}

// dropFromIndex must be called with s.mu held.
func (s *MemoryStore) dropFromIndex(email, token string) {
	if owned, ok := s.index[email]; ok {
		delete(owned, token)
		if len(owned) == 0 {
			delete(s.index, email)
		}
	}
}
