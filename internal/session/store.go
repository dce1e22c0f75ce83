package session

import (
	"encoding/json"
	"sync"

	"github.com/matheus3301/socialchat/internal/bus"
	"github.com/matheus3301/socialchat/internal/chat"
	"go.uber.org/zap"
)

// Durable keys.
const (
	KeyToken = "token"
	KeyUser  = "user"
)

// Storage is the durable key/value backing of the store. *store.DB satisfies it.
// LoadState returns nil, nil for an absent key.
type Storage interface {
	LoadState(key string) ([]byte, error)
	SaveState(key string, value []byte) error
	DeleteState(key string) error
}

// Session is the process-wide auth state. The zero value means signed out.
type Session struct {
	Token string
	User  *chat.User
}

// SignedIn reports whether both a token and a user are present.
func (s Session) SignedIn() bool {
	return s.Token != "" && s.User != nil
}

// Store is the single owned session instance. Reads are served from memory;
// every mutation is written through to storage on a best-effort basis and
// then announced to subscribers synchronously, in mutation order.
//
// Subscribers may read the store from their callback but must not mutate it.
type Store struct {
	storage Storage
	logger  *zap.Logger
	bus     *bus.Bus

	writeMu sync.Mutex // serializes mutate+notify

	mu      sync.RWMutex
	current Session
	subs    []subscriber
	nextSub int
}

// Open hydrates a store from storage. Absent or corrupt entries load as
// empty; storage errors are logged and the store continues in memory.
// storage may be nil for a memory-only store.
func Open(storage Storage, b *bus.Bus, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		storage: storage,
		logger:  logger,
		bus:     b,
	}

	var token string
	if s.load(KeyToken, &token) {
		s.current.Token = token
	}
	var user chat.User
	if s.load(KeyUser, &user) {
		s.current.User = &user
	}
	return s
}

func (s *Store) load(key string, dst any) bool {
	if s.storage == nil {
		return false
	}
	raw, err := s.storage.LoadState(key)
	if err != nil {
		s.logger.Warn("session storage read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if raw == nil || string(raw) == "null" {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.logger.Warn("session storage entry corrupt, ignoring", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Current returns a copy of the in-memory session.
func (s *Store) Current() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySession(s.current)
}

// Token returns the bearer token, or "" when signed out.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Token
}

// User returns a copy of the current user, or nil.
func (s *Store) User() *chat.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyUser(s.current.User)
}

// SaveToken replaces the token.
func (s *Store) SaveToken(token string) {
	s.mutate(func(cur *Session) []write {
		cur.Token = token
		return []write{{key: KeyToken, value: token}}
	})
}

// SaveUser replaces the user wholesale.
func (s *Store) SaveUser(user chat.User) {
	s.mutate(func(cur *Session) []write {
		cur.User = &user
		return []write{{key: KeyUser, value: user}}
	})
}

// SetSession writes token and user as one mutation with one notification.
func (s *Store) SetSession(token string, user chat.User) {
	s.mutate(func(cur *Session) []write {
		cur.Token = token
		cur.User = &user
		return []write{{key: KeyToken, value: token}, {key: KeyUser, value: user}}
	})
}

// UpdateUser merges patch into the current user field by field.
// It returns false, without notifying, when no user is signed in.
func (s *Store) UpdateUser(patch chat.UserPatch) bool {
	applied := false
	s.mutate(func(cur *Session) []write {
		if cur.User == nil {
			return nil
		}
		merged := patch.Apply(*cur.User)
		cur.User = &merged
		applied = true
		return []write{{key: KeyUser, value: merged}}
	})
	return applied
}

// RemoveToken clears the token.
func (s *Store) RemoveToken() {
	s.mutate(func(cur *Session) []write {
		cur.Token = ""
		return []write{{key: KeyToken, remove: true}}
	})
}

// RemoveUser clears the user.
func (s *Store) RemoveUser() {
	s.mutate(func(cur *Session) []write {
		cur.User = nil
		return []write{{key: KeyUser, remove: true}}
	})
}

// ClearAll resets token and user together.
func (s *Store) ClearAll() {
	s.mutate(func(cur *Session) []write {
		*cur = Session{}
		return []write{{key: KeyToken, remove: true}, {key: KeyUser, remove: true}}
	})
}

type subscriber struct {
	id int
	fn func(Session)
}

// Subscribe registers fn to be called synchronously after every mutation.
// Subscribers run in registration order. The returned function unsubscribes.
func (s *Store) Subscribe(fn func(Session)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

type write struct {
	key    string
	value  any
	remove bool
}

// mutate applies change to the in-memory session, writes through to storage
// and notifies subscribers. A change returning no writes is not a mutation.
func (s *Store) mutate(change func(cur *Session) []write) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	writes := change(&s.current)
	if writes == nil {
		s.mu.Unlock()
		return
	}
	snapshot := copySession(s.current)
	subs := s.subs
	s.mu.Unlock()

	for _, w := range writes {
		s.persist(w)
	}

	for _, sub := range subs {
		sub.fn(copySession(snapshot))
	}
	s.bus.Publish(bus.Event{Kind: bus.KindSessionChanged, Payload: snapshot.SignedIn()})
}

func (s *Store) persist(w write) {
	if s.storage == nil {
		return
	}
	var err error
	if w.remove {
		err = s.storage.DeleteState(w.key)
	} else {
		var raw []byte
		raw, err = json.Marshal(w.value)
		if err == nil {
			err = s.storage.SaveState(w.key, raw)
		}
	}
	if err != nil {
		s.logger.Warn("session storage write failed, continuing in memory",
			zap.String("key", w.key), zap.Bool("remove", w.remove), zap.Error(err))
	}
}

func copySession(s Session) Session {
	return Session{Token: s.Token, User: copyUser(s.User)}
}

func copyUser(u *chat.User) *chat.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
