package session

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/matheus3301/socialchat/internal/bus"
	"github.com/matheus3301/socialchat/internal/chat"
	"github.com/matheus3301/socialchat/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type memStorage struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{data: make(map[string][]byte)}
}

func (m *memStorage) LoadState(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memStorage) SaveState(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memStorage) DeleteState(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

type brokenStorage struct{}

var errDiskGone = errors.New("disk gone")

func (brokenStorage) LoadState(string) ([]byte, error) { return nil, errDiskGone }
func (brokenStorage) SaveState(string, []byte) error   { return errDiskGone }
func (brokenStorage) DeleteState(string) error         { return errDiskGone }

var ada = chat.User{ID: "u1", Name: "Ada", Email: "ada@example.com", AvatarURL: "https://img/ada.png"}

func TestRoundTripAfterReopen(t *testing.T) {
	storage := newMemStorage()

	s := Open(storage, nil, nil)
	s.SaveToken("tok-1")
	s.SaveUser(ada)

	reopened := Open(storage, nil, nil)
	assert.Equal(t, "tok-1", reopened.Token())
	require.NotNil(t, reopened.User())
	assert.Equal(t, ada, *reopened.User())
}

func TestRoundTripWithSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	db, _, err := store.OpenMigrated(path)
	require.NoError(t, err)
	s := Open(db, nil, nil)
	s.SetSession("tok-2", ada)
	require.NoError(t, db.Close())

	db, _, err = store.OpenMigrated(path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	cur := Open(db, nil, nil).Current()
	assert.True(t, cur.SignedIn())
	assert.Equal(t, "tok-2", cur.Token)
	assert.Equal(t, ada, *cur.User)
}

func TestClearAllEmptiesMemoryAndStorage(t *testing.T) {
	storage := newMemStorage()
	s := Open(storage, nil, nil)
	s.SetSession("tok", ada)

	s.ClearAll()

	assert.Equal(t, "", s.Token())
	assert.Nil(t, s.User())
	assert.Empty(t, storage.data)
	assert.False(t, Open(storage, nil, nil).Current().SignedIn())
}

func TestFailingStorageDegradesToMemory(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s := Open(brokenStorage{}, nil, zap.New(core))

	// Hydration failures are diagnostics, not errors.
	assert.False(t, s.Current().SignedIn())
	assert.Equal(t, 2, logs.FilterMessage("session storage read failed").Len())

	s.SaveToken("tok")
	s.SaveUser(ada)
	assert.Equal(t, "tok", s.Token())
	assert.Equal(t, ada, *s.User())
	assert.Equal(t, 2, logs.FilterMessage("session storage write failed, continuing in memory").Len())

	// A fresh store over the same broken storage starts empty.
	assert.False(t, Open(brokenStorage{}, nil, zap.NewNop()).Current().SignedIn())
}

func TestCorruptEntriesLoadAsAbsent(t *testing.T) {
	storage := newMemStorage()
	storage.data[KeyToken] = []byte(`"tok"`)
	storage.data[KeyUser] = []byte(`{not json`)

	core, logs := observer.New(zapcore.WarnLevel)
	s := Open(storage, nil, zap.New(core))

	assert.Equal(t, "tok", s.Token())
	assert.Nil(t, s.User())
	assert.Equal(t, 1, logs.FilterMessage("session storage entry corrupt, ignoring").Len())
}

func TestSubscribersSeeEveryMutationInOrder(t *testing.T) {
	s := Open(newMemStorage(), nil, nil)

	var seen []string
	unsubscribe := s.Subscribe(func(cur Session) {
		seen = append(seen, cur.Token)
	})

	s.SaveToken("a")
	s.SaveToken("a") // identical writes are still notified
	s.SaveToken("b")
	s.RemoveToken()

	assert.Equal(t, []string{"a", "a", "b", ""}, seen)

	unsubscribe()
	unsubscribe()
	s.SaveToken("c")
	assert.Len(t, seen, 4)
}

func TestSetSessionNotifiesOnce(t *testing.T) {
	s := Open(nil, nil, nil)

	var calls []Session
	s.Subscribe(func(cur Session) { calls = append(calls, cur) })

	s.SetSession("tok", ada)

	require.Len(t, calls, 1)
	assert.True(t, calls[0].SignedIn())
}

func TestSubscriberMayReadStore(t *testing.T) {
	s := Open(nil, nil, nil)

	var read string
	s.Subscribe(func(Session) { read = s.Token() })
	s.SaveToken("tok")

	assert.Equal(t, "tok", read)
}

func TestUpdateUserMergesSingleField(t *testing.T) {
	storage := newMemStorage()
	s := Open(storage, nil, nil)

	email := "new@example.com"
	assert.False(t, s.UpdateUser(chat.UserPatch{Email: &email}), "no user signed in")
	assert.Nil(t, s.User())

	s.SaveUser(ada)
	require.True(t, s.UpdateUser(chat.UserPatch{Email: &email}))

	got := Open(storage, nil, nil).User()
	require.NotNil(t, got)
	assert.Equal(t, "new@example.com", got.Email)
	assert.Equal(t, ada.Name, got.Name)
	assert.Equal(t, ada.AvatarURL, got.AvatarURL)
}

func TestReadsReturnCopies(t *testing.T) {
	s := Open(nil, nil, nil)
	s.SaveUser(ada)

	u := s.User()
	u.Name = "mutated"

	assert.Equal(t, "Ada", s.User().Name)
}

func TestMutationsPublishOnBus(t *testing.T) {
	b := bus.New()
	events, unsubscribe := b.Subscribe("session.", 4)
	defer unsubscribe()

	s := Open(nil, b, nil)
	s.SetSession("tok", ada)
	s.ClearAll()

	first := <-events
	second := <-events
	assert.Equal(t, bus.KindSessionChanged, first.Kind)
	assert.Equal(t, true, first.Payload)
	assert.Equal(t, false, second.Payload)
}

func TestConcurrentWritesAreSerialized(t *testing.T) {
	s := Open(newMemStorage(), nil, nil)

	var mu sync.Mutex
	count := 0
	s.Subscribe(func(Session) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.SaveToken("tok")
			_ = s.Current()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, count)
}
