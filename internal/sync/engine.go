package sync

import (
	"context"
	"errors"
	gosync "sync"

	"github.com/matheus3301/socialchat/internal/bus"
	"github.com/matheus3301/socialchat/internal/chat"
	"github.com/matheus3301/socialchat/internal/outbox"
	"github.com/matheus3301/socialchat/internal/realtime"
	"go.uber.org/zap"
)

var (
	ErrEmptyText   = errors.New("message text is empty")
	ErrNotSignedIn = errors.New("not signed in")
	ErrNotReady    = errors.New("conversation is still loading")
	ErrClosed      = errors.New("conversation closed")
	ErrNoSuchEntry = errors.New("no failed message with that id")
)

// History fetches a conversation's stored messages.
type History interface {
	FetchConversation(ctx context.Context, token, conversationID string) (*chat.Conversation, error)
}

// Identity is the read side of the session store.
type Identity interface {
	Token() string
	User() *chat.User
}

// Dispatcher delivers optimistic sends in the background.
type Dispatcher interface {
	Dispatch(ctx context.Context, send outbox.Send, done func(outbox.Result))
}

// Realtime is a live inbound event stream for one conversation.
type Realtime interface {
	Events() <-chan realtime.Event
	Close()
}

// Connector opens the realtime stream for a conversation. A nil Connector
// disables realtime updates.
type Connector func(ctx context.Context, conversationID, token string) Realtime

// Engine opens conversation threads and closes whatever is still open on
// shutdown.
type Engine struct {
	history  History
	identity Identity
	sender   Dispatcher
	connect  Connector
	bus      *bus.Bus
	logger   *zap.Logger

	mu      gosync.Mutex
	threads map[*Thread]struct{}
	closed  bool
}

// NewEngine creates a new sync engine.
func NewEngine(history History, identity Identity, sender Dispatcher, connect Connector, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		history:  history,
		identity: identity,
		sender:   sender,
		connect:  connect,
		bus:      b,
		logger:   logger,
		threads:  make(map[*Thread]struct{}),
	}
}

// Open starts a thread for conversationID: it enters Loading, fetches the
// history once and subscribes to realtime updates.
func (e *Engine) Open(ctx context.Context, conversationID string) (*Thread, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	t := newThread(ctx, e, conversationID)
	e.threads[t] = struct{}{}
	t.start()
	return t, nil
}

// Close closes every open thread.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	open := make([]*Thread, 0, len(e.threads))
	for t := range e.threads {
		open = append(open, t)
	}
	e.mu.Unlock()

	for _, t := range open {
		t.Close()
	}
}

// OpenThreads returns the number of threads not closed yet.
func (e *Engine) OpenThreads() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.threads)
}

func (e *Engine) forget(t *Thread) {
	e.mu.Lock()
	delete(e.threads, t)
	e.mu.Unlock()
}
