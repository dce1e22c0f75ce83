package sync

import (
	"context"
	"strings"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/socialchat/internal/api"
	"github.com/matheus3301/socialchat/internal/bus"
	"github.com/matheus3301/socialchat/internal/chat"
	"github.com/matheus3301/socialchat/internal/outbox"
	"github.com/matheus3301/socialchat/internal/realtime"
	"github.com/matheus3301/socialchat/internal/status"
	"go.uber.org/zap"
)

// ConnState is the realtime link state shown alongside a thread.
type ConnState int

const (
	Connecting ConnState = iota
	Connected
	Disconnected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	}
	return "unknown"
}

// Connection describes the realtime link of a thread.
type Connection struct {
	State     ConnState
	Transport realtime.Transport
	// Reason carries the last transport error or disconnect cause.
	Reason string
}

// ConnectionEvent is the payload of realtime.connection events.
type ConnectionEvent struct {
	ConversationID string
	Connection     Connection
}

// Snapshot is an immutable view of a thread. Entries is shared between
// snapshots and must not be modified.
type Snapshot struct {
	ConversationID string
	// Conversation holds the chat metadata from the last successful fetch,
	// without its messages.
	Conversation *chat.Conversation
	State        status.State
	Entries      []Entry
	FetchErr     error
	Connection   Connection
	Version      uint64
}

// Thread is one open conversation. All state changes run on a single
// goroutine in the order they arrive; fetches, sends and the realtime
// stream run elsewhere and post their results back.
type Thread struct {
	id      string
	engine  *Engine
	machine *status.Machine
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	ops      chan func()
	loopDone chan struct{}
	changed  chan struct{}
	closed   chan struct{}
	snap     atomic.Pointer[Snapshot]
	once     gosync.Once
	wg       gosync.WaitGroup

	// Owned by the loop goroutine.
	entries     []Entry
	conv        *chat.Conversation
	fetchErr    error
	conn        Connection
	buffered    []chat.Message
	gen         uint64
	fetchCancel context.CancelFunc
	inflight    int
	version     uint64
	rt          Realtime
}

func newThread(ctx context.Context, e *Engine, conversationID string) *Thread {
	ctx, cancel := context.WithCancel(ctx)
	t := &Thread{
		id:       conversationID,
		engine:   e,
		machine:  status.NewMachine(conversationID, e.bus),
		logger:   e.logger.With(zap.String("conversation_id", conversationID)),
		ctx:      ctx,
		cancel:   cancel,
		ops:      make(chan func()),
		loopDone: make(chan struct{}),
		changed:  make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
	t.conn = Connection{State: Connecting}
	if e.connect == nil {
		t.conn = Connection{State: Disconnected, Reason: "realtime disabled"}
	}
	return t
}

func (t *Thread) start() {
	t.publish()
	go t.run()
}

// ID returns the conversation id.
func (t *Thread) ID() string { return t.id }

// Snapshot returns the latest published state.
func (t *Thread) Snapshot() Snapshot {
	return *t.snap.Load()
}

// Changed receives a value after one or more snapshots were published.
// Signals coalesce: read Snapshot after each receive.
func (t *Thread) Changed() <-chan struct{} { return t.changed }

// Done is closed once the thread is closed.
func (t *Thread) Done() <-chan struct{} { return t.closed }

// Send appends an optimistic entry for text and starts delivering it. It
// returns the entry's local id once the entry is visible in the snapshot.
func (t *Thread) Send(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	return t.callSend(ctx, func() (string, error) {
		return t.startSend(text)
	})
}

// ResendFailed sends the text of the failed entry localID again as a new
// optimistic entry. The failed entry stays in the list.
func (t *Thread) ResendFailed(ctx context.Context, localID string) (string, error) {
	return t.callSend(ctx, func() (string, error) {
		for _, e := range t.entries {
			if e.LocalID == localID && e.State == Failed {
				return t.startSend(e.Message.Text)
			}
		}
		return "", ErrNoSuchEntry
	})
}

// Retry fetches the history again and reopens realtime if it has given up.
// A fetch still running is superseded and its result is ignored. Until the
// new history arrives only local sends stay listed.
func (t *Thread) Retry() error {
	return t.call(context.Background(), func() {
		token := t.engine.identity.Token()
		if t.rt == nil && token != "" {
			t.openRealtime(token)
		}
		if t.machine.Current() != status.Loading {
			if err := t.machine.Transition(status.Loading); err != nil {
				t.logger.Warn("retry rejected", zap.Error(err))
				return
			}
		}
		t.fetchErr = nil
		t.entries = Local(t.entries)
		t.publish()
		t.fetch(token)
	})
}

// Close stops the thread. Fetches in flight are abandoned; sends in flight
// complete in the outbox but their outcome is no longer applied. Close is
// idempotent.
func (t *Thread) Close() {
	t.once.Do(func() {
		t.cancel()
		<-t.loopDone
		if t.rt != nil {
			t.rt.Close()
		}
		t.wg.Wait()

		if err := t.machine.Transition(status.Closed); err != nil {
			t.logger.Warn("close transition rejected", zap.Error(err))
		}
		t.entries = nil
		t.buffered = nil
		t.publish()
		t.engine.bus.Publish(bus.Event{Kind: bus.KindThreadClosed, Payload: t.id})
		t.engine.forget(t)
		close(t.closed)
		t.logger.Info("conversation closed")
	})
}

func (t *Thread) run() {
	defer close(t.loopDone)

	token := t.engine.identity.Token()
	if token != "" {
		t.openRealtime(token)
	} else if t.engine.connect != nil {
		t.conn = Connection{State: Disconnected, Reason: ErrNotSignedIn.Error()}
	}
	t.fetch(token)

	for {
		select {
		case op := <-t.ops:
			op()
		case <-t.ctx.Done():
			if t.fetchCancel != nil {
				t.fetchCancel()
			}
			return
		}
	}
}

// post hands op to the loop. It reports false once the thread is closing.
func (t *Thread) post(op func()) bool {
	select {
	case t.ops <- op:
		return true
	case <-t.ctx.Done():
		return false
	}
}

func (t *Thread) call(ctx context.Context, op func()) error {
	select {
	case t.ops <- op:
		return nil
	case <-t.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// callSend runs op on the loop and waits for its reply. The ops channel is
// unbuffered, so an accepted op always replies.
func (t *Thread) callSend(ctx context.Context, op func() (string, error)) (string, error) {
	type reply struct {
		localID string
		err     error
	}
	replies := make(chan reply, 1)
	err := t.call(ctx, func() {
		id, err := op()
		replies <- reply{id, err}
	})
	if err != nil {
		return "", err
	}
	r := <-replies
	return r.localID, r.err
}

func (t *Thread) selfID() string {
	if u := t.engine.identity.User(); u != nil {
		return u.ID
	}
	return ""
}

func (t *Thread) fetch(token string) {
	if t.fetchCancel != nil {
		t.fetchCancel()
		t.fetchCancel = nil
	}
	t.gen++
	gen := t.gen
	if token == "" {
		t.finishFetch(gen, nil, ErrNotSignedIn)
		return
	}

	ctx, cancel := context.WithCancel(t.ctx)
	t.fetchCancel = cancel
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		conv, err := t.engine.history.FetchConversation(ctx, token, t.id)
		t.post(func() { t.finishFetch(gen, conv, err) })
	}()
}

func (t *Thread) finishFetch(gen uint64, conv *chat.Conversation, err error) {
	if gen != t.gen {
		t.logger.Debug("discarding stale fetch result", zap.Uint64("generation", gen))
		return
	}
	if t.fetchCancel != nil {
		t.fetchCancel()
		t.fetchCancel = nil
	}

	self := t.selfID()
	entries := Local(t.entries)
	if err != nil {
		t.fetchErr = err
		t.logger.Warn("history fetch failed", zap.Error(err))
	} else if conv == nil {
		t.fetchErr = api.ErrMalformedPayload
		t.logger.Warn("history fetch returned no conversation")
	} else {
		meta := *conv
		meta.Messages = nil
		t.conv = &meta
		t.fetchErr = nil
		for _, e := range Seed(conv.Messages, self) {
			entries, _ = Merge(entries, e.Message, self)
		}
		t.logger.Info("history loaded", zap.Int("messages", len(conv.Messages)))
	}
	for _, m := range t.buffered {
		entries, _ = Merge(entries, m, self)
	}
	t.buffered = nil
	t.entries = entries

	t.transition(status.Ready)
	if t.inflight > 0 {
		t.transition(status.Sending)
	}
	t.publish()
}

func (t *Thread) startSend(text string) (string, error) {
	if t.machine.Current() == status.Loading {
		return "", ErrNotReady
	}
	user := t.engine.identity.User()
	token := t.engine.identity.Token()
	if user == nil || token == "" {
		return "", ErrNotSignedIn
	}

	localID := uuid.Must(uuid.NewV7()).String()
	createdAt := time.Now().UTC().Truncate(time.Millisecond)
	t.entries = Append(t.entries, Entry{
		Message: chat.Message{
			ConversationID: t.id,
			SenderID:       user.ID,
			Text:           text,
			CreatedAt:      createdAt,
			ClientID:       localID,
		},
		State:   Pending,
		LocalID: localID,
		Own:     true,
	})
	t.inflight++
	t.transition(status.Sending)
	t.publish()

	t.engine.sender.Dispatch(t.ctx, outbox.Send{
		LocalID:        localID,
		ConversationID: t.id,
		SenderID:       user.ID,
		Text:           text,
		CreatedAt:      createdAt,
		Token:          token,
	}, func(res outbox.Result) {
		t.post(func() { t.finishSend(res) })
	})
	return localID, nil
}

func (t *Thread) finishSend(res outbox.Result) {
	t.inflight--
	localID := res.Send.LocalID
	var changed bool
	if res.Err != nil {
		t.entries, changed = Fail(t.entries, localID, res.Err.Error())
	} else {
		t.entries, changed = Confirm(t.entries, localID, *res.Message, t.selfID())
	}
	if !changed {
		t.logger.Debug("send outcome matched no entry", zap.String("local_id", localID))
	}
	if t.inflight == 0 && t.machine.Current() == status.Sending {
		t.transition(status.Ready)
	}
	t.publish()
}

func (t *Thread) openRealtime(token string) {
	if t.engine.connect == nil {
		return
	}
	t.rt = t.engine.connect(t.ctx, t.id, token)
	t.conn = Connection{State: Connecting}
	events := t.rt.Events()
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case evt, ok := <-events:
				if !ok {
					return
				}
				if !t.post(func() { t.applyRealtime(evt) }) {
					return
				}
			case <-t.ctx.Done():
				return
			}
		}
	}()
}

func (t *Thread) applyRealtime(evt realtime.Event) {
	switch evt.Kind {
	case realtime.MessageReceived:
		t.applyMessage(evt.Message)
		return
	case realtime.Connected:
		t.conn = Connection{State: Connected, Transport: evt.Transport}
	case realtime.Disconnected:
		t.conn = Connection{State: Disconnected, Transport: evt.Transport, Reason: evt.Reason}
		if evt.Final && t.rt != nil {
			// The handle has stopped; its Close returns at once and ends the pump.
			t.rt.Close()
			t.rt = nil
		}
	case realtime.TransportError:
		t.conn = Connection{State: Connecting, Transport: evt.Transport, Reason: evt.Reason}
	default:
		return
	}
	t.engine.bus.Publish(bus.Event{
		Kind:    bus.KindRealtimeConnection,
		Payload: ConnectionEvent{ConversationID: t.id, Connection: t.conn},
	})
	t.publish()
}

func (t *Thread) applyMessage(msg chat.Message) {
	if msg.ConversationID != "" && msg.ConversationID != t.id {
		t.logger.Debug("ignoring message for another conversation",
			zap.String("message_conversation_id", msg.ConversationID))
		return
	}
	if t.machine.Current() == status.Loading {
		t.buffered = append(t.buffered, msg)
		return
	}
	entries, outcome := Merge(t.entries, msg, t.selfID())
	if outcome == Duplicate {
		return
	}
	t.entries = entries
	t.publish()
}

func (t *Thread) transition(to status.State) {
	if err := t.machine.Transition(to); err != nil {
		t.logger.Warn("state transition rejected", zap.Error(err))
	}
}

func (t *Thread) publish() {
	t.version++
	s := &Snapshot{
		ConversationID: t.id,
		Conversation:   t.conv,
		State:          t.machine.Current(),
		Entries:        t.entries,
		FetchErr:       t.fetchErr,
		Connection:     t.conn,
		Version:        t.version,
	}
	t.engine.bus.Publish(bus.Event{Kind: bus.KindThreadUpdated, Payload: *s})
	t.snap.Store(s)
	select {
	case t.changed <- struct{}{}:
	default:
	}
}
