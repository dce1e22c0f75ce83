package outbox

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/socialchat/internal/api"
	"github.com/matheus3301/socialchat/internal/bus"
	"github.com/matheus3301/socialchat/internal/chat"
	"github.com/matheus3301/socialchat/internal/store"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// mockPoster records calls and returns configurable results.
type mockPoster struct {
	mu      sync.Mutex
	calls   []api.PostMessageRequest
	err     error
	release chan struct{} // when set, PostMessage blocks until closed
}

func (m *mockPoster) PostMessage(ctx context.Context, token string, req api.PostMessageRequest) (*chat.Message, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()
	if m.release != nil {
		<-m.release
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if m.err != nil {
		return nil, m.err
	}
	return &chat.Message{
		ID:        "server-" + req.ClientID,
		SenderID:  req.SenderID,
		Text:      req.Text,
		CreatedAt: req.CreatedAt,
		ClientID:  req.ClientID,
	}, nil
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, _, err := store.OpenMigrated(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testSend(localID string) Send {
	return Send{
		LocalID:        localID,
		ConversationID: "c1",
		SenderID:       "u1",
		Text:           "hello",
		CreatedAt:      time.UnixMilli(1_700_000_000_000),
		Token:          "tok",
	}
}

func dispatchAndWait(t *testing.T, s *Sender, send Send) Result {
	t.Helper()
	results := make(chan Result, 1)
	s.Dispatch(context.Background(), send, func(r Result) { results <- r })
	select {
	case r := <-results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for send result")
	}
	return Result{}
}

func TestSenderDeliversAndJournals(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	mock := &mockPoster{}
	s := NewSender(mock, db, b, nil)

	ch, unsub := b.Subscribe(bus.KindOutboxSent, 10)
	defer unsub()

	res := dispatchAndWait(t, s, testSend("l1"))
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Message.ID != "server-l1" {
		t.Errorf("server id = %q, want server-l1", res.Message.ID)
	}

	if len(mock.calls) != 1 {
		t.Fatalf("got %d post calls, want 1", len(mock.calls))
	}
	call := mock.calls[0]
	if call.ConversationID != "c1" || call.Text != "hello" || call.ClientID != "l1" {
		t.Errorf("call = %+v", call)
	}

	sent, err := db.ListOutbox(store.OutboxSent, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(sent) != 1 || sent[0].ServerMsgID != "server-l1" {
		t.Errorf("journal = %+v, want one sent entry for server-l1", sent)
	}

	select {
	case evt := <-ch:
		payload, ok := evt.Payload.(SentEvent)
		if !ok || payload.LocalID != "l1" {
			t.Errorf("payload = %+v", evt.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for outbox.sent event")
	}
}

func TestSenderHandlesFailure(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	mock := &mockPoster{err: fmt.Errorf("network error")}
	s := NewSender(mock, db, b, nil)

	ch, unsub := b.Subscribe(bus.KindOutboxFailed, 10)
	defer unsub()

	res := dispatchAndWait(t, s, testSend("l1"))
	if res.Err == nil {
		t.Fatal("expected error")
	}
	if res.Message != nil {
		t.Error("failed result must not carry a message")
	}

	failed, err := db.ListOutbox(store.OutboxFailed, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].ErrorMessage != "network error" {
		t.Errorf("journal = %+v", failed)
	}

	select {
	case evt := <-ch:
		if evt.Payload.(SentEvent).Error != "network error" {
			t.Errorf("payload = %+v", evt.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for outbox.failed event")
	}

	// No automatic retry.
	if len(mock.calls) != 1 {
		t.Errorf("got %d post calls, want 1", len(mock.calls))
	}
}

func TestSenderIgnoresCallerCancellation(t *testing.T) {
	mock := &mockPoster{release: make(chan struct{})}
	s := NewSender(mock, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	results := make(chan Result, 1)
	s.Dispatch(ctx, testSend("l1"), func(r Result) { results <- r })
	cancel()
	close(mock.release)

	select {
	case r := <-results:
		if r.Err != nil {
			t.Errorf("send was aborted by caller cancellation: %v", r.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for send result")
	}
}

func TestWaitDrainsInFlightSends(t *testing.T) {
	mock := &mockPoster{release: make(chan struct{})}
	s := NewSender(mock, nil, nil, nil)

	var mu sync.Mutex
	done := 0
	for i := 0; i < 3; i++ {
		s.Dispatch(context.Background(), testSend(fmt.Sprintf("l%d", i)), func(Result) {
			mu.Lock()
			done++
			mu.Unlock()
		})
	}

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Wait(short); err == nil {
		t.Error("Wait() returned before sends finished")
	}

	close(mock.release)
	if err := s.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if done != 3 {
		t.Errorf("got %d results, want 3", done)
	}
}

func TestSenderWithoutJournal(t *testing.T) {
	s := NewSender(&mockPoster{}, nil, nil, nil)
	res := dispatchAndWait(t, s, testSend("l1"))
	if res.Err != nil {
		t.Fatal(res.Err)
	}
}
