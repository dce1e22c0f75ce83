package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/matheus3301/socialchat/internal/api"
	"github.com/matheus3301/socialchat/internal/bus"
	"github.com/matheus3301/socialchat/internal/chat"
	"go.uber.org/zap"
)

// Poster is the REST call that delivers a message.
type Poster interface {
	PostMessage(ctx context.Context, token string, req api.PostMessageRequest) (*chat.Message, error)
}

// Journal records send outcomes. *store.DB implements it.
type Journal interface {
	JournalSend(localID, conversationID, senderID, body string, createdAt time.Time) error
	MarkOutboxSent(localID, serverMsgID string) error
	MarkOutboxFailed(localID, errMsg string) error
}

// Send is one optimistic message to deliver.
type Send struct {
	LocalID        string
	ConversationID string
	SenderID       string
	Text           string
	CreatedAt      time.Time
	Token          string
}

// Result is the outcome of a Send. Exactly one of Message and Err is set.
type Result struct {
	Send    Send
	Message *chat.Message
	Err     error
}

// SentEvent is the payload of outbox.sent and outbox.failed events.
type SentEvent struct {
	LocalID        string
	ConversationID string
	ServerMsgID    string
	Error          string
}

// Sender delivers sends in the background. A send is never retried and
// never cancelled once started: closing the view that issued it only means
// nobody applies the result.
type Sender struct {
	poster  Poster
	journal Journal
	bus     *bus.Bus
	logger  *zap.Logger

	wg sync.WaitGroup
}

// NewSender creates a new outbox sender. journal may be nil.
func NewSender(poster Poster, journal Journal, b *bus.Bus, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		poster:  poster,
		journal: journal,
		bus:     b,
		logger:  logger,
	}
}

// Dispatch starts delivering s and returns immediately. done is called from
// the delivery goroutine with the outcome. ctx only contributes values; its
// cancellation does not abort the request.
func (s *Sender) Dispatch(ctx context.Context, send Send, done func(Result)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res := s.deliver(context.WithoutCancel(ctx), send)
		if done != nil {
			done(res)
		}
	}()
}

// Wait blocks until every dispatched send has finished or ctx is done.
func (s *Sender) Wait(ctx context.Context) error {
	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sender) deliver(ctx context.Context, send Send) Result {
	log := s.logger.With(
		zap.String("local_id", send.LocalID),
		zap.String("conversation_id", send.ConversationID),
	)

	if s.journal != nil {
		if err := s.journal.JournalSend(send.LocalID, send.ConversationID, send.SenderID, send.Text, send.CreatedAt); err != nil {
			log.Warn("failed to journal send", zap.Error(err))
		}
	}

	msg, err := s.poster.PostMessage(ctx, send.Token, api.PostMessageRequest{
		ConversationID: send.ConversationID,
		SenderID:       send.SenderID,
		Text:           send.Text,
		CreatedAt:      send.CreatedAt,
		ClientID:       send.LocalID,
	})
	if err == nil && msg == nil {
		err = errors.New("backend returned no message")
	}
	if err != nil {
		log.Error("failed to send message", zap.Error(err))
		if s.journal != nil {
			if jerr := s.journal.MarkOutboxFailed(send.LocalID, err.Error()); jerr != nil {
				log.Warn("failed to journal send failure", zap.Error(jerr))
			}
		}
		s.bus.Publish(bus.Event{
			Kind: bus.KindOutboxFailed,
			Payload: SentEvent{
				LocalID:        send.LocalID,
				ConversationID: send.ConversationID,
				Error:          err.Error(),
			},
		})
		return Result{Send: send, Err: err}
	}

	if s.journal != nil {
		if err := s.journal.MarkOutboxSent(send.LocalID, msg.ID); err != nil {
			log.Warn("failed to journal send ack", zap.Error(err))
		}
	}
	log.Info("message sent", zap.String("server_msg_id", msg.ID))
	s.bus.Publish(bus.Event{
		Kind: bus.KindOutboxSent,
		Payload: SentEvent{
			LocalID:        send.LocalID,
			ConversationID: send.ConversationID,
			ServerMsgID:    msg.ID,
		},
	})
	return Result{Send: send, Message: msg}
}
