package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Transport names a realtime transport.
type Transport string

const (
	Websocket Transport = "websocket"
	Polling   Transport = "polling"
)

// EventKind discriminates Event.
type EventKind int

const (
	Connected EventKind = iota + 1
	Disconnected
	TransportError
	MessageReceived
)

func (k EventKind) String() string {
	switch k {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case TransportError:
		return "transport_error"
	case MessageReceived:
		return "message"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Options configure a Handle. Zero values take the defaults below.
type Options struct {
	Transports        []Transport
	ConnectTimeout    time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	PollInterval      time.Duration
	// RequestTimeout bounds each poll after the first; the server may hold
	// a poll open until it has events.
	RequestTimeout time.Duration
	Token          string
	ConversationID string
}

func (o Options) withDefaults() Options {
	if len(o.Transports) == 0 {
		o.Transports = []Transport{Websocket, Polling}
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.ReconnectAttempts < 0 {
		o.ReconnectAttempts = 0
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	return o
}

// ParseTransports converts configured names, rejecting unknown ones.
func ParseTransports(names []string) ([]Transport, error) {
	out := make([]Transport, 0, len(names))
	for _, n := range names {
		switch t := Transport(n); t {
		case Websocket, Polling:
			out = append(out, t)
		default:
			return nil, fmt.Errorf("unknown realtime transport %q", n)
		}
	}
	return out, nil
}

// errSessionDone ends a transport session without counting as a failure.
var errSessionDone = errors.New("session done")

// Handle is one live realtime subscription to a conversation. Its Events
// channel carries connection lifecycle and inbound messages in the order
// they happened; it is closed by Close.
type Handle struct {
	endpoint string
	opts     Options
	logger   *zap.Logger
	http     *http.Client

	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Open starts connecting to endpoint in the background. Connection progress
// is reported on Events. The handle lives until Close or until ctx is done.
func Open(ctx context.Context, endpoint string, opts Options, logger *zap.Logger) *Handle {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		endpoint: endpoint,
		opts:     opts.withDefaults(),
		logger:   logger.With(zap.String("conversation_id", opts.ConversationID)),
		http:     &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()},
		events:   make(chan Event, 64),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go h.run(ctx)
	return h
}

// Events returns the ordered event stream.
func (h *Handle) Events() <-chan Event {
	return h.events
}

// Close stops the handle, waits for the connection to be released and then
// closes Events. It is safe to call more than once.
func (h *Handle) Close() {
	h.once.Do(func() {
		h.cancel()
		<-h.done
		h.http.CloseIdleConnections()
		close(h.events)
	})
}

// emit delivers ev unless the handle is shutting down.
func (h *Handle) emit(ctx context.Context, ev Event) bool {
	select {
	case h.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// run connects with the first transport that works, reads until the
// connection drops and then reconnects after a fixed delay, up to
// ReconnectAttempts consecutive failures.
func (h *Handle) run(ctx context.Context) {
	defer close(h.done)

	failures := 0
	for {
		connected := false
		for _, t := range h.opts.Transports {
			wasConnected, err := h.session(ctx, t)
			if ctx.Err() != nil {
				return
			}
			if wasConnected {
				connected = true
				h.logger.Info("realtime disconnected", zap.String("transport", string(t)), zap.Error(err))
				if !h.emit(ctx, Event{Kind: Disconnected, Transport: t, Reason: reason(err)}) {
					return
				}
				break
			}
			h.logger.Warn("realtime transport failed", zap.String("transport", string(t)), zap.Error(err))
			if !h.emit(ctx, Event{Kind: TransportError, Transport: t, Reason: reason(err)}) {
				return
			}
		}

		if connected {
			failures = 0
		} else {
			failures++
		}
		if failures > h.opts.ReconnectAttempts {
			h.emit(ctx, Event{
				Kind:   Disconnected,
				Reason: fmt.Sprintf("gave up after %d reconnect attempts", h.opts.ReconnectAttempts),
				Final:  true,
			})
			return
		}

		timer := time.NewTimer(h.opts.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// session runs one connection on transport t. It reports whether the
// connection was established before it ended.
func (h *Handle) session(ctx context.Context, t Transport) (bool, error) {
	switch t {
	case Websocket:
		return h.websocketSession(ctx)
	case Polling:
		return h.pollingSession(ctx)
	}
	return false, fmt.Errorf("unknown transport %q", t)
}

func reason(err error) string {
	if err == nil || errors.Is(err, errSessionDone) {
		return "closed"
	}
	return err.Error()
}
