package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const websocketPath = "/realtime/ws"

func (h *Handle) websocketSession(ctx context.Context) (bool, error) {
	target, err := endpointURL(h.endpoint, websocketPath, true, url.Values{
		"conversationId": {h.opts.ConversationID},
		"token":          {h.opts.Token},
	})
	if err != nil {
		return false, err
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: h.opts.ConnectTimeout,
	}
	header := http.Header{}
	if h.opts.Token != "" {
		header.Set("Authorization", "Bearer "+h.opts.Token)
	}

	conn, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("websocket dial: %w (status %d)", err, resp.StatusCode)
		}
		return false, fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage when the handle closes.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadlineNow())
		_ = conn.Close()
	})
	defer stop()

	if !h.emit(ctx, Event{Kind: Connected, Transport: Websocket}) {
		return true, errSessionDone
	}
	h.logger.Info("realtime connected", zap.String("transport", string(Websocket)))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, errSessionDone
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return true, fmt.Errorf("server closed connection: %w", err)
			}
			return true, fmt.Errorf("websocket read: %w", err)
		}

		msg, ok, err := decodeFrame(data)
		if err != nil {
			if !h.emit(ctx, Event{Kind: TransportError, Transport: Websocket, Reason: err.Error()}) {
				return true, errSessionDone
			}
			continue
		}
		if !ok {
			continue
		}
		if !h.emit(ctx, Event{Kind: MessageReceived, Transport: Websocket, Message: msg}) {
			return true, errSessionDone
		}
	}
}

func deadlineNow() time.Time {
	return time.Now().Add(time.Second)
}
