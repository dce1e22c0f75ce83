package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

const pollPath = "/realtime/poll"

// pollingSession long-polls the server. The first successful poll counts as
// the connection; any later failure ends the session.
func (h *Handle) pollingSession(ctx context.Context) (bool, error) {
	cursor := ""
	connected := false

	for {
		timeout := h.opts.RequestTimeout
		if !connected {
			timeout = h.opts.ConnectTimeout
		}
		resp, err := h.poll(ctx, cursor, timeout)
		if err != nil {
			if ctx.Err() != nil {
				return connected, errSessionDone
			}
			return connected, err
		}

		if !connected {
			connected = true
			if !h.emit(ctx, Event{Kind: Connected, Transport: Polling}) {
				return true, errSessionDone
			}
			h.logger.Info("realtime connected", zap.String("transport", string(Polling)))
		}

		for _, raw := range resp.Events {
			msg, ok, err := decodeFrame(raw)
			if err != nil {
				if !h.emit(ctx, Event{Kind: TransportError, Transport: Polling, Reason: err.Error()}) {
					return true, errSessionDone
				}
				continue
			}
			if !ok {
				continue
			}
			if !h.emit(ctx, Event{Kind: MessageReceived, Transport: Polling, Message: msg}) {
				return true, errSessionDone
			}
		}
		if resp.Cursor != "" {
			cursor = resp.Cursor
		}

		timer := time.NewTimer(h.opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return true, errSessionDone
		case <-timer.C:
		}
	}
}

func (h *Handle) poll(ctx context.Context, cursor string, timeout time.Duration) (*pollResponse, error) {
	target, err := endpointURL(h.endpoint, pollPath, false, url.Values{
		"conversationId": {h.opts.ConversationID},
		"cursor":         {cursor},
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if h.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.opts.Token)
	}

	resp, err := h.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("poll: server returned %d", resp.StatusCode)
	}
	var out pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("poll: malformed response: %w", err)
	}
	return &out, nil
}
