package realtime

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/matheus3301/socialchat/internal/chat"
)

// Event is one item of a Handle's stream. Message is set for
// MessageReceived; Reason for Disconnected and TransportError.
type Event struct {
	Kind      EventKind
	Transport Transport
	Reason    string
	Message   chat.Message
	// Final marks the last event of a handle that stopped reconnecting.
	// Nothing follows it until the handle is closed.
	Final bool
}

// frameTypeMessage is the only frame type the client acts on.
const frameTypeMessage = "message"

// frame is the envelope the server pushes on either transport.
type frame struct {
	Type    string        `json:"type"`
	Message *chat.Message `json:"message,omitempty"`
}

// pollResponse is the body of GET /realtime/poll.
type pollResponse struct {
	Cursor string            `json:"cursor"`
	Events []json.RawMessage `json:"events"`
}

// decodeFrame parses one frame. It returns ok=false for frame types the
// client does not handle.
func decodeFrame(data []byte) (chat.Message, bool, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return chat.Message{}, false, fmt.Errorf("malformed frame: %w", err)
	}
	if f.Type != frameTypeMessage {
		return chat.Message{}, false, nil
	}
	if f.Message == nil {
		return chat.Message{}, false, fmt.Errorf("malformed frame: message frame without message")
	}
	return *f.Message, true, nil
}

// endpointURL resolves path against the configured endpoint, switching to
// the websocket scheme when ws is set.
func endpointURL(endpoint, path string, ws bool, query url.Values) (string, error) {
	u, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil {
		return "", fmt.Errorf("parse realtime endpoint: %w", err)
	}
	if ws {
		switch u.Scheme {
		case "http":
			u.Scheme = "ws"
		case "https":
			u.Scheme = "wss"
		case "ws", "wss":
		default:
			return "", fmt.Errorf("realtime endpoint %q: unsupported scheme", endpoint)
		}
	} else {
		switch u.Scheme {
		case "ws":
			u.Scheme = "http"
		case "wss":
			u.Scheme = "https"
		case "http", "https":
		default:
			return "", fmt.Errorf("realtime endpoint %q: unsupported scheme", endpoint)
		}
	}
	u.Path += path
	u.RawQuery = query.Encode()
	return u.String(), nil
}
