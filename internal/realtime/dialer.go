package realtime

import (
	"context"

	"go.uber.org/zap"
)

// Dialer opens handles against one endpoint with shared options.
type Dialer struct {
	Endpoint string
	Options  Options
	Logger   *zap.Logger
}

// Open starts a handle for conversationID authorized by token.
func (d *Dialer) Open(ctx context.Context, conversationID, token string) *Handle {
	opts := d.Options
	opts.ConversationID = conversationID
	opts.Token = token
	return Open(ctx, d.Endpoint, opts, d.Logger)
}
