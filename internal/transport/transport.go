package transport

import "context"

// Transport delivers outbound replies to the messaging gateway that fronts
// the end-user channel.
type Transport interface {
	SendText(ctx context.Context, conversationID, text string) error
}
