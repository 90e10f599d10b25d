// Package transport carries text turns between humans and the agent.
package transport

import "context"

// Handler receives inbound events from a transport. Implementations are
// invoked from the transport's run loop and must not block indefinitely.
type Handler interface {
	// OnUserText is called once per inbound human utterance.
	OnUserText(ctx context.Context, sessionID, text string)
	// OnDisconnect is called when a session's channel goes away.
	OnDisconnect(sessionID string)
}

// Transport delivers agent replies and feeds inbound utterances to a handler.
type Transport interface {
	// Deliver sends text to the human-facing channel, fire-and-forget.
	Deliver(ctx context.Context, sessionID, text string) error
	// Run blocks dispatching inbound events to the handler until the context
	// is canceled.
	Run(ctx context.Context, handler Handler) error
	Close() error
}
