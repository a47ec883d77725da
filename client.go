package libim

import (
	"context"
)

type (
	// Client is what application code needs from a realtime channel. *Session implements it; views and
	// stores should depend on this interface rather than on a shared global session.
	Client interface {
		// Connect opens the channel, re-acquiring a ticket on every attempt.
		Connect(ctx context.Context)
		// Disconnect closes the channel and stops automatic reconnection.
		Disconnect()
		// Send writes a frame while the channel is open.
		Send(payload any) error
		// Subscribe registers an inbound event handler and returns its unregister function.
		Subscribe(handler MessageHandler) (unsubscribe func())
		// State reports the channel state.
		State() ConnectionState
	}

	MessageHandler func(Event)

	EventHandler func(EventType)

	// ClientFactory builds the channel owned by the application's composition root.
	ClientFactory func() Client
)

var _ Client = (*Session)(nil)

// NewSessionFactory returns a ClientFactory producing independent sessions sharing the same wiring.
func NewSessionFactory(
	logger logger,
	cfg SessionConfig,
	params OpenConnectionParamsRepo,
	connFactory ConnectionFactory,
) ClientFactory {
	return func() Client {
		return NewSession(logger, cfg, params, connFactory)
	}
}
