package libim

import (
	"context"
)

type (
	// TicketAcquirer exchanges the caller's ambient credentials for a short-lived, single-use channel
	// ticket. Implementations return an error wrapping ErrUnauthenticated when the caller has no
	// session at all.
	TicketAcquirer interface {
		Acquire(ctx context.Context) (string, error)
	}

	TicketAcquirerFunc func(ctx context.Context) (string, error)

	// AuthChecker reports whether the caller still holds a session. The session manager asks it before
	// scheduling a reconnect.
	AuthChecker func() bool
)

func (f TicketAcquirerFunc) Acquire(ctx context.Context) (string, error) {
	return f(ctx)
}

func alwaysAuthenticated() bool { return true }
