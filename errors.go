package libim

import (
	"fmt"
	"net/url"

	"github.com/pkg/errors"
)

var (
	ErrConnectionClosed = errors.New("connection has been closed")
	ErrCannotConnect    = errors.New("connection cannot be established")
	ErrTerminated       = errors.New("program exit")
	ErrRateLimit        = errors.New("rate limit exceeded")

	// ErrUnauthenticated means the caller has no active session. It is terminal for a channel:
	// the session manager never retries after it.
	ErrUnauthenticated = errors.New("not authenticated")
	ErrNoTicket        = errors.New("ticket endpoint returned no ticket")
	ErrTicketRequest   = errors.New("ticket request failed")
	ErrNotOpen         = errors.New("channel is not open")

	ErrStreamStatus = errors.New("stream request returned a non-success status")
	ErrStreamBody   = errors.New("stream response body is unavailable")
)

// ErrUnrecoverableConnection marks a dial rejected in a way a new ticket cannot fix, such as a 404 on the
// channel endpoint. Sessions do not reconnect after it.
type ErrUnrecoverableConnection struct {
	err error
	url url.URL
}

func (e ErrUnrecoverableConnection) Error() string {
	return fmt.Sprintf("Unrecoverable connection error: %s to %s", e.err, e.url.Redacted())
}

func (e ErrUnrecoverableConnection) Unwrap() error { return e.err }

func WrapErrorUnrecoverableConnection(err error, url url.URL) *ErrUnrecoverableConnection {
	if err == nil {
		return nil
	}
	return &ErrUnrecoverableConnection{
		err: err,
		url: url,
	}
}

// IsUnauthenticated reports whether err signals a missing session rather than a transient failure.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrUnauthenticated)
}

// IsUnrecoverable reports whether err carries an ErrUnrecoverableConnection.
func IsUnrecoverable(err error) bool {
	var target *ErrUnrecoverableConnection
	return errors.As(err, &target)
}
