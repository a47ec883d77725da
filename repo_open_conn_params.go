package libim

import (
	"context"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
)

const ticketQueryParam = "ticket"

type (
	// OpenConnectionParams is everything the transport needs to dial once.
	OpenConnectionParams struct {
		URL    url.URL
		Header http.Header
	}

	// OpenConnectionParamsRepo produces dial parameters for a single connection attempt. Every call
	// acquires a fresh ticket; tickets are single-use and never cached.
	OpenConnectionParamsRepo struct {
		logger   logger
		endpoint url.URL
		header   http.Header
		acquirer TicketAcquirer
	}
)

func (r OpenConnectionParamsRepo) Get(ctx context.Context) (params OpenConnectionParams, err error) {
	ticket, err := r.acquirer.Acquire(ctx)
	if err != nil {
		r.logger.Errorf("cannot fetch channel ticket: %s", err)
		return OpenConnectionParams{}, err
	}
	if ticket == "" {
		r.logger.Warnln("ticket acquirer returned an empty ticket")
		return OpenConnectionParams{}, ErrNoTicket
	}

	u := r.endpoint
	q := u.Query()
	q.Set(ticketQueryParam, ticket)
	u.RawQuery = q.Encode()

	return OpenConnectionParams{URL: u, Header: r.header.Clone()}, nil
}

// NewOpenConnectionParamsRepo builds dial parameters for endpoint, a ws:// or wss:// URL. header is
// sent with every handshake and may be nil.
func NewOpenConnectionParamsRepo(
	logger logger,
	endpoint url.URL,
	header http.Header,
	acquirer TicketAcquirer,
) (OpenConnectionParamsRepo, error) {
	switch endpoint.Scheme {
	case "ws", "wss":
	default:
		return OpenConnectionParamsRepo{}, errors.Errorf("channel endpoint must use ws or wss, got %q", endpoint.Scheme)
	}
	if acquirer == nil {
		return OpenConnectionParamsRepo{}, errors.New("ticket acquirer is required")
	}
	return OpenConnectionParamsRepo{
		logger:   logger.WithField("type", "open_conn_params_repo"),
		endpoint: endpoint,
		header:   header,
		acquirer: acquirer,
	}, nil
}
