package libim

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
)

const defaultTicketTimeout = 10 * time.Second

type (
	// HTTPTicketAcquirer fetches tickets from the IM backend's ticket endpoint.
	HTTPTicketAcquirer struct {
		logger  logger
		client  *fasthttp.Client
		url     url.URL
		cookie  func() string
		timeout time.Duration
	}

	// apiEnvelope is the response body shared by the backend's REST endpoints.
	apiEnvelope struct {
		Code    *int            `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}

	ticketData struct {
		Ticket string `json:"ticket"`
	}
)

// NewHTTPTicketAcquirer builds an acquirer for ticketURL. cookie returns the Cookie header carrying the
// caller's session; it is read on every call so a refreshed session is picked up.
func NewHTTPTicketAcquirer(
	logger logger,
	client *fasthttp.Client,
	ticketURL url.URL,
	cookie func() string,
	timeout time.Duration,
) *HTTPTicketAcquirer {
	if client == nil {
		client = &fasthttp.Client{Name: "libim"}
	}
	if cookie == nil {
		cookie = func() string { return "" }
	}
	if timeout <= 0 {
		timeout = defaultTicketTimeout
	}
	return &HTTPTicketAcquirer{
		logger:  logger.WithField("type", "ticket_acquirer"),
		client:  client,
		url:     ticketURL,
		cookie:  cookie,
		timeout: timeout,
	}
}

func (a *HTTPTicketAcquirer) Acquire(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(a.url.String())
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")
	if c := a.cookie(); c != "" {
		req.Header.Set(fasthttp.HeaderCookie, c)
	}

	timeout := a.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
		if timeout <= 0 {
			return "", context.DeadlineExceeded
		}
	}

	if err := a.client.DoTimeout(req, resp, timeout); err != nil {
		return "", errors.Wrap(ErrTicketRequest, err.Error())
	}

	// fasthttp does not observe ctx; a result that arrives after cancellation is dropped
	if err := ctx.Err(); err != nil {
		return "", err
	}

	return a.parse(resp.StatusCode(), resp.Body())
}

func (a *HTTPTicketAcquirer) parse(status int, body []byte) (string, error) {
	if status == fasthttp.StatusUnauthorized {
		return "", errors.Wrap(ErrUnauthenticated, "ticket endpoint returned 401")
	}
	if status != fasthttp.StatusOK {
		return "", errors.Wrapf(ErrTicketRequest, "ticket endpoint returned status %d", status)
	}

	var env apiEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", errors.Wrap(ErrTicketRequest, "cannot decode ticket response: "+err.Error())
	}

	if env.Code != nil && *env.Code != fasthttp.StatusOK {
		if *env.Code == fasthttp.StatusUnauthorized {
			return "", errors.Wrap(ErrUnauthenticated, env.Message)
		}
		return "", errors.Wrapf(ErrTicketRequest, "code %d: %s", *env.Code, env.Message)
	}

	var data ticketData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return "", errors.Wrap(ErrTicketRequest, "cannot decode ticket payload: "+err.Error())
		}
	}

	ticket := strings.TrimSpace(data.Ticket)
	if ticket == "" {
		return "", ErrNoTicket
	}

	a.logger.Debugln("ticket acquired")
	return ticket, nil
}
