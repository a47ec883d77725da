package libim

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

const (
	agentSearchPath   = "/api/agent/search"
	agentConversePath = "/api/agent/converse"
)

type (
	// StreamClient opens streaming HTTP requests and feeds their bodies to Decode. Credentials travel
	// through the http.Client, typically as cookies held by its jar.
	StreamClient struct {
		logger  logger
		client  *http.Client
		baseURL url.URL
	}

	AgentConverseRequest struct {
		Question string `json:"question,omitempty"`
		ChatID   string `json:"chat_id,omitempty"`
	}

	gzipBody struct {
		*gzip.Reader
		body io.Closer
	}
)

func NewStreamClient(logger logger, client *http.Client, baseURL url.URL) *StreamClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &StreamClient{
		logger:  logger.WithField("type", "stream_client"),
		client:  client,
		baseURL: baseURL,
	}
}

// AgentSearch streams the agent's answer to a search query.
func (c *StreamClient) AgentSearch(ctx context.Context, query string, cb StreamCallbacks) {
	u := c.resolve(agentSearchPath)
	if query != "" {
		u.RawQuery = url.Values{"query": []string{query}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		cb.fail(errors.Wrap(err, "cannot build agent search request"))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	c.Stream(ctx, req, cb)
}

// AgentConverse streams the agent's reply within a chat.
func (c *StreamClient) AgentConverse(ctx context.Context, r AgentConverseRequest, cb StreamCallbacks) {
	body, err := json.Marshal(r)
	if err != nil {
		cb.fail(errors.Wrap(err, "cannot encode agent converse request"))
		return
	}

	u := c.resolve(agentConversePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		cb.fail(errors.Wrap(err, "cannot build agent converse request"))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	c.Stream(ctx, req, cb)
}

// Stream performs req and decodes its body. Transport failures, non-2xx statuses and missing bodies
// are reported once through cb.OnError. Cancelling ctx aborts silently.
func (c *StreamClient) Stream(ctx context.Context, req *http.Request, cb StreamCallbacks) {
	req = req.WithContext(ctx)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			c.logger.Debugf("stream to %s aborted before response", req.URL.Path)
			return
		}
		c.logger.Errorf("stream to %s failed: %s", req.URL.Path, err)
		cb.fail(errors.Wrap(err, "stream request failed"))
		return
	}

	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Errorf("stream to %s returned status %d", req.URL.Path, resp.StatusCode)
		cb.fail(errors.Wrapf(ErrStreamStatus, "status %d", resp.StatusCode))
		return
	}

	// an empty 200 is a stream that ended at once; only null-body statuses have nothing to read
	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusResetContent {
		c.logger.Errorf("stream to %s returned no body", req.URL.Path)
		cb.fail(errors.Wrapf(ErrStreamBody, "status %d", resp.StatusCode))
		return
	}

	var body io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			cb.fail(errors.Wrap(err, "cannot inflate stream body"))
			return
		}
		body = gzipBody{Reader: zr, body: resp.Body}
	}

	Decode(ctx, body, cb)
}

func (c *StreamClient) resolve(path string) url.URL {
	u := c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u
}

func (g gzipBody) Close() error {
	_ = g.Reader.Close()
	return g.body.Close()
}
