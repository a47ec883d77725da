package libim

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// imBackend serves the ticket endpoint and the channel endpoint. Every ticket is single use.
type imBackend struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	issued   map[string]bool
	next     int
	rejectWS int

	conns chan *websocket.Conn
}

func newIMBackend(t *testing.T) *imBackend {
	t.Helper()

	b := &imBackend{
		t:      t,
		issued: map[string]bool{},
		conns:  make(chan *websocket.Conn, 4),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/im/ticket", b.ticket)
	mux.HandleFunc("/api/im", b.channel)

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *imBackend) ticket(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Cookie") != "session=ok" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":401,"message":"login required"}`))
		return
	}

	b.mu.Lock()
	b.next++
	ticket := fmt.Sprintf("t-%d", b.next)
	b.issued[ticket] = false
	b.mu.Unlock()

	_, _ = fmt.Fprintf(w, `{"code":200,"message":"ok","data":{"ticket":%q}}`, ticket)
}

func (b *imBackend) channel(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")

	b.mu.Lock()
	used, known := b.issued[ticket]
	reject := b.rejectWS
	if known && !used {
		b.issued[ticket] = true
	}
	b.mu.Unlock()

	if reject != 0 {
		w.WriteHeader(reject)
		return
	}
	if !known || used {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.t.Errorf("upgrade: %v", err)
		return
	}
	b.conns <- c
}

func (b *imBackend) Accept() *websocket.Conn {
	b.t.Helper()
	select {
	case c := <-b.conns:
		b.t.Cleanup(func() { _ = c.Close() })
		return c
	case <-time.After(2 * time.Second):
		b.t.Fatal("timed out waiting for the channel connection")
		return nil
	}
}

func (b *imBackend) Tickets() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.next
}

func (b *imBackend) Config() Config {
	cfg := DefaultConfig()
	cfg.BaseURL = b.srv.URL
	cfg.Cookie = "session=ok"
	return cfg
}

func newBackendSession(t *testing.T, b *imBackend, cookie string, tuning SessionConfig) *Session {
	t.Helper()

	log := newTestLogger(&lockedBuffer{})
	cfg := b.Config()

	ticketURL, err := cfg.TicketURL()
	require.NoError(t, err)
	endpoint, err := cfg.Endpoint()
	require.NoError(t, err)

	acquirer := NewHTTPTicketAcquirer(log, nil, ticketURL, func() string { return cookie }, time.Second)
	repo, err := NewOpenConnectionParamsRepo(log, endpoint, nil, acquirer)
	require.NoError(t, err)

	s := NewSession(log, tuning, repo, NewWebsocketFactory(log, nil, ErrorAdapters{}))
	t.Cleanup(s.Close)
	return s
}

func readText(t *testing.T, c *websocket.Conn) string {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	typ, data, err := c.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, typ)
	return string(data)
}

func TestWebsocketSessionEndToEnd(t *testing.T) {
	b := newIMBackend(t)
	s := newBackendSession(t, b, "session=ok", SessionConfig{
		ReconnectDelay:    20 * time.Millisecond,
		HeartbeatInterval: 50 * time.Millisecond,
		HandshakeTimeout:  time.Second,
	})

	var mu sync.Mutex
	var types []string
	s.Subscribe(func(ev Event) {
		mu.Lock()
		types = append(types, ev.Type)
		mu.Unlock()
	})

	s.Connect(context.Background())
	require.Equal(t, StateOpen, s.State())
	server := b.Accept()

	// heartbeat frames reach the server while open
	assert.JSONEq(t, `{"type":"ping"}`, readText(t, server))

	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`)))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"type":"msg","data":{"id":"m-1"}}`)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(types) == 1
	}, waitFor, tick)
	mu.Lock()
	assert.Equal(t, []string{"msg"}, types)
	mu.Unlock()

	require.NoError(t, s.Send(map[string]string{"type": "typing"}))
	for {
		frame := readText(t, server)
		if strings.Contains(frame, "typing") {
			assert.JSONEq(t, `{"type":"typing"}`, frame)
			break
		}
	}

	// an unexpected drop reconnects with a fresh ticket
	require.NoError(t, server.Close())
	replacement := b.Accept()
	require.Eventually(t, func() bool { return s.State() == StateOpen }, waitFor, tick)
	assert.Equal(t, 2, b.Tickets())

	s.Disconnect()
	assert.Equal(t, StateClosed, s.State())

	require.NoError(t, replacement.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := replacement.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
	}
}

func TestWebsocketSessionUnauthenticated(t *testing.T) {
	b := newIMBackend(t)
	s := newBackendSession(t, b, "", SessionConfig{ReconnectDelay: 10 * time.Millisecond})

	s.Connect(context.Background())
	assert.Equal(t, StateClosed, s.State())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 0, b.Tickets())
}

func TestWebsocketSessionRetriesRejectedHandshake(t *testing.T) {
	b := newIMBackend(t)
	b.mu.Lock()
	b.rejectWS = http.StatusServiceUnavailable
	b.mu.Unlock()

	s := newBackendSession(t, b, "session=ok", SessionConfig{ReconnectDelay: 10 * time.Millisecond})
	s.Connect(context.Background())
	assert.NotEqual(t, StateOpen, s.State())

	require.Eventually(t, func() bool { return b.Tickets() >= 3 }, waitFor, tick)

	b.mu.Lock()
	b.rejectWS = 0
	b.mu.Unlock()

	b.Accept()
	require.Eventually(t, func() bool { return s.State() == StateOpen }, waitFor, tick)
}

func TestWebsocketConnectionDialErrors(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		want          error
		unrecoverable bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, want: ErrRateLimit},
		{name: "stale ticket", status: http.StatusUnauthorized, want: ErrCannotConnect},
		{name: "not found", status: http.StatusNotFound, want: ErrCannotConnect, unrecoverable: true},
		{name: "server error", status: http.StatusBadGateway, want: ErrCannotConnect},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			u, err := url.Parse("ws" + strings.TrimPrefix(srv.URL, "http") + "/api/im?ticket=secret")
			require.NoError(t, err)

			conn := NewWebsocketConnection(newTestLogger(&lockedBuffer{}), nil, make(chan Message), ErrorAdapters{})
			err = conn.Open(context.Background(), OpenConnectionParams{URL: *u})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var unrecoverable *ErrUnrecoverableConnection
			assert.Equal(t, tt.unrecoverable, errors.As(err, &unrecoverable))
			assert.Equal(t, tt.unrecoverable, IsUnrecoverable(err))
			assert.NotContains(t, err.Error(), "secret")

			select {
			case <-conn.CloseChan():
			default:
				t.Fatal("failed connection should be closed")
			}
			assert.ErrorIs(t, conn.Write(NewDataMessage([]byte("x"))), ErrConnectionClosed)
		})
	}
}
