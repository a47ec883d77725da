package libim

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("base_url: https://chat.example.com/app\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultReconnectDelay, cfg.Session.ReconnectDelay)
	assert.Equal(t, DefaultHeartbeatInterval, cfg.Session.HeartbeatInterval)
	assert.Equal(t, ReconnectFixed, cfg.Session.ReconnectStrategy)

	endpoint, err := cfg.Endpoint()
	require.NoError(t, err)
	assert.Equal(t, "wss://chat.example.com/app/api/im", endpoint.String())

	ticket, err := cfg.TicketURL()
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com/app/api/im/ticket", ticket.String())
}

func TestParseConfigOverrides(t *testing.T) {
	data := []byte(`
base_url: http://localhost:9000
channel_url: ws://gateway.local:7000/socket
ticket_path: /v2/ticket
cookie: "session=abc"
session:
  reconnect_delay: 2s
  reconnect_strategy: exponential
  reconnect_max_delay: 20s
  max_reconnect_attempts: 4
  heartbeat_interval: 15s
  handshake_timeout: 3s
`)
	cfg, err := ParseConfig(data)
	require.NoError(t, err)

	assert.Equal(t, "session=abc", cfg.Cookie)

	endpoint, err := cfg.Endpoint()
	require.NoError(t, err)
	assert.Equal(t, "ws://gateway.local:7000/socket", endpoint.String())

	ticket, err := cfg.TicketURL()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/v2/ticket", ticket.String())

	sc := cfg.SessionConfig(nil)
	assert.Equal(t, 2*time.Second, sc.ReconnectDelay)
	assert.Equal(t, 4, sc.MaxReconnectAttempts)
	assert.Equal(t, 15*time.Second, sc.HeartbeatInterval)
	assert.Equal(t, 3*time.Second, sc.HandshakeTimeout)
	require.NotNil(t, sc.Backoff)
	assert.Equal(t, 2*time.Second, sc.Backoff(1))
	assert.Equal(t, 20*time.Second, sc.Backoff(10))
}

func TestParseConfigInvalid(t *testing.T) {
	tests := map[string]string{
		"not yaml":         "base_url: [",
		"bad scheme":       "base_url: ftp://example.com",
		"bad strategy":     "session:\n  reconnect_strategy: random",
		"negative retries": "session:\n  max_reconnect_attempts: -1",
		"bad duration":     "session:\n  reconnect_delay: soon",
	}

	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestConfigSessionConfigFixed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Session.ReconnectDelay = 0

	authenticated := false
	sc := cfg.SessionConfig(func() bool { return authenticated })

	assert.Equal(t, DefaultReconnectDelay, sc.ReconnectDelay)
	assert.Equal(t, DefaultReconnectDelay, sc.Backoff(1))
	assert.Equal(t, DefaultReconnectDelay, sc.Backoff(7))
	require.NotNil(t, sc.IsAuthenticated)
	assert.False(t, sc.IsAuthenticated())
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "libim.yaml")
	require.NoError(t, os.WriteFile(path, []byte("base_url: http://im.local\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://im.local", cfg.BaseURL)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestReconnectPolicy(t *testing.T) {
	p := newReconnectPolicy(FixedBackoff(time.Second), 2)

	attempt, delay, ok := p.next()
	assert.True(t, ok)
	assert.Equal(t, 1, attempt)
	assert.Equal(t, time.Second, delay)

	attempt, _, ok = p.next()
	assert.True(t, ok)
	assert.Equal(t, 2, attempt)

	_, _, ok = p.next()
	assert.False(t, ok)
	assert.Equal(t, 2, p.Attempts())

	p.reset()
	_, _, ok = p.next()
	assert.True(t, ok)
}

func TestReconnectPolicyUnbounded(t *testing.T) {
	p := newReconnectPolicy(FixedBackoff(time.Millisecond), 0)
	for i := 0; i < 100; i++ {
		_, _, ok := p.next()
		require.True(t, ok)
	}
	assert.Equal(t, 100, p.Attempts())
}

func TestCappedExponentialBackoff(t *testing.T) {
	b := CappedExponentialBackoff(time.Second, 10*time.Second)

	assert.Equal(t, time.Second, b(1))
	assert.Equal(t, 1500*time.Millisecond, b(2))
	assert.Equal(t, 2500*time.Millisecond, b(3))
	assert.Equal(t, 10*time.Second, b(8))
	assert.Equal(t, 10*time.Second, b(30))
}
