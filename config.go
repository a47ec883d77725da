package libim

import (
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type (
	Config struct {
		// BaseURL is the HTTP origin of the backend, e.g. https://example.com.
		BaseURL string `yaml:"base_url"`
		// ChannelURL overrides the websocket endpoint. Derived from BaseURL and ChannelPath when empty.
		ChannelURL  string        `yaml:"channel_url"`
		ChannelPath string        `yaml:"channel_path"`
		TicketPath  string        `yaml:"ticket_path"`
		Cookie      string        `yaml:"cookie"`
		Session     SessionTuning `yaml:"session"`
	}

	SessionTuning struct {
		ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
		ReconnectStrategy    string        `yaml:"reconnect_strategy"`
		ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
		MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
		HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
		HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	}
)

const (
	ReconnectFixed       = "fixed"
	ReconnectExponential = "exponential"
)

// DefaultConfig mirrors the production backend layout.
func DefaultConfig() Config {
	return Config{
		BaseURL:     "http://localhost:8080",
		ChannelPath: "/api/im",
		TicketPath:  "/api/im/ticket",
		Session: SessionTuning{
			ReconnectDelay:    DefaultReconnectDelay,
			ReconnectStrategy: ReconnectFixed,
			ReconnectMaxDelay: 30 * time.Second,
			HeartbeatInterval: DefaultHeartbeatInterval,
			HandshakeTimeout:  DefaultHandshakeTimeout,
		},
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "cannot read config %s", path)
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "cannot parse config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if _, err := c.HTTPBase(); err != nil {
		return err
	}
	if _, err := c.Endpoint(); err != nil {
		return err
	}
	switch c.Session.ReconnectStrategy {
	case "", ReconnectFixed, ReconnectExponential:
	default:
		return errors.Errorf("unknown reconnect strategy %q", c.Session.ReconnectStrategy)
	}
	if c.Session.MaxReconnectAttempts < 0 {
		return errors.New("max_reconnect_attempts must not be negative")
	}
	return nil
}

// HTTPBase returns the parsed HTTP origin.
func (c Config) HTTPBase() (url.URL, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return url.URL{}, errors.Wrap(err, "invalid base_url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return url.URL{}, errors.Errorf("base_url must be http or https, got %q", c.BaseURL)
	}
	return *u, nil
}

// Endpoint returns the websocket URL the ticket is appended to.
func (c Config) Endpoint() (url.URL, error) {
	if c.ChannelURL != "" {
		u, err := url.Parse(c.ChannelURL)
		if err != nil {
			return url.URL{}, errors.Wrap(err, "invalid channel_url")
		}
		return *u, nil
	}

	u, err := c.HTTPBase()
	if err != nil {
		return url.URL{}, err
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = joinPath(u.Path, c.ChannelPath)
	return u, nil
}

// TicketURL returns the HTTP URL of the ticket endpoint.
func (c Config) TicketURL() (url.URL, error) {
	u, err := c.HTTPBase()
	if err != nil {
		return url.URL{}, err
	}
	u.Path = joinPath(u.Path, c.TicketPath)
	return u, nil
}

// SessionConfig translates the tuning section. isAuthenticated may be nil.
func (c Config) SessionConfig(isAuthenticated AuthChecker) SessionConfig {
	t := c.Session
	delay := t.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	maxDelay := t.ReconnectMaxDelay
	if maxDelay < delay {
		maxDelay = delay
	}

	backoff := FixedBackoff(delay)
	if t.ReconnectStrategy == ReconnectExponential {
		backoff = CappedExponentialBackoff(delay, maxDelay)
	}
	return SessionConfig{
		ReconnectDelay:       delay,
		Backoff:              backoff,
		MaxReconnectAttempts: t.MaxReconnectAttempts,
		HeartbeatInterval:    t.HeartbeatInterval,
		HandshakeTimeout:     t.HandshakeTimeout,
		IsAuthenticated:      isAuthenticated,
	}
}

func joinPath(base, p string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(p, "/")
}
