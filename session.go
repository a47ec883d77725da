package libim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultReconnectDelay    = 5 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
)

// ConnectionState is the lifecycle state of a Session.
type ConnectionState uint8

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("ConnectionState(%d)", uint8(s))
}

type (
	openConnectionParamsRepo interface {
		Get(ctx context.Context) (OpenConnectionParams, error)
	}

	SessionConfig struct {
		// ReconnectDelay is the wait before retrying after an unintended close. Ignored when Backoff is set.
		ReconnectDelay time.Duration
		Backoff        BackoffCalculator
		// MaxReconnectAttempts bounds consecutive failed reconnects. Zero retries forever.
		MaxReconnectAttempts int
		HeartbeatInterval    time.Duration
		// HandshakeTimeout bounds ticket acquisition plus dial. Zero means no bound besides Disconnect.
		HandshakeTimeout time.Duration
		KeepAliveMessage KeepAliveMessageFactory
		// IsAuthenticated is consulted before every reconnect. Nil means always authenticated.
		IsAuthenticated AuthChecker
		// ControlHandler answers transport-level control frames. Nil replies to pings with pongs.
		ControlHandler PassiveKeepAliveHandler
	}

	// Session owns one logical realtime channel: ticket handshake, transport, heartbeat, reconnection and
	// fan-out to subscribers. All methods are safe for concurrent use. Subscriber and lifecycle callbacks
	// run without any internal lock held, so they may call back into the session.
	Session struct {
		logger      logger
		cfg         SessionConfig
		params      openConnectionParamsRepo
		connFactory ConnectionFactory
		clock       scheduler
		policy      *reconnectPolicy

		lifecycle *EventEmitterCallback[EventType, EventType]
		inbound   *EventEmitterCallback[EventType, Event]

		mu    sync.Mutex
		state ConnectionState
		// gen identifies the current attempt. Every Connect and Disconnect bumps it so results of
		// superseded attempts, stale timers and old transports are ignored.
		gen           uint64
		stopped       bool
		conn          Connection
		cancelAttempt context.CancelFunc
		heartbeat     taskHandle
		reconnect     taskHandle
	}
)

func (c SessionConfig) withDefaults() SessionConfig {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Backoff == nil {
		c.Backoff = FixedBackoff(c.ReconnectDelay)
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.KeepAliveMessage == nil {
		c.KeepAliveMessage = JSONHeartbeatFactory()
	}
	if c.IsAuthenticated == nil {
		c.IsAuthenticated = alwaysAuthenticated
	}
	if c.ControlHandler == nil {
		c.ControlHandler = KeepAliveHandlerReplyPingWithPong
	}
	return c
}

// NewSession builds an idle session. Nothing is dialed until Connect.
func NewSession(
	logger logger,
	cfg SessionConfig,
	params OpenConnectionParamsRepo,
	connFactory ConnectionFactory,
) *Session {
	return newSession(logger, cfg, params, connFactory, wallClock{})
}

func newSession(
	logger logger,
	cfg SessionConfig,
	params openConnectionParamsRepo,
	connFactory ConnectionFactory,
	clock scheduler,
) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		logger:      logger.WithField("type", "session"),
		cfg:         cfg,
		params:      params,
		connFactory: connFactory,
		clock:       clock,
		policy:      newReconnectPolicy(cfg.Backoff, cfg.MaxReconnectAttempts),
		lifecycle:   NewEventEmitter[EventType, EventType](),
		inbound:     NewEventEmitter[EventType, Event](),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect opens the channel. It is a no-op while the session is connecting or open. It blocks until the
// attempt resolves: either the channel is open, or it is closed and a retry has been scheduled when one
// applies. Failures never surface to the caller; they drive the reconnect policy.
//
// Ticket acquisition plus dial may take up to HandshakeTimeout, or until ctx is done or Disconnect is
// called when no timeout is configured. That holds for calls made from a lifecycle listener too, which
// then delays the listeners after it; run Connect from a goroutine where that matters.
func (s *Session) Connect(ctx context.Context) {
	s.connect(ctx, false)
}

// connect runs one attempt. Caller-initiated attempts restore the full reconnect budget.
func (s *Session) connect(ctx context.Context, retry bool) {
	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateOpen {
		state := s.state
		s.mu.Unlock()
		s.logger.Debugf("connect ignored, channel is %s", state)
		return
	}

	s.gen++
	gen := s.gen
	s.stopped = false
	s.state = StateConnecting
	// an explicit connect supersedes a pending retry
	s.stopReconnectLocked()
	if !retry {
		s.policy.reset()
	}

	var attemptCtx context.Context
	var cancel context.CancelFunc
	if s.cfg.HandshakeTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	} else {
		attemptCtx, cancel = context.WithCancel(ctx)
	}
	s.cancelAttempt = cancel
	s.mu.Unlock()

	defer cancel()

	s.logger.Debugf("connecting, attempt #%d", gen)

	params, err := s.params.Get(attemptCtx)
	if err != nil {
		s.handshakeFailed(gen, err)
		return
	}

	if !s.isCurrent(gen) {
		s.logger.Debugln("ticket arrived after disconnect, dropping it")
		return
	}

	recv := make(chan Message)
	conn := s.connFactory(recv)
	if err := conn.Open(attemptCtx, params); err != nil {
		conn.Close()
		s.handshakeFailed(gen, err)
		return
	}

	s.mu.Lock()
	if gen != s.gen || s.state != StateConnecting {
		s.mu.Unlock()
		s.logger.Debugln("connection opened after disconnect, dropping it")
		conn.Close()
		return
	}

	s.conn = conn
	s.state = StateOpen
	s.cancelAttempt = nil
	s.stopReconnectLocked()
	s.stopHeartbeatLocked()
	s.heartbeat = s.clock.Every(s.cfg.HeartbeatInterval, func() { s.beat(gen) })
	s.policy.reset()
	s.mu.Unlock()

	go s.pump(gen, conn, recv)

	s.logger.Infoln("channel open")
	s.lifecycle.Emit(EventConnect, EventConnect)
}

// Disconnect closes the channel and prevents any automatic reconnection until Connect is called
// again. It is idempotent and safe in any state, including while an attempt is still in flight.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.disconnectLocked()
}

// disconnectIfCurrent tears the channel down only when gen is still the live attempt, so an
// attempt superseded by a later Connect cannot close its successor.
func (s *Session) disconnectIfCurrent(gen uint64) {
	s.mu.Lock()
	if s.stopped || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.disconnectLocked()
}

// disconnectLocked is entered with s.mu held and releases it.
func (s *Session) disconnectLocked() {
	s.stopped = true
	s.gen++
	if s.cancelAttempt != nil {
		s.cancelAttempt()
		s.cancelAttempt = nil
	}
	s.stopHeartbeatLocked()
	s.stopReconnectLocked()

	conn := s.conn
	s.conn = nil

	prev := s.state
	if prev == StateOpen {
		s.state = StateClosing
	} else {
		s.state = StateClosed
	}
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	if prev == StateOpen {
		s.mu.Lock()
		if s.state == StateClosing {
			s.state = StateClosed
		}
		s.mu.Unlock()
	}

	if prev == StateOpen || prev == StateConnecting {
		s.logger.Infoln("channel closed on request")
		s.lifecycle.Emit(EventClose, EventClose)
	}
}

// Close disconnects and drops every subscriber and lifecycle listener. The session must not be used
// afterwards.
func (s *Session) Close() {
	s.Disconnect()
	s.inbound.Close()
	s.lifecycle.Close()
}

// Subscribe registers handler for inbound events and returns a function that unregisters it.
// Handlers run synchronously in registration order; heartbeat acknowledgements are never delivered.
func (s *Session) Subscribe(handler MessageHandler) (unsubscribe func()) {
	return s.inbound.On(EventMessage, func(ev Event) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Errorf("subscriber panicked on %s event: %v", ev.Type, r)
			}
		}()
		handler(ev)
	})
}

// OnLifecycle registers handler for connect, close and reconnect events.
func (s *Session) OnLifecycle(handler EventHandler) (off func()) {
	fn := callback[EventType](handler)
	offs := []func(){
		s.lifecycle.On(EventConnect, fn),
		s.lifecycle.On(EventClose, fn),
		s.lifecycle.On(EventReconnect, fn),
	}
	return func() {
		for _, o := range offs {
			o()
		}
	}
}

// Send writes payload while the channel is open. Message values are sent as is, []byte as a text
// frame, anything else is JSON encoded. Outside the open state the payload is
// dropped with a warning and ErrNotOpen is returned; nothing is queued.
func (s *Session) Send(payload any) error {
	s.mu.Lock()
	state, conn := s.state, s.conn
	s.mu.Unlock()

	if state != StateOpen || conn == nil {
		s.logger.Warnf("dropping outbound frame, channel is %s", state)
		return errors.Wrapf(ErrNotOpen, "channel is %s", state)
	}

	var msg Message
	switch p := payload.(type) {
	case Message:
		msg = p
	case []byte:
		msg = NewDataMessage(p)
	default:
		var err error
		if msg, err = NewJSONMessage(payload); err != nil {
			s.logger.Errorf("cannot send frame: %s", err)
			return err
		}
	}

	if err := conn.Write(msg); err != nil {
		s.logger.Warnf("cannot send frame: %s", err)
		return err
	}
	return nil
}

func (s *Session) handshakeFailed(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.gen {
		// disconnected or superseded while the handshake was in flight
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.cancelAttempt = nil
	s.mu.Unlock()

	s.lifecycle.Emit(EventClose, EventClose)

	if IsUnauthenticated(err) {
		s.logger.Warnf("handshake refused, no active session: %s", err)
		return
	}
	if IsUnrecoverable(err) {
		s.logger.Errorf("handshake failed permanently, not reconnecting: %s", err)
		return
	}

	s.logger.Errorf("handshake failed: %s", err)
	s.scheduleReconnect(gen)
}

// pump dispatches inbound frames of one connection until it closes.
func (s *Session) pump(gen uint64, conn Connection, recv <-chan Message) {
	closeC := conn.CloseChan()
	for {
		select {
		case m := <-recv:
			s.handleFrame(conn, m)
		case <-closeC:
			s.connectionClosed(gen, conn.CloseErr())
			return
		}
	}
}

func (s *Session) handleFrame(conn Connection, m Message) {
	if s.cfg.ControlHandler(conn, m) {
		return
	}
	if !m.Type().IsData() {
		s.logger.Debugf("ignoring %s frame", m.Type())
		return
	}

	ev, err := DecodeEvent(m.Data())
	if err != nil {
		s.logger.Warnf("skipping inbound frame: %s", err)
		return
	}
	if ev.Kind == EventKindHeartbeatAck {
		s.logger.Debugln("heartbeat acknowledged")
		return
	}

	s.inbound.Emit(EventMessage, ev)
}

func (s *Session) connectionClosed(gen uint64, reason error) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateOpen {
		s.mu.Unlock()
		return
	}
	s.stopHeartbeatLocked()
	s.conn = nil
	s.state = StateClosed
	stopped := s.stopped
	s.mu.Unlock()

	s.logger.Warnf("channel closed: %v", reason)
	s.lifecycle.Emit(EventClose, EventClose)

	if !stopped {
		s.scheduleReconnect(gen)
	}
}

// scheduleReconnect arms the reconnect timer unless one is already pending.
func (s *Session) scheduleReconnect(gen uint64) {
	// a Connect or Disconnect issued since, for instance from a close listener, owns the session now
	if !s.isLive(gen) {
		return
	}

	if !s.cfg.IsAuthenticated() {
		s.logger.Infoln("session no longer authenticated, not reconnecting")
		s.disconnectIfCurrent(gen)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || gen != s.gen || s.reconnect != nil {
		return
	}

	attempt, delay, ok := s.policy.next()
	if !ok {
		s.logger.Errorf("giving up after %d reconnect attempts", attempt)
		return
	}

	s.logger.Infof("reconnect #%d in %s", attempt, delay)
	s.reconnect = s.clock.AfterFunc(delay, func() { s.fireReconnect(gen) })
}

func (s *Session) fireReconnect(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.stopped || s.state != StateClosed {
		s.mu.Unlock()
		return
	}
	s.reconnect = nil
	s.mu.Unlock()

	s.lifecycle.Emit(EventReconnect, EventReconnect)
	s.connect(context.Background(), true)
}

func (s *Session) isLive(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.stopped && gen == s.gen
}

func (s *Session) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen
}

func (s *Session) beat(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateOpen || s.conn == nil {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	s.mu.Unlock()

	if err := conn.Write(s.cfg.KeepAliveMessage()); err != nil {
		s.logger.Debugf("heartbeat not sent: %s", err)
	}
}

func (s *Session) stopHeartbeatLocked() {
	if s.heartbeat != nil {
		s.heartbeat.Stop()
		s.heartbeat = nil
	}
}

func (s *Session) stopReconnectLocked() {
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
}
