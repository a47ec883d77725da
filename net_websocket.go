package libim

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/pkg/errors"
)

const (
	defaultWriteTimeout = time.Second
	closeGracePeriod    = time.Second
)

type (
	ErrAdapter func(*websocket.Conn, *http.Response, error) error

	ErrorAdapters struct {
		OnDial ErrAdapter
	}

	// WsConnection represents a WebSocket connection.
	// It implements the Connection interface.
	WsConnection struct {
		errAdapters     ErrorAdapters
		logger          logger
		dialer          *websocket.Dialer
		conn            *websocket.Conn
		connMu          sync.Mutex
		closeChan       CloseChan
		closeOnce       sync.Once
		closeReason     error
		closeReasonOnce sync.Once
		recv            chan<- Message // recv messages to be received over the wire
		send            chan Message   // send messages to be sent over the wire
	}
)

func NewWebsocketConnection(
	logger logger,
	dialer *websocket.Dialer,
	recvChan chan<- Message,
	errorHandlers ErrorAdapters,
) *WsConnection {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &WsConnection{
		errAdapters: errorHandlers,
		dialer:      dialer,
		recv:        recvChan,
		send:        make(chan Message, 32),
		closeChan:   make(CloseChan),
		logger:      logger.WithField("net", "ws_connection"),
	}
}

func NewWebsocketFactory(
	logger logger,
	dialer *websocket.Dialer,
	errorHandlers ErrorAdapters,
) ConnectionFactory {
	return func(recvChan chan<- Message) Connection {
		return NewWebsocketConnection(logger, dialer, recvChan, errorHandlers)
	}
}

// Write queues a message to be sent over the WebSocket connection.
func (w *WsConnection) Write(m Message) error {
	select {
	case <-w.closeChan:
		return ErrConnectionClosed
	default:
	}

	select {
	case w.send <- m:
		return nil
	case <-w.closeChan:
		return ErrConnectionClosed
	}
}

// Close terminates the WebSocket connection, sending a normal closure frame first when possible.
func (w *WsConnection) Close() {
	w.setCloseReason(ErrTerminated)
	w.safeClose()
}

// Open dials the server. It returns once the handshake completed or failed; frames are then pumped
// from background goroutines until the connection closes.
func (w *WsConnection) Open(ctx context.Context, p OpenConnectionParams) error {
	// the query carries the ticket; keep it out of logs
	target := p.URL
	target.RawQuery = ""

	conn, resp, err := w.dialer.DialContext(ctx, p.URL.String(), p.Header)
	if err = w.handleDialError(conn, resp, err); err != nil {
		w.logger.Errorf("connection err to %s: %s", target.String(), err)
		if conn != nil {
			_ = conn.Close()
		}
		w.setCloseReason(err)
		w.safeClose()
		return err
	}

	w.logger.Debugf("success opening connection to %s", target.String())

	w.connMu.Lock()
	w.conn = conn
	w.connMu.Unlock()

	// Control frames are forwarded so the owner decides how to answer them.
	conn.SetPingHandler(func(appData string) error {
		w.logger.Debugln("<= [PING]")
		w.deliver(NewPingMessage([]byte(appData)))
		return nil
	})

	conn.SetPongHandler(func(appData string) error {
		w.logger.Debugln("<= [PONG]")
		w.deliver(NewPongMessage([]byte(appData)))
		return nil
	})

	conn.SetCloseHandler(func(code int, text string) error {
		reason := NewCloseMessage(code, []byte(text))
		w.logger.Debugf("<= %s", reason)
		w.setCloseReason(errors.Wrap(ErrConnectionClosed, reason.Error()))
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, ""),
			time.Now().Add(closeGracePeriod),
		)
		return nil
	})

	go w.read()
	go w.write()

	return nil
}

// CloseChan returns a channel that will be closed when the WebSocket connection is closed.
func (w *WsConnection) CloseChan() CloseChan {
	return w.closeChan
}

// CloseErr returns an error that explains why the WebSocket connection was closed.
func (w *WsConnection) CloseErr() error {
	select {
	case <-w.closeChan:
		return w.closeReason
	default:
		return nil
	}
}

func (w *WsConnection) deliver(m Message) {
	select {
	case w.recv <- m:
	case <-w.closeChan:
	}
}

func (w *WsConnection) read() {
	defer w.safeClose()

	for {
		messageType, bts, err := w.conn.ReadMessage()
		if err != nil {
			select {
			case <-w.closeChan:
				w.setCloseReason(ErrTerminated)
			default:
				w.logger.Infof("websocket read ended: %s", err)
				w.setCloseReason(errors.Wrap(ErrConnectionClosed, "error occurred on websocket read: "+err.Error()))
			}
			return
		}

		// message types from ReadMessage are either binary or text
		switch messageType {
		case websocket.BinaryMessage:
			w.logger.Debugln("<= [BIN]")
			w.deliver(NewBinaryMessage(bts))
		default:
			w.logger.Debugf("<= [DATA] %s", bts)
			w.deliver(NewDataMessage(bts))
		}
	}
}

func (w *WsConnection) write() {
	defer w.safeClose()

	for {
		select {
		case <-w.closeChan:
			return
		case msg := <-w.send:
			deadline := time.Now().Add(defaultWriteTimeout)
			_ = w.conn.SetWriteDeadline(deadline)

			var err error

			switch msg.Type() {
			case PingMessage:
				w.logger.Debugln("=> [PING]")
				err = w.conn.WriteControl(websocket.PingMessage, msg.Data(), deadline)
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					err = nil
				}
			case PongMessage:
				w.logger.Debugln("=> [PONG]")
				err = w.conn.WriteControl(websocket.PongMessage, msg.Data(), deadline)
			case BinaryMessage:
				w.logger.Debugln("=> [BIN]")
				err = w.conn.WriteMessage(websocket.BinaryMessage, msg.Data())
			case DataMessage:
				w.logger.Debugf("=> [DATA] %s", msg.Data())
				err = w.conn.WriteMessage(websocket.TextMessage, msg.Data())
			}

			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					w.setCloseReason(ErrConnectionClosed)
				} else {
					w.setCloseReason(errors.Wrap(ErrConnectionClosed, err.Error()))
				}
				return
			}
		}
	}
}

func (w *WsConnection) safeClose() {
	w.closeOnce.Do(w.close)
}

func (w *WsConnection) close() {
	close(w.closeChan)

	w.connMu.Lock()
	conn := w.conn
	w.connMu.Unlock()

	if conn == nil {
		return
	}

	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGracePeriod),
	)
	_ = conn.Close()
}

func (w *WsConnection) setCloseReason(err error) {
	w.closeReasonOnce.Do(func() {
		w.closeReason = err
	})
}

func (w *WsConnection) handleDialError(conn *websocket.Conn, resp *http.Response, err error) error {
	if w.errAdapters.OnDial != nil {
		return w.errAdapters.OnDial(conn, resp, err)
	}

	if err == nil {
		return nil
	}

	// 1. Check HTTP errors first
	var msg string

	if resp != nil {
		if resp.Body != nil {
			bts, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
			if readErr == nil {
				msg = string(bts)
			}
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return errors.Wrap(ErrRateLimit, msg)
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			// usually a stale ticket; the next attempt fetches a new one
			return errors.Wrapf(ErrCannotConnect, "handshake rejected with %d: %s", resp.StatusCode, msg)
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			var target url.URL
			if resp.Request != nil && resp.Request.URL != nil {
				target = *resp.Request.URL
				target.RawQuery = ""
			}
			return WrapErrorUnrecoverableConnection(
				errors.Wrapf(ErrCannotConnect, "handshake failed with %d: %s", resp.StatusCode, msg),
				target,
			)
		}
	}

	// 2. Network errors
	return errors.Wrap(ErrCannotConnect, err.Error())
}
