package libim

import (
	"context"
	"sync"
)

// noopConnection opens instantly, discards writes and only closes when asked to.
type noopConnection struct {
	closeOnce sync.Once
	closeC    CloseChan
}

func newNoopConnection() *noopConnection {
	return &noopConnection{closeC: make(CloseChan)}
}

// NewNoopConnectionFactory is useful to exercise a session without a server.
func NewNoopConnectionFactory() ConnectionFactory {
	return func(chan<- Message) Connection { return newNoopConnection() }
}

func (w *noopConnection) Write(Message) error {
	select {
	case <-w.closeC:
		return ErrConnectionClosed
	default:
		return nil
	}
}

func (w *noopConnection) Close() {
	w.closeOnce.Do(func() { close(w.closeC) })
}

func (w *noopConnection) CloseChan() CloseChan { return w.closeC }

func (w *noopConnection) CloseErr() error {
	select {
	case <-w.closeC:
		return ErrTerminated
	default:
		return nil
	}
}

func (w *noopConnection) Open(context.Context, OpenConnectionParams) error { return nil }
