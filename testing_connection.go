package libim

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
)

// mockConnection is an in-memory transport. Push plays the server; Drop simulates the network going
// away.
type mockConnection struct {
	mu        sync.Mutex
	recv      chan<- Message
	openErr   error
	params    OpenConnectionParams
	written   []Message
	closeC    CloseChan
	closeOnce sync.Once
	closeErr  error
}

func (m *mockConnection) Open(_ context.Context, p OpenConnectionParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params = p
	return m.openErr
}

func (m *mockConnection) Write(msg Message) error {
	select {
	case <-m.closeC:
		return ErrConnectionClosed
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.written = append(m.written, msg)
	return nil
}

func (m *mockConnection) Close() {
	m.closeWith(ErrTerminated)
}

func (m *mockConnection) Drop(reason error) {
	m.closeWith(reason)
}

func (m *mockConnection) closeWith(reason error) {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closeErr = reason
		m.mu.Unlock()
		close(m.closeC)
	})
}

func (m *mockConnection) CloseChan() CloseChan { return m.closeC }

func (m *mockConnection) CloseErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeErr
}

// Push blocks until the owner of the connection received msg.
func (m *mockConnection) Push(msg Message) {
	m.recv <- msg
}

func (m *mockConnection) Written() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.written...)
}

func (m *mockConnection) Params() OpenConnectionParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.params
}

func (m *mockConnection) Closed() bool {
	select {
	case <-m.closeC:
		return true
	default:
		return false
	}
}

// connRecorder hands out mockConnections and remembers them. Open errors are consumed in order.
type connRecorder struct {
	mu       sync.Mutex
	conns    []*mockConnection
	openErrs []error
}

func (r *connRecorder) FailNextOpens(errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openErrs = append(r.openErrs, errs...)
}

func (r *connRecorder) Factory() ConnectionFactory {
	return func(recv chan<- Message) Connection {
		r.mu.Lock()
		defer r.mu.Unlock()

		c := &mockConnection{recv: recv, closeC: make(CloseChan)}
		if len(r.openErrs) > 0 {
			c.openErr = r.openErrs[0]
			r.openErrs = r.openErrs[1:]
		}
		r.conns = append(r.conns, c)
		return c
	}
}

func (r *connRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func (r *connRecorder) Last() *mockConnection {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.conns) == 0 {
		return nil
	}
	return r.conns[len(r.conns)-1]
}

type mockTicketAcquirer struct {
	mock.Mock
}

func (m *mockTicketAcquirer) Acquire(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
