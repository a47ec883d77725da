package libim

import (
	"context"
)

type (
	// CloseChan is closed once a connection is gone.
	CloseChan chan struct{}

	// Connection is a single transport connection. It is opened once and never reused; reconnecting
	// means building a new one.
	Connection interface {
		// Open dials with p and starts pumping inbound frames to the receive channel given to the factory.
		Open(ctx context.Context, p OpenConnectionParams) error
		// Write queues m for sending. It fails once the connection is closed.
		Write(m Message) error
		Close()
		// CloseErr explains why the connection closed. ErrTerminated means we closed it ourselves.
		CloseErr() error
		CloseChan() CloseChan
	}

	ConnectionFactory func(recvChan chan<- Message) Connection
)
