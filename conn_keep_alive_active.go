package libim

import (
	"sync"
	"time"
)

type KeepAliveMessageFactory func() Message

// tickerTask runs a function at a fixed interval from its own goroutine until stopped.
type tickerTask struct {
	interval time.Duration
	fn       func()

	stopOnce sync.Once
	stopC    chan struct{}
}

func startTicker(interval time.Duration, fn func()) *tickerTask {
	t := &tickerTask{
		interval: interval,
		fn:       fn,
		stopC:    make(chan struct{}),
	}
	go t.run()
	return t
}

// Stop ends the loop. It only executes once, subsequent calls have no effect.
func (t *tickerTask) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopC)
	})
}

func (t *tickerTask) run() {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopC:
			return
		case <-ticker.C:
			// Stop may race with a tick that is already pending
			select {
			case <-t.stopC:
				return
			default:
			}
			t.fn()
		}
	}
}

// NewKeepAliveMessageFactory returns a factory that builds a keepalive frame per tick.
func NewKeepAliveMessageFactory(mt MessageType, contentFactory func() []byte) KeepAliveMessageFactory {
	return func() Message {
		return NewMessage(mt, contentFactory())
	}
}

// JSONHeartbeatFactory produces the {"type":"ping"} frame the IM backend expects.
func JSONHeartbeatFactory() KeepAliveMessageFactory {
	frame := []byte(`{"type":"` + HeartbeatType + `"}`)
	return NewKeepAliveMessageFactory(DataMessage, func() []byte {
		return append([]byte(nil), frame...)
	})
}
