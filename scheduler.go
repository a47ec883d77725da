package libim

import (
	"time"
)

type (
	// taskHandle is a scheduled task owned by the session. Stop cancels it; it is safe to call on a
	// task that already fired.
	taskHandle interface {
		Stop()
	}

	// scheduler creates timers. The session never touches the time package directly so tests can
	// drive it with a manual clock.
	scheduler interface {
		// AfterFunc runs fn once, after d.
		AfterFunc(d time.Duration, fn func()) taskHandle
		// Every runs fn every d, starting one period from now, until stopped.
		Every(d time.Duration, fn func()) taskHandle
	}

	wallClock struct{}

	timerTask struct {
		t *time.Timer
	}
)

func (wallClock) AfterFunc(d time.Duration, fn func()) taskHandle {
	return timerTask{t: time.AfterFunc(d, fn)}
}

func (wallClock) Every(d time.Duration, fn func()) taskHandle {
	return startTicker(d, fn)
}

func (t timerTask) Stop() { t.t.Stop() }
