package accountrunner

import "sync"

// AbortEvent is the process-wide "stop autorefresh after this cycle"
// signal (SIGUSR2, spec.md §4.7). Closing its channel wakes every
// account's sleeper immediately instead of making them poll.
type AbortEvent struct {
	mu   sync.Mutex
	ch   chan struct{}
	fire bool
}

func NewAbortEvent() *AbortEvent {
	return &AbortEvent{ch: make(chan struct{})}
}

func (e *AbortEvent) Set() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.fire {
		e.fire = true
		close(e.ch)
	}
}

func (e *AbortEvent) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fire
}

func (e *AbortEvent) Done() <-chan struct{} {
	return e.ch
}
