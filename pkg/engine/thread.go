package engine

import (
	"runtime"
	"sync"

	"github.com/qieqieplus/cef-audio-bridge/pkg/log"
)

// Thread is a dedicated OS thread on which all engine callbacks for a source run.
// Serialising callbacks here is what keeps stream events and packets from racing.
type Thread struct {
	done     chan struct{}
	commands chan func()
	stopOnce sync.Once
}

// NewThread creates a new producer thread
func NewThread() *Thread {
	return &Thread{
		done:     make(chan struct{}),
		commands: make(chan func(), 10),
	}
}

// Start starts the thread and locks it
func (t *Thread) Start() {
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		log.Debug("Engine thread started and locked")

		for {
			select {
			case cmd := <-t.commands:
				cmd()
			case <-t.done:
				log.Debug("Engine thread stopping")
				return
			}
		}
	}()
}

// Execute runs a function on the thread and waits for it. It returns false if
// the thread was stopped before fn could run.
func (t *Thread) Execute(fn func()) bool {
	finished := make(chan struct{})
	select {
	case t.commands <- func() {
		defer close(finished)
		fn()
	}:
	case <-t.done:
		return false
	}

	select {
	case <-finished:
		return true
	case <-t.done:
		return false
	}
}

// Stop stops the thread. Safe to call more than once.
func (t *Thread) Stop() {
	t.stopOnce.Do(func() {
		close(t.done)
	})
}
