// Package looper runs posted callbacks one at a time on a single goroutine.
// Camera callbacks, shutter presses and saves all go through one Looper so
// the capture state machine never sees concurrent events.
package looper

import (
	"sync"

	"github.com/cjeanneret/stillcam/internal/debug"
)

// Looper is a FIFO of callbacks served by one goroutine. Post never blocks.
type Looper struct {
	name string

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []func()
	quitting bool
	done     chan struct{}
}

// Start creates a looper and starts its goroutine.
func Start(name string) *Looper {
	l := &Looper{name: name, done: make(chan struct{})}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	debug.Trace("looper %s: started", name)
	return l
}

// Post queues fn. It returns false once Quit has been called.
func (l *Looper) Post(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.quitting {
		return false
	}
	l.queue = append(l.queue, fn)
	l.cond.Signal()
	return true
}

// Call runs fn on the looper and waits for it to return.
// It returns false without running fn if the looper has quit.
func (l *Looper) Call(fn func()) bool {
	ran := make(chan struct{})
	if !l.Post(func() {
		defer close(ran)
		fn()
	}) {
		return false
	}
	<-ran
	return true
}

// Quit stops accepting callbacks. Callbacks already queued still run.
func (l *Looper) Quit() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.quitting {
		return
	}
	l.quitting = true
	l.cond.Signal()
}

// Join waits until the goroutine has drained the queue and exited.
func (l *Looper) Join() {
	<-l.done
}

// Done is closed once the looper has exited.
func (l *Looper) Done() <-chan struct{} {
	return l.done
}

func (l *Looper) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.quitting {
			l.cond.Wait()
		}
		if len(l.queue) == 0 {
			l.mu.Unlock()
			debug.Trace("looper %s: stopped", l.name)
			return
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		fn()
	}
}
