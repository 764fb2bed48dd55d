package camera

import (
	"fmt"
	"sync"
)

type pendingRequest struct {
	req Request
	cb  CaptureCallback
	h   Handler
}

// requestQueue holds a session's repeating request and its pending single
// captures. Single captures are served before the repeating request.
// Backends embed it and add their own Close.
type requestQueue struct {
	mu        sync.Mutex
	repeating *pendingRequest
	queue     []pendingRequest
	closed    bool
	wake      chan struct{}
}

func newRequestQueue() *requestQueue {
	return &requestQueue{wake: make(chan struct{}, 1)}
}

func (q *requestQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func errClosed() error {
	return fmt.Errorf("%w: %w", ErrCameraAccess, ErrClosed)
}

func (q *requestQueue) SetRepeatingRequest(req Request, cb CaptureCallback, h Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errClosed()
	}
	q.repeating = &pendingRequest{req: req, cb: cb, h: h}
	q.signal()
	return nil
}

func (q *requestQueue) Capture(req Request, cb CaptureCallback, h Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errClosed()
	}
	q.queue = append(q.queue, pendingRequest{req: req, cb: cb, h: h})
	q.signal()
	return nil
}

func (q *requestQueue) StopRepeating() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errClosed()
	}
	q.repeating = nil
	return nil
}

// AbortCaptures drops pending single captures; each gets OnFailed(ErrAborted).
func (q *requestQueue) AbortCaptures() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errClosed()
	}
	dropped := q.queue
	q.queue = nil
	q.mu.Unlock()

	for _, p := range dropped {
		p.cb.failed(p.h, p.req, ErrAborted)
	}
	return nil
}

// shut marks the queue closed. It returns false if it already was.
func (q *requestQueue) shut() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.closed = true
	q.repeating = nil
	q.queue = nil
	return true
}

func (q *requestQueue) next() (pendingRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.queue) > 0 {
		p := q.queue[0]
		q.queue = q.queue[1:]
		return p, true
	}
	if q.repeating != nil {
		return *q.repeating, true
	}
	return pendingRequest{}, false
}
