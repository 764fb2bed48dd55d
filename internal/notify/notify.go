// Package notify delivers capture events to the user: the log, the web UI
// and an optional MQTT broker.
package notify

import (
	"sync"
	"time"

	"github.com/cjeanneret/stillcam/internal/debug"
)

// Kind classifies an event.
type Kind string

const (
	KindSaved  Kind = "saved"  // a still was written to disk
	KindFailed Kind = "failed" // session configuration or capture failed
	KindState  Kind = "state"  // capture state transition
	KindCamera Kind = "camera" // camera opened, closed or switched
	KindFatal  Kind = "fatal"  // unrecoverable camera error
)

// Event is a user-facing notification.
type Event struct {
	Kind    Kind      `json:"kind"`
	ID      string    `json:"id,omitempty"` // capture ID, for saved stills
	Message string    `json:"message"`
	Path    string    `json:"path,omitempty"`
	Time    time.Time `json:"time"`
}

// NewEvent stamps an event with the current time.
func NewEvent(kind Kind, message string) Event {
	return Event{Kind: kind, Message: message, Time: time.Now()}
}

// Notifier receives events. Notify must not block for long: it is called
// from the camera goroutine.
type Notifier interface {
	Notify(Event)
}

// Func adapts a function to Notifier.
type Func func(Event)

func (f Func) Notify(e Event) { f(e) }

// Fanout forwards events to every registered notifier.
type Fanout struct {
	mu      sync.RWMutex
	targets []Notifier
}

// NewFanout creates a fanout over targets. Nil targets are skipped.
func NewFanout(targets ...Notifier) *Fanout {
	f := &Fanout{}
	for _, t := range targets {
		f.Add(t)
	}
	return f
}

// Add registers another notifier.
func (f *Fanout) Add(n Notifier) {
	if n == nil {
		return
	}
	f.mu.Lock()
	f.targets = append(f.targets, n)
	f.mu.Unlock()
}

func (f *Fanout) Notify(e Event) {
	f.mu.RLock()
	targets := f.targets
	f.mu.RUnlock()
	for _, t := range targets {
		t.Notify(e)
	}
}

// Log prints events the way the app shows its short messages.
type Log struct{}

func (Log) Notify(e Event) {
	switch e.Kind {
	case KindSaved:
		debug.Verbose("capture %s saved", e.ID)
	case KindFailed, KindFatal:
		debug.Errorf("%s", e.Message)
	case KindState:
		// transitions are already logged by the state machine
	default:
		debug.Live("%s", e.Message)
	}
}
