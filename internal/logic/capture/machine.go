package capture

import (
	"context"
	"errors"

	"github.com/looplab/fsm"

	"github.com/cjeanneret/stillcam/internal/debug"
	"github.com/cjeanneret/stillcam/internal/hw/camera"
)

// State is a step of the still capture sequence.
type State string

const (
	StatePreview              State = "preview"                // showing the preview, idle
	StateWaitingLock          State = "waiting_lock"           // waiting for focus to lock
	StateWaitingPrecapture    State = "waiting_precapture"     // waiting for exposure to start precapture
	StateWaitingNonPrecapture State = "waiting_non_precapture" // waiting for exposure to leave precapture
	StatePictureTaken         State = "picture_taken"          // still requested, waiting for it to complete
)

const (
	evShutter         = "shutter"
	evPrecapture      = "precapture"
	evPrecaptureBegun = "precapture_begun"
	evCapture         = "capture"
	evStillDone       = "still_done"
)

// ErrBusy is returned by Shutter while a capture is already in progress.
var ErrBusy = errors.New("capture already in progress")

// Requester issues the requests the sequence needs. Implementations submit
// them to the capture session and return once they are queued.
type Requester interface {
	// LockFocus sends an AF trigger START.
	LockFocus() error
	// RunPrecapture sends an AE precapture trigger START.
	RunPrecapture() error
	// CaptureStill stops the preview and requests the still.
	CaptureStill() error
	// UnlockFocus sends an AF trigger CANCEL and resumes the repeating preview.
	UnlockFocus() error
}

// Machine sequences focus lock, exposure precapture and the still.
//
// Sequence for one picture:
// 1. Shutter: preview -> waiting_lock, lock focus
// 2. Results drive waiting_lock -> (waiting_precapture -> waiting_non_precapture ->) picture_taken
// 3. Entering picture_taken requests the still
// 4. StillCompleted: unlock focus, back to preview
//
// Machine is not safe for concurrent use; all calls must come from the
// camera goroutine.
type Machine struct {
	fsm     *fsm.FSM
	req     Requester
	onState func(from, to State)
}

// NewMachine creates a machine in the preview state. onState, if non-nil,
// is called after every transition.
func NewMachine(r Requester, onState func(from, to State)) *Machine {
	m := &Machine{req: r, onState: onState}
	m.fsm = fsm.NewFSM(
		string(StatePreview),
		fsm.Events{
			{Name: evShutter, Src: []string{string(StatePreview)}, Dst: string(StateWaitingLock)},
			{Name: evPrecapture, Src: []string{string(StateWaitingLock)}, Dst: string(StateWaitingPrecapture)},
			{Name: evPrecaptureBegun, Src: []string{string(StateWaitingPrecapture)}, Dst: string(StateWaitingNonPrecapture)},
			{Name: evCapture, Src: []string{string(StateWaitingLock), string(StateWaitingNonPrecapture)}, Dst: string(StatePictureTaken)},
			{Name: evStillDone, Src: []string{string(StatePictureTaken)}, Dst: string(StatePreview)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				debug.State(e.Src, e.Dst)
				if m.onState != nil {
					m.onState(State(e.Src), State(e.Dst))
				}
			},
			"enter_" + string(StateWaitingLock): func(context.Context, *fsm.Event) {
				m.issue("lock focus", m.req.LockFocus)
			},
			"enter_" + string(StateWaitingPrecapture): func(context.Context, *fsm.Event) {
				m.issue("precapture", m.req.RunPrecapture)
			},
			"enter_" + string(StatePictureTaken): func(context.Context, *fsm.Event) {
				m.issue("still", m.req.CaptureStill)
			},
			"after_" + evStillDone: func(context.Context, *fsm.Event) {
				m.issue("unlock focus", m.req.UnlockFocus)
			},
		},
	)
	return m
}

// issue runs a request. Failures are logged and dropped: the sequence
// stalls in its current state until the camera is reopened.
func (m *Machine) issue(kind string, fn func() error) {
	debug.Request(kind, "")
	if err := fn(); err != nil {
		debug.Errorf("%s request failed: %v", kind, err)
	}
}

// State returns the current state.
func (m *Machine) State() State {
	return State(m.fsm.Current())
}

// Shutter starts a capture. It returns ErrBusy unless the machine is
// showing the preview.
func (m *Machine) Shutter() error {
	if !m.fsm.Can(evShutter) {
		return ErrBusy
	}
	return m.fire(evShutter)
}

// Process feeds one capture result (partial or complete) into the machine.
func (m *Machine) Process(res camera.Result) {
	switch m.State() {
	case StateWaitingLock:
		if res.AFState == nil {
			// no autofocus on this device
			m.fire(evCapture)
			return
		}
		if !res.AFState.Locked() {
			return
		}
		if res.AEState == nil || *res.AEState == camera.AEStateConverged {
			m.fire(evCapture)
			return
		}
		m.fire(evPrecapture)

	case StateWaitingPrecapture:
		if res.AEState == nil ||
			*res.AEState == camera.AEStatePrecapture ||
			*res.AEState == camera.AEStateFlashRequired {
			m.fire(evPrecaptureBegun)
		}

	case StateWaitingNonPrecapture:
		if res.AEState == nil || *res.AEState != camera.AEStatePrecapture {
			m.fire(evCapture)
		}
	}
}

// StillCompleted is called when the still request has completed. It unlocks
// focus and returns to the preview.
func (m *Machine) StillCompleted() {
	if m.State() != StatePictureTaken {
		debug.Verbose("still completed in state %s, ignored", m.State())
		return
	}
	m.fire(evStillDone)
}

// Reset puts the machine back in preview without issuing any request.
// Used when the camera is closed mid-sequence.
func (m *Machine) Reset() {
	if from := m.State(); from != StatePreview {
		m.fsm.SetState(string(StatePreview))
		debug.State(string(from), string(StatePreview))
		if m.onState != nil {
			m.onState(from, StatePreview)
		}
	}
}

func (m *Machine) fire(event string) error {
	if err := m.fsm.Event(context.Background(), event); err != nil {
		debug.Errorf("capture: event %s in state %s: %v", event, m.State(), err)
		return err
	}
	return nil
}
