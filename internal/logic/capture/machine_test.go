package capture

import (
	"errors"
	"reflect"
	"testing"

	"github.com/cjeanneret/stillcam/internal/hw/camera"
)

// recordingRequester records the requests the machine issues.
type recordingRequester struct {
	calls []string
	fail  map[string]error
}

func (r *recordingRequester) record(name string) error {
	r.calls = append(r.calls, name)
	return r.fail[name]
}

func (r *recordingRequester) LockFocus() error     { return r.record("lock") }
func (r *recordingRequester) RunPrecapture() error { return r.record("precapture") }
func (r *recordingRequester) CaptureStill() error  { return r.record("still") }
func (r *recordingRequester) UnlockFocus() error   { return r.record("unlock") }

func result(af *camera.AFState, ae *camera.AEState) camera.Result {
	return camera.Result{AFState: af, AEState: ae}
}

var (
	afScan      = camera.AF(camera.AFStateActiveScan)
	afLocked    = camera.AF(camera.AFStateFocusedLocked)
	afNotLocked = camera.AF(camera.AFStateNotFocusedLocked)
	aeConverged = camera.AE(camera.AEStateConverged)
	aeFlash     = camera.AE(camera.AEStateFlashRequired)
	aePre       = camera.AE(camera.AEStatePrecapture)
	aeSearching = camera.AE(camera.AEStateSearching)
)

func TestMachine_PathsToPictureTaken(t *testing.T) {
	tests := []struct {
		name      string
		results   []camera.Result
		wantCalls []string
		wantPath  []State
	}{
		{
			name:      "no autofocus",
			results:   []camera.Result{result(nil, aeSearching)},
			wantCalls: []string{"lock", "still"},
			wantPath:  []State{StateWaitingLock, StatePictureTaken},
		},
		{
			name:      "focus locked with converged exposure",
			results:   []camera.Result{result(afScan, aeConverged), result(afScan, aeConverged), result(afLocked, aeConverged)},
			wantCalls: []string{"lock", "still"},
			wantPath:  []State{StateWaitingLock, StatePictureTaken},
		},
		{
			name:      "focus failed but locked, no exposure reading",
			results:   []camera.Result{result(afNotLocked, nil)},
			wantCalls: []string{"lock", "still"},
			wantPath:  []State{StateWaitingLock, StatePictureTaken},
		},
		{
			name: "focus locked, exposure needs precapture",
			results: []camera.Result{
				result(afLocked, aeFlash),
				result(afLocked, aeSearching), // still waiting for precapture to start
				result(afLocked, aePre),
				result(afLocked, aePre),
				result(afLocked, aeConverged),
			},
			wantCalls: []string{"lock", "precapture", "still"},
			wantPath:  []State{StateWaitingLock, StateWaitingPrecapture, StateWaitingNonPrecapture, StatePictureTaken},
		},
		{
			name:      "precapture with flash required then exposure absent",
			results:   []camera.Result{result(afLocked, aeSearching), result(afLocked, aeFlash), result(afLocked, nil)},
			wantCalls: []string{"lock", "precapture", "still"},
			wantPath:  []State{StateWaitingLock, StateWaitingPrecapture, StateWaitingNonPrecapture, StatePictureTaken},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &recordingRequester{}
			var path []State
			m := NewMachine(req, func(_, to State) { path = append(path, to) })

			if err := m.Shutter(); err != nil {
				t.Fatalf("Shutter: %v", err)
			}
			for _, r := range tt.results {
				m.Process(r)
			}

			if m.State() != StatePictureTaken {
				t.Fatalf("state = %s, want %s", m.State(), StatePictureTaken)
			}
			if !reflect.DeepEqual(req.calls, tt.wantCalls) {
				t.Errorf("requests = %v, want %v", req.calls, tt.wantCalls)
			}
			if !reflect.DeepEqual(path, tt.wantPath) {
				t.Errorf("path = %v, want %v", path, tt.wantPath)
			}
		})
	}
}

func TestMachine_StaysWhileScanning(t *testing.T) {
	req := &recordingRequester{}
	m := NewMachine(req, nil)
	m.Shutter()

	for i := 0; i < 5; i++ {
		m.Process(result(afScan, aeConverged))
	}
	if m.State() != StateWaitingLock {
		t.Errorf("state = %s, want %s", m.State(), StateWaitingLock)
	}

	m.Process(result(afLocked, aeFlash))
	for i := 0; i < 3; i++ {
		m.Process(result(afLocked, aeSearching))
	}
	if m.State() != StateWaitingPrecapture {
		t.Errorf("state = %s, want %s", m.State(), StateWaitingPrecapture)
	}

	m.Process(result(afLocked, aePre))
	m.Process(result(afLocked, aePre))
	if m.State() != StateWaitingNonPrecapture {
		t.Errorf("state = %s, want %s", m.State(), StateWaitingNonPrecapture)
	}
}

func TestMachine_StillCompletedReturnsToPreview(t *testing.T) {
	req := &recordingRequester{}
	m := NewMachine(req, nil)
	m.Shutter()
	m.Process(result(nil, nil))
	m.StillCompleted()

	if m.State() != StatePreview {
		t.Fatalf("state = %s, want %s", m.State(), StatePreview)
	}
	want := []string{"lock", "still", "unlock"}
	if !reflect.DeepEqual(req.calls, want) {
		t.Errorf("requests = %v, want %v", req.calls, want)
	}

	// A second picture goes through the same sequence.
	if err := m.Shutter(); err != nil {
		t.Fatalf("second Shutter: %v", err)
	}
	if m.State() != StateWaitingLock {
		t.Errorf("state = %s, want %s", m.State(), StateWaitingLock)
	}
}

func TestMachine_ShutterBusy(t *testing.T) {
	req := &recordingRequester{}
	m := NewMachine(req, nil)
	m.Shutter()

	if err := m.Shutter(); !errors.Is(err, ErrBusy) {
		t.Errorf("Shutter while waiting: got %v, want ErrBusy", err)
	}
	if len(req.calls) != 1 {
		t.Errorf("busy shutter issued requests: %v", req.calls)
	}
}

func TestMachine_IgnoresResultsOutsideSequence(t *testing.T) {
	req := &recordingRequester{}
	m := NewMachine(req, nil)

	m.Process(result(afLocked, aeConverged))
	m.Process(result(nil, nil))
	if m.State() != StatePreview || len(req.calls) != 0 {
		t.Errorf("preview reacted to results: state=%s calls=%v", m.State(), req.calls)
	}

	m.Shutter()
	m.Process(result(nil, nil))
	m.Process(result(nil, nil))
	m.Process(result(afLocked, aePre))
	if m.State() != StatePictureTaken {
		t.Errorf("state = %s, want %s", m.State(), StatePictureTaken)
	}
	if want := []string{"lock", "still"}; !reflect.DeepEqual(req.calls, want) {
		t.Errorf("requests = %v, want %v (one still only)", req.calls, want)
	}

	m.StillCompleted()
	m.StillCompleted() // late duplicate is ignored
	if want := []string{"lock", "still", "unlock"}; !reflect.DeepEqual(req.calls, want) {
		t.Errorf("requests = %v, want %v", req.calls, want)
	}
}

func TestMachine_RequestFailureIsSwallowed(t *testing.T) {
	req := &recordingRequester{fail: map[string]error{"lock": camera.ErrCameraAccess}}
	m := NewMachine(req, nil)

	if err := m.Shutter(); err != nil {
		t.Fatalf("Shutter returned %v, want failure swallowed", err)
	}
	// The sequence stalls in waiting_lock; no retry is made.
	if m.State() != StateWaitingLock {
		t.Errorf("state = %s, want %s", m.State(), StateWaitingLock)
	}
	if len(req.calls) != 1 {
		t.Errorf("requests = %v, want a single lock", req.calls)
	}
}

func TestMachine_Reset(t *testing.T) {
	req := &recordingRequester{}
	var path []State
	m := NewMachine(req, func(_, to State) { path = append(path, to) })
	m.Reset() // no-op in preview
	m.Shutter()
	m.Reset()

	if m.State() != StatePreview {
		t.Fatalf("state = %s, want %s", m.State(), StatePreview)
	}
	if want := []State{StateWaitingLock, StatePreview}; !reflect.DeepEqual(path, want) {
		t.Errorf("path = %v, want %v", path, want)
	}
	if want := []string{"lock"}; !reflect.DeepEqual(req.calls, want) {
		t.Errorf("Reset issued requests: %v", req.calls)
	}
}
