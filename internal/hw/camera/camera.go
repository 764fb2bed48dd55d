package camera

import (
	"errors"

	"github.com/cjeanneret/stillcam/internal/debug"
	"github.com/cjeanneret/stillcam/internal/logic/geometry"
)

// Errors reported by camera backends. Backends wrap them so callers can
// match with errors.Is.
var (
	ErrCameraAccess  = errors.New("camera access failed")
	ErrUnknownCamera = errors.New("unknown camera id")
	ErrInUse         = errors.New("camera already in use")
	ErrDisconnected  = errors.New("camera disconnected")
	ErrClosed        = errors.New("camera closed")
	ErrAborted       = errors.New("capture aborted")
)

// Characteristics are the static properties of a camera.
type Characteristics struct {
	ID                string
	Facing            geometry.Facing
	SensorOrientation int  // degrees, clockwise
	FlashAvailable    bool // the camera can fire a flash during stills
	PreviewSizes      []geometry.Size
	JPEGSizes         []geometry.Size
}

// Handler runs callbacks on the caller's event goroutine.
// Post returns false if the callback was dropped.
type Handler interface {
	Post(fn func()) bool
}

// post delivers fn on h, or inline when h is nil.
func post(h Handler, fn func()) {
	if h == nil {
		fn()
		return
	}
	if !h.Post(fn) {
		debug.Trace("camera: handler rejected callback")
	}
}

// StateCallback receives device lifecycle events.
type StateCallback struct {
	OnOpened       func(Device)
	OnDisconnected func(Device)
	OnError        func(Device, error)
}

// Manager enumerates and opens cameras.
type Manager interface {
	CameraIDs() ([]string, error)
	Characteristics(id string) (*Characteristics, error)
	// OpenCamera starts opening id. The outcome is reported through cb on h.
	OpenCamera(id string, cb StateCallback, h Handler) error
}

// Device is an open camera.
type Device interface {
	ID() string
	// CreateCaptureSession configures the outputs. The outcome is reported through cb on h.
	CreateCaptureSession(outputs Outputs, cb SessionCallback, h Handler) error
	Close() error
}

// FrameSink receives encoded preview frames.
type FrameSink interface {
	OnFrame(jpeg []byte, size geometry.Size)
}

// Outputs are the streams a capture session writes to.
type Outputs struct {
	Preview     geometry.Size
	PreviewSink FrameSink // optional
	Still       *ImageReader
}

// SessionCallback receives session configuration events.
type SessionCallback struct {
	OnConfigured      func(Session)
	OnConfigureFailed func(error)
}

// Session submits capture requests to a configured device.
type Session interface {
	SetRepeatingRequest(req Request, cb CaptureCallback, h Handler) error
	Capture(req Request, cb CaptureCallback, h Handler) error
	StopRepeating() error
	AbortCaptures() error
	Close() error
}

// CaptureCallback receives per-request results.
type CaptureCallback struct {
	OnProgressed func(Request, Result)
	OnCompleted  func(Request, Result)
	OnFailed     func(Request, error)
}

func (cb CaptureCallback) completed(h Handler, req Request, res Result) {
	if cb.OnCompleted != nil {
		post(h, func() { cb.OnCompleted(req, res) })
	}
}

func (cb CaptureCallback) failed(h Handler, req Request, err error) {
	if cb.OnFailed != nil {
		post(h, func() { cb.OnFailed(req, err) })
	}
}
