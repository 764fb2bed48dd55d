package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sort"
	"sync"
	"time"

	"github.com/cjeanneret/stillcam/internal/debug"
	"github.com/cjeanneret/stillcam/internal/logic/geometry"
)

// SimBehavior scripts how a simulated camera's 3A routines respond.
type SimBehavior struct {
	NoAF             bool  // results carry no AF state
	NoAE             bool  // results carry no AE state
	FocusFrames      int   // frames spent scanning after an AF trigger
	FocusFails       bool  // scan ends in not_focused_locked
	NeedsFlash       bool  // AE reports flash_required until a precapture runs
	PrecaptureFrames int   // frames AE stays in precapture after the trigger (min 1)
	FailOpen         error // OpenCamera returns this error
	OpenError        error // OnError is delivered instead of OnOpened
	FailConfigure    bool  // session configuration fails
}

// SimCamera is a simulated camera: static characteristics plus 3A behavior.
type SimCamera struct {
	Characteristics
	Behavior SimBehavior
}

// DefaultSimCameras returns a back camera with a flash and a front camera,
// mounted the way most phones mount them.
func DefaultSimCameras() []SimCamera {
	previews := []geometry.Size{
		{Width: 1440, Height: 1080}, {Width: 1280, Height: 960}, {Width: 1280, Height: 720}, {Width: 960, Height: 720}, {Width: 640, Height: 480}, {Width: 320, Height: 240},
	}
	return []SimCamera{
		{
			Characteristics: Characteristics{
				ID:                "0",
				Facing:            geometry.FacingBack,
				SensorOrientation: 90,
				FlashAvailable:    true,
				PreviewSizes:      previews,
				JPEGSizes:         []geometry.Size{{Width: 1280, Height: 960}, {Width: 640, Height: 480}},
			},
			Behavior: SimBehavior{FocusFrames: 3, NeedsFlash: true, PrecaptureFrames: 2},
		},
		{
			Characteristics: Characteristics{
				ID:                "1",
				Facing:            geometry.FacingFront,
				SensorOrientation: 270,
				PreviewSizes:      previews,
				JPEGSizes:         []geometry.Size{{Width: 960, Height: 720}, {Width: 640, Height: 480}},
			},
			Behavior: SimBehavior{NoAF: true},
		},
	}
}

// SimManager is an in-process camera stack. Every open camera runs a frame
// loop on its own goroutine and reports to the handlers it was given.
type SimManager struct {
	frameInterval time.Duration

	mu      sync.Mutex
	cameras map[string]SimCamera
	open    map[string]*simDevice
	stills  []Request
}

// NewSimManager creates a simulated stack producing a frame every frameInterval.
func NewSimManager(frameInterval time.Duration, cameras ...SimCamera) *SimManager {
	if frameInterval <= 0 {
		frameInterval = 33 * time.Millisecond
	}
	m := &SimManager{
		frameInterval: frameInterval,
		cameras:       make(map[string]SimCamera),
		open:          make(map[string]*simDevice),
	}
	for _, c := range cameras {
		m.cameras[c.ID] = c
	}
	return m
}

func (m *SimManager) CameraIDs() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.cameras))
	for id := range m.cameras {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *SimManager) Characteristics(id string) (*Characteristics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cameras[id]
	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", ErrCameraAccess, ErrUnknownCamera, id)
	}
	ch := c.Characteristics
	return &ch, nil
}

func (m *SimManager) OpenCamera(id string, cb StateCallback, h Handler) error {
	m.mu.Lock()
	c, ok := m.cameras[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %w: %s", ErrCameraAccess, ErrUnknownCamera, id)
	}
	if c.Behavior.FailOpen != nil {
		m.mu.Unlock()
		return c.Behavior.FailOpen
	}
	if _, busy := m.open[id]; busy {
		m.mu.Unlock()
		return fmt.Errorf("%w: %w: %s", ErrCameraAccess, ErrInUse, id)
	}
	dev := &simDevice{manager: m, cam: c, cb: cb, handler: h}
	if c.Behavior.OpenError == nil {
		m.open[id] = dev
	}
	m.mu.Unlock()

	debug.Trace("sim: opening camera %s", id)
	go func() {
		if err := c.Behavior.OpenError; err != nil {
			if cb.OnError != nil {
				post(h, func() { cb.OnError(dev, err) })
			}
			return
		}
		if cb.OnOpened != nil {
			post(h, func() { cb.OnOpened(dev) })
		}
	}()
	return nil
}

// Disconnect simulates the camera being taken away (another client, unplug).
func (m *SimManager) Disconnect(id string) bool {
	m.mu.Lock()
	dev, ok := m.open[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	dev.shutdown()
	if dev.cb.OnDisconnected != nil {
		post(dev.handler, func() { dev.cb.OnDisconnected(dev) })
	}
	return true
}

// IsOpen reports whether camera id is currently open.
func (m *SimManager) IsOpen(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.open[id]
	return ok
}

// StillRequests returns every still request the stack has executed.
func (m *SimManager) StillRequests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.stills...)
}

func (m *SimManager) recordStill(r Request) {
	m.mu.Lock()
	m.stills = append(m.stills, r)
	m.mu.Unlock()
}

func (m *SimManager) release(id string, d *simDevice) {
	m.mu.Lock()
	if m.open[id] == d {
		delete(m.open, id)
	}
	m.mu.Unlock()
}

type simDevice struct {
	manager *SimManager
	cam     SimCamera
	cb      StateCallback
	handler Handler

	mu      sync.Mutex
	session *simSession
	closed  bool
}

func (d *simDevice) ID() string { return d.cam.ID }

func (d *simDevice) CreateCaptureSession(outputs Outputs, cb SessionCallback, h Handler) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errClosed()
	}
	old := d.session
	d.session = nil
	d.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	if d.cam.Behavior.FailConfigure {
		if cb.OnConfigureFailed != nil {
			post(h, func() { cb.OnConfigureFailed(fmt.Errorf("sim: camera %s refused outputs", d.cam.ID)) })
		}
		return nil
	}

	s := newSimSession(d, outputs)
	d.mu.Lock()
	d.session = s
	d.mu.Unlock()
	if cb.OnConfigured != nil {
		post(h, func() { cb.OnConfigured(s) })
	}
	return nil
}

func (d *simDevice) Close() error {
	d.shutdown()
	return nil
}

func (d *simDevice) shutdown() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	s := d.session
	d.session = nil
	d.mu.Unlock()

	if s != nil {
		_ = s.Close()
	}
	d.manager.release(d.cam.ID, d)
	debug.Trace("sim: camera %s closed", d.cam.ID)
}

type simSession struct {
	*requestQueue
	dev     *simDevice
	outputs Outputs

	// 3A state, only touched by the frame loop
	frame          int64
	af             AFState
	ae             AEState
	focusLeft      int
	precaptureLeft int

	stop chan struct{}
	done chan struct{}
}

func newSimSession(d *simDevice, outputs Outputs) *simSession {
	s := &simSession{
		requestQueue: newRequestQueue(),
		dev:          d,
		outputs:      outputs,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	s.reset3A()
	go s.loop(d.manager.frameInterval)
	return s
}

func (s *simSession) reset3A() {
	s.af = AFStatePassiveFocused
	s.ae = AEStateConverged
	if s.dev.cam.Behavior.NeedsFlash {
		s.ae = AEStateFlashRequired
	}
}

func (s *simSession) Close() error {
	if !s.shut() {
		return nil
	}
	close(s.stop)
	<-s.done
	return nil
}

func (s *simSession) loop(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			p, ok := s.next()
			if !ok {
				continue
			}
			s.process(p)
		}
	}
}

func (s *simSession) process(p pendingRequest) {
	b := s.dev.cam.Behavior
	s.frame++

	switch p.req.AFTrigger {
	case AFTriggerStart:
		s.af = AFStateActiveScan
		s.focusLeft = b.FocusFrames
	case AFTriggerCancel:
		s.reset3A()
	}
	if p.req.AEPrecaptureTrigger == AEPrecaptureTriggerStart {
		s.ae = AEStatePrecapture
		s.precaptureLeft = max(b.PrecaptureFrames, 1)
	}

	if s.af == AFStateActiveScan {
		if s.focusLeft <= 0 {
			s.af = AFStateFocusedLocked
			if b.FocusFails {
				s.af = AFStateNotFocusedLocked
			}
		} else {
			s.focusLeft--
		}
	}
	if s.ae == AEStatePrecapture && p.req.AEPrecaptureTrigger != AEPrecaptureTriggerStart {
		s.precaptureLeft--
		if s.precaptureLeft <= 0 {
			s.ae = AEStateConverged
		}
	}

	res := Result{FrameNumber: s.frame}
	if !b.NoAF {
		res.AFState = AF(s.af)
	}
	if !b.NoAE {
		res.AEState = AE(s.ae)
	}
	debug.Trace("sim: %s %v", p.req.Template, res)

	if p.req.Targets&TargetPreview != 0 && s.outputs.PreviewSink != nil {
		if data, err := encodeTestPattern(s.outputs.Preview, s.frame, 60); err == nil {
			s.outputs.PreviewSink.OnFrame(data, s.outputs.Preview)
		}
	}
	if p.req.Targets&TargetStill != 0 {
		if err := s.deliverStill(p.req); err != nil {
			p.cb.failed(p.h, p.req, err)
			return
		}
	}
	p.cb.completed(p.h, p.req, res)
}

func (s *simSession) deliverStill(req Request) error {
	if s.outputs.Still == nil {
		return fmt.Errorf("%w: no still output configured", ErrCameraAccess)
	}
	size := s.outputs.Still.Size()
	data, err := encodeTestPattern(size, s.frame, 90)
	if err != nil {
		return fmt.Errorf("encode still: %w", err)
	}
	s.dev.manager.recordStill(req)
	return s.outputs.Still.Enqueue(data, size)
}

// encodeTestPattern renders a gradient that shifts with the frame number.
func encodeTestPattern(size geometry.Size, frame int64, quality int) ([]byte, error) {
	if size.Width <= 0 || size.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %v", size)
	}
	img := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
	shift := int(frame % 256)
	for y := 0; y < size.Height; y++ {
		for x := 0; x < size.Width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x*255/size.Width + shift) % 256),
				G: uint8(y * 255 / size.Height),
				B: uint8(shift),
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
