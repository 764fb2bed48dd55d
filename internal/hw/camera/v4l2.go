package camera

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/blackjack/webcam"

	"github.com/cjeanneret/stillcam/internal/debug"
	"github.com/cjeanneret/stillcam/internal/logic/geometry"
)

// V4L2 fourcc for Motion-JPEG: 'M' 'J' 'P' 'G'.
const pixFmtMJPEG webcam.PixelFormat = 0x47504A4D

// V4L2Manager exposes V4L2 webcams (e.g. /dev/video0) as cameras. Webcams
// report no 3A state, so results always carry absent AF and AE readings.
type V4L2Manager struct {
	devices      []string
	flash        Flash
	frameTimeout time.Duration

	mu    sync.Mutex
	chars map[string]*Characteristics
	open  map[string]bool
}

// NewV4L2Manager creates a manager for the given device paths.
// flash may be nil if no flash is wired.
func NewV4L2Manager(devices []string, flash Flash, frameTimeout time.Duration) *V4L2Manager {
	if frameTimeout <= 0 {
		frameTimeout = 5 * time.Second
	}
	return &V4L2Manager{
		devices:      devices,
		flash:        flash,
		frameTimeout: frameTimeout,
		chars:        make(map[string]*Characteristics),
		open:         make(map[string]bool),
	}
}

func (m *V4L2Manager) CameraIDs() ([]string, error) {
	return append([]string(nil), m.devices...), nil
}

func (m *V4L2Manager) known(id string) bool {
	for _, d := range m.devices {
		if d == id {
			return true
		}
	}
	return false
}

// Characteristics probes the device once and caches the result.
func (m *V4L2Manager) Characteristics(id string) (*Characteristics, error) {
	if !m.known(id) {
		return nil, fmt.Errorf("%w: %w: %s", ErrCameraAccess, ErrUnknownCamera, id)
	}
	m.mu.Lock()
	if c, ok := m.chars[id]; ok {
		m.mu.Unlock()
		cp := *c
		return &cp, nil
	}
	m.mu.Unlock()

	cam, err := webcam.Open(id)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrCameraAccess, id, err)
	}
	defer cam.Close()

	c := &Characteristics{
		ID:             id,
		Facing:         geometry.FacingExternal,
		FlashAvailable: m.flash != nil,
	}
	if _, ok := cam.GetSupportedFormats()[pixFmtMJPEG]; ok {
		sizes := frameSizes(cam.GetSupportedFrameSizes(pixFmtMJPEG))
		c.PreviewSizes = sizes
		c.JPEGSizes = sizes
	} else {
		debug.Info("v4l2: %s has no MJPEG format", id)
	}
	debug.Verbose("v4l2: %s supports %d MJPEG sizes", id, len(c.JPEGSizes))

	m.mu.Lock()
	m.chars[id] = c
	m.mu.Unlock()
	cp := *c
	return &cp, nil
}

// frameSizes keeps the maximum of each reported range, largest first.
func frameSizes(in []webcam.FrameSize) []geometry.Size {
	seen := make(map[geometry.Size]bool)
	var out []geometry.Size
	for _, fs := range in {
		s := geometry.Size{Width: int(fs.MaxWidth), Height: int(fs.MaxHeight)}
		if s.Width == 0 || s.Height == 0 || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return geometry.CompareByArea(out[i], out[j]) > 0 })
	return out
}

func (m *V4L2Manager) OpenCamera(id string, cb StateCallback, h Handler) error {
	if !m.known(id) {
		return fmt.Errorf("%w: %w: %s", ErrCameraAccess, ErrUnknownCamera, id)
	}
	m.mu.Lock()
	if m.open[id] {
		m.mu.Unlock()
		return fmt.Errorf("%w: %w: %s", ErrCameraAccess, ErrInUse, id)
	}
	m.open[id] = true
	m.mu.Unlock()

	go func() {
		dev := &v4l2Device{manager: m, id: id}
		cam, err := webcam.Open(id)
		if err != nil {
			m.release(id)
			if cb.OnError != nil {
				err = fmt.Errorf("%w: open %s: %w", ErrCameraAccess, id, err)
				post(h, func() { cb.OnError(dev, err) })
			}
			return
		}
		dev.cam = cam
		debug.Verbose("v4l2: opened %s", id)
		if cb.OnOpened != nil {
			post(h, func() { cb.OnOpened(dev) })
		}
	}()
	return nil
}

func (m *V4L2Manager) release(id string) {
	m.mu.Lock()
	delete(m.open, id)
	m.mu.Unlock()
}

type v4l2Device struct {
	manager *V4L2Manager
	id      string
	cam     *webcam.Webcam

	mu      sync.Mutex
	session *v4l2Session
	closed  bool
}

func (d *v4l2Device) ID() string { return d.id }

func (d *v4l2Device) CreateCaptureSession(outputs Outputs, cb SessionCallback, h Handler) error {
	d.mu.Lock()
	if d.closed || d.cam == nil {
		d.mu.Unlock()
		return errClosed()
	}
	old := d.session
	d.session = nil
	d.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	s := &v4l2Session{
		requestQueue: newRequestQueue(),
		cam:          d.cam,
		outputs:      outputs,
		flash:        d.manager.flash,
		timeout:      d.manager.frameTimeout,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	if err := s.configure(outputs.Preview); err != nil {
		if cb.OnConfigureFailed != nil {
			post(h, func() { cb.OnConfigureFailed(err) })
		}
		return nil
	}

	d.mu.Lock()
	d.session = s
	d.mu.Unlock()
	go s.loop()
	if cb.OnConfigured != nil {
		post(h, func() { cb.OnConfigured(s) })
	}
	return nil
}

func (d *v4l2Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	s := d.session
	d.session = nil
	d.mu.Unlock()

	if s != nil {
		_ = s.Close()
	}
	var err error
	if d.cam != nil {
		err = d.cam.Close()
	}
	d.manager.release(d.id)
	return err
}

type v4l2Session struct {
	*requestQueue
	cam     *webcam.Webcam
	outputs Outputs
	flash   Flash
	timeout time.Duration

	// only touched by the loop goroutine (and configure before it starts)
	current   geometry.Size
	streaming bool
	frame     int64

	stop chan struct{}
	done chan struct{}
}

// configure switches the stream to size, restarting it if needed.
func (s *v4l2Session) configure(size geometry.Size) error {
	if s.streaming && size == s.current {
		return nil
	}
	if s.streaming {
		if err := s.cam.StopStreaming(); err != nil {
			return fmt.Errorf("%w: stop streaming: %w", ErrCameraAccess, err)
		}
		s.streaming = false
	}
	_, w, h, err := s.cam.SetImageFormat(pixFmtMJPEG, uint32(size.Width), uint32(size.Height))
	if err != nil {
		return fmt.Errorf("%w: set format %v: %w", ErrCameraAccess, size, err)
	}
	_ = s.cam.SetBufferCount(2)
	if err := s.cam.StartStreaming(); err != nil {
		return fmt.Errorf("%w: start streaming: %w", ErrCameraAccess, err)
	}
	s.current = geometry.Size{Width: int(w), Height: int(h)}
	s.streaming = true
	debug.Verbose("v4l2: streaming MJPEG at %v", s.current)
	return nil
}

func (s *v4l2Session) Close() error {
	if !s.shut() {
		return nil
	}
	close(s.stop)
	<-s.done
	if s.streaming {
		s.streaming = false
		return s.cam.StopStreaming()
	}
	return nil
}

func (s *v4l2Session) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		p, ok := s.next()
		if !ok {
			select {
			case <-s.stop:
				return
			case <-s.wake:
			}
			continue
		}
		if err := s.process(p); err != nil {
			debug.Error(err)
			p.cb.failed(p.h, p.req, err)
			// back off so an unplugged device does not spin the loop
			select {
			case <-s.stop:
				return
			case <-time.After(100 * time.Millisecond):
			}
		}
	}
}

func (s *v4l2Session) process(p pendingRequest) error {
	still := p.req.Targets&TargetStill != 0
	size := s.outputs.Preview
	if still {
		if s.outputs.Still == nil {
			return fmt.Errorf("%w: no still output configured", ErrCameraAccess)
		}
		size = s.outputs.Still.Size()
	}
	if err := s.configure(size); err != nil {
		return err
	}

	useFlash := still && s.flash != nil && p.req.AEMode == AEModeOnAutoFlash
	if useFlash {
		if err := s.flash.Fire(true); err != nil {
			debug.Error(fmt.Errorf("flash on: %w", err))
		}
	}
	data, err := s.grab()
	if useFlash {
		if ferr := s.flash.Fire(false); ferr != nil {
			debug.Error(fmt.Errorf("flash off: %w", ferr))
		}
	}
	if err != nil {
		return err
	}

	s.frame++
	res := Result{FrameNumber: s.frame}
	if still {
		if err := s.outputs.Still.Enqueue(data, s.current); err != nil {
			return err
		}
	} else if s.outputs.PreviewSink != nil {
		s.outputs.PreviewSink.OnFrame(data, s.current)
	}
	p.cb.completed(p.h, p.req, res)
	return nil
}

// grab waits for one frame and copies it out of the driver's buffer.
func (s *v4l2Session) grab() ([]byte, error) {
	secs := uint32(s.timeout / time.Second)
	if secs == 0 {
		secs = 1
	}
	err := s.cam.WaitForFrame(secs)
	switch err.(type) {
	case nil:
	case *webcam.Timeout:
		return nil, fmt.Errorf("%w: frame timeout after %ds", ErrCameraAccess, secs)
	default:
		return nil, fmt.Errorf("%w: wait for frame: %w", ErrCameraAccess, err)
	}
	frame, err := s.cam.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("%w: read frame: %w", ErrCameraAccess, err)
	}
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrCameraAccess)
	}
	return append([]byte(nil), frame...), nil
}
