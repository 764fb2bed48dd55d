// Package session owns the open camera: it picks the device and its output
// sizes, runs the preview, and drives the capture state machine from the
// device's results.
package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/cjeanneret/stillcam/internal/debug"
	"github.com/cjeanneret/stillcam/internal/hw/camera"
	"github.com/cjeanneret/stillcam/internal/logic/capture"
	"github.com/cjeanneret/stillcam/internal/logic/geometry"
	"github.com/cjeanneret/stillcam/internal/logic/looper"
	"github.com/cjeanneret/stillcam/internal/notify"
	"github.com/cjeanneret/stillcam/internal/storage"
)

var (
	// ErrOpenLockTimeout is returned when the open/close lock could not be
	// taken within the open timeout.
	ErrOpenLockTimeout = errors.New("time out waiting to lock camera opening")
	// ErrNoCamera is returned when no camera has usable outputs.
	ErrNoCamera = errors.New("no usable camera")
	// ErrNotReady is returned by TakePicture before the preview runs.
	ErrNotReady = errors.New("camera preview is not running")
	// ErrStopped is returned once the controller has been stopped.
	ErrStopped = errors.New("camera controller stopped")
)

// Options configure a Controller.
type Options struct {
	Facing      geometry.Facing   // lens facing to open first
	View        geometry.Size     // preview view, in display orientation
	Display     geometry.Size     // full display size; zero = use MaxPreview
	MaxPreview  geometry.Size     // zero = geometry.MaxPreview
	Rotation    geometry.Rotation // display rotation
	Landscape   bool
	OutputPath  string
	MaxImages   int
	OpenTimeout time.Duration
	PreviewSink camera.FrameSink // optional, receives preview frames
	Notifier    notify.Notifier  // optional
	// OnFatal is called on the camera goroutine when the camera cannot be
	// used (permission denied, device error). It must not block on the
	// controller.
	OnFatal func(error)
}

// Status is a snapshot of the controller, safe to read from any goroutine.
type Status struct {
	CameraID       string        `json:"camera_id"`
	Facing         string        `json:"facing"`
	Open           bool          `json:"open"`
	Previewing     bool          `json:"previewing"`
	State          string        `json:"state"`
	Preview        geometry.Size `json:"preview"`
	Still          geometry.Size `json:"still"`
	ViewAspect     geometry.Size `json:"view_aspect"`
	Orientation    int           `json:"jpeg_orientation"`
	Transform      string        `json:"transform"` // CSS matrix() for the preview view
	FlashSupported bool          `json:"flash"`
	Shots          int           `json:"shots"`
	LastSaved      string        `json:"last_saved,omitempty"`
	LastCaptureID  string        `json:"last_capture_id,omitempty"`
}

// Controller runs one camera at a time. All camera callbacks, shutter
// presses and saves run on its looper goroutine; fields below the looper
// marker are only touched there.
type Controller struct {
	mgr    camera.Manager
	opts   Options
	notify notify.Notifier
	loop   *looper.Looper

	// lock guards open/close of the device; opening is set while an open
	// holds it and no device callback has released it yet.
	lock    *semaphore.Weighted
	opening atomic.Bool

	mu          sync.RWMutex
	status      Status
	ready       chan struct{}
	readyClosed bool

	// looper-owned
	machine    *capture.Machine
	facing     geometry.Facing
	cameraID   string
	chars      *camera.Characteristics
	plan       geometry.OutputPlan
	device     camera.Device
	session    camera.Session
	reader     *camera.ImageReader
	previewReq camera.Request
	captureID  string // ID of the still in flight
}

// New creates a controller and starts its camera goroutine.
func New(mgr camera.Manager, opts Options) *Controller {
	if opts.MaxImages <= 0 {
		opts.MaxImages = 2
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 2500 * time.Millisecond
	}
	if opts.OutputPath == "" {
		opts.OutputPath = "pic.jpg"
	}
	if opts.MaxPreview.IsZero() {
		opts.MaxPreview = geometry.MaxPreview
	}
	n := opts.Notifier
	if n == nil {
		n = notify.Func(func(notify.Event) {})
	}

	c := &Controller{
		mgr:    mgr,
		opts:   opts,
		notify: n,
		loop:   looper.Start("camera"),
		lock:   semaphore.NewWeighted(1),
		ready:  make(chan struct{}),
		facing: opts.Facing,
	}
	c.machine = capture.NewMachine(c, c.onState)
	c.status.State = string(capture.StatePreview)
	return c
}

// Status returns a snapshot of the controller state.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Controller) updateStatus(fn func(*Status)) {
	c.mu.Lock()
	fn(&c.status)
	c.mu.Unlock()
}

// WaitPreview blocks until the repeating preview request is running.
func (c *Controller) WaitPreview(ctx context.Context) error {
	c.mu.RLock()
	ch := c.ready
	c.mu.RUnlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) setReady(ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.Previewing = ready
	switch {
	case ready && !c.readyClosed:
		close(c.ready)
		c.readyClosed = true
	case !ready && c.readyClosed:
		c.ready = make(chan struct{})
		c.readyClosed = false
	}
}

// Open picks a camera, computes its outputs and starts opening it. The
// preview starts asynchronously; use WaitPreview to wait for it.
func (c *Controller) Open(ctx context.Context) error {
	actx, cancel := context.WithTimeout(ctx, c.opts.OpenTimeout)
	defer cancel()
	if err := c.lock.Acquire(actx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w after %v", ErrOpenLockTimeout, c.opts.OpenTimeout)
	}

	// Held until onOpened, onError or a failed OpenCamera.
	var (
		id       string
		open     bool
		setupErr error
	)
	if !c.loop.Call(func() {
		if open = c.device != nil; open {
			return
		}
		id, setupErr = c.setUpOutputs()
	}) {
		c.lock.Release(1)
		return ErrStopped
	}
	if open {
		c.lock.Release(1)
		debug.Verbose("Camera already open")
		return nil
	}
	if setupErr != nil {
		c.lock.Release(1)
		return setupErr
	}
	c.opening.Store(true)

	debug.Live("Opening camera %s", id)
	err := c.mgr.OpenCamera(id, camera.StateCallback{
		OnOpened:       c.onOpened,
		OnDisconnected: c.onDisconnected,
		OnError:        c.onError,
	}, c.loop)
	if err != nil {
		c.releaseOpenLock()
		err = fmt.Errorf("open camera %s: %w", id, err)
		if errors.Is(err, fs.ErrPermission) {
			c.loop.Post(func() { c.fatal(err) })
		}
		return err
	}
	return nil
}

// releaseOpenLock releases the lock taken by Open, once.
func (c *Controller) releaseOpenLock() {
	if c.opening.CompareAndSwap(true, false) {
		c.lock.Release(1)
	}
}

// Close stops the preview and closes the device. It waits for any open in
// flight to report first.
func (c *Controller) Close(ctx context.Context) error {
	if err := c.lock.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("interrupted while trying to lock camera closing: %w", err)
	}
	defer c.lock.Release(1)
	if !c.loop.Call(c.closeCamera) {
		return ErrStopped
	}
	return nil
}

// Toggle closes the camera and opens the one facing the other way.
func (c *Controller) Toggle(ctx context.Context) error {
	if err := c.Close(ctx); err != nil {
		return err
	}
	var facing geometry.Facing
	c.loop.Call(func() {
		if c.facing == geometry.FacingFront {
			c.facing = geometry.FacingBack
		} else {
			c.facing = geometry.FacingFront
		}
		facing = c.facing
	})
	c.notify.Notify(notify.NewEvent(notify.KindCamera, fmt.Sprintf("Switching to %s camera", facing)))
	return c.Open(ctx)
}

// Stop closes the camera and stops the camera goroutine.
func (c *Controller) Stop(ctx context.Context) error {
	err := c.Close(ctx)
	c.loop.Quit()
	c.loop.Join()
	if errors.Is(err, ErrStopped) {
		return nil
	}
	return err
}

// TakePicture starts the capture sequence. It returns capture.ErrBusy if a
// capture is already running.
func (c *Controller) TakePicture() error {
	var err error
	if !c.loop.Call(func() {
		if c.session == nil {
			err = ErrNotReady
			return
		}
		err = c.machine.Shutter()
	}) {
		return ErrStopped
	}
	if err == nil {
		debug.Live("Shutter pressed")
	}
	return err
}

// --- camera goroutine ---

// setUpOutputs chooses the camera and plans its preview and still sizes.
func (c *Controller) setUpOutputs() (string, error) {
	ids, err := c.mgr.CameraIDs()
	if err != nil {
		return "", fmt.Errorf("list cameras: %w", err)
	}

	chosen, plan := c.pickCamera(ids, func(ch *camera.Characteristics) bool {
		return facingMatches(c.facing, ch.Facing)
	})
	if chosen == nil && c.cameraID != "" {
		debug.Info("No %s camera, keeping camera %s", c.facing, c.cameraID)
		chosen, plan = c.pickCamera(ids, func(ch *camera.Characteristics) bool {
			return ch.ID == c.cameraID
		})
	}
	if chosen == nil {
		return "", ErrNoCamera
	}

	if c.reader != nil {
		c.reader.Close()
	}
	c.reader = camera.NewImageReader(plan.Still, c.opts.MaxImages)
	c.reader.SetOnImageAvailable(c.onImageAvailable, c.loop)
	c.cameraID, c.chars, c.plan = chosen.ID, chosen, plan

	transform := geometry.PreviewTransform(c.opts.View.Width, c.opts.View.Height, plan.Preview, c.opts.Rotation)
	debug.Info("Camera %s (%s): preview %v, still %v", chosen.ID, chosen.Facing, plan.Preview, plan.Still)
	debug.Verbose("JPEG orientation %d, swapped=%v, transform %s", plan.Orientation, plan.Swapped, transform.CSS())
	c.updateStatus(func(s *Status) {
		s.CameraID = chosen.ID
		s.Facing = chosen.Facing.String()
		s.Preview = plan.Preview
		s.Still = plan.Still
		s.ViewAspect = plan.ViewAspect
		s.Orientation = plan.Orientation
		s.Transform = transform.CSS()
		s.FlashSupported = chosen.FlashAvailable
	})
	return chosen.ID, nil
}

// pickCamera returns the first camera accepted by match that has usable
// stream configurations, with its output plan.
func (c *Controller) pickCamera(ids []string, match func(*camera.Characteristics) bool) (*camera.Characteristics, geometry.OutputPlan) {
	for _, id := range ids {
		ch, err := c.mgr.Characteristics(id)
		if err != nil {
			debug.Error(fmt.Errorf("camera %s: %w", id, err))
			continue
		}
		if !match(ch) {
			continue
		}
		if len(ch.JPEGSizes) == 0 || len(ch.PreviewSizes) == 0 {
			debug.Verbose("camera %s has no stream configurations, skipped", id)
			continue
		}
		plan, err := geometry.PlanOutputs(geometry.OutputParams{
			View:              c.opts.View,
			Display:           c.opts.Display,
			MaxPreview:        c.opts.MaxPreview,
			Rotation:          c.opts.Rotation,
			SensorOrientation: ch.SensorOrientation,
			Landscape:         c.opts.Landscape,
		}, ch.Facing, ch.PreviewSizes, ch.JPEGSizes)
		if err != nil {
			debug.Error(fmt.Errorf("camera %s: %w", id, err))
			continue
		}
		return ch, plan
	}
	return nil, geometry.OutputPlan{}
}

// facingMatches reports whether a camera facing have may serve want.
// External cameras serve as back cameras.
func facingMatches(want, have geometry.Facing) bool {
	if want == geometry.FacingFront {
		return have == geometry.FacingFront
	}
	return have != geometry.FacingFront
}

func (c *Controller) onOpened(dev camera.Device) {
	defer c.releaseOpenLock()
	c.device = dev
	c.updateStatus(func(s *Status) { s.Open = true })
	c.notify.Notify(notify.NewEvent(notify.KindCamera, fmt.Sprintf("Camera %s opened", dev.ID())))
	c.createPreviewSession()
}

func (c *Controller) onDisconnected(dev camera.Device) {
	c.releaseOpenLock()
	debug.Info("Camera %s disconnected", dev.ID())
	c.teardown(dev)
	c.notify.Notify(notify.NewEvent(notify.KindCamera, fmt.Sprintf("Camera %s disconnected", dev.ID())))
}

func (c *Controller) onError(dev camera.Device, err error) {
	c.releaseOpenLock()
	c.teardown(dev)
	c.fatal(fmt.Errorf("camera %s: %w", dev.ID(), err))
}

// teardown closes dev after the device has gone away on its own.
func (c *Controller) teardown(dev camera.Device) {
	if err := dev.Close(); err != nil {
		debug.Error(fmt.Errorf("close camera %s: %w", dev.ID(), err))
	}
	if c.device == dev {
		c.device = nil
		c.session = nil
	}
	c.machine.Reset()
	c.setReady(false)
	c.updateStatus(func(s *Status) { s.Open = false })
}

func (c *Controller) fatal(err error) {
	debug.Error(err)
	c.notify.Notify(notify.NewEvent(notify.KindFatal, err.Error()))
	if c.opts.OnFatal != nil {
		c.opts.OnFatal(err)
	}
}

func (c *Controller) closeCamera() {
	c.machine.Reset()
	c.setReady(false)
	if c.session != nil {
		if err := c.session.Close(); err != nil {
			debug.Error(fmt.Errorf("close session: %w", err))
		}
		c.session = nil
	}
	if c.device != nil {
		if err := c.device.Close(); err != nil {
			debug.Error(fmt.Errorf("close camera: %w", err))
		}
		c.device = nil
	}
	if c.reader != nil {
		c.reader.Close()
		c.reader = nil
	}
	c.chars = nil
	c.updateStatus(func(s *Status) { s.Open = false })
	debug.Verbose("Camera closed")
}

func (c *Controller) createPreviewSession() {
	out := camera.Outputs{
		Preview:     c.plan.Preview,
		PreviewSink: c.opts.PreviewSink,
		Still:       c.reader,
	}
	err := c.device.CreateCaptureSession(out, camera.SessionCallback{
		OnConfigured:      c.onConfigured,
		OnConfigureFailed: c.onConfigureFailed,
	}, c.loop)
	if err != nil {
		debug.Error(fmt.Errorf("create capture session: %w", err))
	}
}

func (c *Controller) onConfigured(s camera.Session) {
	if c.device == nil {
		// closed while configuring
		s.Close()
		return
	}
	c.session = s

	req := camera.NewRequest(camera.TemplatePreview)
	req.AFMode = camera.AFModeContinuousPicture
	c.setAutoFlash(&req)
	c.previewReq = req

	if err := s.SetRepeatingRequest(req, c.resultCallback(), c.loop); err != nil {
		debug.Error(fmt.Errorf("start preview: %w", err))
		return
	}
	c.setReady(true)
	debug.Live("Preview running")
}

func (c *Controller) onConfigureFailed(err error) {
	debug.Error(fmt.Errorf("configure session: %w", err))
	c.notify.Notify(notify.NewEvent(notify.KindFailed, "Failed"))
}

func (c *Controller) setAutoFlash(req *camera.Request) {
	if c.chars != nil && c.chars.FlashAvailable {
		req.AEMode = camera.AEModeOnAutoFlash
	}
}

// resultCallback feeds preview and trigger results to the state machine.
func (c *Controller) resultCallback() camera.CaptureCallback {
	return camera.CaptureCallback{
		OnProgressed: func(_ camera.Request, r camera.Result) { c.machine.Process(r) },
		OnCompleted: func(_ camera.Request, r camera.Result) {
			debug.Trace("result %v", r)
			c.machine.Process(r)
		},
		OnFailed: func(req camera.Request, err error) {
			debug.Verbose("%s request failed: %v", req.Template, err)
		},
	}
}

func (c *Controller) onState(from, to capture.State) {
	c.updateStatus(func(s *Status) { s.State = string(to) })
	c.notify.Notify(notify.NewEvent(notify.KindState, fmt.Sprintf("%s -> %s", from, to)))
}

// LockFocus implements capture.Requester.
func (c *Controller) LockFocus() error {
	if c.session == nil {
		return ErrNotReady
	}
	req := c.previewReq
	req.AFTrigger = camera.AFTriggerStart
	return c.session.Capture(req, c.resultCallback(), c.loop)
}

// RunPrecapture implements capture.Requester.
func (c *Controller) RunPrecapture() error {
	if c.session == nil {
		return ErrNotReady
	}
	req := c.previewReq
	req.AEPrecaptureTrigger = camera.AEPrecaptureTriggerStart
	return c.session.Capture(req, c.resultCallback(), c.loop)
}

// CaptureStill implements capture.Requester.
func (c *Controller) CaptureStill() error {
	if c.session == nil || c.chars == nil {
		return ErrNotReady
	}
	req := camera.NewRequest(camera.TemplateStillCapture)
	req.AFMode = camera.AFModeContinuousPicture
	c.setAutoFlash(&req)
	req.JPEGOrientation = geometry.JPEGOrientation(c.opts.Rotation, c.chars.SensorOrientation, c.chars.Facing)
	req.Tag = uuid.NewString()
	c.captureID = req.Tag
	debug.Request("still", req.Tag)

	if err := c.session.StopRepeating(); err != nil {
		return fmt.Errorf("stop preview: %w", err)
	}
	if err := c.session.AbortCaptures(); err != nil {
		return fmt.Errorf("abort captures: %w", err)
	}
	return c.session.Capture(req, camera.CaptureCallback{
		OnCompleted: c.onStillCompleted,
		OnFailed: func(req camera.Request, err error) {
			debug.Error(fmt.Errorf("still %s: %w", req.Tag, err))
		},
	}, c.loop)
}

func (c *Controller) onStillCompleted(req camera.Request, _ camera.Result) {
	debug.Verbose("Still %s completed", req.Tag)
	c.machine.StillCompleted()
}

// UnlockFocus implements capture.Requester.
func (c *Controller) UnlockFocus() error {
	if c.session == nil {
		return ErrNotReady
	}
	req := c.previewReq
	req.AFTrigger = camera.AFTriggerCancel
	if err := c.session.Capture(req, c.resultCallback(), c.loop); err != nil {
		return err
	}
	return c.session.SetRepeatingRequest(c.previewReq, c.resultCallback(), c.loop)
}

func (c *Controller) onImageAvailable(r *camera.ImageReader) {
	img, err := r.AcquireNextImage()
	if err != nil {
		debug.Error(fmt.Errorf("acquire image: %w", err))
		return
	}
	id := c.captureID
	storage.Saver(img, c.opts.OutputPath, func(path string) {
		c.updateStatus(func(s *Status) {
			s.Shots++
			s.LastSaved = path
			s.LastCaptureID = id
		})
		e := notify.NewEvent(notify.KindSaved, "Saved: "+path)
		e.ID, e.Path = id, path
		c.notify.Notify(e)
	})()
}
