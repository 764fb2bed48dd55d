package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cjeanneret/stillcam/internal/config"
	"github.com/cjeanneret/stillcam/internal/hw/camera"
	"github.com/cjeanneret/stillcam/internal/hw/gpio"
	"github.com/cjeanneret/stillcam/internal/logic/geometry"
)

// ---------- validateCLIOverrides ----------

func noOverrides() cliOverrides {
	return cliOverrides{RotationDeg: -1}
}

func TestValidateCLIOverrides_NoneSet(t *testing.T) {
	if err := validateCLIOverrides(noOverrides()); err != nil {
		t.Errorf("unset overrides should be valid (use config defaults), got: %v", err)
	}
}

func TestValidateCLIOverrides_Valid(t *testing.T) {
	cases := []struct {
		name string
		o    cliOverrides
	}{
		{"view", cliOverrides{View: "640x480", RotationDeg: -1}},
		{"view_upper_x", cliOverrides{View: "1920X1080", RotationDeg: -1}},
		{"rotation_0", cliOverrides{RotationDeg: 0}},
		{"rotation_270", cliOverrides{RotationDeg: 270}},
		{"front", cliOverrides{Facing: "front", RotationDeg: -1}},
		{"all", cliOverrides{View: "800x600", RotationDeg: 90, Facing: "back"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := validateCLIOverrides(tc.o); err != nil {
				t.Errorf("expected valid, got: %v", err)
			}
		})
	}
}

func TestValidateCLIOverrides_Invalid(t *testing.T) {
	cases := []struct {
		name string
		o    cliOverrides
	}{
		{"view_no_x", cliOverrides{View: "640", RotationDeg: -1}},
		{"view_zero", cliOverrides{View: "0x480", RotationDeg: -1}},
		{"view_negative", cliOverrides{View: "640x-1", RotationDeg: -1}},
		{"view_too_large", cliOverrides{View: "9000x480", RotationDeg: -1}},
		{"view_not_number", cliOverrides{View: "axb", RotationDeg: -1}},
		{"rotation_45", cliOverrides{RotationDeg: 45}},
		{"rotation_360", cliOverrides{RotationDeg: 360}},
		{"facing_unknown", cliOverrides{Facing: "up", RotationDeg: -1}},
		{"facing_external", cliOverrides{Facing: "external", RotationDeg: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := validateCLIOverrides(tc.o); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

// ---------- applyOverrides ----------

func newTestConfig() *config.Config {
	return &config.Config{
		Camera:  config.CameraConfig{Type: config.CameraSim, Facing: "back"},
		Display: config.DisplayConfig{ViewWidth: 640, ViewHeight: 480, RotationDeg: 90},
	}
}

func TestApplyOverrides_AllSet(t *testing.T) {
	cfg := newTestConfig()
	applyOverrides(cfg, cliOverrides{View: "800x600", RotationDeg: 0, Facing: "front"})

	if cfg.Display.ViewWidth != 800 || cfg.Display.ViewHeight != 600 {
		t.Errorf("view = %dx%d, want 800x600", cfg.Display.ViewWidth, cfg.Display.ViewHeight)
	}
	if cfg.Display.RotationDeg != 0 {
		t.Errorf("RotationDeg = %d, want 0", cfg.Display.RotationDeg)
	}
	if cfg.Facing() != geometry.FacingFront {
		t.Errorf("Facing = %s, want front", cfg.Facing())
	}
}

func TestApplyOverrides_NoneLeavesUnchanged(t *testing.T) {
	cfg := newTestConfig()
	applyOverrides(cfg, noOverrides())

	want := newTestConfig()
	if cfg.Display != want.Display || cfg.Camera.Facing != want.Camera.Facing {
		t.Errorf("config changed: %+v", cfg)
	}
}

// ---------- newCameraManager ----------

func TestNewCameraManager_SimOverrides(t *testing.T) {
	cfg := newTestConfig()
	cfg.Camera.FrameIntervalMs = 1
	cfg.Sim.Front = &config.SimCameraConfig{FocusFrames: 2, NeedsFlash: true, PrecaptureFrames: 1}

	mgr, err := newCameraManager(cfg, gpio.NewMockDriver())
	if err != nil {
		t.Fatalf("newCameraManager: %v", err)
	}
	ids, err := mgr.CameraIDs()
	if err != nil || len(ids) != 2 {
		t.Fatalf("CameraIDs = %v, %v", ids, err)
	}
	front, err := mgr.Characteristics("1")
	if err != nil {
		t.Fatalf("Characteristics: %v", err)
	}
	if front.Facing != geometry.FacingFront {
		t.Errorf("camera 1 facing = %s", front.Facing)
	}
	if _, ok := mgr.(*camera.SimManager); !ok {
		t.Errorf("manager = %T, want *camera.SimManager", mgr)
	}
}

func TestNewCameraManager_V4L2(t *testing.T) {
	cfg := newTestConfig()
	cfg.Camera.Type = config.CameraV4L2
	cfg.Camera.Devices = []string{"/dev/video0", "/dev/video2"}
	cfg.GPIO.FlashPin = 22
	g := gpio.NewMockDriver()

	mgr, err := newCameraManager(cfg, g)
	if err != nil {
		t.Fatalf("newCameraManager: %v", err)
	}
	ids, _ := mgr.CameraIDs()
	if len(ids) != 2 || ids[0] != "/dev/video0" {
		t.Errorf("CameraIDs = %v", ids)
	}
	// The flash line is set up and off.
	if lvl, _ := g.ReadPin(22); lvl != gpio.Low {
		t.Errorf("flash pin = %v, want LOW", lvl)
	}
}

func TestNewCameraManager_Unsupported(t *testing.T) {
	cfg := newTestConfig()
	cfg.Camera.Type = "gphoto2"
	if _, err := newCameraManager(cfg, gpio.NewMockDriver()); err == nil {
		t.Error("expected error for unsupported camera type")
	}
}

func TestSimBehavior(t *testing.T) {
	got := simBehavior(config.SimCameraConfig{NoAF: true, NoAE: true, FocusFrames: 4, FocusFails: true, NeedsFlash: true, PrecaptureFrames: 3})
	want := camera.SimBehavior{NoAF: true, NoAE: true, FocusFrames: 4, FocusFails: true, NeedsFlash: true, PrecaptureFrames: 3}
	if got != want {
		t.Errorf("simBehavior = %+v, want %+v", got, want)
	}
}

// ---------- shootOnce ----------

type fakeShutter struct {
	previewErr error
	shutterErr error
	saved      chan string
	path       string
}

func (f *fakeShutter) WaitPreview(context.Context) error { return f.previewErr }

func (f *fakeShutter) TakePicture() error {
	if f.shutterErr != nil {
		return f.shutterErr
	}
	go func() { f.saved <- f.path }()
	return nil
}

func TestShootOnce(t *testing.T) {
	s := &fakeShutter{saved: make(chan string, 1), path: "pic.jpg"}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	path, err := shootOnce(ctx, s, s.saved)
	if err != nil {
		t.Fatalf("shootOnce: %v", err)
	}
	if path != "pic.jpg" {
		t.Errorf("path = %q, want pic.jpg", path)
	}
}

func TestShootOnce_Errors(t *testing.T) {
	busy := errors.New("busy")
	cases := []struct {
		name string
		s    *fakeShutter
		want error
	}{
		{"no_preview", &fakeShutter{previewErr: context.DeadlineExceeded}, context.DeadlineExceeded},
		{"shutter", &fakeShutter{shutterErr: busy}, busy},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := shootOnce(context.Background(), tc.s, nil)
			if !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestShootOnce_NeverSaved(t *testing.T) {
	s := &fakeShutter{saved: make(chan string, 1)}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// the picture lands on a channel nobody reads
	if _, err := shootOnce(ctx, s, make(chan string)); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

// ---------- fatalError ----------

func TestFatalError_KeepsFirst(t *testing.T) {
	var f fatalError
	if f.get() != nil {
		t.Fatal("zero value should hold no error")
	}
	first := errors.New("first")
	f.set(first)
	f.set(errors.New("second"))
	if f.get() != first {
		t.Errorf("get = %v, want first", f.get())
	}
}

// ---------- webPortFlag ----------

func TestWebPortFlag_EmptyString(t *testing.T) {
	w := &webPortFlag{defaultPort: 8080}
	if err := w.Set(""); err != nil {
		t.Fatalf("Set(\"\") error: %v", err)
	}
	if w.port() != 8080 {
		t.Errorf("expected default port 8080, got %d", w.port())
	}
}

func TestWebPortFlag_ValidPorts(t *testing.T) {
	cases := []struct {
		input string
		want  int
	}{
		{"8080", 8080},
		{"1", 1},
		{"65535", 65535},
		{"3000", 3000},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			w := &webPortFlag{defaultPort: 8080}
			if err := w.Set(tc.input); err != nil {
				t.Fatalf("Set(%q) error: %v", tc.input, err)
			}
			if w.port() != tc.want {
				t.Errorf("port() = %d, want %d", w.port(), tc.want)
			}
		})
	}
}

func TestWebPortFlag_InvalidPorts(t *testing.T) {
	cases := []string{"0", "65536", "-1", "abc", "8080.5"}
	for _, input := range cases {
		t.Run(input, func(t *testing.T) {
			w := &webPortFlag{defaultPort: 8080}
			if err := w.Set(input); err == nil {
				t.Errorf("Set(%q) should fail, got nil", input)
			}
		})
	}
}

func TestWebPortFlag_String(t *testing.T) {
	w := &webPortFlag{val: 0}
	if s := w.String(); s != "0" {
		t.Errorf("String() = %q, want \"0\"", s)
	}
	w.val = 9090
	if s := w.String(); s != "9090" {
		t.Errorf("String() = %q, want \"9090\"", s)
	}
}

