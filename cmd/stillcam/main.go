package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cjeanneret/stillcam/internal/config"
	"github.com/cjeanneret/stillcam/internal/debug"
	"github.com/cjeanneret/stillcam/internal/hw/button"
	"github.com/cjeanneret/stillcam/internal/hw/camera"
	"github.com/cjeanneret/stillcam/internal/hw/gpio"
	"github.com/cjeanneret/stillcam/internal/logic/geometry"
	"github.com/cjeanneret/stillcam/internal/logic/session"
	"github.com/cjeanneret/stillcam/internal/notify"
	"github.com/cjeanneret/stillcam/internal/web"
)

// shotTimeout bounds a -shoot run from preview to saved file.
const shotTimeout = 30 * time.Second

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	shoot := flag.Bool("shoot", false, "take one picture once the preview runs, then exit (unless -web)")
	view := flag.String("view", "", "override preview view size, e.g. 640x480")
	rotation := flag.Int("rotation", -1, "override display rotation in degrees (0, 90, 180, 270)")
	facing := flag.String("facing", "", "override lens facing (back, front)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid -config: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// Validate CLI overrides (unset values mean "use config default")
	overrides := cliOverrides{View: *view, RotationDeg: *rotation, Facing: *facing}
	if err := validateCLIOverrides(overrides); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, overrides)

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	// Initialize GPIO driver
	debug.Value("Mock GPIO", cfg.GPIO.Mock)
	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.GPIO.Mock)
	if err != nil {
		log.Fatalf("init GPIO failed: %v", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()

	// Initialize camera stack
	debug.Step(2, "Initializing camera stack")
	mgr, err := newCameraManager(cfg, gpioDriver)
	if err != nil {
		log.Fatalf("init camera failed: %v", err)
	}
	debug.Value("Camera type", cfg.Camera.Type)
	debug.PrintStruct("Display config", cfg.Display)

	// Notifications
	debug.Step(3, "Wiring notifications")
	fan := notify.NewFanout(notify.Log{})
	var broadcaster *web.StatusBroadcaster
	var frames *web.FrameStore
	if webPort.port() > 0 {
		broadcaster = web.NewStatusBroadcaster()
		frames = web.NewFrameStore()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
		fan.Add(broadcaster)
	}
	if cfg.MQTT.Broker != "" {
		m, err := notify.DialMQTT(notify.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
		}, 5*time.Second)
		if err != nil {
			// the camera works without the broker
			debug.Error(err)
		} else {
			defer m.Close()
			fan.Add(m)
			debug.Value("MQTT topic", m.Topic(notify.KindSaved))
		}
	}
	saved := make(chan string, 1)
	fan.Add(notify.Func(func(e notify.Event) {
		if e.Kind != notify.KindSaved {
			return
		}
		select {
		case saved <- e.Path:
		default:
		}
	}))

	// Camera controller
	debug.Step(4, "Opening camera")
	var fatal fatalError
	opts := session.Options{
		Facing:      cfg.Facing(),
		View:        cfg.View(),
		Display:     cfg.DisplaySize(),
		MaxPreview:  cfg.MaxPreview(),
		Rotation:    cfg.Rotation(),
		Landscape:   cfg.Display.Landscape,
		OutputPath:  cfg.Output.Path,
		MaxImages:   cfg.Camera.MaxImages,
		OpenTimeout: cfg.OpenTimeout(),
		Notifier:    fan,
		OnFatal: func(err error) {
			fatal.set(err)
			cancel()
		},
	}
	if frames != nil {
		opts.PreviewSink = frames
	}
	ctrl := session.New(mgr, opts)
	if err := ctrl.Open(ctx); err != nil {
		stopController(ctrl)
		log.Fatalf("open camera failed: %v", err)
	}

	// Shutter button
	if cfg.GPIO.ShutterPin != 0 {
		btn, err := button.New(gpioDriver, cfg.GPIO.ShutterPin, cfg.Debounce())
		if err != nil {
			stopController(ctrl)
			log.Fatalf("init shutter button failed: %v", err)
		}
		debug.Value("Shutter pin", cfg.GPIO.ShutterPin)
		go btn.Run(ctx, func() {
			if err := ctrl.TakePicture(); err != nil {
				debug.Verbose("shutter ignored: %v", err)
			}
		})
	}

	runErr := run(ctx, ctrl, runParams{
		shoot:       *shoot,
		saved:       saved,
		webPort:     webPort.port(),
		broadcaster: broadcaster,
		frames:      frames,
		ui: web.UIConfig{
			ViewWidth:   cfg.Display.ViewWidth,
			ViewHeight:  cfg.Display.ViewHeight,
			RotationDeg: cfg.Display.RotationDeg,
			Landscape:   cfg.Display.Landscape,
			OutputPath:  cfg.Output.Path,
		},
	})

	stopController(ctrl)
	if err := fatal.get(); err != nil {
		log.Fatalf("camera failed: %v", err)
	}
	if runErr != nil {
		log.Fatalf("%v", runErr)
	}
}

type runParams struct {
	shoot       bool
	saved       <-chan string
	webPort     int
	broadcaster *web.StatusBroadcaster
	frames      *web.FrameStore
	ui          web.UIConfig
}

// run takes the -shoot picture, then serves the web UI or waits for a
// signal.
func run(ctx context.Context, ctrl *session.Controller, p runParams) error {
	if p.shoot {
		debug.Section("Taking one picture")
		shotCtx, cancel := context.WithTimeout(ctx, shotTimeout)
		path, err := shootOnce(shotCtx, ctrl, p.saved)
		cancel()
		if err != nil {
			return fmt.Errorf("shoot: %w", err)
		}
		debug.Summary("Picture saved: " + path)
		if p.webPort == 0 {
			return nil
		}
	}

	if p.webPort > 0 {
		srv, err := web.NewServer(fmt.Sprintf(":%d", p.webPort), p.broadcaster, ctrl, p.frames, p.ui)
		if err != nil {
			return err
		}
		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("web server: %w", err)
		}
		return nil
	}

	debug.Info("Camera running, press Ctrl-C to stop")
	<-ctx.Done()
	return nil
}

// shutter is the part of the controller a single shot needs.
type shutter interface {
	WaitPreview(ctx context.Context) error
	TakePicture() error
}

// shootOnce waits for the preview, presses the shutter and waits for the
// still to be saved.
func shootOnce(ctx context.Context, s shutter, saved <-chan string) (string, error) {
	if err := s.WaitPreview(ctx); err != nil {
		return "", fmt.Errorf("wait for preview: %w", err)
	}
	if err := s.TakePicture(); err != nil {
		return "", err
	}
	select {
	case path := <-saved:
		return path, nil
	case <-ctx.Done():
		return "", fmt.Errorf("wait for picture: %w", ctx.Err())
	}
}

func stopController(ctrl *session.Controller) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ctrl.Stop(ctx); err != nil {
		log.Printf("closing camera failed: %v", err)
	}
}

// fatalError keeps the first fatal camera error.
type fatalError struct {
	mu  sync.Mutex
	err error
}

func (f *fatalError) set(err error) {
	f.mu.Lock()
	if f.err == nil {
		f.err = err
	}
	f.mu.Unlock()
}

func (f *fatalError) get() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// cliOverrides holds the display settings that can override the config.
type cliOverrides struct {
	View        string // "WxH", empty = config
	RotationDeg int    // -1 = config
	Facing      string // empty = config
}

// validateCLIOverrides checks the overrides that are set.
func validateCLIOverrides(o cliOverrides) error {
	if o.View != "" {
		if _, err := parseView(o.View); err != nil {
			return err
		}
	}
	if o.RotationDeg != -1 {
		if _, err := geometry.RotationFromDegrees(o.RotationDeg); err != nil {
			return fmt.Errorf("rotation: %w", err)
		}
	}
	if o.Facing != "" {
		f, err := geometry.ParseFacing(o.Facing)
		if err != nil {
			return fmt.Errorf("facing: %w", err)
		}
		if f == geometry.FacingExternal {
			return errors.New("facing must be back or front")
		}
	}
	return nil
}

// applyOverrides mutates cfg with the overrides that are set. o must have
// been validated.
func applyOverrides(cfg *config.Config, o cliOverrides) {
	if v, err := parseView(o.View); err == nil {
		cfg.Display.ViewWidth, cfg.Display.ViewHeight = v.Width, v.Height
	}
	if o.RotationDeg != -1 {
		cfg.Display.RotationDeg = o.RotationDeg
	}
	if o.Facing != "" {
		cfg.Camera.Facing = o.Facing
	}
}

// maxViewSide bounds each side of a -view override.
const maxViewSide = 8192

// parseView parses "WxH" into a size.
func parseView(s string) (geometry.Size, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return geometry.Size{}, fmt.Errorf("view must be WIDTHxHEIGHT, got %q", s)
	}
	w, err := strconv.Atoi(ws)
	if err != nil {
		return geometry.Size{}, fmt.Errorf("view width: %w", err)
	}
	h, err := strconv.Atoi(hs)
	if err != nil {
		return geometry.Size{}, fmt.Errorf("view height: %w", err)
	}
	if w <= 0 || h <= 0 || w > maxViewSide || h > maxViewSide {
		return geometry.Size{}, fmt.Errorf("view sides must be between 1 and %d, got %dx%d", maxViewSide, w, h)
	}
	return geometry.Size{Width: w, Height: h}, nil
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }

// newCameraManager selects a camera stack based on configuration.
func newCameraManager(cfg *config.Config, g gpio.Driver) (camera.Manager, error) {
	switch cfg.Camera.Type {
	case config.CameraSim:
		cams := camera.DefaultSimCameras()
		for i := range cams {
			var sc *config.SimCameraConfig
			if cams[i].Facing == geometry.FacingFront {
				sc = cfg.Sim.Front
			} else {
				sc = cfg.Sim.Back
			}
			if sc != nil {
				cams[i].Behavior = simBehavior(*sc)
			}
		}
		return camera.NewSimManager(cfg.FrameInterval(), cams...), nil
	case config.CameraV4L2:
		var flash camera.Flash
		if cfg.GPIO.FlashPin != 0 {
			flash = camera.NewGPIOFlash(g, cfg.GPIO.FlashPin, cfg.FlashSettle())
			debug.Value("Flash pin", cfg.GPIO.FlashPin)
		}
		return camera.NewV4L2Manager(cfg.Camera.Devices, flash, cfg.FrameTimeout()), nil
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}
}

func simBehavior(c config.SimCameraConfig) camera.SimBehavior {
	return camera.SimBehavior{
		NoAF:             c.NoAF,
		NoAE:             c.NoAE,
		FocusFrames:      c.FocusFrames,
		FocusFails:       c.FocusFails,
		NeedsFlash:       c.NeedsFlash,
		PrecaptureFrames: c.PrecaptureFrames,
	}
}
