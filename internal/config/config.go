package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/stillcam/internal/logic/geometry"
)

// MaxConfigFileBytes bounds the size of a config file.
const MaxConfigFileBytes = 1 << 20

// Camera backends.
const (
	CameraSim  = "sim"
	CameraV4L2 = "v4l2"
)

// CameraConfig selects the camera backend and its timings.
type CameraConfig struct {
	Type            string   `yaml:"type"`              // "sim" or "v4l2"
	Devices         []string `yaml:"devices"`           // V4L2 device paths, e.g. /dev/video0
	Facing          string   `yaml:"facing"`            // "back" (default) or "front"
	OpenTimeoutMs   int      `yaml:"open_timeout_ms"`   // bounded wait on the open/close lock
	FrameIntervalMs int      `yaml:"frame_interval_ms"` // sim frame period
	FrameTimeoutMs  int      `yaml:"frame_timeout_ms"`  // V4L2 wait for one frame
	MaxImages       int      `yaml:"max_images"`        // stills queued or held at once
	FlashSettleMs   int      `yaml:"flash_settle_ms"`   // GPIO flash warm-up before a still
}

// DisplayConfig describes the surface the preview is shown on.
type DisplayConfig struct {
	ViewWidth        int  `yaml:"view_width"`  // preview view, in display orientation
	ViewHeight       int  `yaml:"view_height"`
	Width            int  `yaml:"width"`       // full display; 0 = use the max preview bound
	Height           int  `yaml:"height"`
	RotationDeg      int  `yaml:"rotation_deg"` // 0, 90, 180 or 270
	Landscape        bool `yaml:"landscape"`
	MaxPreviewWidth  int  `yaml:"max_preview_width"`
	MaxPreviewHeight int  `yaml:"max_preview_height"`
}

// OutputConfig says where stills go.
type OutputConfig struct {
	Path string `yaml:"path"` // each still overwrites this file
}

// GPIOConfig wires the shutter button and the flash. A pin of 0 is unused.
type GPIOConfig struct {
	Mock       bool `yaml:"mock"` // use mock GPIO (true=dev/test, false=real Raspberry Pi)
	ShutterPin int  `yaml:"shutter_pin"`
	FlashPin   int  `yaml:"flash_pin"`
	DebounceMs int  `yaml:"debounce_ms"`
}

// MQTTConfig is optional: capture events are published when Broker is set.
type MQTTConfig struct {
	Broker   string `yaml:"broker"` // e.g. tcp://localhost:1883
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

// SimCameraConfig scripts a simulated camera's autofocus and exposure.
type SimCameraConfig struct {
	NoAF             bool `yaml:"no_af"`
	NoAE             bool `yaml:"no_ae"`
	FocusFrames      int  `yaml:"focus_frames"`
	FocusFails       bool `yaml:"focus_fails"`
	NeedsFlash       bool `yaml:"needs_flash"`
	PrecaptureFrames int  `yaml:"precapture_frames"`
}

// SimConfig overrides the default simulated cameras. Omitted cameras keep
// their built-in behavior.
type SimConfig struct {
	Back  *SimCameraConfig `yaml:"back,omitempty"`
	Front *SimCameraConfig `yaml:"front,omitempty"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
}

// Config aggregates all application configuration.
type Config struct {
	Camera   CameraConfig   `yaml:"camera"`
	Display  DisplayConfig  `yaml:"display"`
	Output   OutputConfig   `yaml:"output"`
	GPIO     GPIOConfig     `yaml:"gpio"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Sim      SimConfig      `yaml:"sim"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// ValidateConfigPath accepts only .yaml files directly inside a configs/
// directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	clean := filepath.Clean(path)
	if strings.Contains(clean, "..") {
		return fmt.Errorf("config path %q escapes its directory", path)
	}
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file is %d bytes, max %d", info.Size(), MaxConfigFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) validate() error {
	switch cfg.Camera.Type {
	case "":
		return fmt.Errorf("camera.type is required")
	case CameraSim:
	case CameraV4L2:
		if len(cfg.Camera.Devices) == 0 {
			return fmt.Errorf("camera.devices is required for camera.type %q", CameraV4L2)
		}
	default:
		return fmt.Errorf("unsupported camera.type %q (want %q or %q)", cfg.Camera.Type, CameraSim, CameraV4L2)
	}
	if _, err := geometry.ParseFacing(cfg.Camera.Facing); err != nil {
		return fmt.Errorf("camera.facing: %w", err)
	}
	if _, err := geometry.RotationFromDegrees(cfg.Display.RotationDeg); err != nil {
		return fmt.Errorf("display.rotation_deg: %w", err)
	}
	if cfg.Display.ViewWidth < 0 || cfg.Display.ViewHeight < 0 || cfg.Display.Width < 0 || cfg.Display.Height < 0 {
		return fmt.Errorf("display sizes must be >= 0")
	}
	if cfg.Defaults.DebugLevel < 0 || cfg.Defaults.DebugLevel > 4 {
		return fmt.Errorf("debug_level must be between 0 and 4, got %d", cfg.Defaults.DebugLevel)
	}

	// Default values
	if cfg.Camera.OpenTimeoutMs <= 0 {
		cfg.Camera.OpenTimeoutMs = 2500
	}
	if cfg.Camera.FrameIntervalMs <= 0 {
		cfg.Camera.FrameIntervalMs = 33 // ~30 fps
	}
	if cfg.Camera.FrameTimeoutMs <= 0 {
		cfg.Camera.FrameTimeoutMs = 5000
	}
	if cfg.Camera.MaxImages <= 0 {
		cfg.Camera.MaxImages = 2
	}
	if cfg.Camera.FlashSettleMs <= 0 {
		cfg.Camera.FlashSettleMs = 100
	}
	if cfg.Display.ViewWidth == 0 || cfg.Display.ViewHeight == 0 {
		cfg.Display.ViewWidth, cfg.Display.ViewHeight = 640, 480
	}
	if cfg.Display.MaxPreviewWidth <= 0 {
		cfg.Display.MaxPreviewWidth = geometry.MaxPreview.Width
	}
	if cfg.Display.MaxPreviewHeight <= 0 {
		cfg.Display.MaxPreviewHeight = geometry.MaxPreview.Height
	}
	if cfg.Output.Path == "" {
		cfg.Output.Path = "pic.jpg"
	}
	if cfg.GPIO.DebounceMs <= 0 {
		cfg.GPIO.DebounceMs = 50
	}
	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = "stillcam"
	}
	return nil
}

// Facing returns the requested lens facing.
func (c *Config) Facing() geometry.Facing {
	f, _ := geometry.ParseFacing(c.Camera.Facing)
	return f
}

// Rotation returns the display rotation.
func (c *Config) Rotation() geometry.Rotation {
	r, _ := geometry.RotationFromDegrees(c.Display.RotationDeg)
	return r
}

// View returns the preview view size.
func (c *Config) View() geometry.Size {
	return geometry.Size{Width: c.Display.ViewWidth, Height: c.Display.ViewHeight}
}

// DisplaySize returns the full display size (zero when unknown).
func (c *Config) DisplaySize() geometry.Size {
	return geometry.Size{Width: c.Display.Width, Height: c.Display.Height}
}

// MaxPreview returns the upper bound for preview sizes.
func (c *Config) MaxPreview() geometry.Size {
	return geometry.Size{Width: c.Display.MaxPreviewWidth, Height: c.Display.MaxPreviewHeight}
}

// OpenTimeout returns the bounded wait on the camera open/close lock.
func (c *Config) OpenTimeout() time.Duration {
	return time.Duration(c.Camera.OpenTimeoutMs) * time.Millisecond
}

// FrameInterval returns the simulated frame period.
func (c *Config) FrameInterval() time.Duration {
	return time.Duration(c.Camera.FrameIntervalMs) * time.Millisecond
}

// FrameTimeout returns how long the V4L2 backend waits for one frame.
func (c *Config) FrameTimeout() time.Duration {
	return time.Duration(c.Camera.FrameTimeoutMs) * time.Millisecond
}

// FlashSettle returns the flash warm-up time.
func (c *Config) FlashSettle() time.Duration {
	return time.Duration(c.Camera.FlashSettleMs) * time.Millisecond
}

// Debounce returns the shutter button debounce time.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.GPIO.DebounceMs) * time.Millisecond
}
