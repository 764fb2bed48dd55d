package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/cjeanneret/stillcam/internal/debug"
	"github.com/cjeanneret/stillcam/internal/logic/capture"
	"github.com/cjeanneret/stillcam/internal/logic/session"
)

// DefaultToggleCooldown is the minimum time between two camera switches.
const DefaultToggleCooldown = 2 * time.Second

// Camera is what the handlers drive. *session.Controller implements it.
type Camera interface {
	TakePicture() error
	Toggle(ctx context.Context) error
	Status() session.Status
}

// UIConfig holds the display settings the page lays the preview out with.
type UIConfig struct {
	ViewWidth   int    `json:"view_width"`
	ViewHeight  int    `json:"view_height"`
	RotationDeg int    `json:"rotation_deg"`
	Landscape   bool   `json:"landscape"`
	OutputPath  string `json:"output_path"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster    *StatusBroadcaster
	Camera         Camera
	Frames         *FrameStore
	UI             UIConfig
	ToggleCooldown time.Duration

	toggleMu   sync.Mutex
	toggling   bool
	lastToggle time.Time
	staticFS   fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If cam is nil, camera routes return 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, cam Camera, frames *FrameStore, ui UIConfig, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster:    broadcaster,
		Camera:         cam,
		Frames:         frames,
		UI:             ui,
		ToggleCooldown: DefaultToggleCooldown,
		staticFS:       staticFS,
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// HandleConfig returns the display settings as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.UI)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleCapture handles POST /capture: it presses the shutter. The picture
// is taken asynchronously; "saved" arrives on the status stream.
func (h *Handlers) HandleCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Camera == nil {
		http.Error(w, "camera not configured", http.StatusServiceUnavailable)
		return
	}

	err := h.Camera.TakePicture()
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
	case errors.Is(err, capture.ErrBusy):
		http.Error(w, "capture already in progress", http.StatusConflict)
	case errors.Is(err, session.ErrNotReady), errors.Is(err, session.ErrStopped):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		debug.Error(fmt.Errorf("capture: %w", err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleToggle handles POST /toggle: it switches between the back and front
// cameras in the background.
func (h *Handlers) HandleToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Camera == nil {
		http.Error(w, "camera not configured", http.StatusServiceUnavailable)
		return
	}

	h.toggleMu.Lock()
	if h.toggling {
		h.toggleMu.Unlock()
		http.Error(w, "camera switch already in progress", http.StatusConflict)
		return
	}
	if !h.lastToggle.IsZero() && time.Since(h.lastToggle) < h.ToggleCooldown {
		h.toggleMu.Unlock()
		http.Error(w, "camera switched too recently", http.StatusTooManyRequests)
		return
	}
	h.toggling = true
	h.lastToggle = time.Now()
	h.toggleMu.Unlock()

	// Run in goroutine; clear toggling when done
	go func() {
		defer func() {
			h.toggleMu.Lock()
			h.toggling = false
			h.toggleMu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.Camera.Toggle(ctx); err != nil {
			h.Broadcaster.Broadcast("error", "Camera switch failed: "+err.Error())
			debug.Error(fmt.Errorf("toggle camera: %w", err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "switching"})
}

// HandleStatus returns the camera status as JSON.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if h.Camera == nil {
		http.Error(w, "camera not configured", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, h.Camera.Status())
}

// HandlePhoto serves the last saved still.
func (h *Handlers) HandlePhoto(w http.ResponseWriter, r *http.Request) {
	if h.Camera == nil {
		http.Error(w, "camera not configured", http.StatusServiceUnavailable)
		return
	}
	path := h.Camera.Status().LastSaved
	if path == "" {
		http.Error(w, "no picture taken yet", http.StatusNotFound)
		return
	}
	f, err := os.Open(path)
	if err != nil {
		http.Error(w, "picture not found", http.StatusNotFound)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// HandlePreview serves the latest preview frame as a JPEG.
func (h *Handlers) HandlePreview(w http.ResponseWriter, r *http.Request) {
	if h.Frames == nil {
		http.Error(w, "preview not configured", http.StatusServiceUnavailable)
		return
	}
	f, ok := h.Frames.Latest()
	if !ok {
		http.Error(w, "no preview frame yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(f.JPEG)))
	w.Write(f.JPEG)
}

// HandlePreviewStream streams preview frames as multipart MJPEG.
func (h *Handlers) HandlePreviewStream(w http.ResponseWriter, r *http.Request) {
	if h.Frames == nil {
		http.Error(w, "preview not configured", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	const boundary = "frame"
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var seq uint64
	for {
		f, err := h.Frames.Next(r.Context(), seq)
		if err != nil {
			return
		}
		seq = f.Seq
		if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(f.JPEG)); err != nil {
			return
		}
		if _, err := w.Write(f.JPEG); err != nil {
			return
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			return
		}
		flusher.Flush()
	}
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
