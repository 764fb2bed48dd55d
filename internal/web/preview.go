package web

import (
	"context"
	"sync"

	"github.com/cjeanneret/stillcam/internal/logic/geometry"
)

// Frame is one encoded preview frame.
type Frame struct {
	Seq  uint64
	JPEG []byte
	Size geometry.Size
}

// FrameStore keeps the latest preview frame for HTTP clients. It implements
// camera.FrameSink.
type FrameStore struct {
	mu      sync.Mutex
	latest  Frame
	changed chan struct{} // closed and replaced on every frame
}

// NewFrameStore creates an empty store.
func NewFrameStore() *FrameStore {
	return &FrameStore{changed: make(chan struct{})}
}

// OnFrame stores a copy of the frame and wakes waiting clients.
func (s *FrameStore) OnFrame(jpeg []byte, size geometry.Size) {
	buf := append([]byte(nil), jpeg...)
	s.mu.Lock()
	s.latest = Frame{Seq: s.latest.Seq + 1, JPEG: buf, Size: size}
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
}

// Latest returns the latest frame; ok is false before the first one.
func (s *FrameStore) Latest() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.latest.Seq > 0
}

// Next blocks until a frame newer than seq is stored.
func (s *FrameStore) Next(ctx context.Context, seq uint64) (Frame, error) {
	for {
		s.mu.Lock()
		f, ch := s.latest, s.changed
		s.mu.Unlock()
		if f.Seq > seq {
			return f, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		}
	}
}
