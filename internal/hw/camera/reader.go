package camera

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cjeanneret/stillcam/internal/logic/geometry"
)

var (
	// ErrMaxImages is returned when every image slot is queued or held.
	ErrMaxImages = errors.New("image reader: too many images outstanding")
	// ErrNoImage is returned by AcquireNextImage when nothing is queued.
	ErrNoImage = errors.New("image reader: no image available")
)

// Image is a captured frame. Close must be called to free its slot.
type Image interface {
	Bytes() []byte
	Size() geometry.Size
	Close() error
}

// ImageReader hands still images from a device to the application.
// At most maxImages may be queued or acquired at once.
type ImageReader struct {
	size      geometry.Size
	maxImages int

	mu       sync.Mutex
	queue    []*bufferImage
	acquired int
	listener func(*ImageReader)
	handler  Handler
	closed   bool
}

// NewImageReader creates a reader for JPEG stills of the given size.
func NewImageReader(size geometry.Size, maxImages int) *ImageReader {
	if maxImages < 1 {
		maxImages = 1
	}
	return &ImageReader{size: size, maxImages: maxImages}
}

// Size returns the configured still size.
func (r *ImageReader) Size() geometry.Size {
	return r.size
}

// SetOnImageAvailable registers fn, called on h for every queued image.
func (r *ImageReader) SetOnImageAvailable(fn func(*ImageReader), h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listener = fn
	r.handler = h
}

// Enqueue is called by backends when a still has been encoded.
func (r *ImageReader) Enqueue(data []byte, size geometry.Size) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if len(r.queue)+r.acquired >= r.maxImages {
		r.mu.Unlock()
		return ErrMaxImages
	}
	r.queue = append(r.queue, &bufferImage{reader: r, data: data, size: size})
	fn, h := r.listener, r.handler
	r.mu.Unlock()

	if fn != nil {
		post(h, func() { fn(r) })
	}
	return nil
}

// AcquireNextImage removes the oldest queued image.
func (r *ImageReader) AcquireNextImage() (Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if len(r.queue) == 0 {
		return nil, ErrNoImage
	}
	img := r.queue[0]
	r.queue = r.queue[1:]
	r.acquired++
	return img, nil
}

// Outstanding returns the number of queued plus acquired images.
func (r *ImageReader) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue) + r.acquired
}

// Close drops queued images. Acquired images stay valid until closed.
func (r *ImageReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.queue = nil
	return nil
}

func (r *ImageReader) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.acquired > 0 {
		r.acquired--
	}
}

type bufferImage struct {
	reader *ImageReader
	data   []byte
	size   geometry.Size
	once   sync.Once
}

func (b *bufferImage) Bytes() []byte       { return b.data }
func (b *bufferImage) Size() geometry.Size { return b.size }

func (b *bufferImage) Close() error {
	b.once.Do(func() {
		b.data = nil
		b.reader.release()
	})
	return nil
}

func (b *bufferImage) String() string {
	return fmt.Sprintf("image %v (%d bytes)", b.size, len(b.data))
}
