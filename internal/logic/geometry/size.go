package geometry

import (
	"fmt"

	"github.com/cjeanneret/stillcam/internal/debug"
)

// Size is a width x height pair in pixels.
type Size struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Area returns the pixel count as int64 so large sensors don't overflow.
func (s Size) Area() int64 {
	return int64(s.Width) * int64(s.Height)
}

// IsZero reports whether s is the zero Size.
func (s Size) IsZero() bool {
	return s.Width == 0 && s.Height == 0
}

// Swap returns s with width and height exchanged.
func (s Size) Swap() Size {
	return Size{Width: s.Height, Height: s.Width}
}

// CompareByArea orders sizes by area: -1, 0 or +1.
func CompareByArea(a, b Size) int {
	da := a.Area() - b.Area()
	switch {
	case da < 0:
		return -1
	case da > 0:
		return 1
	default:
		return 0
	}
}

// Largest returns the size with the largest area, or false if sizes is empty.
func Largest(sizes []Size) (Size, bool) {
	if len(sizes) == 0 {
		return Size{}, false
	}
	best := sizes[0]
	for _, s := range sizes[1:] {
		if CompareByArea(s, best) > 0 {
			best = s
		}
	}
	return best, true
}

// MatchesAspect reports whether s has the aspect ratio of aspect,
// using the same integer rule as the camera stack: h == w*ah/aw.
func (s Size) MatchesAspect(aspect Size) bool {
	if aspect.Width <= 0 {
		return false
	}
	return s.Height == s.Width*aspect.Height/aspect.Width
}

// ChooseOptimalSize picks an output size from choices.
//
// It returns the smallest choice that is at least view-sized, fits within
// maxSize and matches the aspect ratio. If no choice is big enough, the
// largest fitting one is returned. If nothing fits at all, choices[0] is
// returned unchanged and the failure is logged.
func ChooseOptimalSize(choices []Size, view, maxSize, aspect Size) Size {
	var bigEnough, notBigEnough []Size
	for _, option := range choices {
		if option.Width > maxSize.Width || option.Height > maxSize.Height || !option.MatchesAspect(aspect) {
			continue
		}
		if option.Width >= view.Width && option.Height >= view.Height {
			bigEnough = append(bigEnough, option)
		} else {
			notBigEnough = append(notBigEnough, option)
		}
	}

	if len(bigEnough) > 0 {
		best := bigEnough[0]
		for _, s := range bigEnough[1:] {
			if CompareByArea(s, best) < 0 {
				best = s
			}
		}
		return best
	}
	if s, ok := Largest(notBigEnough); ok {
		return s
	}

	debug.Errorf("couldn't find any suitable preview size (view=%v max=%v aspect=%v)", view, maxSize, aspect)
	if len(choices) == 0 {
		return Size{}
	}
	return choices[0]
}
