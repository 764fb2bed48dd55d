package geometry

import (
	"errors"

	"github.com/cjeanneret/stillcam/internal/debug"
)

// Upper bound on preview sizes; larger previews can exceed the camera bus bandwidth.
var MaxPreview = Size{Width: 1920, Height: 1080}

// ErrNoStillSizes is returned when a camera reports no JPEG output sizes.
var ErrNoStillSizes = errors.New("camera reports no JPEG output sizes")

// OutputParams describes the screen the preview is shown on.
type OutputParams struct {
	View              Size     // size of the preview surface
	Display           Size     // full display size
	MaxPreview        Size     // cap on the preview size (zero = MaxPreview)
	Rotation          Rotation // current display rotation
	SensorOrientation int      // sensor mounting angle
	Landscape         bool     // UI is in landscape orientation
}

// OutputPlan is the result of size negotiation for one camera-open cycle.
type OutputPlan struct {
	Still       Size // JPEG still size (largest available)
	Preview     Size // preview stream size
	Swapped     bool // sensor is a quarter turn away from the display
	ViewAspect  Size // aspect ratio the preview surface should adopt
	Orientation int  // JPEG orientation for the current rotation
}

// PlanOutputs chooses the still and preview sizes for a camera.
func PlanOutputs(p OutputParams, facing Facing, previewChoices, jpegChoices []Size) (OutputPlan, error) {
	largest, ok := Largest(jpegChoices)
	if !ok {
		return OutputPlan{}, ErrNoStillSizes
	}

	swapped, valid := SwappedDimensions(p.Rotation, p.SensorOrientation)
	if !valid {
		debug.Errorf("display rotation is invalid: %d", int(p.Rotation))
	}

	view := p.View
	maxPreview := p.Display
	if swapped {
		view = view.Swap()
		maxPreview = maxPreview.Swap()
	}

	limit := p.MaxPreview
	if limit.IsZero() {
		limit = MaxPreview
	}
	if maxPreview.Width <= 0 || maxPreview.Width > limit.Width {
		maxPreview.Width = limit.Width
	}
	if maxPreview.Height <= 0 || maxPreview.Height > limit.Height {
		maxPreview.Height = limit.Height
	}

	preview := ChooseOptimalSize(previewChoices, view, maxPreview, largest)

	aspect := preview
	if !p.Landscape {
		aspect = preview.Swap()
	}

	return OutputPlan{
		Still:       largest,
		Preview:     preview,
		Swapped:     swapped,
		ViewAspect:  aspect,
		Orientation: JPEGOrientation(p.Rotation, p.SensorOrientation, facing),
	}, nil
}
