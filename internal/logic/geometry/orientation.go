package geometry

import "fmt"

// Rotation is the display rotation, in quarter turns from the natural orientation.
type Rotation int

const (
	Rotation0 Rotation = iota
	Rotation90
	Rotation180
	Rotation270
)

// RotationFromDegrees converts 0/90/180/270 to a Rotation.
func RotationFromDegrees(deg int) (Rotation, error) {
	switch deg {
	case 0:
		return Rotation0, nil
	case 90:
		return Rotation90, nil
	case 180:
		return Rotation180, nil
	case 270:
		return Rotation270, nil
	default:
		return Rotation0, fmt.Errorf("display rotation must be 0, 90, 180 or 270, got %d", deg)
	}
}

// Degrees returns the rotation in degrees.
func (r Rotation) Degrees() int {
	return int(r) * 90
}

func (r Rotation) String() string {
	return fmt.Sprintf("ROTATION_%d", r.Degrees())
}

// Valid reports whether r is one of the four display rotations.
func (r Rotation) Valid() bool {
	return r >= Rotation0 && r <= Rotation270
}

// Facing tells which way a lens points relative to the screen.
type Facing int

const (
	FacingBack Facing = iota
	FacingFront
	FacingExternal
)

func (f Facing) String() string {
	switch f {
	case FacingBack:
		return "back"
	case FacingFront:
		return "front"
	case FacingExternal:
		return "external"
	default:
		return fmt.Sprintf("facing(%d)", int(f))
	}
}

// ParseFacing parses "back", "front" or "external".
func ParseFacing(s string) (Facing, error) {
	switch s {
	case "back", "":
		return FacingBack, nil
	case "front":
		return FacingFront, nil
	case "external":
		return FacingExternal, nil
	default:
		return FacingBack, fmt.Errorf("unknown facing %q", s)
	}
}

// Display rotation to JPEG orientation, before the sensor term is added.
var (
	backOrientations  = [4]int{Rotation0: 90, Rotation90: 0, Rotation180: 270, Rotation270: 180}
	frontOrientations = [4]int{Rotation0: 270, Rotation90: 0, Rotation180: 90, Rotation270: 180}
)

// OrientationTable returns the rotation table used for a lens facing.
// External cameras share the back-facing table.
func OrientationTable(f Facing) [4]int {
	if f == FacingFront {
		return frontOrientations
	}
	return backOrientations
}

// JPEGOrientation computes the orientation tag for a still:
// (table[rotation] + sensorOrientation + 270) mod 360.
func JPEGOrientation(r Rotation, sensorOrientation int, f Facing) int {
	if !r.Valid() {
		r = Rotation0
	}
	o := (OrientationTable(f)[r] + sensorOrientation + 270) % 360
	if o < 0 {
		o += 360
	}
	return o
}

// SwappedDimensions reports whether the sensor is mounted a quarter turn
// away from the display, so that preview sizes have to be swapped.
// ok is false for an invalid rotation.
func SwappedDimensions(r Rotation, sensorOrientation int) (swapped bool, ok bool) {
	switch r {
	case Rotation0, Rotation180:
		return sensorOrientation == 90 || sensorOrientation == 270, true
	case Rotation90, Rotation270:
		return sensorOrientation == 0 || sensorOrientation == 180, true
	default:
		return false, false
	}
}
