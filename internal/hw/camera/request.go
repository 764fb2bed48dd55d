package camera

import "fmt"

// Template selects request defaults.
type Template int

const (
	TemplatePreview Template = iota
	TemplateStillCapture
)

func (t Template) String() string {
	switch t {
	case TemplatePreview:
		return "preview"
	case TemplateStillCapture:
		return "still_capture"
	default:
		return fmt.Sprintf("template(%d)", int(t))
	}
}

// Target is a bit set of the outputs a request writes to.
type Target uint8

const (
	TargetPreview Target = 1 << iota
	TargetStill
)

// AFMode is the autofocus mode.
type AFMode int

const (
	AFModeOff AFMode = iota
	AFModeAuto
	AFModeContinuousPicture
)

// AFTrigger starts or cancels an autofocus scan.
type AFTrigger int

const (
	AFTriggerIdle AFTrigger = iota
	AFTriggerStart
	AFTriggerCancel
)

// AEMode is the auto-exposure mode.
type AEMode int

const (
	AEModeOn AEMode = iota
	AEModeOnAutoFlash
)

// AEPrecaptureTrigger starts the exposure metering sequence.
type AEPrecaptureTrigger int

const (
	AEPrecaptureTriggerIdle AEPrecaptureTrigger = iota
	AEPrecaptureTriggerStart
)

// AFState is the autofocus state reported in a result.
type AFState int

const (
	AFStateInactive AFState = iota
	AFStatePassiveScan
	AFStatePassiveFocused
	AFStateActiveScan
	AFStateFocusedLocked
	AFStateNotFocusedLocked
	AFStatePassiveUnfocused
)

var afStateNames = map[AFState]string{
	AFStateInactive:         "inactive",
	AFStatePassiveScan:      "passive_scan",
	AFStatePassiveFocused:   "passive_focused",
	AFStateActiveScan:       "active_scan",
	AFStateFocusedLocked:    "focused_locked",
	AFStateNotFocusedLocked: "not_focused_locked",
	AFStatePassiveUnfocused: "passive_unfocused",
}

func (s AFState) String() string {
	if n, ok := afStateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("af_state(%d)", int(s))
}

// Locked reports whether the scan has finished and the lens is held.
func (s AFState) Locked() bool {
	return s == AFStateFocusedLocked || s == AFStateNotFocusedLocked
}

// AEState is the auto-exposure state reported in a result.
type AEState int

const (
	AEStateInactive AEState = iota
	AEStateSearching
	AEStateConverged
	AEStateLocked
	AEStateFlashRequired
	AEStatePrecapture
)

var aeStateNames = map[AEState]string{
	AEStateInactive:      "inactive",
	AEStateSearching:     "searching",
	AEStateConverged:     "converged",
	AEStateLocked:        "locked",
	AEStateFlashRequired: "flash_required",
	AEStatePrecapture:    "precapture",
}

func (s AEState) String() string {
	if n, ok := aeStateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("ae_state(%d)", int(s))
}

// Request is a single capture request.
type Request struct {
	Template            Template
	Targets             Target
	AFMode              AFMode
	AFTrigger           AFTrigger
	AEMode              AEMode
	AEPrecaptureTrigger AEPrecaptureTrigger
	JPEGOrientation     int
	Tag                 string // caller supplied, echoed back in callbacks
}

// NewRequest returns a request with the template's defaults.
func NewRequest(t Template) Request {
	r := Request{Template: t, AFMode: AFModeContinuousPicture, AEMode: AEModeOn}
	switch t {
	case TemplatePreview:
		r.Targets = TargetPreview
	case TemplateStillCapture:
		r.Targets = TargetStill
	}
	return r
}

// Result carries the 3A readings for one frame. A nil state means the
// device does not report it.
type Result struct {
	FrameNumber int64
	AFState     *AFState
	AEState     *AEState
}

// AF returns a pointer to s, for building results.
func AF(s AFState) *AFState { return &s }

// AE returns a pointer to s, for building results.
func AE(s AEState) *AEState { return &s }

func (r Result) String() string {
	af, ae := "absent", "absent"
	if r.AFState != nil {
		af = r.AFState.String()
	}
	if r.AEState != nil {
		ae = r.AEState.String()
	}
	return fmt.Sprintf("frame=%d af=%s ae=%s", r.FrameNumber, af, ae)
}
