package muxer

// Priority bounds. Lower numeric value takes precedence on the strip.
const (
	// PriorityLowest is the reserved background slot. It is created with the
	// muxer and is the fallback whenever nothing else is selectable.
	PriorityLowest = 255
	// PriorityMax is the highest valid priority value.
	PriorityMax = 255
)

// Timeout sentinels accepted on the public API, matching what existing
// producers already encode. Internally the muxer uses the deadline type.
const (
	// TimeoutInactive registers a slot without supplying data; the slot does
	// not take part in selection until it receives an input.
	TimeoutInactive int64 = -100
	// TimeoutPersistent keeps the input active until it is cleared.
	TimeoutPersistent int64 = -1
)

// Component identifies the kind of source feeding a priority slot.
type Component int

const (
	ComponentColor Component = iota
	ComponentEffect
	ComponentImage
	ComponentGrabber
	ComponentBoblight
	ComponentFlatBuffer
	ComponentProtoBuffer
	ComponentV4L
)

func (c Component) String() string {
	switch c {
	case ComponentColor:
		return "color"
	case ComponentEffect:
		return "effect"
	case ComponentImage:
		return "image"
	case ComponentGrabber:
		return "grabber"
	case ComponentBoblight:
		return "boblight"
	case ComponentFlatBuffer:
		return "flatbuffer"
	case ComponentProtoBuffer:
		return "protobuffer"
	case ComponentV4L:
		return "v4l"
	default:
		return "unknown"
	}
}

// RGB is one LED color.
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// Image is an opaque raster payload. The muxer stores it and hands it to
// consumers; only the output stage interprets the pixel data.
type Image struct {
	Width  int
	Height int
	// Pixels holds RGB triplets, row major. Expected length Width*Height*3.
	Pixels []byte
}

type deadlineKind int

const (
	// deadlineInactive marks a registered slot that has not received data yet
	// (or was explicitly deactivated). It never takes part in selection.
	deadlineInactive deadlineKind = iota
	// deadlinePersistent marks an active input with no expiration.
	deadlinePersistent
	// deadlineTimed marks an active input that expires at an absolute
	// monotonic instant.
	deadlineTimed
)

// deadline is the internal rendering of the sentinel-encoded timeout.
type deadline struct {
	kind deadlineKind
	at   int64 // monotonic ms, valid for deadlineTimed only
}

// deadlineFromTimeout decodes a boundary timeout value relative to now.
// A timeout of zero yields an already-expired deadline, which the next sweep
// removes.
func deadlineFromTimeout(nowMs, timeoutMs int64) deadline {
	switch {
	case timeoutMs == TimeoutInactive:
		return deadline{kind: deadlineInactive}
	case timeoutMs < 0:
		return deadline{kind: deadlinePersistent}
	default:
		return deadline{kind: deadlineTimed, at: nowMs + timeoutMs}
	}
}

func (d deadline) active() bool {
	return d.kind != deadlineInactive
}

func (d deadline) expired(nowMs int64) bool {
	return d.kind == deadlineTimed && d.at <= nowMs
}

// sentinel re-encodes the deadline for the public boundary.
func (d deadline) sentinel() int64 {
	switch d.kind {
	case deadlineInactive:
		return TimeoutInactive
	case deadlinePersistent:
		return TimeoutPersistent
	default:
		return d.at
	}
}

// InputInfo describes one registered priority slot.
type InputInfo struct {
	// Priority is the slot key; lower values win selection.
	Priority int
	// Component is the kind of source feeding this slot.
	Component Component
	// Origin is a human-readable source label (e.g. "Web UI").
	Origin string
	// Owner carries the effect script name for effect slots, empty otherwise.
	Owner string
	// SmoothCfg is an opaque handle into the downstream smoothing engine.
	// The muxer stores and returns it but never interprets it.
	SmoothCfg uint32
	// Colors holds the last per-LED colors; zero-length for image-only slots.
	Colors []RGB
	// Image is the optional raster payload.
	Image *Image

	deadline deadline
}

// Active reports whether the slot currently takes part in selection.
func (i *InputInfo) Active() bool {
	return i.deadline.active()
}

// TimeoutMs returns the slot deadline in the boundary encoding: -100 for
// inactive, -1 for persistent, otherwise the absolute monotonic deadline.
func (i *InputInfo) TimeoutMs() int64 {
	return i.deadline.sentinel()
}

// clone returns a copy with its own color buffer, safe to hand out.
func (i *InputInfo) clone() InputInfo {
	out := *i
	if i.Colors != nil {
		out.Colors = make([]RGB, len(i.Colors))
		copy(out.Colors, i.Colors)
	}
	return out
}
