package model

import "time"

// LocationFix is a GNSS position report.
type LocationFix struct {
	Coordinate         Coordinate
	Altitude           float64
	HorizontalAccuracy float64 // metres, negative when unknown
	Timestamp          time.Time
}

// HeadingUpdate is a magnetic compass reading.
type HeadingUpdate struct {
	MagneticHeading float64 // degrees clockwise from magnetic north
	Accuracy        float64 // degrees, negative when invalid
	Timestamp       time.Time
}

// SurfaceChange says whether a detected surface appeared, changed, or went away.
type SurfaceChange int

const (
	SurfaceAdded SurfaceChange = iota
	SurfaceUpdated
	SurfaceRemoved
)

func (c SurfaceChange) String() string {
	switch c {
	case SurfaceAdded:
		return "added"
	case SurfaceUpdated:
		return "updated"
	case SurfaceRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Extent is the bounding size of a detected surface in its own frame.
type Extent struct {
	Width  float64 `yaml:"width"`
	Length float64 `yaml:"length"`
}

// SurfaceEvent reports a horizontal surface found by the camera pipeline.
type SurfaceEvent struct {
	Change SurfaceChange
	ID     string
	Area   float64 // approximate, square metres
	Normal Vec3
	Pose   Pose
	Extent Extent // zero when the platform does not report one
}

// BoundingBox is a detection rectangle in normalised image coordinates.
type BoundingBox struct {
	X, Y, Width, Height float64
}

// MarkerDetection is one rectangle/marker found in an analysed camera frame.
type MarkerDetection struct {
	MarkerID    string
	BoundingBox BoundingBox
	Confidence  float64
	// Position is the platform's world-space estimate of the marker centre,
	// usually from a raycast through the bounding box.
	Position  Vec3
	Timestamp time.Time
}

// ReferencePoint ties a marker identity to a surveyed coordinate.
type ReferencePoint struct {
	MarkerID   string
	Coordinate Coordinate
}

// Tap is a user tap resolved against a detected or estimated surface.
type Tap struct {
	Position Vec3
}

// Correspondence pairs a geodetic point with where the user tapped it.
type Correspondence struct {
	Coordinate Coordinate
	Tap        Tap
}

// MarkerMove re-places an already tapped alignment marker.
type MarkerMove struct {
	Index    int
	Position Vec3
}

// AnchorAvailability answers a geo-anchoring availability request.
type AnchorAvailability struct {
	Token     string
	Supported bool
	Err       error
}

// AnchorResolved reports the world pose of a geo anchor once the platform has
// localised it.
type AnchorResolved struct {
	Token    string
	AnchorID string
	Pose     Pose
}
