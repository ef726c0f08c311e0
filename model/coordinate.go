package model

import "fmt"

// Coordinate is a WGS84 position in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"lat" yaml:"lat"`
	Longitude float64 `json:"lon" yaml:"lon"`
}

// Valid reports whether the coordinate lies inside the WGS84 degree ranges.
func (c Coordinate) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 &&
		c.Longitude >= -180 && c.Longitude <= 180
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", c.Latitude, c.Longitude)
}

// BoundaryRing is an implicitly closed polygon boundary. The first vertex is
// not repeated at the end; consumers close the ring when drawing.
type BoundaryRing []Coordinate

// Usable reports whether the ring has enough vertices to draw.
func (r BoundaryRing) Usable() bool { return len(r) >= 2 }

// Open strips a trailing vertex that duplicates the first one, as produced by
// GeoJSON and most GIS exports.
func (r BoundaryRing) Open() BoundaryRing {
	if len(r) > 2 && r[0] == r[len(r)-1] {
		return r[:len(r)-1]
	}
	return r
}

// BoundarySet is an ordered list of rings. Ring 0 is the subject parcel; every
// later ring is a neighbor.
type BoundarySet []BoundaryRing

// Subject returns ring 0, or nil for an empty set.
func (s BoundarySet) Subject() BoundaryRing {
	if len(s) == 0 {
		return nil
	}
	return s[0]
}

// Usable returns a copy of the set with rings of fewer than two vertices
// removed. Order is preserved, so the first surviving ring becomes the subject.
func (s BoundarySet) Usable() BoundarySet {
	out := make(BoundarySet, 0, len(s))
	for _, ring := range s {
		if !ring.Usable() {
			continue
		}
		cp := make(BoundaryRing, len(ring))
		copy(cp, ring)
		out = append(out, cp)
	}
	return out
}

// VertexCount returns the number of vertices across all rings.
func (s BoundarySet) VertexCount() int {
	n := 0
	for _, ring := range s {
		n += len(ring)
	}
	return n
}

// ENUOffset is a local East-North-Up displacement in metres relative to an
// implicit origin coordinate.
type ENUOffset struct {
	East  float32
	North float32
	Up    float32
}

// Local maps the offset into the renderer's Y-up local frame, where -Z points
// north.
func (o ENUOffset) Local() Vec3 {
	return Vec3{X: float64(o.East), Y: float64(o.Up), Z: -float64(o.North)}
}

// ENUFromLocal is the inverse of ENUOffset.Local.
func ENUFromLocal(v Vec3) ENUOffset {
	return ENUOffset{East: float32(v.X), North: float32(-v.Z), Up: float32(v.Y)}
}
