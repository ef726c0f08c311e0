package core

import (
	"math"
	"slices"

	"github.com/paulmach/orb"

	"github.com/signalsfoundry/parcel-positioning/model"
)

// degenerateSegmentM is the length below which a segment has no usable
// orientation.
const degenerateSegmentM = 0.001

// Role distinguishes the subject parcel from its neighbours.
type Role int

const (
	RoleSubject Role = iota
	RoleNeighbor
)

func (r Role) String() string {
	if r == RoleSubject {
		return "subject"
	}
	return "neighbor"
}

// Style is the visual treatment a renderer applies to a role.
type Style struct {
	Color        string  // #RRGGBB
	LineWidth    float64 // metres
	DashLength   float64 // metres, 0 for solid
	MarkerRadius float64 // metres
}

var (
	SubjectStyle  = Style{Color: "#FFD400", LineWidth: 0.08, MarkerRadius: 0.15}
	NeighborStyle = Style{Color: "#4FC3F7", LineWidth: 0.04, DashLength: 0.5, MarkerRadius: 0.08}
)

// Segment is one boundary edge in fragment-local coordinates.
type Segment struct {
	Ring  int
	Index int
	Role  Role
	Style Style

	Start, End model.Vec3
	Length     float64
	// Heading is the edge direction in radians clockwise from north. It is
	// zero for degenerate segments.
	Heading    float64
	Degenerate bool
}

// Midpoint returns the centre of the segment.
func (s Segment) Midpoint() model.Vec3 {
	return s.Start.Add(s.End).Scale(0.5)
}

// Marker is a corner post at a ring vertex.
type Marker struct {
	Ring     int
	Index    int
	Role     Role
	Style    Style
	Position model.Vec3
}

// GeometryFragment is an immutable, render-ready description of a boundary
// set around a reference coordinate. Renderers key their drawable nodes by
// Generation and replace them wholesale when a newer fragment arrives.
type GeometryFragment struct {
	Generation uint64
	Reference  model.Coordinate
	Segments   []Segment
	Markers    []Marker
}

// Clone returns a copy that shares no backing arrays with f, so a renderer
// may keep or modify it freely.
func (f GeometryFragment) Clone() GeometryFragment {
	f.Segments = slices.Clone(f.Segments)
	f.Markers = slices.Clone(f.Markers)
	return f
}

// Extent returns the planar east/north size of all vertices with the given
// role. Empty fragments report zero.
func (f GeometryFragment) Extent(role Role) (width, length float64) {
	var mp orb.MultiPoint
	for _, m := range f.Markers {
		if m.Role != role {
			continue
		}
		enu := model.ENUFromLocal(m.Position)
		mp = append(mp, orb.Point{float64(enu.East), float64(enu.North)})
	}
	if len(mp) == 0 {
		return 0, 0
	}
	b := mp.Bound()
	return b.Right() - b.Left(), b.Top() - b.Bottom()
}

// GeometryBuilder turns boundary rings into geometry fragments.
type GeometryBuilder struct {
	Projector Projector
	Subject   Style
	Neighbor  Style
}

// NewGeometryBuilder returns a builder using the flat-earth projector and
// the default styles.
func NewGeometryBuilder() *GeometryBuilder {
	return &GeometryBuilder{
		Projector: DefaultProjector,
		Subject:   SubjectStyle,
		Neighbor:  NeighborStyle,
	}
}

// Build projects every ring around reference and emits one segment per edge,
// including the implicit closing edge, plus one marker per vertex. It has no
// side effects; the caller owns the result.
func (b *GeometryBuilder) Build(set model.BoundarySet, reference model.Coordinate, generation uint64) GeometryFragment {
	proj := b.Projector
	if proj == nil {
		proj = DefaultProjector
	}

	frag := GeometryFragment{
		Generation: generation,
		Reference:  reference,
		Segments:   make([]Segment, 0, set.VertexCount()),
		Markers:    make([]Marker, 0, set.VertexCount()),
	}

	for ri, ring := range set {
		role, style := RoleNeighbor, b.Neighbor
		if ri == 0 {
			role, style = RoleSubject, b.Subject
		}

		points := make([]model.Vec3, len(ring))
		for i, c := range ring {
			points[i] = proj.ToENU(reference, c).Local()
			frag.Markers = append(frag.Markers, Marker{
				Ring:     ri,
				Index:    i,
				Role:     role,
				Style:    style,
				Position: points[i],
			})
		}

		// A single vertex has no edge to close.
		if len(points) < 2 {
			continue
		}
		for i := range points {
			frag.Segments = append(frag.Segments, newSegment(ri, i, role, style, points[i], points[(i+1)%len(points)]))
		}
	}
	return frag
}

// BuildFragment builds with the default builder.
func BuildFragment(set model.BoundarySet, reference model.Coordinate, generation uint64) GeometryFragment {
	return NewGeometryBuilder().Build(set, reference, generation)
}

func newSegment(ring, index int, role Role, style Style, start, end model.Vec3) Segment {
	seg := Segment{
		Ring:  ring,
		Index: index,
		Role:  role,
		Style: style,
		Start: start,
		End:   end,
	}
	d := end.Sub(start)
	length := d.Norm()
	if length < degenerateSegmentM {
		seg.Degenerate = true
		return seg
	}
	seg.Length = length
	seg.Heading = math.Atan2(d.X, -d.Z)
	return seg
}
