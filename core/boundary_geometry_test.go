package core

import (
	"math"
	"testing"

	"github.com/signalsfoundry/parcel-positioning/model"
)

func squareRing(lat, lon, half float64) model.BoundaryRing {
	return model.BoundaryRing{
		{Latitude: lat - half, Longitude: lon - half},
		{Latitude: lat - half, Longitude: lon + half},
		{Latitude: lat + half, Longitude: lon + half},
		{Latitude: lat + half, Longitude: lon - half},
	}
}

func TestBuild_SegmentCountEqualsVertexCount(t *testing.T) {
	for n := 2; n <= 9; n++ {
		ring := make(model.BoundaryRing, n)
		for i := range ring {
			angle := 2 * math.Pi * float64(i) / float64(n)
			ring[i] = model.Coordinate{
				Latitude:  -41.3 + 0.0002*math.Sin(angle),
				Longitude: 174.78 + 0.0002*math.Cos(angle),
			}
		}
		frag := BuildFragment(model.BoundarySet{ring}, model.Coordinate{Latitude: -41.3, Longitude: 174.78}, 1)
		if len(frag.Segments) != n {
			t.Fatalf("ring of %d vertices produced %d segments", n, len(frag.Segments))
		}
		if len(frag.Markers) != n {
			t.Fatalf("ring of %d vertices produced %d markers", n, len(frag.Markers))
		}

		// The last segment closes the ring back onto the first vertex.
		last := frag.Segments[n-1]
		if last.End.DistanceTo(frag.Markers[0].Position) > 1e-9 {
			t.Fatalf("closing segment ends at %+v, want first vertex %+v", last.End, frag.Markers[0].Position)
		}
	}
}

func TestBuild_RolesAndStyles(t *testing.T) {
	ref := model.Coordinate{Latitude: -41.3, Longitude: 174.78}
	set := model.BoundarySet{
		squareRing(-41.3, 174.78, 0.0001),
		squareRing(-41.3, 174.7803, 0.0001),
		squareRing(-41.3003, 174.78, 0.0001),
	}
	frag := BuildFragment(set, ref, 7)

	if frag.Generation != 7 {
		t.Fatalf("Generation = %d, want 7", frag.Generation)
	}
	if frag.Reference != ref {
		t.Fatalf("Reference = %v, want %v", frag.Reference, ref)
	}
	for _, seg := range frag.Segments {
		wantRole := RoleNeighbor
		wantStyle := NeighborStyle
		if seg.Ring == 0 {
			wantRole, wantStyle = RoleSubject, SubjectStyle
		}
		if seg.Role != wantRole || seg.Style != wantStyle {
			t.Fatalf("segment ring %d got role %v style %+v", seg.Ring, seg.Role, seg.Style)
		}
	}
	if SubjectStyle == NeighborStyle {
		t.Fatalf("subject and neighbor styles must differ")
	}
}

func TestBuild_DegenerateSegment(t *testing.T) {
	p := model.Coordinate{Latitude: 10, Longitude: 10}
	ring := model.BoundaryRing{p, p, {Latitude: 10.0001, Longitude: 10}}
	frag := BuildFragment(model.BoundarySet{ring}, p, 1)

	if len(frag.Segments) != 3 {
		t.Fatalf("got %d segments, want 3", len(frag.Segments))
	}
	first := frag.Segments[0]
	if !first.Degenerate || first.Length != 0 || first.Heading != 0 {
		t.Fatalf("coincident vertices should yield an empty segment, got %+v", first)
	}
	for _, seg := range frag.Segments {
		if math.IsNaN(seg.Heading) || math.IsNaN(seg.Length) {
			t.Fatalf("segment %d has NaN orientation", seg.Index)
		}
	}
	if frag.Segments[1].Degenerate {
		t.Fatalf("segment of ~11 m flagged degenerate")
	}
}

func TestBuild_HeadingAndLocalFrame(t *testing.T) {
	ref := model.Coordinate{Latitude: 0, Longitude: 0}
	ring := model.BoundaryRing{
		{Latitude: 0, Longitude: 0},
		{Latitude: 0.0001, Longitude: 0}, // due north
	}
	frag := BuildFragment(model.BoundarySet{ring}, ref, 1)

	north := frag.Segments[0]
	if math.Abs(north.Heading) > 1e-9 {
		t.Fatalf("northward heading = %v, want 0", north.Heading)
	}
	if north.End.Z >= 0 {
		t.Fatalf("north should map to -Z, got %+v", north.End)
	}
	south := frag.Segments[1]
	if math.Abs(math.Abs(south.Heading)-math.Pi) > 1e-9 {
		t.Fatalf("southward heading = %v, want ±π", south.Heading)
	}
}

func TestFragmentClone_SharesNothing(t *testing.T) {
	orig := BuildFragment(model.BoundarySet{squareRing(-41.3, 174.78, 0.0001)}, model.Coordinate{Latitude: -41.3, Longitude: 174.78}, 3)
	cp := orig.Clone()
	cp.Segments[0].Length = -999
	cp.Markers[0].Position = model.Vec3{X: 42}

	if orig.Segments[0].Length == -999 || orig.Markers[0].Position.X == 42 {
		t.Fatalf("modifying a clone changed the original")
	}
	if cp.Generation != 3 || len(cp.Segments) != len(orig.Segments) || len(cp.Markers) != len(orig.Markers) {
		t.Fatalf("clone = %+v, want same shape as original", cp)
	}
}

func TestFragmentExtent(t *testing.T) {
	ref := model.Coordinate{Latitude: 0, Longitude: 0}
	frag := BuildFragment(model.BoundarySet{squareRing(0, 0, 0.0001)}, ref, 1)

	w, l := frag.Extent(RoleSubject)
	want := 0.0002 * MetersPerDegreeLatitude
	if math.Abs(w-want) > 0.01 || math.Abs(l-want) > 0.01 {
		t.Fatalf("Extent = (%v, %v), want ~%v square", w, l, want)
	}
	if w, l := frag.Extent(RoleNeighbor); w != 0 || l != 0 {
		t.Fatalf("neighbor extent = (%v, %v), want zero", w, l)
	}
}

func TestEquivalentSets(t *testing.T) {
	base := model.BoundarySet{squareRing(-41.3, 174.78, 0.0001)}

	nudged := model.BoundarySet{append(model.BoundaryRing(nil), base[0]...)}
	nudged[0][2].Latitude += 0.3 / MetersPerDegreeLatitude
	if !EquivalentSets(base, nudged, DefaultSetTolerance) {
		t.Fatalf("0.3 m nudge should be equivalent")
	}

	moved := model.BoundarySet{append(model.BoundaryRing(nil), base[0]...)}
	moved[0][2].Latitude += 0.8 / MetersPerDegreeLatitude
	if EquivalentSets(base, moved, DefaultSetTolerance) {
		t.Fatalf("0.8 m move should not be equivalent")
	}

	if EquivalentSets(base, append(base, base[0]), DefaultSetTolerance) {
		t.Fatalf("different ring counts should not be equivalent")
	}
}
