package core

import (
	"math"
	"math/rand"
	"testing"

	"github.com/signalsfoundry/parcel-positioning/model"
)

func TestToENU_KnownOffsets(t *testing.T) {
	origin := model.Coordinate{Latitude: -41.300, Longitude: 174.780}

	tests := []struct {
		name      string
		target    model.Coordinate
		wantEast  float64
		wantNorth float64
	}{
		{"same point", origin, 0, 0},
		{"one thousandth north", model.Coordinate{Latitude: -41.299, Longitude: 174.780}, 0, 111.32},
		{"one thousandth east", model.Coordinate{Latitude: -41.300, Longitude: 174.781}, 111.32 * math.Cos(-41.3*math.Pi/180), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToENU(origin, tt.target)
			if math.Abs(float64(got.East)-tt.wantEast) > 0.001 {
				t.Fatalf("East = %v, want %v", got.East, tt.wantEast)
			}
			if math.Abs(float64(got.North)-tt.wantNorth) > 0.001 {
				t.Fatalf("North = %v, want %v", got.North, tt.wantNorth)
			}
			if got.Up != 0 {
				t.Fatalf("Up = %v, want 0 without altitude", got.Up)
			}
		})
	}
}

func TestFromENU_RoundTripWithinOneDegree(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	origins := []model.Coordinate{
		{Latitude: -41.300, Longitude: 174.780},
		{Latitude: 51.5007, Longitude: -0.1246},
		{Latitude: 0, Longitude: 0},
		{Latitude: 64.1, Longitude: -21.9},
		{Latitude: 10, Longitude: 179.6},
	}

	for _, origin := range origins {
		for i := 0; i < 500; i++ {
			c := model.Coordinate{
				Latitude:  origin.Latitude + (rng.Float64()*2 - 1),
				Longitude: wrapLongitude(origin.Longitude + (rng.Float64()*2 - 1)),
			}
			back := FromENU(origin, ToENU(origin, c))
			if d := Distance(c, back); d > 0.01 {
				t.Fatalf("round trip of %v around %v drifted %.4f m", c, origin, d)
			}
		}
	}
}

func TestToENU_AcrossAntimeridian(t *testing.T) {
	origin := model.Coordinate{Latitude: 0, Longitude: 179.9999}
	target := model.Coordinate{Latitude: 0, Longitude: -179.9999}

	got := ToENU(origin, target)
	if got.East <= 0 || got.East > 30 {
		t.Fatalf("East = %v, want a short eastward hop across the antimeridian", got.East)
	}
}

func TestToENUWithAltitude(t *testing.T) {
	origin := model.Coordinate{Latitude: 10, Longitude: 10}
	got := ToENUWithAltitude(origin, 12, origin, 15.5)
	if got.Up != 3.5 {
		t.Fatalf("Up = %v, want 3.5", got.Up)
	}
}

func TestECEFProjector_AgreesWithFlatEarthNearOrigin(t *testing.T) {
	origin := model.Coordinate{Latitude: -41.300, Longitude: 174.780}
	target := model.Coordinate{Latitude: -41.2995, Longitude: 174.7808}

	flat := FlatEarth{}.ToENU(origin, target)
	ecef := ECEFProjector{}.ToENU(origin, target)

	if math.Abs(float64(flat.East-ecef.East)) > 0.5 || math.Abs(float64(flat.North-ecef.North)) > 0.5 {
		t.Fatalf("flat %+v and ECEF %+v differ by more than 0.5 m", flat, ecef)
	}
	if math.Abs(float64(ecef.Up)) > 0.05 {
		t.Fatalf("ECEF Up = %v, want near-zero curvature drop over ~90 m", ecef.Up)
	}
}

func TestECEFProjector_RoundTrip(t *testing.T) {
	origin := model.Coordinate{Latitude: 51.5007, Longitude: -0.1246}
	target := model.Coordinate{Latitude: 51.5012, Longitude: -0.1239}

	p := ECEFProjector{}
	back := p.FromENU(origin, p.ToENU(origin, target))
	if d := Distance(target, back); d > 0.01 {
		t.Fatalf("ECEF round trip drifted %.4f m", d)
	}
}

func TestGeodeticToECEF_Equator(t *testing.T) {
	p := GeodeticToECEF(model.Coordinate{}, 0)
	if math.Abs(p.X-wgs84A) > 1e-6 || math.Abs(p.Y) > 1e-6 || math.Abs(p.Z) > 1e-6 {
		t.Fatalf("GeodeticToECEF(0,0) = %+v, want (%v, 0, 0)", p, wgs84A)
	}
	c, h := ECEFToGeodetic(p)
	if math.Abs(c.Latitude) > 1e-9 || math.Abs(c.Longitude) > 1e-9 || math.Abs(h) > 1e-3 {
		t.Fatalf("ECEFToGeodetic = %v h=%v, want origin", c, h)
	}
}

func TestParseProjector(t *testing.T) {
	tests := []struct {
		name    string
		want    Projector
		wantErr bool
	}{
		{name: "", want: FlatEarth{}},
		{name: ProjectorFlat, want: FlatEarth{}},
		{name: ProjectorECEF, want: ECEFProjector{}},
		{name: "mercator", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseProjector(tt.name)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseProjector(%q) err = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("ParseProjector(%q) = %T, want %T", tt.name, got, tt.want)
		}
	}
}

func TestGeometryBuilder_UsesItsProjector(t *testing.T) {
	ref := model.Coordinate{Latitude: -41.3, Longitude: 174.78}
	ring := model.BoundaryRing{
		{Latitude: -41.3, Longitude: 174.78},
		{Latitude: -41.29, Longitude: 174.79},
	}
	b := NewGeometryBuilder()
	b.Projector = ECEFProjector{}
	frag := b.Build(model.BoundarySet{ring}, ref, 1)

	want := ECEFProjector{}.ToENU(ref, ring[1]).Local()
	if frag.Markers[1].Position != want {
		t.Fatalf("marker at %v, want ECEF projection %v", frag.Markers[1].Position, want)
	}
}
