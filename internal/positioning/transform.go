package positioning

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/parcel-positioning/model"
)

// PlacementTransform positions a geometry fragment, whose local coordinates
// are relative to the session reference coordinate, in the renderer's world
// frame. Rotation is in radians about +Y, counter-clockwise seen from above.
type PlacementTransform struct {
	Rotation    float64
	Translation model.Vec3
	Scale       float64
}

// Identity places the fragment origin at the world origin, unrotated.
func Identity() PlacementTransform { return PlacementTransform{Scale: 1} }

// Apply maps a fragment-local point into the world frame.
func (t PlacementTransform) Apply(p model.Vec3) model.Vec3 {
	return rotateY(p, t.Rotation).Scale(t.Scale).Add(t.Translation)
}

// IsFinite reports whether every component is a finite number.
func (t PlacementTransform) IsFinite() bool {
	return !math.IsNaN(t.Rotation) && !math.IsInf(t.Rotation, 0) &&
		!math.IsNaN(t.Scale) && !math.IsInf(t.Scale, 0) &&
		t.Translation.IsFinite()
}

func (t PlacementTransform) String() string {
	return fmt.Sprintf("rot=%.2f° scale=%.3f t=(%.2f, %.2f, %.2f)",
		t.Rotation*180/math.Pi, t.Scale, t.Translation.X, t.Translation.Y, t.Translation.Z)
}

// rotateY rotates p by theta radians about +Y.
func rotateY(p model.Vec3, theta float64) model.Vec3 {
	s, c := math.Sincos(theta)
	return model.Vec3{
		X: p.X*c + p.Z*s,
		Y: p.Y,
		Z: -p.X*s + p.Z*c,
	}
}

// planarAngle is the direction of v in the horizontal plane, counter-clockwise
// from +X (east) towards -Z (north).
func planarAngle(v model.Vec3) float64 {
	return math.Atan2(-v.Z, v.X)
}

func planarLength(v model.Vec3) float64 {
	return math.Hypot(v.X, v.Z)
}

// SolveSimilarity finds the rotation about +Y, uniform scale, and translation
// that map geoA onto tapA and the direction geoA→geoB onto tapA→tapB. The
// first pair coincides exactly. Separations at or below minSeparation on
// either side yield ErrDegenerateGeometry.
func SolveSimilarity(geoA, geoB, tapA, tapB model.Vec3, minSeparation float64) (PlacementTransform, error) {
	dGeo := geoB.Sub(geoA)
	dTap := tapB.Sub(tapA)

	geoLen := planarLength(dGeo)
	tapLen := planarLength(dTap)
	if geoLen <= minSeparation {
		return PlacementTransform{}, fmt.Errorf("reference points %.3f m apart: %w", geoLen, ErrDegenerateGeometry)
	}
	if tapLen <= minSeparation {
		return PlacementTransform{}, fmt.Errorf("tapped points %.3f m apart: %w", tapLen, ErrDegenerateGeometry)
	}

	t := PlacementTransform{
		Rotation: normalizeRadians(planarAngle(dTap) - planarAngle(dGeo)),
		Scale:    tapLen / geoLen,
	}
	t.Translation = tapA.Sub(rotateY(geoA, t.Rotation).Scale(t.Scale))
	return t, nil
}

// normalizeRadians wraps an angle into (-π, π].
func normalizeRadians(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a <= -math.Pi {
		a += 2 * math.Pi
	} else if a > math.Pi {
		a -= 2 * math.Pi
	}
	return a
}

// normalizeDegrees wraps an angle into [0, 360).
func normalizeDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	return d
}

// signedDegrees wraps an angle difference into (-180, 180].
func signedDegrees(d float64) float64 {
	d = normalizeDegrees(d)
	if d > 180 {
		d -= 360
	}
	return d
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
