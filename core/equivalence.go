package core

import "github.com/signalsfoundry/parcel-positioning/model"

// DefaultSetTolerance is the per-vertex distance under which two boundary
// sets are treated as the same parcel.
const DefaultSetTolerance = 0.5

// EquivalentSets reports whether a and b describe the same rings, vertex by
// vertex, within toleranceM metres. Exact float comparison is never used:
// coordinates arriving from sensors and from maths both carry noise.
func EquivalentSets(a, b model.BoundarySet, toleranceM float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if len(a[i]) != len(b[i]) {
			return false
		}
		for j := range a[i] {
			if Distance(a[i][j], b[i][j]) > toleranceM {
				return false
			}
		}
	}
	return true
}
