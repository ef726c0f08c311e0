package scenario

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/parcel-positioning/internal/positioning"
	"github.com/signalsfoundry/parcel-positioning/model"
)

const inlineScenario = `
name: inline
start: 2024-03-01T09:00:00Z
duration: 30s
boundary:
  rings:
    - [[-41.3001, 174.7799], [-41.3001, 174.7801], [-41.2999, 174.7801], [-41.2999, 174.7799]]
platform:
  geo_coverage: true
  availability_delay: 500ms
  anchor_resolve_delay: -1s
  anchor_pose: {position: [1, -1.4, -3], yaw: 0.3}
steps:
  - at: 1s
    location: {lat: -41.3, lon: 174.78, accuracy: 4}
  - at: 2s
    heading: {degrees: 30, accuracy: 5}
  - at: 3s
    marker: {id: peg-1, confidence: 0.9, box: [0.2, 0.2], position: [0, -1, -2]}
  - at: 4s
    bearing: 45
  - at: 5s
    reference_point: {marker: peg-1, lat: -41.3, lon: 174.78}
  - at: 6s
    tap: [1, 2, 3]
  - at: 7s
    marker_move: {index: 1, position: [4, 5, 6]}
  - at: 8s
    viewer: {position: [0, 0, 0], yaw: 1.5}
  - at: 9s
    correspondence: {lat: -41.3, lon: 174.78, tap: [0, -1.5, -2]}
  - at: 10s
    skip: true
  - at: 11s
    reset: true
expect:
  methods: [geo_anchor]
  positioned_by: geo_anchor
  within: 5s
  needs_user_input: true
`

func TestParse_Inline(t *testing.T) {
	sc, err := Parse([]byte(inlineScenario), ".")
	require.NoError(t, err)

	assert.Equal(t, "inline", sc.Name)
	assert.Equal(t, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), sc.Start)
	assert.Equal(t, 30*time.Second, sc.Duration)
	require.Len(t, sc.Boundary, 1)
	assert.Equal(t, model.Coordinate{Latitude: -41.3001, Longitude: 174.7799}, sc.Boundary[0][0])

	assert.True(t, sc.Platform.GeoCoverage)
	assert.Equal(t, 500*time.Millisecond, sc.Platform.AvailabilityDelay)
	assert.Negative(t, sc.Platform.AnchorResolveDelay)
	assert.Equal(t, model.Pose{Position: model.Vec3{X: 1, Y: -1.4, Z: -3}, Yaw: 0.3}, sc.Platform.AnchorPose)

	kinds := make([]StepKind, 0, len(sc.Steps))
	for _, s := range sc.Steps {
		kinds = append(kinds, s.Kind)
	}
	assert.Equal(t, []StepKind{
		StepLocation, StepHeading, StepMarker, StepBearing, StepReferencePoint, StepTap,
		StepMarkerMove, StepViewer, StepCorrespondence, StepSkip, StepReset,
	}, kinds)

	assert.Equal(t, 4.0, sc.Steps[0].Location.HorizontalAccuracy)
	assert.Equal(t, 30.0, sc.Steps[1].Heading.MagneticHeading)
	assert.Equal(t, model.BoundingBox{Width: 0.2, Height: 0.2}, sc.Steps[2].Marker.BoundingBox)
	assert.Equal(t, 45.0, sc.Steps[3].Bearing)
	assert.Equal(t, "peg-1", sc.Steps[4].ReferencePoint.MarkerID)
	assert.Equal(t, model.Vec3{X: 1, Y: 2, Z: 3}, sc.Steps[5].Tap.Position)
	assert.Equal(t, 1, sc.Steps[6].MarkerMove.Index)
	assert.Equal(t, 1.5, sc.Steps[7].Viewer.Yaw)
	assert.Equal(t, model.Vec3{Y: -1.5, Z: -2}, sc.Steps[8].Correspondence.Tap.Position)

	assert.Equal(t, []positioning.Kind{positioning.KindGeoAnchor}, sc.Expect.Methods)
	assert.Equal(t, positioning.KindGeoAnchor, sc.Expect.PositionedBy)
	assert.Equal(t, 5*time.Second, sc.Expect.Within)
	assert.True(t, sc.Expect.NeedsUserInput)
}

func TestParse_Defaults(t *testing.T) {
	sc, err := Parse([]byte(`
boundary:
  rings: [[[0, 0], [0, 0.001], [0.001, 0.001]]]
`), ".")
	require.NoError(t, err)

	assert.Equal(t, DefaultStart, sc.Start)
	assert.Equal(t, time.Minute, sc.Duration)
	assert.Equal(t, time.Second, sc.Platform.AvailabilityDelay)
	assert.Equal(t, 2*time.Second, sc.Platform.AnchorResolveDelay)
	assert.False(t, sc.HasSubmitStep())
	assert.Empty(t, sc.Steps)
}

func TestParse_LoadsGeoJSONRelativeToFile(t *testing.T) {
	sc, err := LoadFile("testdata/plane_late.yaml")
	require.NoError(t, err)

	require.Len(t, sc.Boundary, 2)
	// The subject feature comes first even though it is listed second.
	assert.InDelta(t, 174.7799, sc.Boundary[0][0].Longitude, 1e-9)
	assert.Equal(t, []positioning.SensorKind{positioning.SensorGeoTracking}, sc.Platform.Missing)
	assert.Equal(t, positioning.KindPlaneDetection, sc.Expect.PositionedBy)
	assert.Equal(t, "positioned", sc.Expect.FinalState)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "no boundary",
			doc:  "steps:\n  - at: 1s\n    bearing: 10\n",
			want: "no boundary",
		},
		{
			name: "two actions in one step",
			doc:  "boundary: {rings: [[[0, 0], [0, 1], [1, 1]]]}\nsteps:\n  - at: 1s\n    bearing: 10\n    skip: true\n",
			want: "exactly one action",
		},
		{
			name: "empty step",
			doc:  "boundary: {rings: [[[0, 0], [0, 1], [1, 1]]]}\nsteps:\n  - at: 1s\n",
			want: "exactly one action",
		},
		{
			name: "step after end",
			doc:  "duration: 5s\nboundary: {rings: [[[0, 0], [0, 1], [1, 1]]]}\nsteps:\n  - at: 6s\n    skip: true\n",
			want: "after the scenario ends",
		},
		{
			name: "negative step time",
			doc:  "boundary: {rings: [[[0, 0], [0, 1], [1, 1]]]}\nsteps:\n  - at: -1s\n    skip: true\n",
			want: "negative time",
		},
		{
			name: "unknown field",
			doc:  "boundary: {rings: [[[0, 0], [0, 1], [1, 1]]]}\nplatfrom: {}\n",
			want: "platfrom",
		},
		{
			name: "bad vector",
			doc:  "boundary: {rings: [[[0, 0], [0, 1], [1, 1]]]}\nsteps:\n  - at: 1s\n    tap: [1, 2]\n",
			want: "3 components",
		},
		{
			name: "bad marker box",
			doc:  "boundary: {rings: [[[0, 0], [0, 1], [1, 1]]]}\nsteps:\n  - at: 1s\n    marker: {id: a, box: [1, 2, 3]}\n",
			want: "box needs",
		},
		{
			name: "unknown surface change",
			doc:  "boundary: {rings: [[[0, 0], [0, 1], [1, 1]]]}\nsteps:\n  - at: 1s\n    surface: {id: a, change: moved}\n",
			want: "unknown surface change",
		},
		{
			name: "unknown sensor",
			doc:  "boundary: {rings: [[[0, 0], [0, 1], [1, 1]]]}\nplatform: {missing_sensors: [lidar]}\n",
			want: "lidar",
		},
		{
			name: "unknown strategy",
			doc:  "boundary: {rings: [[[0, 0], [0, 1], [1, 1]]]}\nexpect: {positioned_by: gps}\n",
			want: "gps",
		},
		{
			name: "geojson and rings",
			doc:  "boundary: {geojson: x.geojson, rings: [[[0, 0], [0, 1], [1, 1]]]}\n",
			want: "not both",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), ".")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_SubmitStepReplacesBoundary(t *testing.T) {
	sc, err := Parse([]byte(`
steps:
  - at: 0s
    submit: {rings: [[[0, 0], [0, 0.001], [0.001, 0.001]]]}
  - at: 5s
    submit: {geojson: testdata/wellington.geojson}
`), ".")
	require.NoError(t, err)

	assert.True(t, sc.HasSubmitStep())
	assert.Empty(t, sc.Boundary)
	require.Len(t, sc.Steps, 2)
	assert.Len(t, sc.Steps[0].Boundary, 1)
	assert.Len(t, sc.Steps[1].Boundary, 2)
}

type recordingTarget struct {
	calls []string
}

func (r *recordingTarget) Submit(model.BoundarySet) error            { r.add("submit"); return nil }
func (r *recordingTarget) Reset()                                    { r.add("reset") }
func (r *recordingTarget) Skip()                                     { r.add("skip") }
func (r *recordingTarget) HandleLocation(model.LocationFix)          { r.add("location") }
func (r *recordingTarget) HandleHeading(model.HeadingUpdate)         { r.add("heading") }
func (r *recordingTarget) HandleSurface(model.SurfaceEvent)          { r.add("surface") }
func (r *recordingTarget) HandleMarker(model.MarkerDetection)        { r.add("marker") }
func (r *recordingTarget) HandleReferenceBearing(float64)            { r.add("bearing") }
func (r *recordingTarget) HandleReferencePoint(model.ReferencePoint) { r.add("reference_point") }
func (r *recordingTarget) HandleCorrespondence(model.Correspondence) { r.add("correspondence") }
func (r *recordingTarget) HandleTap(model.Tap)                       { r.add("tap") }
func (r *recordingTarget) HandleMarkerMove(model.MarkerMove)         { r.add("marker_move") }
func (r *recordingTarget) HandleViewerPose(model.Pose)               { r.add("viewer") }
func (r *recordingTarget) add(call string)                           { r.calls = append(r.calls, call) }

func TestStep_ApplyRoutesByKind(t *testing.T) {
	sc, err := Parse([]byte(inlineScenario), ".")
	require.NoError(t, err)

	target := &recordingTarget{}
	for _, s := range sc.Steps {
		require.NoError(t, s.Apply(target))
	}
	want := make([]string, 0, len(sc.Steps))
	for _, s := range sc.Steps {
		want = append(want, string(s.Kind))
	}
	assert.Equal(t, want, target.calls)

	assert.Error(t, Step{Kind: "teleport"}.Apply(target))
}
