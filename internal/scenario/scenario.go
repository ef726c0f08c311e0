// Package scenario loads recorded or hand-written positioning sessions and
// replays them against the orchestrator with a simulated platform.
package scenario

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/parcel-positioning/internal/positioning"
	"github.com/signalsfoundry/parcel-positioning/model"
)

// DefaultStart is used when a scenario file has no start time.
var DefaultStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Scenario is a timeline of sensor and user input for one boundary set.
type Scenario struct {
	Name     string
	Start    time.Time
	Duration time.Duration
	Boundary model.BoundarySet
	Platform PlatformSpec
	Steps    []Step
	Expect   Expectation
}

// PlatformSpec describes the simulated device.
type PlatformSpec struct {
	Missing []positioning.SensorKind
	// GeoCoverage is the availability answer for geo anchoring.
	GeoCoverage bool
	// AvailabilityDelay is how long the availability answer takes. Negative
	// means it never arrives.
	AvailabilityDelay time.Duration
	// AnchorResolveDelay is how long a placed anchor takes to localize.
	// Negative means it never does.
	AnchorResolveDelay time.Duration
	AnchorPose         model.Pose
}

// StepKind names a timeline action.
type StepKind string

const (
	StepSubmit         StepKind = "submit"
	StepReset          StepKind = "reset"
	StepSkip           StepKind = "skip"
	StepLocation       StepKind = "location"
	StepHeading        StepKind = "heading"
	StepSurface        StepKind = "surface"
	StepMarker         StepKind = "marker"
	StepBearing        StepKind = "bearing"
	StepReferencePoint StepKind = "reference_point"
	StepCorrespondence StepKind = "correspondence"
	StepTap            StepKind = "tap"
	StepMarkerMove     StepKind = "marker_move"
	StepViewer         StepKind = "viewer"
)

// Step is one timeline entry. Only the field matching Kind is meaningful.
type Step struct {
	At   time.Duration
	Kind StepKind

	Boundary       model.BoundarySet
	Location       model.LocationFix
	Heading        model.HeadingUpdate
	Surface        model.SurfaceEvent
	Marker         model.MarkerDetection
	Bearing        float64
	ReferencePoint model.ReferencePoint
	Correspondence model.Correspondence
	Tap            model.Tap
	MarkerMove     model.MarkerMove
	Viewer         model.Pose
}

// Target receives replayed input. *positioning.Orchestrator implements it.
type Target interface {
	Submit(model.BoundarySet) error
	Reset()
	Skip()
	HandleLocation(model.LocationFix)
	HandleHeading(model.HeadingUpdate)
	HandleSurface(model.SurfaceEvent)
	HandleMarker(model.MarkerDetection)
	HandleReferenceBearing(float64)
	HandleReferencePoint(model.ReferencePoint)
	HandleCorrespondence(model.Correspondence)
	HandleTap(model.Tap)
	HandleMarkerMove(model.MarkerMove)
	HandleViewerPose(model.Pose)
}

// Apply delivers the step to t. Only submit can fail.
func (s Step) Apply(t Target) error {
	switch s.Kind {
	case StepSubmit:
		return t.Submit(s.Boundary)
	case StepReset:
		t.Reset()
	case StepSkip:
		t.Skip()
	case StepLocation:
		t.HandleLocation(s.Location)
	case StepHeading:
		t.HandleHeading(s.Heading)
	case StepSurface:
		t.HandleSurface(s.Surface)
	case StepMarker:
		t.HandleMarker(s.Marker)
	case StepBearing:
		t.HandleReferenceBearing(s.Bearing)
	case StepReferencePoint:
		t.HandleReferencePoint(s.ReferencePoint)
	case StepCorrespondence:
		t.HandleCorrespondence(s.Correspondence)
	case StepTap:
		t.HandleTap(s.Tap)
	case StepMarkerMove:
		t.HandleMarkerMove(s.MarkerMove)
	case StepViewer:
		t.HandleViewerPose(s.Viewer)
	default:
		return fmt.Errorf("unknown step kind %q", s.Kind)
	}
	return nil
}

// Expectation is checked by Result.Check after a replay.
type Expectation struct {
	// Methods is the exact sequence of activated strategies, if set.
	Methods []positioning.Kind
	// PositionedBy is the strategy that must produce the first placement.
	// KindNone means no placement is expected.
	PositionedBy positioning.Kind
	// Within bounds the time to first placement, if positive.
	Within time.Duration
	// NeedsUserInput requires at least one needs-input event when true.
	NeedsUserInput bool
	// FinalState is the active strategy's state at the end, if set.
	FinalState string
}

// internal YAML shapes; unexported so the file format can evolve freely.
type scenarioYAML struct {
	Name     string        `yaml:"name"`
	Start    time.Time     `yaml:"start"`
	Duration time.Duration `yaml:"duration"`
	Boundary boundaryYAML  `yaml:"boundary"`
	Platform platformYAML  `yaml:"platform"`
	Steps    []stepYAML    `yaml:"steps"`
	Expect   expectYAML    `yaml:"expect"`
}

type boundaryYAML struct {
	GeoJSON string         `yaml:"geojson"` // path relative to the scenario file
	Rings   [][][2]float64 `yaml:"rings"`   // [lat, lon] pairs
}

type platformYAML struct {
	MissingSensors     []string       `yaml:"missing_sensors"`
	GeoCoverage        bool           `yaml:"geo_coverage"`
	AvailabilityDelay  *time.Duration `yaml:"availability_delay"`
	AnchorResolveDelay *time.Duration `yaml:"anchor_resolve_delay"`
	AnchorPose         poseYAML       `yaml:"anchor_pose"`
}

type poseYAML struct {
	Position []float64 `yaml:"position"`
	Yaw      float64   `yaml:"yaw"`
}

type stepYAML struct {
	At time.Duration `yaml:"at"`

	Submit         *boundaryYAML       `yaml:"submit"`
	Reset          bool                `yaml:"reset"`
	Skip           bool                `yaml:"skip"`
	Location       *locationYAML       `yaml:"location"`
	Heading        *headingYAML        `yaml:"heading"`
	Surface        *surfaceYAML        `yaml:"surface"`
	Marker         *markerYAML         `yaml:"marker"`
	Bearing        *float64            `yaml:"bearing"`
	ReferencePoint *referencePointYAML `yaml:"reference_point"`
	Correspondence *correspondenceYAML `yaml:"correspondence"`
	Tap            []float64           `yaml:"tap"`
	MarkerMove     *markerMoveYAML     `yaml:"marker_move"`
	Viewer         *poseYAML           `yaml:"viewer"`
}

type locationYAML struct {
	Lat      float64 `yaml:"lat"`
	Lon      float64 `yaml:"lon"`
	Altitude float64 `yaml:"altitude"`
	Accuracy float64 `yaml:"accuracy"`
}

type headingYAML struct {
	Degrees  float64 `yaml:"degrees"`
	Accuracy float64 `yaml:"accuracy"`
}

type surfaceYAML struct {
	ID       string    `yaml:"id"`
	Change   string    `yaml:"change"` // added | updated | removed
	Area     float64   `yaml:"area"`
	Normal   []float64 `yaml:"normal"`
	Position []float64 `yaml:"position"`
	Yaw      float64   `yaml:"yaw"`
	Width    float64   `yaml:"width"`
	Length   float64   `yaml:"length"`
}

type markerYAML struct {
	ID         string    `yaml:"id"`
	Confidence float64   `yaml:"confidence"`
	Box        []float64 `yaml:"box"` // [width, height] or [x, y, width, height]
	Position   []float64 `yaml:"position"`
}

type referencePointYAML struct {
	Marker string  `yaml:"marker"`
	Lat    float64 `yaml:"lat"`
	Lon    float64 `yaml:"lon"`
}

type correspondenceYAML struct {
	Lat float64   `yaml:"lat"`
	Lon float64   `yaml:"lon"`
	Tap []float64 `yaml:"tap"`
}

type markerMoveYAML struct {
	Index    int       `yaml:"index"`
	Position []float64 `yaml:"position"`
}

type expectYAML struct {
	Methods        []string      `yaml:"methods"`
	PositionedBy   string        `yaml:"positioned_by"`
	Within         time.Duration `yaml:"within"`
	NeedsUserInput bool          `yaml:"needs_user_input"`
	FinalState     string        `yaml:"final_state"`
}

// LoadFile reads a scenario; GeoJSON boundary paths resolve relative to it.
func LoadFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "scenario: read %s", path)
	}
	sc, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return nil, eris.Wrapf(err, "scenario: %s", path)
	}
	return sc, nil
}

// Parse decodes a scenario document. baseDir resolves relative GeoJSON
// paths.
func Parse(data []byte, baseDir string) (*Scenario, error) {
	var raw scenarioYAML
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, eris.Wrap(err, "decode yaml")
	}

	sc := &Scenario{
		Name:     raw.Name,
		Start:    raw.Start,
		Duration: raw.Duration,
	}
	if sc.Start.IsZero() {
		sc.Start = DefaultStart
	}
	if sc.Duration <= 0 {
		sc.Duration = time.Minute
	}

	var err error
	if sc.Boundary, err = raw.Boundary.resolve(baseDir); err != nil {
		return nil, eris.Wrap(err, "boundary")
	}
	if sc.Platform, err = raw.Platform.convert(); err != nil {
		return nil, eris.Wrap(err, "platform")
	}
	for i, s := range raw.Steps {
		step, err := s.convert(baseDir)
		if err != nil {
			return nil, eris.Wrapf(err, "step %d", i)
		}
		sc.Steps = append(sc.Steps, step)
	}
	if sc.Expect, err = raw.Expect.convert(); err != nil {
		return nil, eris.Wrap(err, "expect")
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return sc, nil
}

// Validate checks that the timeline is usable.
func (sc *Scenario) Validate() error {
	submits := len(sc.Boundary)
	for i, s := range sc.Steps {
		if s.At < 0 {
			return eris.Errorf("step %d: negative time %s", i, s.At)
		}
		if s.At > sc.Duration {
			return eris.Errorf("step %d at %s is after the scenario ends (%s)", i, s.At, sc.Duration)
		}
		if s.Kind == StepSubmit {
			submits++
		}
	}
	if submits == 0 {
		return eris.New("scenario has no boundary and no submit step")
	}
	return nil
}

// HasSubmitStep reports whether the timeline submits boundaries itself.
func (sc *Scenario) HasSubmitStep() bool {
	for _, s := range sc.Steps {
		if s.Kind == StepSubmit {
			return true
		}
	}
	return false
}

func (b boundaryYAML) resolve(baseDir string) (model.BoundarySet, error) {
	switch {
	case b.GeoJSON != "" && len(b.Rings) > 0:
		return nil, eris.New("set either geojson or rings, not both")
	case b.GeoJSON != "":
		path := b.GeoJSON
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		return LoadGeoJSONFile(path)
	case len(b.Rings) > 0:
		set := make(model.BoundarySet, 0, len(b.Rings))
		for _, r := range b.Rings {
			ring := make(model.BoundaryRing, 0, len(r))
			for _, p := range r {
				ring = append(ring, model.Coordinate{Latitude: p[0], Longitude: p[1]})
			}
			set = append(set, ring)
		}
		return set, nil
	default:
		return nil, nil
	}
}

func (p platformYAML) convert() (PlatformSpec, error) {
	spec := PlatformSpec{
		GeoCoverage:        p.GeoCoverage,
		AvailabilityDelay:  time.Second,
		AnchorResolveDelay: 2 * time.Second,
	}
	if p.AvailabilityDelay != nil {
		spec.AvailabilityDelay = *p.AvailabilityDelay
	}
	if p.AnchorResolveDelay != nil {
		spec.AnchorResolveDelay = *p.AnchorResolveDelay
	}
	for _, name := range p.MissingSensors {
		k, err := positioning.ParseSensorKind(name)
		if err != nil {
			return spec, err
		}
		spec.Missing = append(spec.Missing, k)
	}
	pose, err := p.AnchorPose.convert()
	if err != nil {
		return spec, eris.Wrap(err, "anchor_pose")
	}
	spec.AnchorPose = pose
	return spec, nil
}

func (p *poseYAML) convert() (model.Pose, error) {
	if p == nil {
		return model.Pose{}, nil
	}
	pos, err := vec(p.Position)
	if err != nil {
		return model.Pose{}, err
	}
	return model.Pose{Position: pos, Yaw: p.Yaw}, nil
}

func (s stepYAML) convert(baseDir string) (Step, error) {
	step := Step{At: s.At}
	set := 0
	mark := func(k StepKind) {
		set++
		step.Kind = k
	}
	var err error

	if s.Submit != nil {
		mark(StepSubmit)
		if step.Boundary, err = s.Submit.resolve(baseDir); err != nil {
			return step, err
		}
	}
	if s.Reset {
		mark(StepReset)
	}
	if s.Skip {
		mark(StepSkip)
	}
	if s.Location != nil {
		mark(StepLocation)
		step.Location = model.LocationFix{
			Coordinate:         model.Coordinate{Latitude: s.Location.Lat, Longitude: s.Location.Lon},
			Altitude:           s.Location.Altitude,
			HorizontalAccuracy: s.Location.Accuracy,
		}
	}
	if s.Heading != nil {
		mark(StepHeading)
		step.Heading = model.HeadingUpdate{
			MagneticHeading: s.Heading.Degrees,
			Accuracy:        s.Heading.Accuracy,
		}
	}
	if s.Surface != nil {
		mark(StepSurface)
		if step.Surface, err = s.Surface.convert(); err != nil {
			return step, err
		}
	}
	if s.Marker != nil {
		mark(StepMarker)
		if step.Marker, err = s.Marker.convert(); err != nil {
			return step, err
		}
	}
	if s.Bearing != nil {
		mark(StepBearing)
		step.Bearing = *s.Bearing
	}
	if s.ReferencePoint != nil {
		mark(StepReferencePoint)
		step.ReferencePoint = model.ReferencePoint{
			MarkerID:   s.ReferencePoint.Marker,
			Coordinate: model.Coordinate{Latitude: s.ReferencePoint.Lat, Longitude: s.ReferencePoint.Lon},
		}
	}
	if s.Correspondence != nil {
		mark(StepCorrespondence)
		tap, err := vec(s.Correspondence.Tap)
		if err != nil {
			return step, err
		}
		step.Correspondence = model.Correspondence{
			Coordinate: model.Coordinate{Latitude: s.Correspondence.Lat, Longitude: s.Correspondence.Lon},
			Tap:        model.Tap{Position: tap},
		}
	}
	if s.Tap != nil {
		mark(StepTap)
		pos, err := vec(s.Tap)
		if err != nil {
			return step, err
		}
		step.Tap = model.Tap{Position: pos}
	}
	if s.MarkerMove != nil {
		mark(StepMarkerMove)
		pos, err := vec(s.MarkerMove.Position)
		if err != nil {
			return step, err
		}
		step.MarkerMove = model.MarkerMove{Index: s.MarkerMove.Index, Position: pos}
	}
	if s.Viewer != nil {
		mark(StepViewer)
		if step.Viewer, err = s.Viewer.convert(); err != nil {
			return step, err
		}
	}

	if set != 1 {
		return step, eris.Errorf("want exactly one action, got %d", set)
	}
	return step, nil
}

func (s *surfaceYAML) convert() (model.SurfaceEvent, error) {
	ev := model.SurfaceEvent{
		ID:     s.ID,
		Area:   s.Area,
		Normal: model.Up,
		Extent: model.Extent{Width: s.Width, Length: s.Length},
	}
	switch s.Change {
	case "", "added":
		ev.Change = model.SurfaceAdded
	case "updated":
		ev.Change = model.SurfaceUpdated
	case "removed":
		ev.Change = model.SurfaceRemoved
	default:
		return ev, eris.Errorf("unknown surface change %q", s.Change)
	}
	if s.Normal != nil {
		n, err := vec(s.Normal)
		if err != nil {
			return ev, eris.Wrap(err, "normal")
		}
		ev.Normal = n
	}
	pos, err := vec(s.Position)
	if err != nil {
		return ev, eris.Wrap(err, "position")
	}
	ev.Pose = model.Pose{Position: pos, Yaw: s.Yaw}
	return ev, nil
}

func (m *markerYAML) convert() (model.MarkerDetection, error) {
	d := model.MarkerDetection{MarkerID: m.ID, Confidence: m.Confidence}
	switch len(m.Box) {
	case 2:
		d.BoundingBox = model.BoundingBox{Width: m.Box[0], Height: m.Box[1]}
	case 4:
		d.BoundingBox = model.BoundingBox{X: m.Box[0], Y: m.Box[1], Width: m.Box[2], Height: m.Box[3]}
	default:
		return d, eris.Errorf("box needs 2 or 4 values, got %d", len(m.Box))
	}
	pos, err := vec(m.Position)
	if err != nil {
		return d, eris.Wrap(err, "position")
	}
	d.Position = pos
	return d, nil
}

func (e expectYAML) convert() (Expectation, error) {
	exp := Expectation{Within: e.Within, NeedsUserInput: e.NeedsUserInput, FinalState: e.FinalState}
	for _, name := range e.Methods {
		k, err := positioning.ParseKind(name)
		if err != nil {
			return exp, err
		}
		exp.Methods = append(exp.Methods, k)
	}
	if e.PositionedBy != "" {
		k, err := positioning.ParseKind(e.PositionedBy)
		if err != nil {
			return exp, err
		}
		exp.PositionedBy = k
	}
	return exp, nil
}

// vec accepts nil (origin) or exactly three components.
func vec(v []float64) (model.Vec3, error) {
	switch len(v) {
	case 0:
		return model.Vec3{}, nil
	case 3:
		return model.Vec3{X: v[0], Y: v[1], Z: v[2]}, nil
	default:
		return model.Vec3{}, eris.Errorf("vector needs 3 components, got %d", len(v))
	}
}
