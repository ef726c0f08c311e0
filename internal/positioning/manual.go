package positioning

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/parcel-positioning/model"
)

// ManualAlignment is the terminal fallback. It solves a similarity transform
// from two geodetic points and where the user tapped them: either
// pre-captured correspondences or taps on the first two subject vertices.
// It never fails; bad input asks the user to try again.
type ManualAlignment struct {
	base
}

const manualPrompt = "tap the parcel's first corner, then its second corner"

func (m *ManualAlignment) Activate(s *Session) Outcome {
	m.start(s)
	s.Taps = nil
	if len(s.Correspondences) >= 2 {
		if out := m.solveCorrespondences(); !out.IsZero() {
			return out
		}
	}
	return NeedsUserInput(manualPrompt)
}

func (m *ManualAlignment) Deactivate() {
	if m.session != nil {
		m.session.Taps = nil
	}
	m.base.Deactivate()
}

func (m *ManualAlignment) HandleCorrespondence(model.Correspondence) Outcome {
	if !m.listening() || len(m.session.Taps) > 0 || len(m.session.Correspondences) < 2 {
		return Outcome{}
	}
	return m.solveCorrespondences()
}

func (m *ManualAlignment) HandleTap(t model.Tap) Outcome {
	if !m.listening() {
		return Outcome{}
	}
	s := m.session
	s.Taps = append(s.Taps, t)
	if len(s.Taps) < 2 {
		return Pending("first corner placed; tap the second corner")
	}
	return m.solveTaps()
}

// HandleMarkerMove re-places a tapped marker and recomputes the transform,
// including after a placement has been reported.
func (m *ManualAlignment) HandleMarkerMove(mv model.MarkerMove) Outcome {
	if m.state != StateListening && m.state != StatePositioned {
		return Outcome{}
	}
	s := m.session
	if mv.Index < 0 || mv.Index >= len(s.Taps) {
		return Outcome{}
	}
	s.Taps[mv.Index] = model.Tap{Position: mv.Position}
	if len(s.Taps) < 2 {
		return Pending("first corner moved; tap the second corner")
	}
	return m.solveTaps()
}

func (m *ManualAlignment) solveTaps() Outcome {
	s := m.session
	subject := s.Subject()
	geoA, geoB := s.LocalPoint(subject[0]), s.LocalPoint(subject[1])
	t, err := SolveSimilarity(geoA, geoB, s.Taps[0].Position, s.Taps[1].Position, m.cfg.Manual.MinSeparation)
	if err != nil {
		s.Taps = nil
		m.state = StateListening
		return m.retry(err)
	}
	return m.positioned(t)
}

func (m *ManualAlignment) solveCorrespondences() Outcome {
	s := m.session
	a, b := s.Correspondences[0], s.Correspondences[1]
	t, err := SolveSimilarity(s.LocalPoint(a.Coordinate), s.LocalPoint(b.Coordinate),
		a.Tap.Position, b.Tap.Position, m.cfg.Manual.MinSeparation)
	if err != nil {
		// A bad pair would be re-solved forever; start over from the next one.
		s.Correspondences = nil
		m.state = StateListening
		return m.retry(err)
	}
	return m.positioned(t)
}

func (m *ManualAlignment) retry(err error) Outcome {
	out := NeedsUserInput(manualPrompt)
	if errors.Is(err, ErrDegenerateGeometry) {
		out.Message = fmt.Sprintf("points too close together; %s", manualPrompt)
	}
	out.Err = err
	return out
}
