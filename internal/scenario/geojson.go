package scenario

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/signalsfoundry/parcel-positioning/model"
)

// LoadGeoJSONFile reads a boundary set from a GeoJSON file.
func LoadGeoJSONFile(path string) (model.BoundarySet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geojson: read %s", path)
	}
	set, err := ParseGeoJSON(data)
	if err != nil {
		return nil, eris.Wrapf(err, "geojson: %s", path)
	}
	return set, nil
}

// ParseGeoJSON converts a FeatureCollection, Feature, Polygon or
// MultiPolygon into a boundary set. Only exterior rings are kept. The
// subject parcel is the first feature whose "role" property is "subject",
// or the first polygon when no feature is marked. Closing vertices are left
// in place; the orchestrator strips them.
func ParseGeoJSON(data []byte) (model.BoundarySet, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, eris.Wrap(err, "decode")
	}

	switch head.Type {
	case "FeatureCollection":
		var fc geojson.FeatureCollection
		if err := json.Unmarshal(data, &fc); err != nil {
			return nil, eris.Wrap(err, "decode feature collection")
		}
		return fromFeatures(fc.Features)
	case "Feature":
		var f geojson.Feature
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, eris.Wrap(err, "decode feature")
		}
		return fromFeatures([]*geojson.Feature{&f})
	default:
		var g geom.T
		if err := geojson.Unmarshal(data, &g); err != nil {
			return nil, eris.Wrap(err, "decode geometry")
		}
		return ringsOf(g)
	}
}

func fromFeatures(features []*geojson.Feature) (model.BoundarySet, error) {
	var subject, rest model.BoundarySet
	for i, f := range features {
		if f == nil || f.Geometry == nil {
			continue
		}
		rings, err := ringsOf(f.Geometry)
		if err != nil {
			return nil, eris.Wrapf(err, "feature %d", i)
		}
		if role, _ := f.Properties["role"].(string); role == "subject" && subject == nil {
			subject = rings
			continue
		}
		rest = append(rest, rings...)
	}
	set := append(subject, rest...)
	if len(set) == 0 {
		return nil, eris.New("no polygon rings found")
	}
	return set, nil
}

func ringsOf(g geom.T) (model.BoundarySet, error) {
	switch t := g.(type) {
	case *geom.Polygon:
		if t.NumLinearRings() == 0 {
			return nil, nil
		}
		return model.BoundarySet{ringFromCoords(t.LinearRing(0).Coords())}, nil
	case *geom.MultiPolygon:
		var set model.BoundarySet
		for i := 0; i < t.NumPolygons(); i++ {
			p := t.Polygon(i)
			if p.NumLinearRings() == 0 {
				continue
			}
			set = append(set, ringFromCoords(p.LinearRing(0).Coords()))
		}
		return set, nil
	case *geom.LineString:
		// Some surveys publish open boundary lines rather than polygons.
		return model.BoundarySet{ringFromCoords(t.Coords())}, nil
	default:
		return nil, eris.Errorf("unsupported geometry %T", g)
	}
}

// ringFromCoords maps GeoJSON [lon, lat] positions to coordinates.
func ringFromCoords(coords []geom.Coord) model.BoundaryRing {
	ring := make(model.BoundaryRing, 0, len(coords))
	for _, c := range coords {
		ring = append(ring, model.Coordinate{Latitude: c.Y(), Longitude: c.X()})
	}
	return ring
}
