package scenario

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/parcel-positioning/model"
)

func TestParseGeoJSON(t *testing.T) {
	tests := []struct {
		name      string
		doc       string
		wantRings int
		wantFirst model.Coordinate
	}{
		{
			name:      "bare polygon drops holes",
			doc:       `{"type":"Polygon","coordinates":[[[174.78,-41.3],[174.79,-41.3],[174.79,-41.29],[174.78,-41.3]],[[174.781,-41.299],[174.782,-41.299],[174.782,-41.298],[174.781,-41.299]]]}`,
			wantRings: 1,
			wantFirst: model.Coordinate{Latitude: -41.3, Longitude: 174.78},
		},
		{
			name:      "multipolygon",
			doc:       `{"type":"MultiPolygon","coordinates":[[[[1,2],[3,2],[3,4],[1,2]]],[[[5,6],[7,6],[7,8],[5,6]]]]}`,
			wantRings: 2,
			wantFirst: model.Coordinate{Latitude: 2, Longitude: 1},
		},
		{
			name:      "single feature",
			doc:       `{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[10,20],[11,20],[11,21],[10,20]]]}}`,
			wantRings: 1,
			wantFirst: model.Coordinate{Latitude: 20, Longitude: 10},
		},
		{
			name:      "open boundary line",
			doc:       `{"type":"LineString","coordinates":[[10,20],[11,20],[11,21]]}`,
			wantRings: 1,
			wantFirst: model.Coordinate{Latitude: 20, Longitude: 10},
		},
		{
			name: "collection without a subject keeps file order",
			doc: `{"type":"FeatureCollection","features":[
				{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[1,1],[2,1],[2,2],[1,1]]]}},
				{"type":"Feature","properties":{},"geometry":null},
				{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[3,3],[4,3],[4,4],[3,3]]]}}
			]}`,
			wantRings: 2,
			wantFirst: model.Coordinate{Latitude: 1, Longitude: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := ParseGeoJSON([]byte(tt.doc))
			require.NoError(t, err)
			require.Len(t, set, tt.wantRings)
			assert.Equal(t, tt.wantFirst, set[0][0])
		})
	}
}

func TestParseGeoJSON_SubjectFirst(t *testing.T) {
	set, err := LoadGeoJSONFile("testdata/wellington.geojson")
	require.NoError(t, err)

	require.Len(t, set, 2)
	assert.Equal(t, model.Coordinate{Latitude: -41.3001, Longitude: 174.7799}, set[0][0])
	assert.Equal(t, model.Coordinate{Latitude: -41.3001, Longitude: 174.7802}, set[1][0])
	// Closing vertices survive parsing.
	assert.Len(t, set[0], 5)
}

func TestParseGeoJSON_Errors(t *testing.T) {
	for name, doc := range map[string]string{
		"not json":       `{`,
		"point":          `{"type":"Point","coordinates":[1,2]}`,
		"empty features": `{"type":"FeatureCollection","features":[]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseGeoJSON([]byte(doc))
			assert.Error(t, err)
		})
	}

	_, err := LoadGeoJSONFile("testdata/missing.geojson")
	assert.Error(t, err)
}
