package featuresort

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEncoder() *FeatureEncoder {
	return NewFeatureEncoder(NewCommonStringEncoder("layer"), NewCommonStringEncoder("attr"))
}

func TestFeatureEncodeDecodeRoundTripLine(t *testing.T) {
	enc := newTestEncoder()
	f := Feature{
		Layer:     "roads",
		TileID:    42,
		ZOrder:    100,
		FeatureID: 7,
		GeomType:  GeomLine,
		Geometry:  orb.LineString{{0, 0}, {10, 0}, {10, 10}},
		Attrs: map[string]any{
			"name":   "Main St",
			"lanes":  int64(2),
			"length": 12.5,
			"oneway": true,
			"ignore": nil,
		},
	}

	sf, err := enc.Encode(f)
	require.NoError(t, err)
	assert.Equal(t, f.TileID, ExtractTileID(sf.SortKey))
	assert.False(t, ExtractHasGroup(sf.SortKey))

	decoded, err := enc.Decode(sf)
	require.NoError(t, err)
	assert.Equal(t, "roads", decoded.Layer)
	assert.Equal(t, int64(7), decoded.FeatureID)
	assert.Equal(t, GeomLine, decoded.GeomType)
	assert.Equal(t, orb.LineString{{0, 0}, {10, 0}, {10, 10}}, decoded.Geometry)
	assert.Equal(t, "Main St", decoded.Attrs["name"])
	assert.Equal(t, int64(2), decoded.Attrs["lanes"])
	assert.InDelta(t, 12.5, decoded.Attrs["length"], 1e-9)
	assert.Equal(t, true, decoded.Attrs["oneway"])
	_, hasIgnore := decoded.Attrs["ignore"]
	assert.False(t, hasIgnore, "nil attribute values must be omitted at encode time")
}

func TestFeatureEncodeDecodeRoundTripPolygon(t *testing.T) {
	enc := newTestEncoder()
	ring := orb.Ring{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}
	f := Feature{
		Layer:     "landuse",
		TileID:    1,
		ZOrder:    0,
		FeatureID: 99,
		GeomType:  GeomPolygon,
		Geometry:  orb.Polygon{ring},
		Attrs:     map[string]any{"class": "forest"},
	}

	sf, err := enc.Encode(f)
	require.NoError(t, err)
	decoded, err := enc.Decode(sf)
	require.NoError(t, err)

	poly, ok := decoded.Geometry.(orb.Polygon)
	require.True(t, ok)
	require.Len(t, poly, 1)
	assert.Equal(t, ring[0], poly[0][0])
	assert.Equal(t, ring[len(ring)-1], poly[0][len(poly[0])-1])
}

func TestFeatureEncodeDecodeRoundTripPoint(t *testing.T) {
	enc := newTestEncoder()
	f := Feature{
		Layer:     "poi",
		TileID:    5,
		ZOrder:    1,
		FeatureID: 1,
		GeomType:  GeomPoint,
		Geometry:  orb.Point{3, 4},
	}
	sf, err := enc.Encode(f)
	require.NoError(t, err)
	decoded, err := enc.Decode(sf)
	require.NoError(t, err)
	assert.Equal(t, orb.Point{3, 4}, decoded.Geometry)
}

func TestFeatureEncodeGroupRoundTrip(t *testing.T) {
	enc := newTestEncoder()
	f := Feature{
		Layer:     "buildings",
		TileID:    1,
		ZOrder:    5,
		FeatureID: 3,
		GeomType:  GeomPolygon,
		Geometry:  orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}},
		Group:     &Group{Group: 7, Limit: 2},
	}

	sf, err := enc.Encode(f)
	require.NoError(t, err)
	assert.True(t, ExtractHasGroup(sf.SortKey))

	g, ok := PeekGroup(sf)
	require.True(t, ok)
	assert.Equal(t, int64(7), g.Group)
	assert.Equal(t, int32(2), g.Limit)

	decoded, err := enc.Decode(sf)
	require.NoError(t, err)
	require.NotNil(t, decoded.Group)
	assert.Equal(t, int64(7), decoded.Group.Group)
	assert.Equal(t, int32(2), decoded.Group.Limit)
}

func TestFeatureEncodeLastValueMemoisation(t *testing.T) {
	enc := newTestEncoder()
	geom := orb.LineString{{0, 0}, {1, 1}}

	f1 := Feature{Layer: "water", TileID: 1, ZOrder: 0, FeatureID: 1, GeomType: GeomLine, Geometry: geom}
	f2 := Feature{Layer: "water", TileID: 2, ZOrder: 0, FeatureID: 1, GeomType: GeomLine, Geometry: geom}

	sf1, err := enc.Encode(f1)
	require.NoError(t, err)
	sf2, err := enc.Encode(f2)
	require.NoError(t, err)

	assert.Same(t, &sf1.Value[0], &sf2.Value[0], "memoised encode should reuse the exact same backing array")
	assert.NotEqual(t, sf1.SortKey, sf2.SortKey, "sort keys still differ by tile id even when value bytes are memoised")
}

func TestFeatureEncodeGroupedNeverMemoised(t *testing.T) {
	enc := newTestEncoder()
	geom := orb.LineString{{0, 0}, {1, 1}}

	f1 := Feature{Layer: "water", TileID: 1, ZOrder: 0, FeatureID: 1, GeomType: GeomLine, Geometry: geom, Group: &Group{Group: 1, Limit: 0}}
	f2 := Feature{Layer: "water", TileID: 1, ZOrder: 0, FeatureID: 2, GeomType: GeomLine, Geometry: geom, Group: &Group{Group: 1, Limit: 0}}

	sf1, err := enc.Encode(f1)
	require.NoError(t, err)
	sf2, err := enc.Encode(f2)
	require.NoError(t, err)

	decoded1, err := enc.Decode(sf1)
	require.NoError(t, err)
	decoded2, err := enc.Decode(sf2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), decoded1.FeatureID)
	assert.Equal(t, int64(2), decoded2.FeatureID)
}

func TestFeatureEncodeRejectsUnsupportedAttrType(t *testing.T) {
	enc := newTestEncoder()
	f := Feature{
		Layer: "x", TileID: 1, GeomType: GeomPoint, Geometry: orb.Point{0, 0},
		Attrs: map[string]any{"bad": []int{1, 2}},
	}
	_, err := enc.Encode(f)
	require.Error(t, err)
}
