package featuresort

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lineFeature(id int64, ls orb.LineString) DecodedFeature {
	return DecodedFeature{
		Layer: "roads", FeatureID: id, GeomType: GeomLine, Geometry: ls,
		Attrs: map[string]any{"class": "primary"},
	}
}

func TestPostProcessLinesMergesColinearSegments(t *testing.T) {
	// Scenario 1: two colinear lines sharing an endpoint, no clip/length
	// filtering, merge into a single line spanning both.
	features := []DecodedFeature{
		lineFeature(1, orb.LineString{{0, 0}, {1, 0}}),
		lineFeature(2, orb.LineString{{1, 0}, {2, 0}}),
	}
	out, err := PostProcessLines(features, LineMergeParams{}, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)

	ls, ok := out[0].Geometry.(orb.LineString)
	require.True(t, ok)
	assert.Equal(t, orb.Point{0, 0}, ls[0])
	assert.Equal(t, orb.Point{2, 0}, ls[len(ls)-1])
}

func TestPostProcessLinesClipsTrailingOutsideWindow(t *testing.T) {
	// Scenario 2: clip=4 over tile extent 256 clips the line to [-4,260]^2.
	features := []DecodedFeature{
		lineFeature(1, orb.LineString{{-5, -5}, {10, 10}, {300, 300}}),
	}
	out, err := PostProcessLines(features, LineMergeParams{Clip: 4, TileExtent: 256}, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)

	ls, ok := out[0].Geometry.(orb.LineString)
	require.True(t, ok)
	require.Len(t, ls, 3)
	assert.Equal(t, orb.Point{-5, -5}, ls[0])
	assert.Equal(t, orb.Point{10, 10}, ls[1])
	assert.InDelta(t, 260.0, ls[2].X(), 1e-9)
	assert.InDelta(t, 260.0, ls[2].Y(), 1e-9)
}

func TestPostProcessLinesPassesThroughNonLineFeatures(t *testing.T) {
	features := []DecodedFeature{
		{Layer: "x", FeatureID: 1, GeomType: GeomPoint, Geometry: orb.Point{0, 0}},
	}
	out, err := PostProcessLines(features, LineMergeParams{}, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, GeomPoint, out[0].GeomType)
}

func TestPostProcessLinesGroupsByAttributeEquivalence(t *testing.T) {
	a := lineFeature(1, orb.LineString{{0, 0}, {1, 0}})
	a.Attrs = map[string]any{"class": "primary"}
	b := lineFeature(2, orb.LineString{{5, 5}, {6, 5}})
	b.Attrs = map[string]any{"class": "secondary"}

	out, err := PostProcessLines([]DecodedFeature{a, b}, LineMergeParams{}, nil)
	require.NoError(t, err)
	// Different attribute groups never merge together.
	assert.Len(t, out, 2)
}

func TestChainLinesJoinsAtSharedEndpointEitherOrientation(t *testing.T) {
	lines := []orb.LineString{
		{{0, 0}, {1, 0}},
		{{2, 0}, {1, 0}}, // reversed relative to the first
	}
	merged := chainLines(lines)
	require.Len(t, merged, 1)
	assert.Len(t, merged[0], 3)
}

func TestLineLengthSumsSegmentLengths(t *testing.T) {
	ls := orb.LineString{{0, 0}, {3, 4}, {3, 0}}
	assert.InDelta(t, 9.0, lineLength(ls), 1e-9)
}

func TestLiangBarskyClipFullyOutsideReturnsFalse(t *testing.T) {
	b := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}}
	_, _, ok := liangBarskyClip(orb.Point{20, 20}, orb.Point{30, 30}, b)
	assert.False(t, ok)
}

func TestClipPolylineDropsAfterTwoConsecutiveOutSegments(t *testing.T) {
	b := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}}
	// In-window, then two segments far outside, then back inside: the
	// outside run should flush, producing two separate polylines.
	pts := []orb.Point{{5, 5}, {100, 100}, {200, 200}, {300, 300}, {5, 6}}
	out := clipPolyline(pts, b)
	assert.GreaterOrEqual(t, len(out), 1)
}
