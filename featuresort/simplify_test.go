package featuresort

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimplifyLineStringPreservesEndpointsByteExact(t *testing.T) {
	pts := []orb.Point{{0, 0}, {1, 0.01}, {2, -0.01}, {10, 50}, {20, 0}}
	out := SimplifyLineString(pts, 1.0, 0)
	require.NotEmpty(t, out)
	assert.Equal(t, pts[0], out[0])
	assert.Equal(t, pts[len(pts)-1], out[len(out)-1])
}

func TestSimplifyLineStringDropsPointsWithinTolerance(t *testing.T) {
	// Nearly collinear: midpoint deviates by 0.01, well under tolerance 1.0.
	pts := []orb.Point{{0, 0}, {5, 0.01}, {10, 0}}
	out := SimplifyLineString(pts, 1.0, 0)
	assert.Equal(t, []orb.Point{{0, 0}, {10, 0}}, out)
}

func TestSimplifyLineStringKeepsPointsExceedingTolerance(t *testing.T) {
	pts := []orb.Point{{0, 0}, {5, 100}, {10, 0}}
	out := SimplifyLineString(pts, 1.0, 0)
	assert.Equal(t, pts, out)
}

func TestSimplifyLineStringNeverExceedsInputVertexCount(t *testing.T) {
	pts := []orb.Point{{0, 0}, {1, 0}, {2, 0}, {3, 0}, {4, 0}, {5, 5}, {6, 0}, {7, 0}}
	out := SimplifyLineString(pts, 0.5, 0)
	assert.LessOrEqual(t, len(out), len(pts))
	assert.Equal(t, pts[0], out[0])
	assert.Equal(t, pts[len(pts)-1], out[len(out)-1])
}

func TestSimplifyForcedPointsKeepsAtLeastKInteriorPoints(t *testing.T) {
	// Perfectly collinear: tolerance alone would drop everything interior.
	pts := []orb.Point{{0, 0}, {1, 0}, {2, 0}, {3, 0}, {4, 0}}
	out := SimplifyLineString(pts, 100.0, 2)
	// endpoints + at least 2 forced interior points
	assert.GreaterOrEqual(t, len(out), 4)
	assert.Equal(t, pts[0], out[0])
	assert.Equal(t, pts[len(pts)-1], out[len(out)-1])
}

func TestSimplifyRingDefaultsToTwoForcedPoints(t *testing.T) {
	ring := []orb.Point{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}
	out := SimplifyRing(ring, 1000.0)
	assert.GreaterOrEqual(t, len(out), 4, "a ring must never collapse below a usable shape under forced points")
}

func TestSimplifyShortSequencesPassThrough(t *testing.T) {
	assert.Equal(t, []orb.Point{{0, 0}}, SimplifyLineString([]orb.Point{{0, 0}}, 1.0, 0))
	assert.Equal(t, []orb.Point{{0, 0}, {1, 1}}, SimplifyLineString([]orb.Point{{0, 0}, {1, 1}}, 1.0, 0))
}

func TestPerpDistSqDegenerateSegmentFallsBackToPointDistance(t *testing.T) {
	d := perpDistSq(orb.Point{3, 4}, orb.Point{0, 0}, orb.Point{0, 0})
	assert.InDelta(t, 25.0, d, 1e-9)
}
