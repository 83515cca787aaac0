package featuresort

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeSortKeyRoundTrip(t *testing.T) {
	cases := []struct {
		tileID   uint32
		layerID  uint8
		zOrder   int32
		hasGroup bool
	}{
		{0, 0, 0, false},
		{1, 1, 1, true},
		{0xFFFFFFFF, 250, ZOrderMax, true},
		{12345, 7, ZOrderMin, false},
		{999, 42, -1, true},
	}

	for _, c := range cases {
		key, err := EncodeSortKey(c.tileID, c.layerID, c.zOrder, c.hasGroup)
		require.NoError(t, err)
		assert.Equal(t, c.tileID, ExtractTileID(key))
		assert.Equal(t, c.layerID, ExtractLayerID(key))
		assert.Equal(t, c.zOrder, ExtractZOrder(key))
		assert.Equal(t, c.hasGroup, ExtractHasGroup(key))
	}
}

func TestEncodeSortKeyRejectsOutOfRangeZOrder(t *testing.T) {
	_, err := EncodeSortKey(0, 0, ZOrderMax+1, false)
	require.Error(t, err)

	_, err = EncodeSortKey(0, 0, ZOrderMin-1, false)
	require.Error(t, err)
}

func TestSortKeyOrderingWithinTileLayer(t *testing.T) {
	// Higher z-order sorts first (ascending key => descending z-order).
	lowZ, err := EncodeSortKey(1, 1, 0, false)
	require.NoError(t, err)
	highZ, err := EncodeSortKey(1, 1, 10, false)
	require.NoError(t, err)
	assert.Less(t, highZ, lowZ)

	// Same z-order: ungrouped sorts before grouped.
	ungrouped, err := EncodeSortKey(1, 1, 5, false)
	require.NoError(t, err)
	grouped, err := EncodeSortKey(1, 1, 5, true)
	require.NoError(t, err)
	assert.Less(t, ungrouped, grouped)
}

func TestTileIDOrderingIsPrimary(t *testing.T) {
	a, _ := EncodeSortKey(1, 255, ZOrderMin, true)
	b, _ := EncodeSortKey(2, 0, ZOrderMax, false)
	assert.Less(t, a, b)
}

func TestTileCoordRoundTrip(t *testing.T) {
	for z := uint8(0); z <= 6; z++ {
		dim := uint32(1) << z
		for x := uint32(0); x < dim; x++ {
			for y := uint32(0); y < dim; y++ {
				id, err := EncodeTileCoord(TileCoord{Z: z, X: x, Y: y})
				require.NoError(t, err)
				got := DecodeTileCoord(id)
				assert.Equal(t, TileCoord{Z: z, X: x, Y: y}, got)
			}
		}
	}
}

func TestTileCoordAscendingAcrossZoom(t *testing.T) {
	idZ0, _ := EncodeTileCoord(TileCoord{Z: 0, X: 0, Y: 0})
	idZ1, _ := EncodeTileCoord(TileCoord{Z: 1, X: 1, Y: 1})
	idZ2, _ := EncodeTileCoord(TileCoord{Z: 2, X: 0, Y: 0})
	assert.Less(t, idZ0, idZ1)
	assert.Less(t, idZ1, idZ2)
}

func TestEncodeTileCoordRejectsOutOfRange(t *testing.T) {
	_, err := EncodeTileCoord(TileCoord{Z: 20, X: 0, Y: 0})
	require.Error(t, err)

	_, err = EncodeTileCoord(TileCoord{Z: 2, X: 4, Y: 0})
	require.Error(t, err)
}
