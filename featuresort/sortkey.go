package featuresort

import "fmt"

// Z-order bounds, per spec: 23 bits of inverted z-order means the usable
// range is [-2^22, 2^22-1].
const (
	ZOrderMin int32 = -(1 << 22)
	ZOrderMax int32 = (1 << 22) - 1

	zOrderBits  = 23
	zOrderRange = int64(ZOrderMax) - int64(ZOrderMin) + 1 // 2^23
)

// EncodeSortKey packs (tileID, layerID, zOrder, hasGroup) into the 64-bit
// key described in spec §3:
//
//	[ 32 bits: tile id ][ 8 bits: layer id ][ 23 bits: inverted z-order ][ 1 bit: hasGroup ]
//
// zOrder is stored inverted (ZOrderMax - zOrder) so ascending numeric sort
// yields descending z-order within a tile/layer.
func EncodeSortKey(tileID uint32, layerID uint8, zOrder int32, hasGroup bool) (uint64, error) {
	if zOrder < ZOrderMin || zOrder > ZOrderMax {
		return 0, fmt.Errorf("featuresort: z-order %d out of range [%d, %d]", zOrder, ZOrderMin, ZOrderMax)
	}
	inverted := uint64(ZOrderMax) - uint64(int64(zOrder))

	key := uint64(tileID) << 32
	key |= uint64(layerID) << 24
	key |= inverted << 1
	if hasGroup {
		key |= 1
	}
	return key, nil
}

// ExtractTileID returns the 32-bit tile id prefix of a sort key.
func ExtractTileID(key uint64) uint32 {
	return uint32(key >> 32)
}

// ExtractLayerID returns the 8-bit layer id of a sort key.
func ExtractLayerID(key uint64) uint8 {
	return uint8(key >> 24)
}

// ExtractZOrder returns the signed z-order encoded in a sort key.
func ExtractZOrder(key uint64) int32 {
	inverted := (key >> 1) & ((1 << zOrderBits) - 1)
	return int32(int64(ZOrderMax) - int64(inverted))
}

// ExtractHasGroup returns the hasGroup bit of a sort key.
func ExtractHasGroup(key uint64) bool {
	return key&1 == 1
}

// TileCoord is a tile position (z, x, y). Its 32-bit encoding packs zooms
// 0..15 into a single ascending numeric space: each zoom level occupies a
// contiguous block of 4^z ids (the same cumulative-pyramid-offset idea the
// teacher's tile_id.go uses for its Hilbert curve, §6 row-major variant),
// so tiles of a lower zoom always sort before every tile of a higher zoom,
// and within a zoom the row-major index (x*dim+y) gives a cache-friendly
// scan order. Total tiles across zoom 0..15 is (4^16-1)/3, well within
// uint32 range, so the bijection holds for every zoom the spec requires.
type TileCoord struct {
	Z uint8
	X uint32
	Y uint32
}

// MaxZoom is the highest zoom level EncodeTileCoord/DecodeTileCoord support.
const MaxZoom = 15

// zoomOffset returns the first id belonging to zoom z, i.e. the number of
// tiles at all lower zooms: sum_{i=0}^{z-1} 4^i = (4^z - 1) / 3.
func zoomOffset(z uint8) uint32 {
	var offset uint32
	var power uint32 = 1
	for i := uint8(0); i < z; i++ {
		offset += power
		power *= 4
	}
	return offset
}

// EncodeTileCoord packs a TileCoord into the 32-bit id embedded in sort
// keys and used by the downstream tile writer.
func EncodeTileCoord(t TileCoord) (uint32, error) {
	if t.Z > MaxZoom {
		return 0, fmt.Errorf("featuresort: zoom %d exceeds max zoom %d", t.Z, MaxZoom)
	}
	dim := uint32(1) << t.Z
	if t.X >= dim || t.Y >= dim {
		return 0, fmt.Errorf("featuresort: tile (%d,%d) out of range for zoom %d", t.X, t.Y, t.Z)
	}
	return zoomOffset(t.Z) + t.X*dim + t.Y, nil
}

// DecodeTileCoord is the inverse of EncodeTileCoord.
func DecodeTileCoord(id uint32) TileCoord {
	var z uint8
	var offset uint32
	for {
		dim := uint32(1) << z
		count := dim * dim
		if offset+count > id || z == MaxZoom {
			break
		}
		offset += count
		z++
	}
	dim := uint32(1) << z
	rem := id - offset
	x := rem / dim
	y := rem % dim
	return TileCoord{Z: z, X: x, Y: y}
}
