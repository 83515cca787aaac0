package featuresort

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"
)

// FeatureGroupStats carries the counters named in spec §8 scenario 4.
type FeatureGroupStats struct {
	NumFeaturesProcessed int64 // everything accepted
	NumFeaturesToEmit    int64 // after group-cardinality caps drop excess
}

// FeatureGroup wraps an ExternalSorter and a Profile, exposing a
// streaming group-by-tile iterator (spec §4.D). accept() forwards to the
// sorter; prepare() triggers the sort exactly once, safe to call from any
// single thread under the idiomatic Go analogue of double-checked locking
// (sync.Once): later iteration happens-after the first prepare() call.
type FeatureGroup struct {
	sorter  *ExternalSorter
	encoder *FeatureEncoder
	profile Profile
	stats   Stats

	prepareOnce sync.Once
	prepareErr  error

	processed int64
	toEmit    int64
}

// NewFeatureGroup creates a group over sorter, using encoder to decode
// layer names and attributes during post-processing, and profile to
// perform the per-tile geometric work. A nil stats uses NoopStats.
func NewFeatureGroup(sorter *ExternalSorter, encoder *FeatureEncoder, profile Profile, stats Stats) *FeatureGroup {
	if stats == nil {
		stats = NoopStats{}
	}
	return &FeatureGroup{sorter: sorter, encoder: encoder, profile: profile, stats: stats}
}

// Accept forwards a pre-encoded feature to the sorter.
func (g *FeatureGroup) Accept(sf SortableFeature) error {
	return g.sorter.Add(sf)
}

// Prepare triggers the underlying sort. Idempotent; safe to call more than
// once, only the first call does work.
func (g *FeatureGroup) Prepare() error {
	g.prepareOnce.Do(func() {
		g.prepareErr = g.sorter.Sort()
	})
	return g.prepareErr
}

// Stats returns the running feature counters. Safe to call during or after
// iteration.
func (g *FeatureGroup) Stats() FeatureGroupStats {
	return FeatureGroupStats{
		NumFeaturesProcessed: atomic.LoadInt64(&g.processed),
		NumFeaturesToEmit:    atomic.LoadInt64(&g.toEmit),
	}
}

// Iterator returns a one-shot, single-consumer sequence of TileFeatures in
// ascending encoded-tile-id order. Prepare must have been called first.
func (g *FeatureGroup) Iterator() (*TileFeaturesIterator, error) {
	inner, err := g.sorter.Iterator()
	if err != nil {
		return nil, err
	}
	return &TileFeaturesIterator{group: g, inner: inner}, nil
}

// tileEntry is one feature retained inside a TileFeatures, after the
// per-layer group cap has been applied.
type tileEntry struct {
	sortKey uint64
	value   []byte
}

// TileFeatures is one tile's worth of sorted, group-capped entries.
type TileFeatures struct {
	TileCoord TileCoord
	TileID    uint32

	group   *FeatureGroup
	entries []tileEntry

	curLayerID    uint8
	haveCurLayer  bool
	groupCounts   map[int64]int32
}

func newTileFeatures(group *FeatureGroup, tileID uint32) *TileFeatures {
	return &TileFeatures{
		TileCoord: DecodeTileCoord(tileID),
		TileID:    tileID,
		group:     group,
	}
}

// add applies the per-layer group-cardinality cap described in spec §4.D:
// counters reset on layer change; ungrouped entries are always kept;
// grouped entries beyond their limit are dropped (but still counted in
// numFeaturesProcessed by the caller).
func (tf *TileFeatures) add(sf SortableFeature) {
	layerID := ExtractLayerID(sf.SortKey)
	if !tf.haveCurLayer || layerID != tf.curLayerID {
		tf.curLayerID = layerID
		tf.haveCurLayer = true
		tf.groupCounts = make(map[int64]int32)
	}

	if grp, ok := PeekGroup(sf); ok {
		if grp.Limit > 0 && tf.groupCounts[grp.Group] >= grp.Limit {
			return
		}
		tf.groupCounts[grp.Group]++
	}

	tf.entries = append(tf.entries, tileEntry{sortKey: sf.SortKey, value: sf.Value})
}

// Len returns the number of surviving entries in the tile.
func (tf *TileFeatures) Len() int { return len(tf.entries) }

// HasSameContents compares two tiles by sequence length and per-entry
// (layer-id, value-bytes) equality; tile-id bits of the sort key are
// ignored. The comparison is reflexive and symmetric. Entries are compared
// position by position in their sorted (layer, z-order) order, so two
// tiles whose layer holds the same values in a different order compare
// unequal.
func (tf *TileFeatures) HasSameContents(other *TileFeatures) bool {
	if len(tf.entries) != len(other.entries) {
		return false
	}
	for i, e := range tf.entries {
		o := other.entries[i]
		if ExtractLayerID(e.sortKey) != ExtractLayerID(o.sortKey) {
			return false
		}
		if !bytes.Equal(e.value, o.value) {
			return false
		}
	}
	return true
}

// EncodedLayer is one layer's post-processed features, in bottom-to-top
// draw order, ready for the (external) vector-tile wire encoder.
type EncodedLayer struct {
	Name     string
	Features []DecodedFeature
}

// GetVectorTileEncoder walks entries in reverse (they were sorted by
// inverted z-order, so reversing yields bottom-up draw order), groups
// contiguous entries by decoded layer name, and invokes
// profile.PostProcessLayerFeatures at each layer boundary. Recoverable
// post-process failures fall back to the pre-post-processed features for
// that layer and are logged via Stats.DataError; anything else propagates.
func (tf *TileFeatures) GetVectorTileEncoder() ([]EncodedLayer, error) {
	var layers []EncodedLayer

	flush := func(layerName string, decoded []DecodedFeature) error {
		if len(decoded) == 0 {
			return nil
		}
		processed, err := tf.group.profile.PostProcessLayerFeatures(layerName, tf.TileCoord.Z, decoded)
		if err != nil {
			var recErr *RecoverableGeometryError
			if errors.As(err, &recErr) {
				tf.group.stats.DataError(recErr.Code)
				layers = append(layers, EncodedLayer{Name: layerName, Features: decoded})
				return nil
			}
			return err
		}
		if processed == nil {
			processed = decoded
		}
		layers = append(layers, EncodedLayer{Name: layerName, Features: processed})
		return nil
	}

	var curLayerID uint8
	var haveLayer bool
	var curLayerName string
	var buffered []DecodedFeature

	for i := len(tf.entries) - 1; i >= 0; i-- {
		e := tf.entries[i]
		layerID := ExtractLayerID(e.sortKey)
		if !haveLayer || layerID != curLayerID {
			if err := flush(curLayerName, buffered); err != nil {
				return nil, err
			}
			buffered = nil
			curLayerID = layerID
			haveLayer = true
			curLayerName = tf.group.encoder.layerDict.Decode(layerID)
		}

		decoded, err := tf.group.encoder.Decode(SortableFeature{SortKey: e.sortKey, Value: e.value})
		if err != nil {
			return nil, err
		}
		buffered = append(buffered, decoded)
	}
	if err := flush(curLayerName, buffered); err != nil {
		return nil, err
	}

	return layers, nil
}

// TileFeaturesIterator yields TileFeatures in ascending tile-id order.
type TileFeaturesIterator struct {
	group *FeatureGroup
	inner SortedIterator

	pending   *SortableFeature
	current   *TileFeatures
	exhausted bool
	err       error
}

// Next advances to the next tile. It returns false at end of stream or on
// error (check Err()).
func (it *TileFeaturesIterator) Next() bool {
	if it.exhausted || it.err != nil {
		return false
	}

	var first SortableFeature
	if it.pending != nil {
		first = *it.pending
		it.pending = nil
	} else if it.inner.Next() {
		first = it.inner.Feature()
		atomic.AddInt64(&it.group.processed, 1)
	} else {
		it.exhausted = true
		it.err = it.inner.Err()
		return false
	}

	tileID := ExtractTileID(first.SortKey)
	tf := newTileFeatures(it.group, tileID)
	tf.add(first)

	for it.inner.Next() {
		next := it.inner.Feature()
		atomic.AddInt64(&it.group.processed, 1)
		if ExtractTileID(next.SortKey) != tileID {
			it.pending = &next
			break
		}
		tf.add(next)
	}
	if it.pending == nil {
		if err := it.inner.Err(); err != nil {
			it.err = err
		}
	}

	atomic.AddInt64(&it.group.toEmit, int64(len(tf.entries)))
	it.current = tf
	return true
}

// TileFeatures returns the current tile. Valid only after Next returns true.
func (it *TileFeaturesIterator) TileFeatures() *TileFeatures { return it.current }

// Err returns the first error encountered, if any.
func (it *TileFeaturesIterator) Err() error { return it.err }

// Close releases the underlying sorted iterator's resources.
func (it *TileFeaturesIterator) Close() error { return it.inner.Close() }
