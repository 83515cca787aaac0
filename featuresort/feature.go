package featuresort

import (
	"fmt"
	"reflect"

	"github.com/paulmach/orb"
)

// Group is a RenderedFeature's group membership: features sharing the same
// Group id are subject to a per-tile-layer cardinality cap of Limit (0
// means unlimited). Spec §3.
type Group struct {
	Group int64
	Limit int32
}

// Feature is a rendered map feature as produced by the (external) renderer,
// ready to be handed to FeatureEncoder.Encode.
type Feature struct {
	Layer     string
	TileID    uint32
	ZOrder    int32
	FeatureID int64
	GeomType  GeomType
	Geometry  orb.Geometry
	Attrs     map[string]any
	Group     *Group // nil means ungrouped
}

// DecodedFeature is what FeatureEncoder.Decode produces: a typed feature reconstructed from a sort key and value bytes.
type DecodedFeature struct {
	Layer     string
	FeatureID int64
	GeomType  GeomType
	Geometry  orb.Geometry
	Attrs     map[string]any
	Group     *Group
}

// SortableFeature is the (sortKey, value) pair the external merge sorter
// operates on, per spec §3.
type SortableFeature struct {
	SortKey uint64
	Value   []byte
}

// FeatureEncoder turns Features into SortableFeatures using the shared
// layer and attribute-key string dictionaries. It owns one reusable pack
// buffer and memoises the last encoded value when successive ungrouped
// features share the same underlying geometry object identity (spec
// §4.B) — the ~3x speedup case for filled ocean tiles that all reference
// the same pre-built geometry.
type FeatureEncoder struct {
	layerDict *CommonStringEncoder
	attrDict  *CommonStringEncoder

	buf *packBuffer

	lastGeomIdentity geomIdentity
	lastValue        []byte
}

// NewFeatureEncoder creates an encoder sharing the given layer and
// attribute-key dictionaries (both grow-only, §3 invariants).
func NewFeatureEncoder(layerDict, attrDict *CommonStringEncoder) *FeatureEncoder {
	return &FeatureEncoder{
		layerDict: layerDict,
		attrDict:  attrDict,
		buf:       newPackBuffer(),
	}
}

// Dictionaries returns the layer and attribute-key dictionaries this
// encoder was built with. The dictionaries are safe to share across
// goroutines (CommonStringEncoder serializes its own reads/writes); the
// *FeatureEncoder itself is not, since its pack buffer and last-value
// memoisation are unsynchronized per-call state (§4.B). Callers that need
// to encode concurrently should build one FeatureEncoder per goroutine
// from the same pair of dictionaries via this method.
func (e *FeatureEncoder) Dictionaries() (layerDict, attrDict *CommonStringEncoder) {
	return e.layerDict, e.attrDict
}

// geomIdentity captures enough of a geometry's identity to detect "the
// same underlying geometry object" across successive Encode calls without
// reflect.DeepEqual's cost. orb's composite geometry types are backed by
// slices, so the pointer to the first coordinate plus length is a faithful
// object-identity proxy for non-empty geometries.
type geomIdentity struct {
	valid bool
	ptr   uintptr
	n     int
	kind  reflect.Type
}

func identityOf(g orb.Geometry) geomIdentity {
	if g == nil {
		return geomIdentity{}
	}
	v := reflect.ValueOf(g)
	if v.Kind() != reflect.Slice || v.Len() == 0 {
		return geomIdentity{}
	}
	return geomIdentity{
		valid: true,
		ptr:   v.Pointer(),
		n:     v.Len(),
		kind:  v.Type(),
	}
}

func (a geomIdentity) equal(b geomIdentity) bool {
	return a.valid && b.valid && a.ptr == b.ptr && a.n == b.n && a.kind == b.kind
}

// Encode produces the (sortKey, value) pair for f. When f has no group and
// its geometry is object-identical to the previous call's, the previous
// value bytes are reused verbatim instead of re-serialized.
func (e *FeatureEncoder) Encode(f Feature) (SortableFeature, error) {
	layerID, err := e.layerDict.Encode(f.Layer)
	if err != nil {
		return SortableFeature{}, err
	}
	key, err := EncodeSortKey(f.TileID, layerID, f.ZOrder, f.Group != nil)
	if err != nil {
		return SortableFeature{}, err
	}

	if f.Group == nil {
		id := identityOf(f.Geometry)
		if id.equal(e.lastGeomIdentity) && e.lastValue != nil {
			return SortableFeature{SortKey: key, Value: e.lastValue}, nil
		}
	}

	e.buf.reset()
	if f.Group != nil {
		e.buf.putVarint(f.Group.Group)
		e.buf.putVarint(int64(f.Group.Limit))
	}
	e.buf.putVarint(f.FeatureID)
	e.buf.putU8(uint8(f.GeomType))

	if err := e.encodeAttrs(f.Attrs); err != nil {
		return SortableFeature{}, err
	}
	if err := encodeCommands(e.buf, f.GeomType, f.Geometry); err != nil {
		return SortableFeature{}, err
	}

	value := e.buf.snapshot()

	if f.Group == nil {
		e.lastGeomIdentity = identityOf(f.Geometry)
		e.lastValue = value
	} else {
		e.lastGeomIdentity = geomIdentity{}
		e.lastValue = nil
	}

	return SortableFeature{SortKey: key, Value: value}, nil
}

func (e *FeatureEncoder) encodeAttrs(attrs map[string]any) error {
	// Null values are omitted at encode time (§3); count only non-nil ones.
	count := 0
	for _, v := range attrs {
		if v != nil {
			count++
		}
	}
	e.buf.putUvarint(uint64(count))
	for k, v := range attrs {
		if v == nil {
			continue
		}
		keyID, err := e.attrDict.Encode(k)
		if err != nil {
			return err
		}
		e.buf.putU8(keyID)
		if err := putAttrValue(e.buf, v); err != nil {
			return fmt.Errorf("featuresort: attribute %q: %w", k, err)
		}
	}
	return nil
}

const (
	attrTagString = 0
	attrTagI64    = 1
	attrTagF64    = 2
	attrTagBool   = 3
)

func putAttrValue(buf *packBuffer, v any) error {
	switch val := v.(type) {
	case string:
		buf.putU8(attrTagString)
		buf.putString(val)
	case int64:
		buf.putU8(attrTagI64)
		buf.putVarint(val)
	case int:
		buf.putU8(attrTagI64)
		buf.putVarint(int64(val))
	case float64:
		buf.putU8(attrTagF64)
		buf.putF64(val)
	case bool:
		buf.putU8(attrTagBool)
		buf.putBool(val)
	default:
		return fmt.Errorf("unsupported attribute value type %T", v)
	}
	return nil
}

func getAttrValue(c *cursor) any {
	switch c.getU8() {
	case attrTagString:
		return c.getString()
	case attrTagI64:
		return c.getVarint()
	case attrTagF64:
		return c.getF64()
	case attrTagBool:
		return c.getBool()
	default:
		panic("featuresort: corrupt attribute tag")
	}
}

// Decode reconstructs a typed feature from a SortableFeature. The layer
// name is always recovered from the dictionary using the layer id carried
// in the sort key, never from the value bytes.
func (e *FeatureEncoder) Decode(sf SortableFeature) (DecodedFeature, error) {
	layer := e.layerDict.Decode(ExtractLayerID(sf.SortKey))
	hasGroup := ExtractHasGroup(sf.SortKey)

	c := newCursor(sf.Value)

	var group *Group
	if hasGroup {
		g := c.getVarint()
		limit := int32(c.getVarint())
		group = &Group{Group: g, Limit: limit}
	}

	featureID := c.getVarint()
	geomType := GeomType(c.getU8())

	n := int(c.getUvarint())
	attrs := make(map[string]any, n)
	for i := 0; i < n; i++ {
		keyID := c.getU8()
		key := e.attrDict.Decode(keyID)
		attrs[key] = getAttrValue(c)
	}

	geom, err := decodeCommands(c, geomType)
	if err != nil {
		return DecodedFeature{}, err
	}

	return DecodedFeature{
		Layer:     layer,
		FeatureID: featureID,
		GeomType:  geomType,
		Geometry:  geom,
		Attrs:     attrs,
		Group:     group,
	}, nil
}

// PeekGroup reads only the (group_id, limit) preamble of a grouped value,
// without decoding the rest of the feature. Used by FeatureGroup's
// per-layer cardinality cap (§4.D) so it doesn't pay for a full decode of
// entries it may drop.
func PeekGroup(sf SortableFeature) (Group, bool) {
	if !ExtractHasGroup(sf.SortKey) {
		return Group{}, false
	}
	c := newCursor(sf.Value)
	g := c.getVarint()
	limit := int32(c.getVarint())
	return Group{Group: g, Limit: limit}, true
}
