package featuresort

import (
	"bytes"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// canonicalAttrBytes serializes attrs into a deterministic byte string:
// sorted keys, each tagged the same way encodeAttrs tags them. This is the
// "canonicalised byte-encoded key" spec §9 describes as a replacement for
// hashing heterogeneous attribute maps directly.
func canonicalAttrBytes(attrs map[string]any) []byte {
	keys := make([]string, 0, len(attrs))
	for k, v := range attrs {
		if v != nil {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	buf := newPackBuffer()
	buf.putUvarint(uint64(len(keys)))
	for _, k := range keys {
		buf.putString(k)
		_ = putAttrValue(buf, attrs[k])
	}
	return buf.snapshot()
}

type attrBucket struct {
	key   []byte
	group []DecodedFeature
}

// attributeEquivalenceGroups buckets features by xxhash of their canonical
// attribute bytes, confirming byte-exact equality within a bucket before
// joining two features, and preserves the input order of first occurrence
// of each distinct attribute map (§4.F, §4.G "attribute equivalence
// group"). xxhash is only a bucketing accelerator; group membership is
// always decided by the byte-exact comparison, never the hash alone.
func attributeEquivalenceGroups(features []DecodedFeature) [][]DecodedFeature {
	buckets := make(map[uint64][]*attrBucket)
	var order []*attrBucket

	for _, f := range features {
		key := canonicalAttrBytes(f.Attrs)
		h := xxhash.Sum64(key)

		var target *attrBucket
		for _, b := range buckets[h] {
			if bytes.Equal(b.key, key) {
				target = b
				break
			}
		}
		if target == nil {
			target = &attrBucket{key: key}
			buckets[h] = append(buckets[h], target)
			order = append(order, target)
		}
		target.group = append(target.group, f)
	}

	groups := make([][]DecodedFeature, len(order))
	for i, b := range order {
		groups[i] = b.group
	}
	return groups
}
