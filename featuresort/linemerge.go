package featuresort

import (
	"errors"
	"math"

	"github.com/paulmach/orb"
)

// LineMergeParams carries the §4.F tunables: tolerance, clip, and a
// per-attribute length limit (LengthLimit), which also serves as the
// minimum length; there is no separate minLength field.
type LineMergeParams struct {
	// Tolerance is the Douglas-Peucker tolerance used to re-simplify merged
	// polylines; 0 disables re-simplification.
	Tolerance float64
	// Clip is the clip radius in tile pixels; 0 disables clipping.
	Clip float64
	// TileExtent defaults to 256 when zero (§6 tile_extent).
	TileExtent float64
	// LengthLimit computes the minimum surviving length for a merged
	// polyline from its (shared) attributes. A nil func means 0 (no
	// length filter) for every group.
	LengthLimit func(attrs map[string]any) float64
}

// PostProcessLines implements §4.F over a full layer's feature list: only
// GeomLine features participate, grouped by attribute equivalence; every
// other geometry type passes through untouched.
func PostProcessLines(features []DecodedFeature, params LineMergeParams, stats Stats) ([]DecodedFeature, error) {
	if stats == nil {
		stats = NoopStats{}
	}

	var lines, other []DecodedFeature
	for _, f := range features {
		if f.GeomType == GeomLine {
			lines = append(lines, f)
		} else {
			other = append(other, f)
		}
	}

	out := append([]DecodedFeature{}, other...)
	for _, group := range attributeEquivalenceGroups(lines) {
		merged, err := mergeLineGroup(group, params)
		if err != nil {
			var recErr *RecoverableGeometryError
			if errors.As(err, &recErr) {
				stats.DataError(recErr.Code)
				out = append(out, group...)
				continue
			}
			return nil, err
		}
		out = append(out, merged...)
	}
	return out, nil
}

func mergeLineGroup(features []DecodedFeature, params LineMergeParams) ([]DecodedFeature, error) {
	if len(features) == 0 {
		return nil, nil
	}

	tileExtent := params.TileExtent
	if tileExtent == 0 {
		tileExtent = 256
	}
	lengthLimit := params.LengthLimit
	if lengthLimit == nil {
		lengthLimit = func(map[string]any) float64 { return 0 }
	}
	limit := lengthLimit(features[0].Attrs)

	// Fast path (§4.F step 1): a lone feature with no clipping or length
	// filtering in play is emitted unchanged.
	if len(features) == 1 && params.Clip == 0 && limit == 0 {
		return features, nil
	}

	lines := make([]orb.LineString, 0, len(features))
	for i, f := range features {
		switch g := f.Geometry.(type) {
		case orb.LineString:
			lines = append(lines, g)
		case orb.MultiLineString:
			lines = append(lines, []orb.LineString(g)...)
		default:
			return nil, recoverablef("line_merge_bad_geometry", "feature %d has unsupported geometry %T", i, f.Geometry)
		}
	}

	merged := chainLines(lines)

	var survivors []orb.LineString
	for _, ls := range merged {
		if lineLength(ls) < limit {
			continue
		}
		if len(ls) > 2 && params.Tolerance > 0 {
			simplified := SimplifyLineString([]orb.Point(ls), params.Tolerance, 0)
			if len(simplified) < 2 {
				return nil, recoverablef("line_merge_simplify_collapsed", "simplified polyline collapsed below 2 points")
			}
			ls = orb.LineString(simplified)
		}
		survivors = append(survivors, ls)
	}

	if params.Clip > 0 {
		clipBound := orb.Bound{
			Min: orb.Point{-params.Clip, -params.Clip},
			Max: orb.Point{tileExtent + params.Clip, tileExtent + params.Clip},
		}
		var clipped []orb.LineString
		for _, ls := range survivors {
			clipped = append(clipped, clipPolyline([]orb.Point(ls), clipBound)...)
		}
		survivors = clipped
	}

	if len(survivors) == 0 {
		return nil, nil
	}

	result := features[0]
	result.GeomType = GeomLine
	if len(survivors) == 1 {
		result.Geometry = survivors[0]
	} else {
		result.Geometry = orb.MultiLineString(survivors)
	}
	return []DecodedFeature{result}, nil
}

// chainLines implements the "union-merge all lines ... using a
// noding+chaining algorithm that joins segments sharing endpoints into
// maximal polylines" step of §4.F. It only chains at exact shared
// endpoints; it does not node crossing interior intersections, which is
// out of scope per the module's general-purpose-geometry non-goal.
func chainLines(lines []orb.LineString) []orb.LineString {
	used := make([]bool, len(lines))
	endpointIndex := make(map[orb.Point][]int)
	for i, ls := range lines {
		if len(ls) < 2 {
			continue
		}
		endpointIndex[ls[0]] = append(endpointIndex[ls[0]], i)
		endpointIndex[ls[len(ls)-1]] = append(endpointIndex[ls[len(ls)-1]], i)
	}

	findUnused := func(p orb.Point) (int, bool) {
		for _, j := range endpointIndex[p] {
			if !used[j] {
				return j, true
			}
		}
		return 0, false
	}

	var merged []orb.LineString
	for i, ls := range lines {
		if used[i] || len(ls) < 2 {
			continue
		}
		used[i] = true
		chain := append(orb.LineString{}, ls...)

		for {
			last := chain[len(chain)-1]
			j, ok := findUnused(last)
			if !ok {
				break
			}
			used[j] = true
			lj := lines[j]
			if lj[0] == last {
				chain = concatLineStrings(chain, lj[1:])
			} else {
				chain = concatLineStrings(chain, reverseLineString(lj)[1:])
			}
		}
		for {
			first := chain[0]
			j, ok := findUnused(first)
			if !ok {
				break
			}
			used[j] = true
			lj := lines[j]
			if lj[len(lj)-1] == first {
				chain = concatLineStrings(lj[:len(lj)-1], chain)
			} else {
				chain = concatLineStrings(reverseLineString(lj)[:len(lj)-1], chain)
			}
		}
		merged = append(merged, chain)
	}
	return merged
}

func reverseLineString(ls orb.LineString) orb.LineString {
	out := make(orb.LineString, len(ls))
	for i, p := range ls {
		out[len(ls)-1-i] = p
	}
	return out
}

func concatLineStrings(a, b orb.LineString) orb.LineString {
	out := make(orb.LineString, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}

func lineLength(ls orb.LineString) float64 {
	var total float64
	for i := 1; i < len(ls); i++ {
		total += math.Hypot(ls[i].X()-ls[i-1].X(), ls[i].Y()-ls[i-1].Y())
	}
	return total
}

// liangBarskyClip clips the segment (p0, p1) to the axis-aligned
// rectangle b, returning the clipped endpoints and whether any part of
// the segment survives.
func liangBarskyClip(p0, p1 orb.Point, b orb.Bound) (orb.Point, orb.Point, bool) {
	dx := p1.X() - p0.X()
	dy := p1.Y() - p0.Y()
	tMin, tMax := 0.0, 1.0

	clipTest := func(pEdge, qEdge float64) bool {
		if pEdge == 0 {
			return qEdge >= 0
		}
		r := qEdge / pEdge
		if pEdge < 0 {
			if r > tMax {
				return false
			}
			if r > tMin {
				tMin = r
			}
		} else {
			if r < tMin {
				return false
			}
			if r < tMax {
				tMax = r
			}
		}
		return true
	}

	if !clipTest(-dx, p0.X()-b.Min.X()) {
		return orb.Point{}, orb.Point{}, false
	}
	if !clipTest(dx, b.Max.X()-p0.X()) {
		return orb.Point{}, orb.Point{}, false
	}
	if !clipTest(-dy, p0.Y()-b.Min.Y()) {
		return orb.Point{}, orb.Point{}, false
	}
	if !clipTest(dy, b.Max.Y()-p0.Y()) {
		return orb.Point{}, orb.Point{}, false
	}

	start := orb.Point{p0.X() + tMin*dx, p0.Y() + tMin*dy}
	end := orb.Point{p0.X() + tMax*dx, p0.Y() + tMax*dy}
	return start, end, true
}

// clipPolyline implements §4.F step 5: a segment is kept when its
// envelope intersects the clip window, or when at most one consecutive
// segment has failed that test (the one-segment hysteresis preserved
// exactly per §9's open question). A kept segment that crosses out of the
// window is truncated to the boundary crossing; a kept segment lying
// wholly outside the window keeps its far endpoint as-is. A run is
// flushed as its own output polyline once two consecutive segments fail
// the envelope test.
func clipPolyline(pts []orb.Point, clipBound orb.Bound) []orb.LineString {
	if len(pts) < 2 {
		return nil
	}

	var out []orb.LineString
	var cur []orb.Point
	outStreak := 0

	flush := func() {
		if len(cur) > 1 {
			out = append(out, orb.LineString(append([]orb.Point{}, cur...)))
		}
		cur = nil
	}

	for i := 0; i < len(pts)-1; i++ {
		a, b := pts[i], pts[i+1]
		eb := orb.Bound{Min: a, Max: a}.Union(orb.Bound{Min: b, Max: b})
		intersects := eb.Intersects(clipBound)
		if intersects {
			outStreak = 0
		} else {
			outStreak++
			if outStreak >= 2 {
				flush()
				continue
			}
		}

		if len(cur) == 0 {
			cur = append(cur, a)
		}
		if clipBound.Contains(b) {
			cur = append(cur, b)
			continue
		}
		if _, end, ok := liangBarskyClip(a, b, clipBound); ok {
			cur = append(cur, end)
		} else {
			cur = append(cur, b)
		}
	}
	flush()
	return out
}
