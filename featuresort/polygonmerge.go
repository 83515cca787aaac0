package featuresort

import (
	"errors"
	"math"
	"sort"

	"github.com/paulmach/orb"
)

// PolygonMergeParams carries the tunables named in §4.G: minArea, minDist
// and buffer.
type PolygonMergeParams struct {
	MinArea float64
	MinDist float64
	Buffer  float64
}

// PostProcessPolygons implements §4.G over a full layer's feature list:
// only GeomPolygon features participate, grouped by attribute equivalence;
// every other geometry type passes through untouched.
func PostProcessPolygons(features []DecodedFeature, params PolygonMergeParams, stats Stats) ([]DecodedFeature, error) {
	if stats == nil {
		stats = NoopStats{}
	}

	var polys, other []DecodedFeature
	for _, f := range features {
		if f.GeomType == GeomPolygon {
			polys = append(polys, f)
		} else {
			other = append(other, f)
		}
	}

	out := append([]DecodedFeature{}, other...)
	for _, group := range attributeEquivalenceGroups(polys) {
		merged, err := mergePolygonGroup(group, params)
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

func mergePolygonGroup(features []DecodedFeature, params PolygonMergeParams) ([]DecodedFeature, error) {
	if len(features) == 0 {
		return nil, nil
	}

	polys := make([]orb.Polygon, len(features))
	bounds := make([]orb.Bound, len(features))
	for i, f := range features {
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			polys[i] = g
		case orb.MultiPolygon:
			if len(g) == 0 {
				return nil, recoverablef("polygon_merge_bad_geometry", "feature %d has an empty multipolygon", i)
			}
			polys[i] = g[0]
		default:
			return nil, recoverablef("polygon_merge_bad_geometry", "feature %d has unsupported geometry %T", i, f.Geometry)
		}
		if len(polys[i]) == 0 {
			return nil, recoverablef("polygon_merge_bad_geometry", "feature %d has no exterior ring", i)
		}
		bounds[i] = polys[i].Bound()
	}

	// §4.G step 1: STR-tree on envelopes expanded by minDist.
	tree := newRTree()
	for i, b := range bounds {
		tree.Insert(expand(b, params.MinDist), i)
	}

	adj := make([][]int, len(polys))
	for i := range polys {
		for _, j := range tree.Query(expand(bounds[i], params.MinDist)) {
			if j <= i {
				continue
			}
			if isWithinDistance(polys[i], polys[j], params.MinDist) {
				adj[i] = append(adj[i], j)
				adj[j] = append(adj[j], i)
			}
		}
	}

	var out []orb.Polygon
	for _, comp := range connectedComponents(adj) {
		if len(comp) == 1 {
			p := polys[comp[0]]
			if math.Abs(ringArea(p[0])) >= params.MinArea {
				out = append(out, p)
			}
			continue
		}

		merged, err := closePolygonComponent(polys, comp, params.Buffer)
		if err != nil {
			return nil, err
		}
		if merged != nil && math.Abs(ringArea(merged[0])) >= params.MinArea {
			out = append(out, merged)
		}
	}

	if len(out) == 0 {
		return nil, nil
	}

	result := features[0]
	result.GeomType = GeomPolygon
	if len(out) == 1 {
		result.Geometry = out[0]
	} else {
		result.Geometry = orb.MultiPolygon(out)
	}
	return []DecodedFeature{result}, nil
}

// connectedComponents computes connected components of an undirected
// adjacency list with an explicit stack, never recursion: fully-connected
// landcover tiles can have thousands of polygons (§4.G step 3, §9).
func connectedComponents(adj [][]int) [][]int {
	visited := make([]bool, len(adj))
	var components [][]int
	for i := range adj {
		if visited[i] {
			continue
		}
		var comp []int
		stack := []int{i}
		visited[i] = true
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			comp = append(comp, cur)
			for _, nb := range adj[cur] {
				if !visited[nb] {
					visited[nb] = true
					stack = append(stack, nb)
				}
			}
		}
		sort.Ints(comp)
		components = append(components, comp)
	}
	return components
}

// isWithinDistance reports whether the exterior rings of a and b come
// within maxDist of each other, short-circuiting on overlapping envelopes.
func isWithinDistance(a, b orb.Polygon, maxDist float64) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	if a.Bound().Intersects(b.Bound()) {
		return true
	}
	return ringToRingDistSq(a[0], b[0]) <= maxDist*maxDist
}

func ringToRingDistSq(a, b orb.Ring) float64 {
	min := math.Inf(1)
	na, nb := len(a), len(b)
	for i := 0; i < na; i++ {
		a1, a2 := a[i], a[(i+1)%na]
		for j := 0; j < nb; j++ {
			b1, b2 := b[j], b[(j+1)%nb]
			if d := segToSegDistSq(a1, a2, b1, b2); d < min {
				min = d
			}
		}
	}
	return min
}

func segToSegDistSq(a1, a2, b1, b2 orb.Point) float64 {
	min := pointToSegDistSq(a1, b1, b2)
	if d := pointToSegDistSq(a2, b1, b2); d < min {
		min = d
	}
	if d := pointToSegDistSq(b1, a1, a2); d < min {
		min = d
	}
	if d := pointToSegDistSq(b2, a1, a2); d < min {
		min = d
	}
	return min
}

func pointToSegDistSq(p, a, b orb.Point) float64 {
	dx, dy := b.X()-a.X(), b.Y()-a.Y()
	if dx == 0 && dy == 0 {
		return distSq(p, a)
	}
	t := ((p.X()-a.X())*dx + (p.Y()-a.Y())*dy) / (dx*dx + dy*dy)
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	proj := orb.Point{a.X() + t*dx, a.Y() + t*dy}
	return distSq(p, proj)
}

// closePolygonComponent implements §4.G step 4's morphological closing:
// buffer(+buffer) every exterior ring, take their convex hull as the
// merged shape (this module has no polygon-clipping backend, so union is
// approximated by a hull over the buffered boundaries — see DESIGN.md),
// then buffer(-buffer) only when buffer > 0, preserving the documented
// asymmetry from §9's second open question exactly.
func closePolygonComponent(polys []orb.Polygon, comp []int, buffer float64) (orb.Polygon, error) {
	var pts []orb.Point
	for _, idx := range comp {
		ring := polys[idx][0]
		if buffer != 0 {
			ring = bufferRing(ring, buffer)
		}
		pts = append(pts, []orb.Point(ring)...)
	}

	hull := convexHull(pts)
	if len(hull) < 4 {
		return nil, recoverablef("polygon_merge_collapsed", "merged component collapsed to fewer than 4 points")
	}

	if buffer > 0 {
		hull = bufferRing(hull, -buffer)
		if len(hull) < 4 {
			return nil, recoverablef("polygon_merge_collapsed", "merged component collapsed to fewer than 4 points after unbuffer")
		}
	}

	return orb.Polygon{hull}, nil
}

// bufferRing offsets every vertex of ring outward by d along its mitred
// corner bisector (§6 "buffer(distance, mitre)"). Negative d produces an
// inward offset. The ring is assumed to be CCW-wound (positive signed
// area), the convention this package's polygon decoding uses to tell
// exterior rings from holes; the orientation is not checked here.
func bufferRing(ring orb.Ring, d float64) orb.Ring {
	pts := []orb.Point(ring)
	if len(pts) > 1 && pts[0] == pts[len(pts)-1] {
		pts = pts[:len(pts)-1]
	}
	n := len(pts)
	if n < 3 {
		return ring
	}

	out := make(orb.Ring, 0, n+1)
	for i := 0; i < n; i++ {
		prev := pts[(i-1+n)%n]
		cur := pts[i]
		next := pts[(i+1)%n]
		out = append(out, mitreOffset(prev, cur, next, d))
	}
	out = append(out, out[0])
	return out
}

const mitreLimit = 4.0

func mitreOffset(prev, cur, next orb.Point, d float64) orb.Point {
	n1 := edgeNormal(prev, cur)
	n2 := edgeNormal(cur, next)
	bx, by := n1.X()+n2.X(), n1.Y()+n2.Y()
	blen := math.Hypot(bx, by)
	if blen < 1e-12 {
		return orb.Point{cur.X() + n1.X()*d, cur.Y() + n1.Y()*d}
	}
	bx, by = bx/blen, by/blen

	cosHalf := bx*n1.X() + by*n1.Y()
	if cosHalf < 1e-6 {
		cosHalf = 1e-6
	}
	mlen := d / cosHalf
	if math.Abs(mlen) > math.Abs(d)*mitreLimit {
		mlen = math.Copysign(math.Abs(d)*mitreLimit, mlen)
	}
	return orb.Point{cur.X() + bx*mlen, cur.Y() + by*mlen}
}

// edgeNormal returns the outward unit normal of the directed edge a->b for
// a CCW ring (a 90-degree clockwise rotation of the edge direction).
func edgeNormal(a, b orb.Point) orb.Point {
	dx, dy := b.X()-a.X(), b.Y()-a.Y()
	length := math.Hypot(dx, dy)
	if length == 0 {
		return orb.Point{}
	}
	return orb.Point{dy / length, -dx / length}
}

// convexHull computes the convex hull of points via Andrew's monotone
// chain, returning a closed CCW ring.
func convexHull(points []orb.Point) orb.Ring {
	pts := append([]orb.Point(nil), points...)
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].X() != pts[j].X() {
			return pts[i].X() < pts[j].X()
		}
		return pts[i].Y() < pts[j].Y()
	})
	pts = dedupeSortedPoints(pts)
	n := len(pts)
	if n < 3 {
		return orb.Ring(pts)
	}

	cross := func(o, a, b orb.Point) float64 {
		return (a.X()-o.X())*(b.Y()-o.Y()) - (a.Y()-o.Y())*(b.X()-o.X())
	}

	lower := make([]orb.Point, 0, n)
	for _, p := range pts {
		for len(lower) >= 2 && cross(lower[len(lower)-2], lower[len(lower)-1], p) <= 0 {
			lower = lower[:len(lower)-1]
		}
		lower = append(lower, p)
	}
	upper := make([]orb.Point, 0, n)
	for i := n - 1; i >= 0; i-- {
		p := pts[i]
		for len(upper) >= 2 && cross(upper[len(upper)-2], upper[len(upper)-1], p) <= 0 {
			upper = upper[:len(upper)-1]
		}
		upper = append(upper, p)
	}

	hull := append(lower[:len(lower)-1], upper[:len(upper)-1]...)
	hull = append(hull, hull[0])
	return orb.Ring(hull)
}

func dedupeSortedPoints(pts []orb.Point) []orb.Point {
	out := pts[:0]
	for i, p := range pts {
		if i == 0 || p != pts[i-1] {
			out = append(out, p)
		}
	}
	return out
}
