package featuresort

import "github.com/paulmach/orb"

// rtreeMaxItems bounds leaf fan-out before a quadratic split, the same
// default the reference spatial index uses for building-equipment
// proximity queries.
const rtreeMaxItems = 9

// rtreeItem is one indexed polygon envelope. Data is the index of the
// polygon/feature this envelope belongs to within the caller's slice.
type rtreeItem struct {
	bound orb.Bound
	data  int
}

type rtreeNode struct {
	bound    orb.Bound
	items    []rtreeItem
	children []*rtreeNode
	isLeaf   bool
}

// rtree is a minimal R-tree over orb.Bound envelopes, used by the
// polygon-proximity merge (§4.G) to avoid an O(n^2) all-pairs distance
// check across a tile's polygon features.
type rtree struct {
	root *rtreeNode
}

func newRTree() *rtree {
	return &rtree{root: &rtreeNode{isLeaf: true}}
}

// Insert adds one envelope, tagged with data, to the tree. A leaf split
// propagates up the root..leaf path, splitting an ancestor in turn
// whenever absorbing a new sibling overflows it, per the standard R-tree
// insert algorithm (_examples/arx-os-arxos/internal/core/spatial/rtree.go).
// Every ancestor's bound is refreshed on the way up, split or not:
// otherwise a plain (non-splitting) insert that enlarges a leaf's
// envelope would leave stale, too-small bounds on its ancestors, and
// Query's envelope-intersection pruning would silently skip it.
func (rt *rtree) Insert(bound orb.Bound, data int) {
	item := rtreeItem{bound: bound, data: data}
	path := rt.chooseLeafPath(item)
	leaf := path[len(path)-1]
	leaf.items = append(leaf.items, item)

	var split *rtreeNode
	if len(leaf.items) > rtreeMaxItems {
		split = rt.splitLeaf(leaf)
	} else {
		rt.adjustBounds(leaf)
	}
	rt.propagateUp(path, split)
}

// propagateUp walks path from the leaf's parent up to the root. At each
// level it either absorbs split (the sibling produced by splitting the
// level below) into that ancestor's children, splitting the ancestor in
// turn when it overflows, or — when there is nothing to absorb — simply
// recomputes the ancestor's bound from its (possibly now-larger) children.
// If a split survives past the root, a new root is created above it.
func (rt *rtree) propagateUp(path []*rtreeNode, split *rtreeNode) {
	for level := len(path) - 1; level > 0; level-- {
		parent := path[level-1]
		if split == nil {
			rt.adjustBounds(parent)
			continue
		}
		parent.children = append(parent.children, split)
		if len(parent.children) > rtreeMaxItems {
			split = rt.splitInternal(parent)
		} else {
			rt.adjustBounds(parent)
			split = nil
		}
	}
	if split != nil {
		newRoot := &rtreeNode{children: []*rtreeNode{rt.root, split}}
		rt.adjustBounds(newRoot)
		rt.root = newRoot
	}
}

// Query returns the data values of every item whose envelope intersects
// search.
func (rt *rtree) Query(search orb.Bound) []int {
	var results []int
	rt.searchNode(rt.root, search, &results)
	return results
}

// chooseLeafPath walks root to leaf, always descending into the child
// needing the least envelope enlargement to admit item, and returns the
// full root..leaf path so a split can be propagated back up it.
func (rt *rtree) chooseLeafPath(item rtreeItem) []*rtreeNode {
	path := []*rtreeNode{rt.root}
	node := rt.root
	for !node.isLeaf {
		minEnlargement := -1.0
		var best *rtreeNode
		for _, child := range node.children {
			e := enlargement(child.bound, item.bound)
			if best == nil || e < minEnlargement {
				minEnlargement = e
				best = child
			}
		}
		node = best
		path = append(path, node)
	}
	return path
}

// splitLeaf performs a quadratic-cost split of node's items (pick the two
// seeds that waste the most area if combined, then greedily assign the
// rest), the same algorithm the reference spatial index uses. node keeps
// one group in place; the other is returned as a new sibling leaf.
func (rt *rtree) splitLeaf(node *rtreeNode) *rtreeNode {
	bounds := make([]orb.Bound, len(node.items))
	for i, it := range node.items {
		bounds[i] = it.bound
	}
	seed1, seed2 := pickSeeds(bounds)

	group1 := []rtreeItem{node.items[seed1]}
	group2 := []rtreeItem{node.items[seed2]}
	bbox1 := node.items[seed1].bound
	bbox2 := node.items[seed2].bound

	for i, item := range node.items {
		if i == seed1 || i == seed2 {
			continue
		}
		e1 := enlargement(bbox1, item.bound)
		e2 := enlargement(bbox2, item.bound)
		if e1 <= e2 {
			group1 = append(group1, item)
			bbox1 = bbox1.Union(item.bound)
		} else {
			group2 = append(group2, item)
			bbox2 = bbox2.Union(item.bound)
		}
	}

	node.items = group1
	node.bound = bbox1
	return &rtreeNode{isLeaf: true, items: group2, bound: bbox2}
}

// splitInternal is splitLeaf's analogue for an overflowing internal node,
// partitioning its children instead of items.
func (rt *rtree) splitInternal(node *rtreeNode) *rtreeNode {
	bounds := make([]orb.Bound, len(node.children))
	for i, c := range node.children {
		bounds[i] = c.bound
	}
	seed1, seed2 := pickSeeds(bounds)

	group1 := []*rtreeNode{node.children[seed1]}
	group2 := []*rtreeNode{node.children[seed2]}
	bbox1 := node.children[seed1].bound
	bbox2 := node.children[seed2].bound

	for i, child := range node.children {
		if i == seed1 || i == seed2 {
			continue
		}
		e1 := enlargement(bbox1, child.bound)
		e2 := enlargement(bbox2, child.bound)
		if e1 <= e2 {
			group1 = append(group1, child)
			bbox1 = bbox1.Union(child.bound)
		} else {
			group2 = append(group2, child)
			bbox2 = bbox2.Union(child.bound)
		}
	}

	node.children = group1
	node.bound = bbox1
	return &rtreeNode{children: group2, bound: bbox2}
}

func pickSeeds(bounds []orb.Bound) (int, int) {
	maxWaste := -1.0
	seed1, seed2 := 0, 1
	for i := 0; i < len(bounds); i++ {
		for j := i + 1; j < len(bounds); j++ {
			combined := bounds[i].Union(bounds[j])
			waste := boundArea(combined) - boundArea(bounds[i]) - boundArea(bounds[j])
			if waste > maxWaste {
				maxWaste = waste
				seed1, seed2 = i, j
			}
		}
	}
	return seed1, seed2
}

func (rt *rtree) adjustBounds(node *rtreeNode) {
	if node.isLeaf {
		if len(node.items) == 0 {
			return
		}
		b := node.items[0].bound
		for _, it := range node.items[1:] {
			b = b.Union(it.bound)
		}
		node.bound = b
		return
	}
	if len(node.children) == 0 {
		return
	}
	b := node.children[0].bound
	for _, c := range node.children[1:] {
		b = b.Union(c.bound)
	}
	node.bound = b
}

func (rt *rtree) searchNode(node *rtreeNode, search orb.Bound, results *[]int) {
	if !node.bound.Intersects(search) && (len(node.items) > 0 || len(node.children) > 0) {
		return
	}
	if node.isLeaf {
		for _, it := range node.items {
			if it.bound.Intersects(search) {
				*results = append(*results, it.data)
			}
		}
		return
	}
	for _, child := range node.children {
		rt.searchNode(child, search, results)
	}
}

func enlargement(bound, other orb.Bound) float64 {
	return boundArea(bound.Union(other)) - boundArea(bound)
}

func boundArea(b orb.Bound) float64 {
	return (b.Max.X() - b.Min.X()) * (b.Max.Y() - b.Min.Y())
}

// expand returns b grown by d in every direction, used to build the
// minDist-expanded query envelope in §4.G step 1.
func expand(b orb.Bound, d float64) orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.Min.X() - d, b.Min.Y() - d},
		Max: orb.Point{b.Max.X() + d, b.Max.Y() + d},
	}
}
