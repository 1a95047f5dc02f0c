package core

import (
	"sort"

	"github.com/signalsfoundry/rti/model"
)

// RegionSet holds the regions attached to one subscription or one update
// association, indexed by a bounding-volume binary tree. Every internal
// node carries the union of its children's regions, so intersection tests
// prune whole subtrees whose bound misses the query.
//
// The tree is balanced by leaf count: inserts descend into the lighter
// child, which keeps the height logarithmic for insert-mostly workloads.
// RegionSet is not safe for concurrent use.
type RegionSet struct {
	root   *bvhNode
	leaves map[model.RegionHandle]*bvhNode
}

type bvhNode struct {
	parent      *bvhNode
	left, right *bvhNode
	bound       Region
	count       int

	// handle is only meaningful on leaves.
	handle model.RegionHandle
}

func (n *bvhNode) leaf() bool { return n.left == nil }

// NewRegionSet returns an empty set.
func NewRegionSet() *RegionSet {
	return &RegionSet{leaves: make(map[model.RegionHandle]*bvhNode)}
}

// RegionSetOf builds a set from entries.
func RegionSetOf(entries ...RegionEntry) *RegionSet {
	s := NewRegionSet()
	for _, e := range entries {
		s.Insert(e.Handle, e.Region)
	}
	return s
}

// Len returns the number of regions in the set.
func (s *RegionSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.leaves)
}

// Empty reports whether the set holds no region.
func (s *RegionSet) Empty() bool { return s.Len() == 0 }

// Contains reports whether handle is in the set.
func (s *RegionSet) Contains(handle model.RegionHandle) bool {
	if s == nil {
		return false
	}
	_, ok := s.leaves[handle]
	return ok
}

// Get returns the region stored under handle.
func (s *RegionSet) Get(handle model.RegionHandle) (Region, bool) {
	if s == nil {
		return nil, false
	}
	n, ok := s.leaves[handle]
	if !ok {
		return nil, false
	}
	return n.bound, true
}

// Handles returns the handles in ascending order.
func (s *RegionSet) Handles() []model.RegionHandle {
	if s == nil {
		return nil
	}
	out := make([]model.RegionHandle, 0, len(s.leaves))
	for h := range s.leaves {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Entries returns the stored regions ordered by handle.
func (s *RegionSet) Entries() []RegionEntry {
	handles := s.Handles()
	out := make([]RegionEntry, 0, len(handles))
	for _, h := range handles {
		out = append(out, RegionEntry{Handle: h, Region: s.leaves[h].bound})
	}
	return out
}

// Bound returns the bounding region of the whole set, nil when empty.
func (s *RegionSet) Bound() Region {
	if s == nil || s.root == nil {
		return nil
	}
	return s.root.bound
}

// Insert adds region under handle, replacing any previous extent.
func (s *RegionSet) Insert(handle model.RegionHandle, region Region) {
	if _, ok := s.leaves[handle]; ok {
		s.Erase(handle)
	}
	leaf := &bvhNode{bound: region.Clone(), count: 1, handle: handle}
	s.leaves[handle] = leaf

	if s.root == nil {
		s.root = leaf
		return
	}

	at := s.root
	for !at.leaf() {
		at = pickChild(at, leaf.bound)
	}

	joint := &bvhNode{parent: at.parent, left: at, right: leaf}
	s.replaceChild(at.parent, at, joint)
	at.parent = joint
	leaf.parent = joint
	refit(joint)
}

// pickChild chooses the lighter child, breaking ties toward the child
// whose bound already covers the new region.
func pickChild(n *bvhNode, r Region) *bvhNode {
	switch {
	case n.left.count < n.right.count:
		return n.left
	case n.right.count < n.left.count:
		return n.right
	}
	if n.right.bound.Union(r).Equal(n.right.bound) && !n.left.bound.Union(r).Equal(n.left.bound) {
		return n.right
	}
	return n.left
}

// Erase removes handle from the set. Unknown handles are ignored.
func (s *RegionSet) Erase(handle model.RegionHandle) {
	leaf, ok := s.leaves[handle]
	if !ok {
		return
	}
	delete(s.leaves, handle)

	parent := leaf.parent
	if parent == nil {
		s.root = nil
		return
	}
	sibling := parent.left
	if sibling == leaf {
		sibling = parent.right
	}
	sibling.parent = parent.parent
	s.replaceChild(parent.parent, parent, sibling)
	if sibling.parent != nil {
		refit(sibling.parent)
	}
}

// EraseFederate removes every region in the handle slice of federate.
func (s *RegionSet) EraseFederate(federate model.FederateHandle) int {
	lo, hi := model.FederateSlice(federate)
	var doomed []model.RegionHandle
	for h := range s.leaves {
		if uint64(h) >= lo && uint64(h) < hi {
			doomed = append(doomed, h)
		}
	}
	for _, h := range doomed {
		s.Erase(h)
	}
	return len(doomed)
}

// IntersectsRegion reports whether some region of the set overlaps r.
func (s *RegionSet) IntersectsRegion(r Region) bool {
	if s.Empty() {
		return false
	}
	return intersectsRegion(s.root, r)
}

// Intersects reports whether some region of s overlaps some region of
// other. An empty set intersects nothing.
func (s *RegionSet) Intersects(other *RegionSet) bool {
	if s.Empty() || other.Empty() {
		return false
	}
	return intersectNodes(s.root, other.root)
}

func intersectsRegion(n *bvhNode, r Region) bool {
	if !n.bound.Intersects(r) {
		return false
	}
	if n.leaf() {
		return true
	}
	return intersectsRegion(n.left, r) || intersectsRegion(n.right, r)
}

func intersectNodes(a, b *bvhNode) bool {
	if !a.bound.Intersects(b.bound) {
		return false
	}
	if a.leaf() && b.leaf() {
		return true
	}
	// Split the heavier side so both trees shrink at a similar pace.
	if a.leaf() || (!b.leaf() && b.count > a.count) {
		return intersectNodes(a, b.left) || intersectNodes(a, b.right)
	}
	return intersectNodes(a.left, b) || intersectNodes(a.right, b)
}

func (s *RegionSet) replaceChild(parent, old, repl *bvhNode) {
	if parent == nil {
		s.root = repl
		return
	}
	if parent.left == old {
		parent.left = repl
	} else {
		parent.right = repl
	}
}

func refit(n *bvhNode) {
	for ; n != nil; n = n.parent {
		n.bound = n.left.bound.Union(n.right.bound)
		n.count = n.left.count + n.right.count
	}
}
