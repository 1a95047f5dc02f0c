package core

import (
	"math"
	"testing"

	"github.com/signalsfoundry/rti/model"
)

const (
	dimX model.DimensionHandle = 1
	dimY model.DimensionHandle = 2
)

func TestRangeBoundsSelfIntersectionMatchesEmptiness(t *testing.T) {
	cases := []RangeBounds{
		NewRange(0, 1),
		NewRange(5, 5),
		NewRange(10, 3),
		NewRange(0, math.MaxUint64),
		NewRange(math.MaxUint64-1, math.MaxUint64),
		WholeRange,
		{},
	}
	for _, r := range cases {
		if got, want := r.Intersects(r), !r.Empty(); got != want {
			t.Fatalf("%s.Intersects(self) = %v, want %v", r, got, want)
		}
	}
}

func TestRangeBoundsHalfOpen(t *testing.T) {
	a := NewRange(0, 10)
	b := NewRange(10, 20)
	if a.Intersects(b) || b.Intersects(a) {
		t.Fatalf("adjacent half-open ranges must not intersect")
	}
	c := NewRange(9, 11)
	if !a.Intersects(c) || !c.Intersects(b) {
		t.Fatalf("expected %s to overlap both neighbours", c)
	}
}

func TestRangeBoundsUnion(t *testing.T) {
	got := NewRange(5, 8).Union(NewRange(1, 3))
	if got != NewRange(1, 8) {
		t.Fatalf("union = %s, want [1,8)", got)
	}
	if got := NewRange(4, 4).Union(NewRange(1, 3)); got != NewRange(1, 3) {
		t.Fatalf("empty operand contributed: %s", got)
	}
}

func TestRegionIntersectsIsSymmetric(t *testing.T) {
	regions := []Region{
		nil,
		{},
		{dimX: NewRange(0, 10)},
		{dimX: NewRange(20, 30)},
		{dimX: NewRange(5, 15), dimY: NewRange(0, 1)},
		{dimY: NewRange(1, 2)},
		{dimX: NewRange(3, 3)},
		{dimX: WholeRange, dimY: WholeRange},
	}
	for i, a := range regions {
		for j, b := range regions {
			if a.Intersects(b) != b.Intersects(a) {
				t.Fatalf("asymmetric intersection between #%d %s and #%d %s", i, a, j, b)
			}
		}
	}
}

func TestRegionUnsharedDimensionDoesNotConstrain(t *testing.T) {
	a := Region{dimX: NewRange(0, 10)}
	b := Region{dimY: NewRange(100, 200)}
	if !a.Intersects(b) {
		t.Fatalf("regions on disjoint dimensions should overlap")
	}
	whole := Region{}
	if !whole.Intersects(a) {
		t.Fatalf("unconstrained region should overlap %s", a)
	}
}

func TestRegionEmptyIntersectsNothing(t *testing.T) {
	empty := Region{dimX: NewRange(4, 4)}
	if empty.Intersects(Region{}) || empty.Intersects(empty) {
		t.Fatalf("empty region must intersect nothing")
	}
}

func TestRegionDDMFiltering(t *testing.T) {
	subscriber := Region{dimX: NewRange(0, 10)}
	if subscriber.Intersects(Region{dimX: NewRange(20, 30)}) {
		t.Fatalf("[0,10) must not match [20,30)")
	}
	if !subscriber.Intersects(Region{dimX: NewRange(5, 15)}) {
		t.Fatalf("[0,10) must match [5,15)")
	}
}

func TestRegionUnionDropsUnsharedDimensions(t *testing.T) {
	a := Region{dimX: NewRange(0, 10), dimY: NewRange(0, 1)}
	b := Region{dimX: NewRange(20, 30)}
	got := a.Union(b)
	want := Region{dimX: NewRange(0, 30)}
	if !got.Equal(want) {
		t.Fatalf("union = %s, want %s", got, want)
	}
	if got.Bounds(dimY) != WholeRange {
		t.Fatalf("dimension missing on one side must be whole, got %s", got.Bounds(dimY))
	}
}

func TestRegionCloneIsIndependent(t *testing.T) {
	a := Region{dimX: NewRange(0, 10)}
	b := a.Clone()
	b[dimX] = NewRange(1, 2)
	if a[dimX] != NewRange(0, 10) {
		t.Fatalf("clone shares storage with original")
	}
}

func TestRegionEqualTreatsWholeAsAbsent(t *testing.T) {
	if !(Region{dimX: WholeRange}).Equal(Region{}) {
		t.Fatalf("explicit whole range should equal an absent dimension")
	}
}
