package core

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/signalsfoundry/rti/model"
)

// RangeBounds is a half-open interval [Lower, Upper) on one dimension.
type RangeBounds struct {
	Lower uint64
	Upper uint64
}

// WholeRange spans an entire dimension. A dimension a region does not
// mention behaves as if it carried WholeRange.
var WholeRange = RangeBounds{Lower: 0, Upper: math.MaxUint64}

// NewRange returns [lower, upper).
func NewRange(lower, upper uint64) RangeBounds {
	return RangeBounds{Lower: lower, Upper: upper}
}

// Empty reports whether the range contains no point.
func (r RangeBounds) Empty() bool { return r.Upper <= r.Lower }

// Whole reports whether the range is the whole-dimension sentinel.
func (r RangeBounds) Whole() bool { return r == WholeRange }

// Intersects reports whether the two half-open ranges share a point.
// An empty range intersects nothing, itself included.
func (r RangeBounds) Intersects(o RangeBounds) bool {
	return r.Lower < o.Upper && o.Lower < r.Upper
}

// Union returns the smallest range covering both. Empty operands do not
// contribute.
func (r RangeBounds) Union(o RangeBounds) RangeBounds {
	if r.Empty() {
		return o
	}
	if o.Empty() {
		return r
	}
	return RangeBounds{Lower: min(r.Lower, o.Lower), Upper: max(r.Upper, o.Upper)}
}

func (r RangeBounds) String() string {
	if r.Whole() {
		return "[whole)"
	}
	return fmt.Sprintf("[%d,%d)", r.Lower, r.Upper)
}

// Region is an axis-aligned volume keyed by dimension. Regions are values:
// callers that want to keep a region must not mutate the map afterwards.
type Region map[model.DimensionHandle]RangeBounds

// NewRegion copies bounds into a fresh region.
func NewRegion(bounds map[model.DimensionHandle]RangeBounds) Region {
	r := make(Region, len(bounds))
	for d, b := range bounds {
		r[d] = b
	}
	return r
}

// Clone returns an independent copy.
func (r Region) Clone() Region {
	if r == nil {
		return nil
	}
	out := make(Region, len(r))
	for d, b := range r {
		out[d] = b
	}
	return out
}

// Bounds returns the range on dimension d, WholeRange when unconstrained.
func (r Region) Bounds(d model.DimensionHandle) RangeBounds {
	if b, ok := r[d]; ok {
		return b
	}
	return WholeRange
}

// Empty reports whether some dimension carries an empty range.
func (r Region) Empty() bool {
	for _, b := range r {
		if b.Empty() {
			return true
		}
	}
	return false
}

// Intersects reports whether the regions overlap on every dimension they
// share. Dimensions present in only one region do not constrain. An empty
// region intersects nothing.
func (r Region) Intersects(o Region) bool {
	if r.Empty() || o.Empty() {
		return false
	}
	small, large := r, o
	if len(small) > len(large) {
		small, large = large, small
	}
	for d, b := range small {
		ob, ok := large[d]
		if !ok {
			continue
		}
		if !b.Intersects(ob) {
			return false
		}
	}
	return true
}

// Union returns the bounding region of r and o. A dimension missing from
// either side is unconstrained in the result. Empty regions do not
// contribute.
func (r Region) Union(o Region) Region {
	if r.Empty() {
		return o.Clone()
	}
	if o.Empty() {
		return r.Clone()
	}
	out := make(Region, min(len(r), len(o)))
	for d, b := range r {
		ob, ok := o[d]
		if !ok {
			continue
		}
		u := b.Union(ob)
		if u.Whole() {
			continue
		}
		out[d] = u
	}
	return out
}

// Equal reports whether both regions describe the same volume, treating a
// missing dimension and an explicit WholeRange as equal.
func (r Region) Equal(o Region) bool {
	for d, b := range r {
		if o.Bounds(d) != b {
			return false
		}
	}
	for d, b := range o {
		if r.Bounds(d) != b {
			return false
		}
	}
	return true
}

func (r Region) String() string {
	dims := make([]model.DimensionHandle, 0, len(r))
	for d := range r {
		dims = append(dims, d)
	}
	sort.Slice(dims, func(i, j int) bool { return dims[i] < dims[j] })
	parts := make([]string, 0, len(dims))
	for _, d := range dims {
		parts = append(parts, fmt.Sprintf("%d:%s", uint64(d), r[d]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// RegionEntry pairs a region handle with its committed extent. It is the
// unit in which regions travel between federates and server nodes.
type RegionEntry struct {
	Handle model.RegionHandle
	Region Region
}
