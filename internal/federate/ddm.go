package federate

import (
	"slices"

	"github.com/signalsfoundry/rti/core"
	"github.com/signalsfoundry/rti/message"
	"github.com/signalsfoundry/rti/model"
)

// regionView is a region the federate created. Range changes collect in
// pending until they are committed.
type regionView struct {
	handle     model.RegionHandle
	dimensions []model.DimensionHandle
	pending    core.Region
	committed  core.Region
}

// CreateRegion creates a region over dims, spanning each dimension's
// whole extent until ranges are set and committed.
func (f *Federate[T, I]) CreateRegion(dims []model.DimensionHandle) (model.RegionHandle, error) {
	if err := f.active(); err != nil {
		return 0, err
	}
	bounds := make(map[model.DimensionHandle]core.RangeBounds, len(dims))
	for _, d := range dims {
		dim, ok := f.om.Dimension(d)
		if !ok {
			return 0, model.Errorf(model.InvalidDimensionHandle, "dimension %d", d)
		}
		bounds[d] = core.NewRange(0, dim.UpperBound)
	}
	if f.regionSerial == model.MaxSerial {
		return 0, model.Errorf(model.RTIinternalError, "region handles exhausted")
	}
	f.regionSerial++
	h := model.NewRegionHandle(f.handle, f.regionSerial)
	r := core.NewRegion(bounds)
	f.regions[h] = &regionView{
		handle:     h,
		dimensions: slices.Clone(dims),
		pending:    r,
		committed:  r.Clone(),
	}
	return h, nil
}

func (f *Federate[T, I]) ownRegion(h model.RegionHandle) (*regionView, error) {
	if h.Federate() != f.handle {
		return nil, model.Errorf(model.RegionNotCreatedByThisFederate, "region %s", h)
	}
	r, ok := f.regions[h]
	if !ok {
		return nil, model.Errorf(model.InvalidRegion, "region %s", h)
	}
	return r, nil
}

// SetRangeBounds changes one dimension of a region. The change applies
// once CommitRegionModifications is called.
func (f *Federate[T, I]) SetRangeBounds(h model.RegionHandle, dim model.DimensionHandle, bounds core.RangeBounds) error {
	if err := f.active(); err != nil {
		return err
	}
	r, err := f.ownRegion(h)
	if err != nil {
		return err
	}
	if !slices.Contains(r.dimensions, dim) {
		return model.Errorf(model.InvalidDimensionHandle, "dimension %d not in region %s", dim, h)
	}
	d, _ := f.om.Dimension(dim)
	if bounds.Upper < bounds.Lower || bounds.Upper > d.UpperBound {
		return model.Errorf(model.InvalidRangeBound, "range %s outside [0, %d)", bounds, d.UpperBound)
	}
	r.pending[dim] = bounds
	return nil
}

// GetRangeBounds returns the pending range of one dimension.
func (f *Federate[T, I]) GetRangeBounds(h model.RegionHandle, dim model.DimensionHandle) (core.RangeBounds, error) {
	r, err := f.ownRegion(h)
	if err != nil {
		return core.RangeBounds{}, err
	}
	if !slices.Contains(r.dimensions, dim) {
		return core.RangeBounds{}, model.Errorf(model.InvalidDimensionHandle, "dimension %d not in region %s", dim, h)
	}
	return r.pending.Bounds(dim), nil
}

// CommitRegionModifications publishes the pending ranges of regions.
func (f *Federate[T, I]) CommitRegionModifications(regions []model.RegionHandle) error {
	if err := f.active(); err != nil {
		return err
	}
	entries := make([]core.RegionEntry, 0, len(regions))
	for _, h := range regions {
		r, err := f.ownRegion(h)
		if err != nil {
			return err
		}
		entries = append(entries, core.RegionEntry{Handle: h, Region: r.pending.Clone()})
	}
	if err := f.send(&message.CommitRegion{Header: f.header(), Regions: entries}); err != nil {
		return err
	}
	for _, e := range entries {
		f.regions[e.Handle].committed = e.Region
	}
	return nil
}

// DeleteRegion removes a region no subscription or update association
// uses.
func (f *Federate[T, I]) DeleteRegion(h model.RegionHandle) error {
	if err := f.active(); err != nil {
		return err
	}
	if _, err := f.ownRegion(h); err != nil {
		return err
	}
	if f.regionInUse(h) {
		return model.Errorf(model.RegionInUseForUpdateOrSubscription, "region %s", h)
	}
	if err := f.send(&message.EraseRegion{Header: f.header(), Regions: []model.RegionHandle{h}}); err != nil {
		return err
	}
	delete(f.regions, h)
	return nil
}

func (f *Federate[T, I]) regionInUse(h model.RegionHandle) bool {
	for _, sub := range f.objectSubs {
		if _, ok := sub.regions[h]; ok {
			return true
		}
	}
	for _, sub := range f.interactionSubs {
		if _, ok := sub.regions[h]; ok {
			return true
		}
	}
	for _, obj := range f.objects {
		for _, rs := range obj.updateRegions {
			if _, ok := rs[h]; ok {
				return true
			}
		}
	}
	return false
}

// AssociateRegionsForUpdates tags future updates of attrs with regions.
func (f *Federate[T, I]) AssociateRegionsForUpdates(object model.ObjectInstanceHandle, attrs []model.AttributeHandle, regions []model.RegionHandle) error {
	if err := f.active(); err != nil {
		return err
	}
	obj, err := f.knownObject(object)
	if err != nil {
		return err
	}
	if err := f.checkObjectClass(obj.class, attrs); err != nil {
		return err
	}
	for _, h := range regions {
		if _, err := f.ownRegion(h); err != nil {
			return err
		}
	}
	for _, a := range attrs {
		rs, ok := obj.updateRegions[a]
		if !ok {
			rs = make(map[model.RegionHandle]struct{})
			obj.updateRegions[a] = rs
		}
		for _, h := range regions {
			rs[h] = struct{}{}
		}
	}
	return nil
}

// UnassociateRegionsForUpdates removes regions from updates of attrs.
func (f *Federate[T, I]) UnassociateRegionsForUpdates(object model.ObjectInstanceHandle, attrs []model.AttributeHandle, regions []model.RegionHandle) error {
	if err := f.active(); err != nil {
		return err
	}
	obj, err := f.knownObject(object)
	if err != nil {
		return err
	}
	if err := f.checkObjectClass(obj.class, attrs); err != nil {
		return err
	}
	for _, a := range attrs {
		for _, h := range regions {
			delete(obj.updateRegions[a], h)
		}
		if len(obj.updateRegions[a]) == 0 {
			delete(obj.updateRegions, a)
		}
	}
	return nil
}

// updateRegions collects the committed regions associated with any of
// values. No association means the whole routing space.
func (f *Federate[T, I]) updateRegions(obj *objectView, values []message.AttributeValue) []core.Region {
	seen := make(map[model.RegionHandle]struct{})
	var out []core.Region
	for _, v := range values {
		for h := range obj.updateRegions[v.Handle] {
			if _, dup := seen[h]; dup {
				continue
			}
			seen[h] = struct{}{}
			if r, ok := f.regions[h]; ok {
				out = append(out, r.committed.Clone())
			}
		}
	}
	return out
}

// interactionRegions resolves the committed extents for an interaction.
func (f *Federate[T, I]) interactionRegions(regions []model.RegionHandle) ([]core.Region, error) {
	out := make([]core.Region, 0, len(regions))
	for _, h := range regions {
		r, err := f.ownRegion(h)
		if err != nil {
			return nil, err
		}
		out = append(out, r.committed.Clone())
	}
	return out, nil
}
