package federate

import (
	"maps"
	"slices"

	"github.com/signalsfoundry/rti/core"
	"github.com/signalsfoundry/rti/message"
	"github.com/signalsfoundry/rti/model"
)

type attrSet map[model.AttributeHandle]struct{}

func setOf(attrs []model.AttributeHandle) attrSet {
	s := make(attrSet, len(attrs))
	for _, a := range attrs {
		s[a] = struct{}{}
	}
	return s
}

func (s attrSet) has(a model.AttributeHandle) bool {
	_, ok := s[a]
	return ok
}

func (s attrSet) sorted() []model.AttributeHandle { return slices.Sorted(maps.Keys(s)) }

// subscription mirrors what the server holds for one subscribed class.
type subscription struct {
	attrs       attrSet
	regionAttrs attrSet
	regions     map[model.RegionHandle]struct{}
	passive     bool
	unfiltered  bool
}

func newSubscription() *subscription {
	return &subscription{
		attrs:       make(attrSet),
		regionAttrs: make(attrSet),
		regions:     make(map[model.RegionHandle]struct{}),
	}
}

// wants reports whether values of attr are delivered for this class.
func (s *subscription) wants(attr model.AttributeHandle) bool {
	return s.attrs.has(attr) || (s.regionAttrs.has(attr) && len(s.regions) > 0)
}

func (s *subscription) empty() bool {
	return !s.unfiltered && len(s.attrs) == 0 && (len(s.regionAttrs) == 0 || len(s.regions) == 0)
}

func (f *Federate[T, I]) checkObjectClass(class model.ObjectClassHandle, attrs []model.AttributeHandle) error {
	if _, ok := f.om.ObjectClass(class); !ok {
		return model.Errorf(model.ObjectClassNotDefined, "object class %d", class)
	}
	for _, a := range attrs {
		if !f.om.HasAttribute(class, a) {
			return model.Errorf(model.AttributeNotDefined, "attribute %d of class %d", a, class)
		}
	}
	return nil
}

func (f *Federate[T, I]) checkInteractionClass(class model.InteractionClassHandle) error {
	if _, ok := f.om.InteractionClass(class); !ok {
		return model.Errorf(model.InteractionClassNotDefined, "interaction class %d", class)
	}
	return nil
}

// PublishObjectClassAttributes adds attrs to the federate's publication of
// class. The delete privilege is always published with any attribute.
func (f *Federate[T, I]) PublishObjectClassAttributes(class model.ObjectClassHandle, attrs []model.AttributeHandle) error {
	if err := f.active(); err != nil {
		return err
	}
	if err := f.checkObjectClass(class, attrs); err != nil {
		return err
	}
	attrs = append(slices.Clone(attrs), f.om.PrivilegeToDelete())
	if err := f.send(&message.PublishObjectClassAttributes{Header: f.header(), Class: class, Attributes: attrs}); err != nil {
		return err
	}
	pub, ok := f.objectPubs[class]
	if !ok {
		pub = make(attrSet)
		f.objectPubs[class] = pub
	}
	for _, a := range attrs {
		pub[a] = struct{}{}
	}
	return nil
}

// UnpublishObjectClassAttributes withdraws attrs, or the whole class when
// attrs is empty.
func (f *Federate[T, I]) UnpublishObjectClassAttributes(class model.ObjectClassHandle, attrs []model.AttributeHandle) error {
	if err := f.active(); err != nil {
		return err
	}
	if err := f.checkObjectClass(class, attrs); err != nil {
		return err
	}
	if err := f.send(&message.PublishObjectClassAttributes{Header: f.header(), Class: class, Attributes: attrs, Unpublish: true}); err != nil {
		return err
	}
	if len(attrs) == 0 {
		delete(f.objectPubs, class)
		return nil
	}
	for _, a := range attrs {
		delete(f.objectPubs[class], a)
	}
	if len(f.objectPubs[class]) == 0 {
		delete(f.objectPubs, class)
	}
	return nil
}

func (f *Federate[T, I]) PublishInteractionClass(class model.InteractionClassHandle) error {
	if err := f.active(); err != nil {
		return err
	}
	if err := f.checkInteractionClass(class); err != nil {
		return err
	}
	if err := f.send(&message.PublishInteractionClass{Header: f.header(), Class: class}); err != nil {
		return err
	}
	f.interactionPubs[class] = struct{}{}
	return nil
}

func (f *Federate[T, I]) UnpublishInteractionClass(class model.InteractionClassHandle) error {
	if err := f.active(); err != nil {
		return err
	}
	if err := f.checkInteractionClass(class); err != nil {
		return err
	}
	if err := f.send(&message.PublishInteractionClass{Header: f.header(), Class: class, Unpublish: true}); err != nil {
		return err
	}
	delete(f.interactionPubs, class)
	return nil
}

// publishes reports whether the federate publishes attr at class or one
// of its ancestors.
func (f *Federate[T, I]) publishes(class model.ObjectClassHandle, attr model.AttributeHandle) bool {
	for _, c := range f.om.ObjectClassAncestry(class) {
		if f.objectPubs[c].has(attr) {
			return true
		}
	}
	return false
}

// SubscribeObjectClassAttributes subscribes to attrs of class everywhere
// in the routing space. Objects already registered become discoverable.
func (f *Federate[T, I]) SubscribeObjectClassAttributes(class model.ObjectClassHandle, attrs []model.AttributeHandle, passive bool) error {
	return f.subscribeObject(class, attrs, nil, passive)
}

// SubscribeObjectClassAttributesWithRegions subscribes to attrs of class
// only where updates meet one of regions.
func (f *Federate[T, I]) SubscribeObjectClassAttributesWithRegions(class model.ObjectClassHandle, attrs []model.AttributeHandle, regions []model.RegionHandle, passive bool) error {
	if len(regions) == 0 {
		return model.Errorf(model.InvalidRegion, "no regions given")
	}
	return f.subscribeObject(class, attrs, regions, passive)
}

func (f *Federate[T, I]) subscribeObject(class model.ObjectClassHandle, attrs []model.AttributeHandle, regions []model.RegionHandle, passive bool) error {
	if err := f.active(); err != nil {
		return err
	}
	if err := f.checkObjectClass(class, attrs); err != nil {
		return err
	}
	entries, err := f.regionEntries(regions)
	if err != nil {
		return err
	}
	if err := f.send(&message.SubscribeObjectClassAttributes{
		Header:     f.header(),
		Class:      class,
		Attributes: attrs,
		Regions:    entries,
		Passive:    passive,
	}); err != nil {
		return err
	}
	sub, ok := f.objectSubs[class]
	if !ok {
		sub = newSubscription()
		f.objectSubs[class] = sub
	}
	sub.passive = passive
	if len(regions) == 0 {
		for _, a := range attrs {
			sub.attrs[a] = struct{}{}
		}
	} else {
		for _, a := range attrs {
			sub.regionAttrs[a] = struct{}{}
		}
		for _, r := range regions {
			sub.regions[r] = struct{}{}
		}
	}
	f.discoverAll()
	return nil
}

// UnsubscribeObjectClassAttributes drops attrs, or the whole class when
// attrs is empty.
func (f *Federate[T, I]) UnsubscribeObjectClassAttributes(class model.ObjectClassHandle, attrs []model.AttributeHandle) error {
	if err := f.active(); err != nil {
		return err
	}
	if err := f.checkObjectClass(class, attrs); err != nil {
		return err
	}
	if err := f.send(&message.SubscribeObjectClassAttributes{Header: f.header(), Class: class, Attributes: attrs, Unsubscribe: true}); err != nil {
		return err
	}
	sub, ok := f.objectSubs[class]
	if !ok {
		return nil
	}
	if len(attrs) == 0 {
		delete(f.objectSubs, class)
		return nil
	}
	for _, a := range attrs {
		delete(sub.attrs, a)
		delete(sub.regionAttrs, a)
	}
	if sub.empty() {
		delete(f.objectSubs, class)
	}
	return nil
}

// UnsubscribeObjectClassAttributesWithRegions removes regions from the
// subscription of class.
func (f *Federate[T, I]) UnsubscribeObjectClassAttributesWithRegions(class model.ObjectClassHandle, regions []model.RegionHandle) error {
	if err := f.active(); err != nil {
		return err
	}
	if err := f.checkObjectClass(class, nil); err != nil {
		return err
	}
	entries, err := f.regionEntries(regions)
	if err != nil {
		return err
	}
	if err := f.send(&message.SubscribeObjectClassAttributes{Header: f.header(), Class: class, Regions: entries, Unsubscribe: true}); err != nil {
		return err
	}
	if sub, ok := f.objectSubs[class]; ok {
		for _, r := range regions {
			delete(sub.regions, r)
		}
		if len(sub.regions) == 0 {
			clear(sub.regionAttrs)
		}
		if sub.empty() {
			delete(f.objectSubs, class)
		}
	}
	return nil
}

func (f *Federate[T, I]) SubscribeInteractionClass(class model.InteractionClassHandle) error {
	return f.subscribeInteraction(class, nil)
}

// SubscribeInteractionClassWithRegions receives interactions of class only
// where they meet one of regions.
func (f *Federate[T, I]) SubscribeInteractionClassWithRegions(class model.InteractionClassHandle, regions []model.RegionHandle) error {
	if len(regions) == 0 {
		return model.Errorf(model.InvalidRegion, "no regions given")
	}
	return f.subscribeInteraction(class, regions)
}

func (f *Federate[T, I]) subscribeInteraction(class model.InteractionClassHandle, regions []model.RegionHandle) error {
	if err := f.active(); err != nil {
		return err
	}
	if err := f.checkInteractionClass(class); err != nil {
		return err
	}
	entries, err := f.regionEntries(regions)
	if err != nil {
		return err
	}
	if err := f.send(&message.SubscribeInteractionClass{Header: f.header(), Class: class, Regions: entries}); err != nil {
		return err
	}
	sub, ok := f.interactionSubs[class]
	if !ok {
		sub = newSubscription()
		f.interactionSubs[class] = sub
	}
	if len(regions) == 0 {
		sub.unfiltered = true
	}
	for _, r := range regions {
		sub.regions[r] = struct{}{}
	}
	return nil
}

func (f *Federate[T, I]) UnsubscribeInteractionClass(class model.InteractionClassHandle) error {
	if err := f.active(); err != nil {
		return err
	}
	if err := f.checkInteractionClass(class); err != nil {
		return err
	}
	if err := f.send(&message.SubscribeInteractionClass{Header: f.header(), Class: class, Unsubscribe: true}); err != nil {
		return err
	}
	delete(f.interactionSubs, class)
	return nil
}

// regionEntries resolves the committed extents of the federate's own
// regions.
func (f *Federate[T, I]) regionEntries(regions []model.RegionHandle) ([]core.RegionEntry, error) {
	if len(regions) == 0 {
		return nil, nil
	}
	out := make([]core.RegionEntry, 0, len(regions))
	for _, h := range regions {
		r, err := f.ownRegion(h)
		if err != nil {
			return nil, err
		}
		out = append(out, core.RegionEntry{Handle: h, Region: r.committed.Clone()})
	}
	return out, nil
}
