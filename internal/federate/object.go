package federate

import (
	"context"
	"fmt"
	"strings"

	"github.com/signalsfoundry/rti/internal/logging"
	"github.com/signalsfoundry/rti/message"
	"github.com/signalsfoundry/rti/model"
)

// objectView is the federate's knowledge of one object instance. known is
// the class the object was discovered as, zero while undiscovered.
type objectView struct {
	handle model.ObjectInstanceHandle
	class  model.ObjectClassHandle
	known  model.ObjectClassHandle
	name   string

	owned            attrSet
	divesting        attrSet
	acquiring        attrSet
	releaseRequested attrSet
	updateRegions    map[model.AttributeHandle]map[model.RegionHandle]struct{}
}

func (f *Federate[T, I]) insertObject(h model.ObjectInstanceHandle, class model.ObjectClassHandle, name string, owned []model.AttributeHandle) *objectView {
	obj := &objectView{
		handle:           h,
		class:            class,
		name:             name,
		owned:            setOf(owned),
		divesting:        make(attrSet),
		acquiring:        make(attrSet),
		releaseRequested: make(attrSet),
		updateRegions:    make(map[model.AttributeHandle]map[model.RegionHandle]struct{}),
	}
	f.objects[h] = obj
	if h.Federate() == f.handle && h.Serial() > f.serial {
		f.serial = h.Serial()
	}
	return obj
}

// visible reports whether the application may name the object: it
// registered, discovered or owns part of it.
func (f *Federate[T, I]) visible(obj *objectView) bool {
	return obj.known != 0 || obj.handle.Federate() == f.handle || len(obj.owned) > 0
}

func (f *Federate[T, I]) knownObject(h model.ObjectInstanceHandle) (*objectView, error) {
	obj, ok := f.objects[h]
	if !ok || !f.visible(obj) {
		return nil, model.Errorf(model.ObjectInstanceNotKnown, "object %s", h)
	}
	return obj, nil
}

// subscribedClass is the nearest class of class's ancestry the federate
// subscribes to.
func (f *Federate[T, I]) subscribedClass(class model.ObjectClassHandle) (model.ObjectClassHandle, bool) {
	return f.om.NearestObjectClass(class, func(c model.ObjectClassHandle) bool {
		_, ok := f.objectSubs[c]
		return ok
	})
}

// discover queues a discovery for obj when a subscription now covers it.
// Objects the federate registered itself are never discovered.
func (f *Federate[T, I]) discover(obj *objectView) bool {
	if obj.known != 0 {
		return true
	}
	if obj.handle.Federate() == f.handle {
		return false
	}
	class, ok := f.subscribedClass(obj.class)
	if !ok {
		return false
	}
	obj.known = class
	if cb := f.cb.DiscoverObjectInstance; cb != nil {
		h, name := obj.handle, obj.name
		f.calls.push(func() { cb(h, class, name) })
	}
	return true
}

func (f *Federate[T, I]) discoverAll() {
	for _, h := range sortedKeys(f.objects) {
		f.discover(f.objects[h])
	}
}

// ReserveObjectInstanceName asks the federation for name. The outcome
// arrives as an ObjectInstanceNameReserved callback.
func (f *Federate[T, I]) ReserveObjectInstanceName(name string) error {
	if err := f.active(); err != nil {
		return err
	}
	if name == "" || strings.HasPrefix(strings.ToLower(name), "hla") {
		return model.Errorf(model.IllegalName, "object name %q", name)
	}
	return f.send(&message.ReserveObjectInstanceNameRequest{Header: f.header(), Name: name})
}

// ReleaseObjectInstanceName gives back a reserved name not yet used by a
// registration.
func (f *Federate[T, I]) ReleaseObjectInstanceName(name string) error {
	if err := f.active(); err != nil {
		return err
	}
	if !f.reserved[name] {
		return model.Errorf(model.ObjectInstanceNameNotReserved, "object name %q", name)
	}
	if err := f.send(&message.ReleaseObjectInstanceName{Header: f.header(), Name: name}); err != nil {
		return err
	}
	delete(f.reserved, name)
	return nil
}

func (f *Federate[T, I]) onNameReserved(m *message.ReserveObjectInstanceNameResponse) {
	if m.Success {
		f.reserved[m.Name] = true
	}
	if cb := f.cb.ObjectInstanceNameReserved; cb != nil {
		name, ok := m.Name, m.Success
		f.calls.push(func() { cb(name, ok) })
	}
}

// RegisterObjectInstance creates an object of class. The federate owns
// every attribute it publishes for the class. A non-empty name must have
// been reserved first.
func (f *Federate[T, I]) RegisterObjectInstance(class model.ObjectClassHandle, name string) (model.ObjectInstanceHandle, error) {
	if err := f.active(); err != nil {
		return 0, err
	}
	if _, ok := f.om.ObjectClass(class); !ok {
		return 0, model.Errorf(model.ObjectClassNotDefined, "object class %d", class)
	}
	pub, ok := f.objectPubs[class]
	if !ok {
		return 0, model.Errorf(model.ObjectClassNotPublished, "object class %d", class)
	}
	if name != "" && !f.reserved[name] {
		return 0, model.Errorf(model.ObjectInstanceNameNotReserved, "object name %q", name)
	}
	if f.serial == model.MaxSerial {
		return 0, model.Errorf(model.RTIinternalError, "object handles exhausted")
	}
	h := model.NewObjectInstanceHandle(f.handle, f.serial+1)
	if name == "" {
		name = fmt.Sprintf("HLAobject%d_%d", f.handle, h.Serial())
	}
	owned := pub.sorted()
	if err := f.send(&message.InsertObjectInstance{
		Header:          f.header(),
		Object:          h,
		Class:           class,
		Name:            name,
		OwnedAttributes: owned,
	}); err != nil {
		return 0, err
	}
	delete(f.reserved, name)
	f.insertObject(h, class, name, owned)
	return h, nil
}

// DeleteObjectInstance removes an object the federate holds the delete
// privilege for.
func (f *Federate[T, I]) DeleteObjectInstance(object model.ObjectInstanceHandle, tag []byte) error {
	if err := f.active(); err != nil {
		return err
	}
	obj, err := f.knownObject(object)
	if err != nil {
		return err
	}
	if !obj.owned.has(f.om.PrivilegeToDelete()) {
		return model.Errorf(model.DeletePrivilegeNotHeld, "object %s", object)
	}
	if err := f.send(&message.DeleteObjectInstance{Header: f.header(), Object: object, Tag: tag}); err != nil {
		return err
	}
	delete(f.objects, object)
	return nil
}

// UpdateAttributeValues sends receive ordered values of owned attributes.
func (f *Federate[T, I]) UpdateAttributeValues(object model.ObjectInstanceHandle, values []message.AttributeValue, tag []byte) error {
	return f.update(object, values, tag, nil)
}

// UpdateAttributeValuesAt sends values stamped with t. They travel
// timestamp ordered when the federate is regulating.
func (f *Federate[T, I]) UpdateAttributeValuesAt(object model.ObjectInstanceHandle, values []message.AttributeValue, tag []byte, t T) error {
	return f.update(object, values, tag, &t)
}

func (f *Federate[T, I]) update(object model.ObjectInstanceHandle, values []message.AttributeValue, tag []byte, t *T) error {
	if err := f.active(); err != nil {
		return err
	}
	obj, err := f.knownObject(object)
	if err != nil {
		return err
	}
	for _, v := range values {
		if !f.om.HasAttribute(obj.class, v.Handle) {
			return model.Errorf(model.AttributeNotDefined, "attribute %d of class %d", v.Handle, obj.class)
		}
		if !obj.owned.has(v.Handle) {
			return model.Errorf(model.AttributeNotOwned, "attribute %d of %s", v.Handle, object)
		}
	}
	m := &message.AttributeUpdate{
		Header:  f.header(),
		Object:  object,
		Class:   obj.class,
		Values:  values,
		Tag:     tag,
		Regions: f.updateRegions(obj, values),
		Order:   model.ReceiveOrder,
	}
	if t != nil {
		if m.Timestamp, m.Order, err = f.stamp(*t); err != nil {
			return err
		}
	}
	return f.send(m)
}

// SendInteraction sends a receive ordered interaction.
func (f *Federate[T, I]) SendInteraction(class model.InteractionClassHandle, params []message.ParameterValue, tag []byte) error {
	return f.interact(class, params, nil, tag, nil)
}

// SendInteractionAt sends an interaction stamped with t.
func (f *Federate[T, I]) SendInteractionAt(class model.InteractionClassHandle, params []message.ParameterValue, tag []byte, t T) error {
	return f.interact(class, params, nil, tag, &t)
}

// SendInteractionWithRegions limits delivery to subscribers whose
// regions meet one of regions.
func (f *Federate[T, I]) SendInteractionWithRegions(class model.InteractionClassHandle, params []message.ParameterValue, regions []model.RegionHandle, tag []byte) error {
	return f.interact(class, params, regions, tag, nil)
}

func (f *Federate[T, I]) interact(class model.InteractionClassHandle, params []message.ParameterValue, regions []model.RegionHandle, tag []byte, t *T) error {
	if err := f.active(); err != nil {
		return err
	}
	if err := f.checkInteractionClass(class); err != nil {
		return err
	}
	if _, ok := f.interactionPubs[class]; !ok {
		return model.Errorf(model.InteractionClassNotPublished, "interaction class %d", class)
	}
	for _, p := range params {
		if !f.om.HasParameter(class, p.Handle) {
			return model.Errorf(model.InteractionParameterNotDefined, "parameter %d of class %d", p.Handle, class)
		}
	}
	rs, err := f.interactionRegions(regions)
	if err != nil {
		return err
	}
	m := &message.Interaction{
		Header:     f.header(),
		Class:      class,
		Parameters: params,
		Tag:        tag,
		Regions:    rs,
		Order:      model.ReceiveOrder,
	}
	if t != nil {
		if m.Timestamp, m.Order, err = f.stamp(*t); err != nil {
			return err
		}
	}
	return f.send(m)
}

// RequestAttributeValueUpdate asks the owners of attrs of object to
// provide current values.
func (f *Federate[T, I]) RequestAttributeValueUpdate(object model.ObjectInstanceHandle, attrs []model.AttributeHandle, tag []byte) error {
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
	return f.send(&message.RequestAttributeValueUpdate{Header: f.header(), Object: object, Attributes: attrs, Tag: tag})
}

// RequestClassAttributeValueUpdate asks for attrs of every object of
// class and its subclasses.
func (f *Federate[T, I]) RequestClassAttributeValueUpdate(class model.ObjectClassHandle, attrs []model.AttributeHandle, tag []byte) error {
	if err := f.active(); err != nil {
		return err
	}
	if err := f.checkObjectClass(class, attrs); err != nil {
		return err
	}
	return f.send(&message.RequestAttributeValueUpdate{Header: f.header(), Class: class, Attributes: attrs, Tag: tag})
}

func (f *Federate[T, I]) onInsert(m *message.InsertObjectInstance) {
	if m.Federate == f.handle {
		return
	}
	if _, ok := f.objects[m.Object]; ok {
		return
	}
	f.discover(f.insertObject(m.Object, m.Class, m.Name, nil))
}

func (f *Federate[T, I]) onDelete(m *message.DeleteObjectInstance) {
	obj, ok := f.objects[m.Object]
	if !ok {
		return
	}
	delete(f.objects, m.Object)
	if obj.known == 0 {
		return
	}
	if cb := f.cb.RemoveObjectInstance; cb != nil {
		h, tag := m.Object, m.Tag
		f.calls.push(func() { cb(h, tag) })
	}
}

func (f *Federate[T, I]) onUpdate(m *message.AttributeUpdate) {
	obj, ok := f.objects[m.Object]
	if !ok {
		f.log.Debug(context.Background(), "update for unknown object", logging.Object(m.Object))
		return
	}
	if !f.discover(obj) {
		return
	}
	f.schedule(m.Timestamp, m.Order, func(t T, order model.OrderType, timestamped bool) {
		if _, still := f.objects[m.Object]; !still {
			return
		}
		sub, ok := f.subscribedClass(obj.class)
		if !ok {
			return
		}
		values := make([]message.AttributeValue, 0, len(m.Values))
		for _, v := range m.Values {
			if f.objectSubs[sub].wants(v.Handle) {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			return
		}
		if cb := f.cb.ReflectAttributeValues; cb != nil {
			r := Reflection[T]{
				Object:      m.Object,
				Class:       obj.known,
				Values:      values,
				Tag:         m.Tag,
				Order:       order,
				Time:        t,
				Timestamped: timestamped,
				Producer:    m.Federate,
			}
			f.calls.push(func() { cb(r) })
		}
	})
}

func (f *Federate[T, I]) onInteraction(m *message.Interaction) {
	class, ok := f.om.NearestInteractionClass(m.Class, func(c model.InteractionClassHandle) bool {
		_, ok := f.interactionSubs[c]
		return ok
	})
	if !ok {
		return
	}
	f.schedule(m.Timestamp, m.Order, func(t T, order model.OrderType, timestamped bool) {
		params := make([]message.ParameterValue, 0, len(m.Parameters))
		for _, p := range m.Parameters {
			if f.om.HasParameter(class, p.Handle) {
				params = append(params, p)
			}
		}
		if cb := f.cb.ReceiveInteraction; cb != nil {
			r := Receipt[T]{
				Class:       class,
				Parameters:  params,
				Tag:         m.Tag,
				Order:       order,
				Time:        t,
				Timestamped: timestamped,
				Producer:    m.Federate,
			}
			f.calls.push(func() { cb(r) })
		}
	})
}

// onProvideRequest answers with the attributes the federate owns.
func (f *Federate[T, I]) onProvideRequest(m *message.RequestAttributeValueUpdate) {
	if m.Federate == f.handle {
		return
	}
	for _, h := range sortedKeys(f.objects) {
		obj := f.objects[h]
		if m.Object != 0 && h != m.Object {
			continue
		}
		if m.Object == 0 && !f.om.IsObjectSubclass(obj.class, m.Class) {
			continue
		}
		var attrs []model.AttributeHandle
		for _, a := range m.Attributes {
			if obj.owned.has(a) {
				attrs = append(attrs, a)
			}
		}
		if len(attrs) == 0 {
			continue
		}
		if cb := f.cb.ProvideAttributeValueUpdate; cb != nil {
			tag := m.Tag
			f.calls.push(func() { cb(h, attrs, tag) })
		}
	}
}

// KnownObjects lists the objects the federate registered or discovered.
func (f *Federate[T, I]) KnownObjects() []model.ObjectInstanceHandle {
	var out []model.ObjectInstanceHandle
	for _, h := range sortedKeys(f.objects) {
		if f.visible(f.objects[h]) {
			out = append(out, h)
		}
	}
	return out
}

// ObjectInstanceName returns the name of a known object.
func (f *Federate[T, I]) ObjectInstanceName(object model.ObjectInstanceHandle) (string, error) {
	obj, err := f.knownObject(object)
	if err != nil {
		return "", err
	}
	return obj.name, nil
}
