package federate

import (
	"context"
	"maps"
	"slices"

	"github.com/signalsfoundry/rti/internal/logging"
	"github.com/signalsfoundry/rti/message"
	"github.com/signalsfoundry/rti/model"
)

func sortedKeys[K ~uint64, V any](m map[K]V) []K { return slices.Sorted(maps.Keys(m)) }

// ownershipCall validates object and attrs before an ownership request.
func (f *Federate[T, I]) ownershipCall(object model.ObjectInstanceHandle, attrs []model.AttributeHandle) (*objectView, error) {
	if err := f.active(); err != nil {
		return nil, err
	}
	obj, err := f.knownObject(object)
	if err != nil {
		return nil, err
	}
	for _, a := range attrs {
		if !f.om.HasAttribute(obj.class, a) {
			return nil, model.Errorf(model.AttributeNotDefined, "attribute %d of class %d", a, obj.class)
		}
	}
	return obj, nil
}

func (f *Federate[T, I]) requireOwned(obj *objectView, attrs []model.AttributeHandle) error {
	for _, a := range attrs {
		if !obj.owned.has(a) {
			return model.Errorf(model.AttributeNotOwned, "attribute %d of %s", a, obj.handle)
		}
	}
	return nil
}

func (f *Federate[T, I]) sendOwnership(obj *objectView, attrs []model.AttributeHandle, op message.OwnershipOp, tag []byte) error {
	return f.send(&message.AttributeOwnershipRequest{
		Header:     f.header(),
		Object:     obj.handle,
		Attributes: slices.Clone(attrs),
		Op:         op,
		Tag:        tag,
	})
}

// UnconditionalAttributeOwnershipDivestiture gives up attrs at once. They
// are offered to the other publishers.
func (f *Federate[T, I]) UnconditionalAttributeOwnershipDivestiture(object model.ObjectInstanceHandle, attrs []model.AttributeHandle) error {
	obj, err := f.ownershipCall(object, attrs)
	if err != nil {
		return err
	}
	if err := f.requireOwned(obj, attrs); err != nil {
		return err
	}
	if err := f.sendOwnership(obj, attrs, message.OpUnconditionalDivestiture, nil); err != nil {
		return err
	}
	for _, a := range attrs {
		delete(obj.owned, a)
		delete(obj.divesting, a)
		delete(obj.releaseRequested, a)
	}
	return nil
}

// NegotiatedAttributeOwnershipDivestiture keeps ownership until another
// federate takes attrs over.
func (f *Federate[T, I]) NegotiatedAttributeOwnershipDivestiture(object model.ObjectInstanceHandle, attrs []model.AttributeHandle, tag []byte) error {
	obj, err := f.ownershipCall(object, attrs)
	if err != nil {
		return err
	}
	if err := f.requireOwned(obj, attrs); err != nil {
		return err
	}
	for _, a := range attrs {
		if obj.divesting.has(a) {
			return model.Errorf(model.AttributeAlreadyBeingDivested, "attribute %d of %s", a, object)
		}
	}
	if err := f.sendOwnership(obj, attrs, message.OpNegotiatedDivestiture, tag); err != nil {
		return err
	}
	for _, a := range attrs {
		obj.divesting[a] = struct{}{}
	}
	return nil
}

// ConfirmDivestiture releases attrs the federate was asked to release.
// Ownership passes when the divestiture notification arrives.
func (f *Federate[T, I]) ConfirmDivestiture(object model.ObjectInstanceHandle, attrs []model.AttributeHandle, tag []byte) error {
	obj, err := f.ownershipCall(object, attrs)
	if err != nil {
		return err
	}
	if err := f.requireOwned(obj, attrs); err != nil {
		return err
	}
	for _, a := range attrs {
		if !obj.releaseRequested.has(a) {
			return model.Errorf(model.AttributeDivestitureWasNotRequested, "attribute %d of %s", a, object)
		}
	}
	return f.sendOwnership(obj, attrs, message.OpConfirmDivestiture, tag)
}

// CancelNegotiatedAttributeOwnershipDivestiture withdraws a pending
// negotiated divestiture.
func (f *Federate[T, I]) CancelNegotiatedAttributeOwnershipDivestiture(object model.ObjectInstanceHandle, attrs []model.AttributeHandle) error {
	obj, err := f.ownershipCall(object, attrs)
	if err != nil {
		return err
	}
	if err := f.requireOwned(obj, attrs); err != nil {
		return err
	}
	for _, a := range attrs {
		if !obj.divesting.has(a) {
			return model.Errorf(model.AttributeDivestitureWasNotRequested, "attribute %d of %s", a, object)
		}
	}
	if err := f.sendOwnership(obj, attrs, message.OpCancelNegotiatedDivestiture, nil); err != nil {
		return err
	}
	for _, a := range attrs {
		delete(obj.divesting, a)
	}
	return nil
}

// AttributeOwnershipAcquisition asks for attrs, waiting for the owner to
// release them when they are owned.
func (f *Federate[T, I]) AttributeOwnershipAcquisition(object model.ObjectInstanceHandle, attrs []model.AttributeHandle, tag []byte) error {
	return f.acquire(object, attrs, message.OpAcquisition, tag)
}

// AttributeOwnershipAcquisitionIfAvailable takes attrs only when nobody
// owns them or their owner is divesting.
func (f *Federate[T, I]) AttributeOwnershipAcquisitionIfAvailable(object model.ObjectInstanceHandle, attrs []model.AttributeHandle) error {
	return f.acquire(object, attrs, message.OpAcquisitionIfAvailable, nil)
}

func (f *Federate[T, I]) acquire(object model.ObjectInstanceHandle, attrs []model.AttributeHandle, op message.OwnershipOp, tag []byte) error {
	obj, err := f.ownershipCall(object, attrs)
	if err != nil {
		return err
	}
	for _, a := range attrs {
		switch {
		case !f.publishes(obj.class, a):
			return model.Errorf(model.AttributeNotPublished, "attribute %d of class %d", a, obj.class)
		case obj.owned.has(a):
			return model.Errorf(model.AttributeAlreadyOwned, "attribute %d of %s", a, object)
		case obj.acquiring.has(a):
			return model.Errorf(model.AttributeAlreadyBeingAcquired, "attribute %d of %s", a, object)
		}
	}
	if err := f.sendOwnership(obj, attrs, op, tag); err != nil {
		return err
	}
	for _, a := range attrs {
		obj.acquiring[a] = struct{}{}
	}
	return nil
}

// CancelAttributeOwnershipAcquisition withdraws a pending acquisition.
func (f *Federate[T, I]) CancelAttributeOwnershipAcquisition(object model.ObjectInstanceHandle, attrs []model.AttributeHandle) error {
	obj, err := f.ownershipCall(object, attrs)
	if err != nil {
		return err
	}
	for _, a := range attrs {
		switch {
		case obj.owned.has(a):
			return model.Errorf(model.AttributeAlreadyOwned, "attribute %d of %s", a, object)
		case !obj.acquiring.has(a):
			return model.Errorf(model.AttributeAcquisitionWasNotRequested, "attribute %d of %s", a, object)
		}
	}
	return f.sendOwnership(obj, attrs, message.OpCancelAcquisition, nil)
}

// QueryAttributeOwnership asks who owns attr. The answer arrives as an
// InformAttributeOwnership callback.
func (f *Federate[T, I]) QueryAttributeOwnership(object model.ObjectInstanceHandle, attr model.AttributeHandle) error {
	obj, err := f.ownershipCall(object, []model.AttributeHandle{attr})
	if err != nil {
		return err
	}
	return f.sendOwnership(obj, []model.AttributeHandle{attr}, message.OpQuery, nil)
}

// IsAttributeOwnedByFederate reports ownership from the local view.
func (f *Federate[T, I]) IsAttributeOwnedByFederate(object model.ObjectInstanceHandle, attr model.AttributeHandle) (bool, error) {
	if err := f.member(); err != nil {
		return false, err
	}
	obj, err := f.knownObject(object)
	if err != nil {
		return false, err
	}
	if !f.om.HasAttribute(obj.class, attr) {
		return false, model.Errorf(model.AttributeNotDefined, "attribute %d of class %d", attr, obj.class)
	}
	return obj.owned.has(attr), nil
}

// onOwnership applies a notification from the root to the local view and
// queues the matching callback.
func (f *Federate[T, I]) onOwnership(m *message.AttributeOwnershipNotification) {
	obj, ok := f.objects[m.Object]
	if !ok {
		f.log.Debug(context.Background(), "ownership notice for unknown object",
			logging.Object(m.Object), logging.String("notice", m.Notice.String()))
		return
	}
	h, attrs, tag := m.Object, slices.Clone(m.Attributes), m.Tag
	var fn func(model.ObjectInstanceHandle, []model.AttributeHandle)
	switch m.Notice {
	case message.NoticeRequestRelease:
		for _, a := range attrs {
			obj.releaseRequested[a] = struct{}{}
		}
		if cb := f.cb.RequestAttributeOwnershipRelease; cb != nil {
			f.calls.push(func() { cb(h, attrs, tag) })
		}
		return
	case message.NoticeRequestAssumption:
		if cb := f.cb.RequestAttributeOwnershipAssumption; cb != nil {
			f.calls.push(func() { cb(h, attrs, tag) })
		}
		return
	case message.NoticeInform:
		if cb := f.cb.InformAttributeOwnership; cb != nil {
			owner := m.Owner
			for _, a := range attrs {
				f.calls.push(func() { cb(h, a, owner) })
			}
		}
		return
	case message.NoticeDivestiture:
		for _, a := range attrs {
			delete(obj.owned, a)
			delete(obj.divesting, a)
			delete(obj.releaseRequested, a)
		}
		fn = f.cb.AttributeOwnershipDivestitureNotification
	case message.NoticeAcquisition:
		for _, a := range attrs {
			obj.owned[a] = struct{}{}
			delete(obj.acquiring, a)
		}
		fn = f.cb.AttributeOwnershipAcquisitionNotification
	case message.NoticeUnavailable:
		for _, a := range attrs {
			delete(obj.acquiring, a)
		}
		fn = f.cb.AttributeOwnershipUnavailable
	case message.NoticeCancellationConfirmed:
		for _, a := range attrs {
			delete(obj.acquiring, a)
		}
		fn = f.cb.ConfirmAttributeOwnershipAcquisitionCancellation
	case message.NoticeRejected:
		err := m.Failure()
		f.reconcile(obj, attrs, model.KindOf(err))
		if cb := f.cb.AttributeOwnershipRequestRejected; cb != nil {
			f.calls.push(func() { cb(h, attrs, err) })
		}
		return
	default:
		f.log.Warn(context.Background(), "unknown ownership notice", logging.Int("notice", int(m.Notice)))
		return
	}
	if fn != nil {
		f.calls.push(func() { fn(h, attrs) })
	}
}

// reconcile corrects the local view after the root refused a request
// because the view was stale.
func (f *Federate[T, I]) reconcile(obj *objectView, attrs []model.AttributeHandle, kind model.ErrorKind) {
	for _, a := range attrs {
		switch kind {
		case model.AttributeNotOwned:
			delete(obj.owned, a)
			delete(obj.divesting, a)
			delete(obj.releaseRequested, a)
		case model.AttributeAlreadyOwned:
			obj.owned[a] = struct{}{}
			delete(obj.acquiring, a)
		case model.AttributeAcquisitionWasNotRequested:
			delete(obj.acquiring, a)
		case model.AttributeDivestitureWasNotRequested:
			delete(obj.divesting, a)
			delete(obj.releaseRequested, a)
		}
	}
}
