package server

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/signalsfoundry/rti/internal/logging"
	"github.com/signalsfoundry/rti/message"
	"github.com/signalsfoundry/rti/model"
)

// ownership is the arbitration record of one attribute of one object.
type ownership struct {
	state     model.OwnershipState
	owner     model.FederateHandle
	candidate model.FederateHandle
}

func (o *ownership) transfer(to model.FederateHandle) {
	o.state = model.Owned
	o.owner = to
	o.candidate = 0
}

func (o *ownership) release() {
	o.state = model.Unowned
	o.owner = 0
	o.candidate = 0
}

type objectRecord struct {
	handle model.ObjectInstanceHandle
	class  model.ObjectClassHandle
	name   string
	attrs  map[model.AttributeHandle]*ownership
}

// attr returns the record of a, creating an unowned one on first use.
func (o *objectRecord) attr(a model.AttributeHandle) *ownership {
	rec, ok := o.attrs[a]
	if !ok {
		rec = &ownership{}
		o.attrs[a] = rec
	}
	return rec
}

func (o *objectRecord) info() message.ObjectInfo {
	info := message.ObjectInfo{Handle: o.handle, Class: o.class, Name: o.name}
	for _, a := range sortedKeys(o.attrs) {
		if rec := o.attrs[a]; rec.owner != 0 {
			info.Owners = append(info.Owners, message.AttributeOwner{Attribute: a, Owner: rec.owner})
		}
	}
	return info
}

func (fed *federation) objectInfos() []message.ObjectInfo {
	out := make([]message.ObjectInfo, 0, len(fed.objects))
	for _, h := range sortedKeys(fed.objects) {
		out = append(out, fed.objects[h].info())
	}
	return out
}

func (fed *federation) insertObject(f model.FederateHandle, m *message.InsertObjectInstance) error {
	if _, exists := fed.objects[m.Object]; exists {
		return fmt.Errorf("%w: %s already registered", model.ErrObjectInstanceNameInUse, m.Object)
	}
	if m.Object.Federate() != f {
		return model.Errorf(model.RTIinternalError, "%s outside the handle slice of %s", m.Object, f)
	}
	if _, ok := fed.om.ObjectClass(m.Class); !ok {
		return model.Errorf(model.ObjectClassNotDefined, "%d", m.Class)
	}
	if m.Name != "" {
		if e, taken := fed.names[m.Name]; taken && (e.federate != f || e.object != 0) {
			return model.Errorf(model.ObjectInstanceNameInUse, "%q", m.Name)
		}
		fed.names[m.Name] = nameEntry{federate: f, object: m.Object}
	}
	obj := &objectRecord{
		handle: m.Object,
		class:  m.Class,
		name:   m.Name,
		attrs:  make(map[model.AttributeHandle]*ownership),
	}
	for _, a := range m.OwnedAttributes {
		if fed.om.HasAttribute(m.Class, a) {
			obj.attr(a).transfer(f)
		}
	}
	fed.objects[m.Object] = obj
	return nil
}

func (fed *federation) deleteObject(h model.ObjectInstanceHandle) {
	obj, ok := fed.objects[h]
	if !ok {
		return
	}
	if obj.name != "" {
		delete(fed.names, obj.name)
	}
	delete(fed.objects, h)
}

// releaseOwnership drops every ownership and candidacy f still holds. An
// attribute with a pending acquirer passes to it.
func (n *Node) releaseOwnership(fed *federation, f model.FederateHandle) {
	for _, h := range sortedKeys(fed.objects) {
		obj := fed.objects[h]
		ns := newNotices(h, nil)
		for _, a := range sortedKeys(obj.attrs) {
			rec := obj.attrs[a]
			switch {
			case rec.owner == f && rec.candidate != 0:
				to := rec.candidate
				rec.transfer(to)
				ns.add(to, message.NoticeAcquisition, 0, a)
			case rec.owner == f:
				rec.release()
			case rec.candidate == f:
				rec.candidate = 0
				rec.state = model.Owned
			}
		}
		n.flushNotices(fed, ns)
	}
}

// notices batches ownership notifications per recipient, notice and owner.
type noticeKey struct {
	to     model.FederateHandle
	notice message.OwnershipNotice
	owner  model.FederateHandle
	reject model.ErrorKind
}

type notices struct {
	object model.ObjectInstanceHandle
	op     message.OwnershipOp
	tag    []byte
	byKey  map[noticeKey][]model.AttributeHandle
}

func newNotices(object model.ObjectInstanceHandle, tag []byte) *notices {
	return &notices{object: object, tag: tag, byKey: make(map[noticeKey][]model.AttributeHandle)}
}

func (ns *notices) add(to model.FederateHandle, notice message.OwnershipNotice, owner model.FederateHandle, a model.AttributeHandle) {
	k := noticeKey{to: to, notice: notice, owner: owner}
	ns.byKey[k] = append(ns.byKey[k], a)
}

// reject reports to f that ns.op failed on a with kind.
func (ns *notices) reject(f model.FederateHandle, kind model.ErrorKind, a model.AttributeHandle) {
	k := noticeKey{to: f, notice: message.NoticeRejected, reject: kind}
	ns.byKey[k] = append(ns.byKey[k], a)
}

func (n *Node) flushNotices(fed *federation, ns *notices) {
	keys := make([]noticeKey, 0, len(ns.byKey))
	for k := range ns.byKey {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b noticeKey) int {
		if c := cmpHandle(a.to, b.to); c != 0 {
			return c
		}
		if a.notice != b.notice {
			return int(a.notice) - int(b.notice)
		}
		if c := cmpHandle(a.owner, b.owner); c != 0 {
			return c
		}
		return strings.Compare(string(a.reject), string(b.reject))
	})
	for _, k := range keys {
		if _, ok := fed.federates[k.to]; !ok {
			continue
		}
		notice := &message.AttributeOwnershipNotification{
			Header:     message.Header{Federation: fed.handle},
			Target:     message.Target{To: k.to},
			Object:     ns.object,
			Attributes: ns.byKey[k],
			Notice:     k.notice,
			Owner:      k.owner,
			Tag:        ns.tag,
		}
		if k.notice == message.NoticeRejected {
			notice.Op = ns.op
			notice.Outcome = message.Fail(model.Errorf(k.reject, "%s of %s", ns.op, ns.object))
		}
		n.deliver(fed, k.to, notice, 0)
	}
}

// offer asks every publisher of a other than except to assume it.
func (n *Node) offer(fed *federation, obj *objectRecord, a model.AttributeHandle, except model.FederateHandle, ns *notices) {
	for _, f := range fed.sortedFederates() {
		if f.handle != except && f.publishes(fed.om, obj.class, a) {
			ns.add(f.handle, message.NoticeRequestAssumption, 0, a)
		}
	}
}

// divest gives a away: to the pending acquirer if any, else to nobody.
func (n *Node) divest(fed *federation, obj *objectRecord, a model.AttributeHandle, rec *ownership, ns *notices) {
	from := rec.owner
	if rec.candidate != 0 {
		to := rec.candidate
		rec.transfer(to)
		ns.add(to, message.NoticeAcquisition, 0, a)
		return
	}
	rec.release()
	n.offer(fed, obj, a, from, ns)
}

func (n *Node) ownershipRequest(fed *federation, f *federateRecord, m *message.AttributeOwnershipRequest) {
	obj, ok := fed.objects[m.Object]
	if !ok {
		n.log.Warn(context.Background(), "ownership request for unknown object",
			logging.Federation(fed.name),
			logging.Object(m.Object))
		return
	}
	ns := newNotices(obj.handle, m.Tag)
	ns.op = m.Op
	for _, a := range m.Attributes {
		if !fed.om.HasAttribute(obj.class, a) {
			continue
		}
		n.applyOwnership(fed, obj, f.handle, a, m.Op, ns)
	}
	n.flushNotices(fed, ns)
}

// applyOwnership runs op for f on one attribute. Requests the current
// state does not allow are rejected back to f and change nothing.
func (n *Node) applyOwnership(fed *federation, obj *objectRecord, f model.FederateHandle, a model.AttributeHandle, op message.OwnershipOp, ns *notices) {
	rec := obj.attr(a)
	switch op {
	case message.OpUnconditionalDivestiture:
		if rec.owner != f {
			ns.reject(f, model.AttributeNotOwned, a)
			return
		}
		n.divest(fed, obj, a, rec, ns)

	case message.OpNegotiatedDivestiture:
		switch {
		case rec.owner != f:
			ns.reject(f, model.AttributeNotOwned, a)
		case rec.state == model.DivestiturePending:
			ns.reject(f, model.AttributeAlreadyBeingDivested, a)
		case rec.candidate != 0:
			to := rec.candidate
			rec.transfer(to)
			ns.add(f, message.NoticeDivestiture, 0, a)
			ns.add(to, message.NoticeAcquisition, 0, a)
		default:
			rec.state = model.DivestiturePending
			n.offer(fed, obj, a, f, ns)
		}

	case message.OpConfirmDivestiture:
		switch {
		case rec.owner != f:
			ns.reject(f, model.AttributeNotOwned, a)
		case rec.candidate == 0:
			ns.reject(f, model.AttributeDivestitureWasNotRequested, a)
		default:
			to := rec.candidate
			rec.transfer(to)
			ns.add(f, message.NoticeDivestiture, 0, a)
			ns.add(to, message.NoticeAcquisition, 0, a)
		}

	case message.OpCancelNegotiatedDivestiture:
		switch {
		case rec.owner != f:
			ns.reject(f, model.AttributeNotOwned, a)
		case rec.state != model.DivestiturePending:
			ns.reject(f, model.AttributeDivestitureWasNotRequested, a)
		default:
			rec.state = model.Owned
		}

	case message.OpAcquisition, message.OpAcquisitionIfAvailable:
		ifAvailable := op == message.OpAcquisitionIfAvailable
		switch {
		case rec.owner == f:
			ns.reject(f, model.AttributeAlreadyOwned, a)
		case rec.candidate == f:
			ns.reject(f, model.AttributeAlreadyBeingAcquired, a)
		case rec.state == model.Unowned:
			rec.transfer(f)
			ns.add(f, message.NoticeAcquisition, 0, a)
		case rec.state == model.DivestiturePending:
			from := rec.owner
			rec.transfer(f)
			ns.add(from, message.NoticeDivestiture, 0, a)
			ns.add(f, message.NoticeAcquisition, 0, a)
		case rec.state == model.AcquisitionPending || ifAvailable:
			ns.add(f, message.NoticeUnavailable, 0, a)
		default:
			rec.state = model.AcquisitionPending
			rec.candidate = f
			ns.add(rec.owner, message.NoticeRequestRelease, 0, a)
		}

	case message.OpCancelAcquisition:
		switch {
		case rec.owner == f:
			ns.reject(f, model.AttributeAlreadyOwned, a)
		case rec.candidate != f:
			ns.reject(f, model.AttributeAcquisitionWasNotRequested, a)
		default:
			rec.candidate = 0
			rec.state = model.Owned
			ns.add(f, message.NoticeCancellationConfirmed, 0, a)
		}

	case message.OpQuery:
		ns.add(f, message.NoticeInform, rec.owner, a)
	}
}

// cancelAcquisitions withdraws every pending acquisition of f and confirms
// each cancellation to it.
func (n *Node) cancelAcquisitions(fed *federation, f model.FederateHandle) {
	for _, h := range sortedKeys(fed.objects) {
		obj := fed.objects[h]
		ns := newNotices(h, nil)
		for _, a := range sortedKeys(obj.attrs) {
			if rec := obj.attrs[a]; rec.candidate == f {
				rec.candidate = 0
				rec.state = model.Owned
				ns.add(f, message.NoticeCancellationConfirmed, 0, a)
			}
		}
		n.flushNotices(fed, ns)
	}
}

// deleteOwnedObjects deletes the objects f holds the delete privilege of.
func (n *Node) deleteOwnedObjects(fed *federation, f model.FederateHandle) {
	priv := fed.om.PrivilegeToDelete()
	for _, h := range sortedKeys(fed.objects) {
		obj := fed.objects[h]
		if rec, ok := obj.attrs[priv]; !ok || rec.owner != f {
			continue
		}
		fed.deleteObject(h)
		n.broadcast(fed, &message.DeleteObjectInstance{
			Header: message.Header{Federation: fed.handle, Federate: f},
			Object: h,
		}, 0)
	}
}

// divestAll unconditionally divests everything f owns.
func (n *Node) divestAll(fed *federation, f model.FederateHandle) {
	for _, h := range sortedKeys(fed.objects) {
		obj := fed.objects[h]
		ns := newNotices(h, nil)
		for _, a := range sortedKeys(obj.attrs) {
			if rec := obj.attrs[a]; rec.owner == f {
				n.divest(fed, obj, a, rec, ns)
			}
		}
		n.flushNotices(fed, ns)
	}
}

// Owner reports the owner and state of one attribute at the root.
func (n *Node) Owner(federation model.FederationHandle, object model.ObjectInstanceHandle, attr model.AttributeHandle) (model.FederateHandle, model.OwnershipState, bool) {
	fed, ok := n.federations[federation]
	if !ok {
		return 0, model.Unowned, false
	}
	obj, ok := fed.objects[object]
	if !ok {
		return 0, model.Unowned, false
	}
	rec, ok := obj.attrs[attr]
	if !ok {
		return 0, model.Unowned, true
	}
	return rec.owner, rec.state, true
}

func sortedKeys[K ~uint64, V any](m map[K]V) []K {
	out := make([]K, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
