package server

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/rti/message"
	"github.com/signalsfoundry/rti/model"
)

type ownershipFixture struct {
	n       *Node
	a, b, c *member
	h       handles
	obj     model.ObjectInstanceHandle
}

// newOwnershipFixture registers one car owned by alpha; bravo and charlie
// publish Position.
func newOwnershipFixture(t *testing.T) *ownershipFixture {
	t.Helper()
	n := newRoot()
	createFederation(t, n, "fed")
	f := &ownershipFixture{n: n}
	f.a = joinFederate(t, n, "fed", "alpha")
	f.b = joinFederate(t, n, "fed", "bravo")
	f.c = joinFederate(t, n, "fed", "charlie")
	f.h = resolve(t, f.a.response.ObjectModel)
	f.obj = model.NewObjectInstanceHandle(f.a.handle, 1)

	f.a.send(t, &message.InsertObjectInstance{Header: f.a.header(), Object: f.obj, Class: f.h.car,
		OwnedAttributes: []model.AttributeHandle{f.h.privilege, f.h.position, f.h.fuel}})
	for _, m := range []*member{f.b, f.c} {
		m.send(t, &message.PublishObjectClassAttributes{Header: m.header(), Class: f.h.vehicle, Attributes: []model.AttributeHandle{f.h.position}})
	}
	for _, m := range []*member{f.a, f.b, f.c} {
		m.rec.take()
	}
	return f
}

func (f *ownershipFixture) request(t *testing.T, m *member, op message.OwnershipOp, attrs ...model.AttributeHandle) {
	t.Helper()
	m.send(t, &message.AttributeOwnershipRequest{Header: m.header(), Object: f.obj, Attributes: attrs, Op: op})
}

func (f *ownershipFixture) owner(t *testing.T, a model.AttributeHandle) (model.FederateHandle, model.OwnershipState) {
	t.Helper()
	owner, state, ok := f.n.Owner(f.a.fed, f.obj, a)
	require.True(t, ok)
	return owner, state
}

func notice(t *testing.T, m *member) *message.AttributeOwnershipNotification {
	t.Helper()
	return one[*message.AttributeOwnershipNotification](t, m.rec)
}

func TestNegotiatedTransferIsExclusive(t *testing.T) {
	f := newOwnershipFixture(t)

	f.request(t, f.b, message.OpAcquisition, f.h.position)
	require.Equal(t, message.NoticeRequestRelease, notice(t, f.a).Notice)
	owner, state := f.owner(t, f.h.position)
	require.Equal(t, f.a.handle, owner)
	require.Equal(t, model.AcquisitionPending, state)

	f.request(t, f.c, message.OpAcquisition, f.h.position)
	require.Equal(t, message.NoticeUnavailable, notice(t, f.c).Notice)

	f.request(t, f.a, message.OpNegotiatedDivestiture, f.h.position)
	require.Equal(t, message.NoticeDivestiture, notice(t, f.a).Notice)
	got := notice(t, f.b)
	require.Equal(t, message.NoticeAcquisition, got.Notice)
	require.Equal(t, []model.AttributeHandle{f.h.position}, got.Attributes)
	require.Empty(t, f.c.rec.take())

	owner, state = f.owner(t, f.h.position)
	require.Equal(t, f.b.handle, owner)
	require.Equal(t, model.Owned, state)
}

func TestNegotiatedDivestitureWaitsForAcquirer(t *testing.T) {
	f := newOwnershipFixture(t)

	f.request(t, f.a, message.OpNegotiatedDivestiture, f.h.position)
	require.Equal(t, message.NoticeRequestAssumption, notice(t, f.b).Notice)
	require.Equal(t, message.NoticeRequestAssumption, notice(t, f.c).Notice)
	_, state := f.owner(t, f.h.position)
	require.Equal(t, model.DivestiturePending, state)

	f.request(t, f.c, message.OpAcquisition, f.h.position)
	require.Equal(t, message.NoticeDivestiture, notice(t, f.a).Notice)
	require.Equal(t, message.NoticeAcquisition, notice(t, f.c).Notice)

	f.request(t, f.b, message.OpAcquisitionIfAvailable, f.h.position)
	require.Equal(t, message.NoticeUnavailable, notice(t, f.b).Notice)
	owner, _ := f.owner(t, f.h.position)
	require.Equal(t, f.c.handle, owner)
}

func TestCancelNegotiatedDivestiture(t *testing.T) {
	f := newOwnershipFixture(t)
	f.request(t, f.a, message.OpNegotiatedDivestiture, f.h.position)
	f.request(t, f.a, message.OpCancelNegotiatedDivestiture, f.h.position)
	owner, state := f.owner(t, f.h.position)
	require.Equal(t, f.a.handle, owner)
	require.Equal(t, model.Owned, state)
}

func TestUnconditionalDivestitureOffersToPublishers(t *testing.T) {
	f := newOwnershipFixture(t)

	f.request(t, f.a, message.OpUnconditionalDivestiture, f.h.position, f.h.fuel)
	require.Equal(t, []model.AttributeHandle{f.h.position}, notice(t, f.b).Attributes)
	require.Empty(t, f.a.rec.take())
	owner, state := f.owner(t, f.h.fuel)
	require.Zero(t, owner)
	require.Equal(t, model.Unowned, state)

	f.request(t, f.b, message.OpAcquisitionIfAvailable, f.h.position)
	require.Equal(t, message.NoticeAcquisition, notice(t, f.b).Notice)
	owner, _ = f.owner(t, f.h.position)
	require.Equal(t, f.b.handle, owner)
}

func TestCancelAcquisition(t *testing.T) {
	f := newOwnershipFixture(t)
	f.request(t, f.b, message.OpAcquisition, f.h.position)
	f.a.rec.take()

	f.request(t, f.b, message.OpCancelAcquisition, f.h.position)
	require.Equal(t, message.NoticeCancellationConfirmed, notice(t, f.b).Notice)
	_, state := f.owner(t, f.h.position)
	require.Equal(t, model.Owned, state)

	// With the candidacy gone the owner's confirmation transfers nothing.
	f.request(t, f.a, message.OpConfirmDivestiture, f.h.position)
	got := notice(t, f.a)
	require.Equal(t, message.NoticeRejected, got.Notice)
	require.ErrorIs(t, got.Failure(), model.ErrAttributeDivestitureWasNotRequested)
	owner, _ := f.owner(t, f.h.position)
	require.Equal(t, f.a.handle, owner)
}

func TestConfirmDivestiture(t *testing.T) {
	f := newOwnershipFixture(t)
	f.request(t, f.b, message.OpAcquisition, f.h.position)
	f.a.rec.take()
	f.request(t, f.a, message.OpConfirmDivestiture, f.h.position)
	require.Equal(t, message.NoticeAcquisition, notice(t, f.b).Notice)
	owner, _ := f.owner(t, f.h.position)
	require.Equal(t, f.b.handle, owner)
}

func TestOwnershipQuery(t *testing.T) {
	f := newOwnershipFixture(t)
	f.request(t, f.a, message.OpUnconditionalDivestiture, f.h.fuel)
	f.request(t, f.c, message.OpQuery, f.h.position, f.h.fuel)

	msgs := ofType[*message.AttributeOwnershipNotification](f.c.rec.take())
	require.Len(t, msgs, 2)
	require.Equal(t, model.FederateHandle(0), msgs[0].Owner)
	require.Equal(t, []model.AttributeHandle{f.h.fuel}, msgs[0].Attributes)
	require.Equal(t, f.a.handle, msgs[1].Owner)
	require.Equal(t, []model.AttributeHandle{f.h.position}, msgs[1].Attributes)
}

func TestOnlyOwnerCanDivest(t *testing.T) {
	f := newOwnershipFixture(t)
	f.request(t, f.b, message.OpUnconditionalDivestiture, f.h.position)
	got := notice(t, f.b)
	require.Equal(t, message.NoticeRejected, got.Notice)
	require.Equal(t, message.OpUnconditionalDivestiture, got.Op)
	require.ErrorIs(t, got.Failure(), model.ErrAttributeNotOwned)
	require.Empty(t, f.a.rec.take())
	owner, _ := f.owner(t, f.h.position)
	require.Equal(t, f.a.handle, owner)
}

func TestWrongStateRequestsAreRejected(t *testing.T) {
	f := newOwnershipFixture(t)
	f.request(t, f.b, message.OpAcquisition, f.h.fuel)
	f.a.rec.take()

	cases := []struct {
		name string
		by   *member
		op   message.OwnershipOp
		attr model.AttributeHandle
		want error
	}{
		{"negotiate unowned", f.b, message.OpNegotiatedDivestiture, f.h.position, model.ErrAttributeNotOwned},
		{"confirm unrequested", f.a, message.OpConfirmDivestiture, f.h.position, model.ErrAttributeDivestitureWasNotRequested},
		{"cancel undivested", f.a, message.OpCancelNegotiatedDivestiture, f.h.position, model.ErrAttributeDivestitureWasNotRequested},
		{"acquire owned", f.a, message.OpAcquisition, f.h.position, model.ErrAttributeAlreadyOwned},
		{"acquire twice", f.b, message.OpAcquisition, f.h.fuel, model.ErrAttributeAlreadyBeingAcquired},
		{"cancel unrequested", f.c, message.OpCancelAcquisition, f.h.position, model.ErrAttributeAcquisitionWasNotRequested},
		{"cancel owned", f.a, message.OpCancelAcquisition, f.h.position, model.ErrAttributeAlreadyOwned},
	}
	for _, tc := range cases {
		f.request(t, tc.by, tc.op, tc.attr)
		got := notice(t, tc.by)
		require.Equal(t, message.NoticeRejected, got.Notice, tc.name)
		require.Equal(t, tc.op, got.Op, tc.name)
		require.Equal(t, []model.AttributeHandle{tc.attr}, got.Attributes, tc.name)
		require.ErrorIs(t, got.Failure(), tc.want, tc.name)
	}

	f.request(t, f.a, message.OpNegotiatedDivestiture, f.h.position)
	f.request(t, f.a, message.OpNegotiatedDivestiture, f.h.position)
	rejected := ofType[*message.AttributeOwnershipNotification](f.a.rec.take())
	require.Len(t, rejected, 1)
	require.ErrorIs(t, rejected[0].Failure(), model.ErrAttributeAlreadyBeingDivested)

	owner, state := f.owner(t, f.h.position)
	require.Equal(t, f.a.handle, owner)
	require.Equal(t, model.DivestiturePending, state)
	owner, state = f.owner(t, f.h.fuel)
	require.Equal(t, f.a.handle, owner)
	require.Equal(t, model.AcquisitionPending, state)
}

func TestOwnerResignHandsAttributeToAcquirer(t *testing.T) {
	f := newOwnershipFixture(t)
	f.request(t, f.b, message.OpAcquisition, f.h.position)
	f.a.rec.take()

	f.a.send(t, &message.ResignFederationExecutionRequest{Header: f.a.header(), Action: model.ResignNoAction})

	got := notice(t, f.b)
	require.Equal(t, message.NoticeAcquisition, got.Notice)
	require.Equal(t, []model.AttributeHandle{f.h.position}, got.Attributes)
	owner, state := f.owner(t, f.h.position)
	require.Equal(t, f.b.handle, owner)
	require.Equal(t, model.Owned, state)
	owner, state = f.owner(t, f.h.fuel)
	require.Zero(t, owner)
	require.Equal(t, model.Unowned, state)
}

func TestResignCancelsPendingAcquisitions(t *testing.T) {
	f := newOwnershipFixture(t)
	f.request(t, f.b, message.OpAcquisition, f.h.position)
	f.a.rec.take()

	f.b.send(t, &message.ResignFederationExecutionRequest{Header: f.b.header(), Action: model.ResignCancelPendingAcquisitions})

	msgs := f.b.rec.take()
	cancelled := ofType[*message.AttributeOwnershipNotification](msgs)
	require.Len(t, cancelled, 1)
	require.Equal(t, message.NoticeCancellationConfirmed, cancelled[0].Notice)
	require.Len(t, ofType[*message.ResignFederationExecutionResponse](msgs), 1)

	owner, state := f.owner(t, f.h.position)
	require.Equal(t, f.a.handle, owner)
	require.Equal(t, model.Owned, state)
	f.request(t, f.c, message.OpAcquisition, f.h.position)
	require.Equal(t, message.NoticeRequestRelease, notice(t, f.a).Notice)
}

func TestResignDeletesObjectsAndDivests(t *testing.T) {
	f := newOwnershipFixture(t)
	other := model.NewObjectInstanceHandle(f.b.handle, 1)
	f.b.send(t, &message.InsertObjectInstance{Header: f.b.header(), Object: other, Class: f.h.car,
		OwnedAttributes: []model.AttributeHandle{f.h.privilege, f.h.position}})
	f.b.send(t, &message.AttributeOwnershipRequest{Header: f.b.header(), Object: other,
		Attributes: []model.AttributeHandle{f.h.position}, Op: message.OpUnconditionalDivestiture})
	f.a.send(t, &message.AttributeOwnershipRequest{Header: f.a.header(), Object: other,
		Attributes: []model.AttributeHandle{f.h.position}, Op: message.OpAcquisition})
	for _, m := range []*member{f.a, f.b, f.c} {
		m.rec.take()
	}

	f.a.send(t, &message.ResignFederationExecutionRequest{Header: f.a.header(), Action: model.ResignDeleteObjectsThenDivest})

	msgs := f.c.rec.take()
	deleted := ofType[*message.DeleteObjectInstance](msgs)
	require.Len(t, deleted, 1)
	require.Equal(t, f.obj, deleted[0].Object)
	offers := ofType[*message.AttributeOwnershipNotification](msgs)
	require.Len(t, offers, 1)
	require.Equal(t, other, offers[0].Object)
	require.Equal(t, message.NoticeRequestAssumption, offers[0].Notice)
	require.Len(t, ofType[*message.ResignFederateNotify](msgs), 1)

	_, _, ok := f.n.Owner(f.a.fed, f.obj, f.h.position)
	require.False(t, ok)
	owner, state, ok := f.n.Owner(f.a.fed, other, f.h.position)
	require.True(t, ok)
	require.Zero(t, owner)
	require.Equal(t, model.Unowned, state)
}

func TestLostConnectReleasesOwnership(t *testing.T) {
	f := newOwnershipFixture(t)
	f.request(t, f.b, message.OpAcquisition, f.h.position)

	f.n.EraseConnect(f.a.conn)

	// Alpha joined with cancel, delete and divest: its car is gone.
	_, _, ok := f.n.Owner(f.a.fed, f.obj, f.h.position)
	require.False(t, ok)
	require.Len(t, ofType[*message.DeleteObjectInstance](f.b.rec.take()), 1)
}
