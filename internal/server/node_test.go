package server

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/rti/core"
	"github.com/signalsfoundry/rti/internal/logging"
	"github.com/signalsfoundry/rti/message"
	"github.com/signalsfoundry/rti/model"
)

func newRoot(opts ...Option) *Node {
	return NewNode(logging.Noop(), append([]Option{WithName("root")}, opts...)...)
}

func TestConnectLifecycle(t *testing.T) {
	n := newRoot()
	rec := &recorder{}
	h := n.InsertConnect(rec, map[string][]string{"peer": {"a"}})
	require.True(t, n.HasConnect(h))
	require.Equal(t, []string{"a"}, n.ConnectOptions(h)["peer"])

	n.EraseConnect(h)
	require.False(t, n.HasConnect(h))
	require.True(t, rec.closed)

	err := n.DispatchMessage(&message.CreateFederationExecutionRequest{Name: "x"}, h)
	require.ErrorIs(t, err, ErrUnknownConnect)
	require.Panics(t, func() { n.EraseConnect(h) })
}

func TestConnectHandlesAreNotReused(t *testing.T) {
	n := newRoot()
	a := n.InsertConnect(&recorder{}, nil)
	n.EraseConnect(a)
	b := n.InsertConnect(&recorder{}, nil)
	require.NotEqual(t, a, b)
}

func TestSecondParentIsAViolation(t *testing.T) {
	n := newRoot()
	n.InsertParentConnect(&recorder{}, nil)
	require.False(t, n.IsRoot())
	require.PanicsWithError(t, "internal invariant violated: node \"root\" already has parent connect 1", func() {
		n.InsertParentConnect(&recorder{}, nil)
	})
}

func TestCreateFederationFailures(t *testing.T) {
	n := newRoot()
	createFederation(t, n, "fed")

	rec := &recorder{}
	conn := n.InsertConnect(rec, nil)
	cases := []struct {
		name string
		req  *message.CreateFederationExecutionRequest
		want error
	}{
		{"duplicate", &message.CreateFederationExecutionRequest{Name: "fed"}, model.ErrFederationExecutionAlreadyExists},
		{"bad time", &message.CreateFederationExecutionRequest{Name: "other", TimeImplementation: "HLAdecimalTime"}, model.ErrCouldNotCreateLogicalTimeFactory},
		{"no catalogue", &message.CreateFederationExecutionRequest{Name: "other", Designators: []string{"vehicles"}}, model.ErrCouldNotOpenFDD},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.req.RequestID = message.NewRequestID()
			require.NoError(t, n.DispatchMessage(tc.req, conn))
			resp := one[*message.CreateFederationExecutionResponse](t, rec)
			require.Equal(t, tc.req.RequestID, resp.ID())
			require.ErrorIs(t, resp.Failure(), tc.want)
		})
	}
}

func TestJoinResignDestroy(t *testing.T) {
	n := newRoot()
	createFederation(t, n, "fed")

	a := joinFederate(t, n, "fed", "alpha")
	b := joinFederate(t, n, "fed", "bravo")
	require.NotEqual(t, a.handle, b.handle)
	require.Len(t, b.response.Federates, 2)
	require.NotNil(t, b.response.ObjectModel)

	notify := one[*message.JoinFederateNotify](t, a.rec)
	require.Equal(t, b.handle, notify.Federate)
	require.Equal(t, "bravo", notify.Name)

	rec := &recorder{}
	conn := n.InsertConnect(rec, nil)
	require.NoError(t, n.DispatchMessage(&message.JoinFederationExecutionRequest{FederationName: "fed", FederateName: "alpha"}, conn))
	require.ErrorIs(t, one[*message.JoinFederationExecutionResponse](t, rec).Failure(), model.ErrFederateNameAlreadyInUse)

	require.NoError(t, n.DispatchMessage(&message.JoinFederationExecutionRequest{FederationName: "nope", FederateName: "x"}, conn))
	require.ErrorIs(t, one[*message.JoinFederationExecutionResponse](t, rec).Failure(), model.ErrFederationExecutionDoesNotExist)

	require.NoError(t, n.DispatchMessage(&message.DestroyFederationExecutionRequest{Name: "fed"}, conn))
	require.ErrorIs(t, one[*message.DestroyFederationExecutionResponse](t, rec).Failure(), model.ErrFederatesCurrentlyJoined)

	a.send(t, &message.ResignFederationExecutionRequest{Header: a.header(), Action: model.ResignNoAction})
	require.NoError(t, one[*message.ResignFederationExecutionResponse](t, a.rec).Failure())
	require.Equal(t, a.handle, one[*message.ResignFederateNotify](t, b.rec).Federate)

	b.send(t, &message.ResignFederationExecutionRequest{Header: b.header(), Action: 0x80})
	require.ErrorIs(t, one[*message.ResignFederationExecutionResponse](t, b.rec).Failure(), model.ErrInvalidResignAction)

	n.EraseConnect(b.conn)
	require.NoError(t, n.DispatchMessage(&message.DestroyFederationExecutionRequest{Name: "fed"}, conn))
	require.NoError(t, one[*message.DestroyFederationExecutionResponse](t, rec).Failure())
}

func TestUnnamedFederateGetsGeneratedName(t *testing.T) {
	n := newRoot()
	createFederation(t, n, "fed")
	m := joinFederate(t, n, "fed", "")
	require.Equal(t, "HLAfederate1", m.response.Federates[0].Name)
}

func TestSpoofedSourceIsDropped(t *testing.T) {
	n := newRoot()
	createFederation(t, n, "fed")
	a := joinFederate(t, n, "fed", "alpha")
	b := joinFederate(t, n, "fed", "bravo")

	err := n.DispatchMessage(&message.ResignFederationExecutionRequest{Header: a.header()}, b.conn)
	require.ErrorIs(t, err, ErrUnroutable)
	none[*message.ResignFederationExecutionResponse](t, a.rec)
}

func TestUpdatesReachOnlySubscribers(t *testing.T) {
	n := newRoot()
	createFederation(t, n, "fed")
	a := joinFederate(t, n, "fed", "alpha")
	b := joinFederate(t, n, "fed", "bravo")
	c := joinFederate(t, n, "fed", "charlie")
	h := resolve(t, a.response.ObjectModel)

	b.send(t, &message.SubscribeObjectClassAttributes{Header: b.header(), Class: h.vehicle, Attributes: []model.AttributeHandle{h.position}})
	for _, m := range []*member{a, b, c} {
		m.rec.take()
	}

	update := &message.AttributeUpdate{
		Header: a.header(),
		Object: model.NewObjectInstanceHandle(a.handle, 1),
		Class:  h.car,
		Values: []message.AttributeValue{{Handle: h.position, Value: []byte{1}}},
	}
	a.send(t, update)
	require.Len(t, b.rec.take(), 1)
	require.Empty(t, c.rec.take())
	require.Empty(t, a.rec.take())

	fuelOnly := &message.AttributeUpdate{Header: a.header(), Class: h.car, Values: []message.AttributeValue{{Handle: h.fuel}}}
	a.send(t, fuelOnly)
	require.Empty(t, b.rec.take())
}

func TestRegionFilteredUpdates(t *testing.T) {
	for _, ddm := range []bool{true, false} {
		n := newRoot(WithDDM(ddm))
		createFederation(t, n, "fed")
		a := joinFederate(t, n, "fed", "alpha")
		b := joinFederate(t, n, "fed", "bravo")
		h := resolve(t, a.response.ObjectModel)

		sub := core.RegionEntry{Handle: model.NewRegionHandle(b.handle, 1), Region: core.Region{h.x: core.NewRange(0, 10)}}
		b.send(t, &message.SubscribeObjectClassAttributes{
			Header: b.header(), Class: h.vehicle,
			Attributes: []model.AttributeHandle{h.position},
			Regions:    []core.RegionEntry{sub},
		})
		b.rec.take()

		update := func(lo, hi uint64) int {
			a.send(t, &message.AttributeUpdate{
				Header:  a.header(),
				Class:   h.vehicle,
				Values:  []message.AttributeValue{{Handle: h.position}},
				Regions: []core.Region{{h.x: core.NewRange(lo, hi)}},
			})
			return len(b.rec.take())
		}
		if ddm {
			require.Equal(t, 0, update(20, 30))
		} else {
			require.Equal(t, 1, update(20, 30))
		}
		require.Equal(t, 1, update(5, 15))

		// Moving the subscription region changes what matches.
		b.send(t, &message.CommitRegion{Header: b.header(), Regions: []core.RegionEntry{{Handle: sub.Handle, Region: core.Region{h.x: core.NewRange(20, 40)}}}})
		require.Equal(t, 1, update(20, 30))
		if ddm {
			require.Equal(t, 0, update(5, 15))
		}

		b.send(t, &message.EraseRegion{Header: b.header(), Regions: []model.RegionHandle{sub.Handle}})
		require.Equal(t, 0, update(20, 30))
		require.True(t, n.Regions(a.fed).Empty())
	}
}

func TestInteractionsFollowSubscriptions(t *testing.T) {
	n := newRoot()
	createFederation(t, n, "fed")
	a := joinFederate(t, n, "fed", "alpha")
	b := joinFederate(t, n, "fed", "bravo")
	h := resolve(t, a.response.ObjectModel)

	send := func() int {
		a.send(t, &message.Interaction{Header: a.header(), Class: h.greeting})
		return len(ofType[*message.Interaction](b.rec.take()))
	}
	require.Equal(t, 0, send())
	b.send(t, &message.SubscribeInteractionClass{Header: b.header(), Class: h.greeting})
	require.Equal(t, 1, send())
	b.send(t, &message.SubscribeInteractionClass{Header: b.header(), Class: h.greeting, Unsubscribe: true})
	require.Equal(t, 0, send())
}

func TestObjectRegistrationIsFlooded(t *testing.T) {
	n := newRoot()
	createFederation(t, n, "fed")
	a := joinFederate(t, n, "fed", "alpha")
	b := joinFederate(t, n, "fed", "bravo")
	h := resolve(t, a.response.ObjectModel)
	b.rec.take()

	obj := model.NewObjectInstanceHandle(a.handle, 1)
	insert := &message.InsertObjectInstance{Header: a.header(), Object: obj, Class: h.car, Name: "car-1",
		OwnedAttributes: []model.AttributeHandle{h.privilege, h.position}}
	a.send(t, insert)
	require.Equal(t, obj, one[*message.InsertObjectInstance](t, b.rec).Object)

	// A repeated registration is not propagated.
	a.send(t, insert)
	none[*message.InsertObjectInstance](t, b.rec)

	owner, state, ok := n.Owner(a.fed, obj, h.position)
	require.True(t, ok)
	require.Equal(t, a.handle, owner)
	require.Equal(t, model.Owned, state)

	c := joinFederate(t, n, "fed", "charlie")
	require.Len(t, c.response.Objects, 1)
	require.Equal(t, []model.AttributeHandle{h.privilege, h.position}, c.response.Objects[0].Owned(a.handle))
}

func TestNameReservation(t *testing.T) {
	n := newRoot()
	createFederation(t, n, "fed")
	a := joinFederate(t, n, "fed", "alpha")
	b := joinFederate(t, n, "fed", "bravo")

	reserve := func(m *member, name string) bool {
		m.send(t, &message.ReserveObjectInstanceNameRequest{Header: m.header(), Name: name})
		return one[*message.ReserveObjectInstanceNameResponse](t, m.rec).Success
	}
	require.True(t, reserve(a, "tank"))
	require.False(t, reserve(b, "tank"))
	require.False(t, reserve(b, "HLAtank"))
	a.send(t, &message.ReleaseObjectInstanceName{Header: a.header(), Name: "tank"})
	require.True(t, reserve(b, "tank"))
}

func TestSynchronizationPoints(t *testing.T) {
	n := newRoot()
	createFederation(t, n, "fed")
	a := joinFederate(t, n, "fed", "alpha")
	b := joinFederate(t, n, "fed", "bravo")
	c := joinFederate(t, n, "fed", "charlie")
	for _, m := range []*member{a, b, c} {
		m.rec.take()
	}

	a.send(t, &message.RegisterSynchronizationPointRequest{Header: a.header(), Label: "ready"})
	msgs := a.rec.take()
	require.NoError(t, ofType[*message.RegisterSynchronizationPointResponse](msgs)[0].Failure())
	announce := ofType[*message.AnnounceSynchronizationPoint](msgs)[0]
	require.ElementsMatch(t, []model.FederateHandle{a.handle, b.handle, c.handle}, announce.Federates)
	require.Len(t, ofType[*message.AnnounceSynchronizationPoint](b.rec.take()), 1)

	a.send(t, &message.RegisterSynchronizationPointRequest{Header: a.header(), Label: "ready"})
	require.ErrorIs(t, one[*message.RegisterSynchronizationPointResponse](t, a.rec).Failure(), model.ErrSynchronizationPointLabelNotUnique)

	a.send(t, &message.SynchronizationPointAchieved{Header: a.header(), Label: "ready", Success: true})
	b.send(t, &message.SynchronizationPointAchieved{Header: b.header(), Label: "ready", Success: false})
	none[*message.FederationSynchronized](t, a.rec)

	// The last outstanding member leaving completes the point.
	c.send(t, &message.ResignFederationExecutionRequest{Header: c.header()})
	done := one[*message.FederationSynchronized](t, a.rec)
	require.Equal(t, "ready", done.Label)
	require.Equal(t, []model.FederateHandle{b.handle}, done.Failed)
}

func TestExplicitSynchronizationSet(t *testing.T) {
	n := newRoot()
	createFederation(t, n, "fed")
	a := joinFederate(t, n, "fed", "alpha")
	b := joinFederate(t, n, "fed", "bravo")
	a.rec.take()

	a.send(t, &message.RegisterSynchronizationPointRequest{Header: a.header(), Label: "pair", Federates: []model.FederateHandle{a.handle, 99}})
	require.ErrorIs(t, one[*message.RegisterSynchronizationPointResponse](t, a.rec).Failure(), model.ErrFederateNotExecutionMember)

	a.send(t, &message.RegisterSynchronizationPointRequest{Header: a.header(), Label: "solo", Federates: []model.FederateHandle{a.handle}})
	a.rec.take()
	announce := one[*message.AnnounceSynchronizationPoint](t, b.rec)
	require.False(t, announce.Includes(b.handle))

	a.send(t, &message.SynchronizationPointAchieved{Header: a.header(), Label: "solo", Success: true})
	done := one[*message.FederationSynchronized](t, b.rec)
	require.Equal(t, "solo", done.Label)
	require.True(t, done.Includes(a.handle))
	require.False(t, done.Includes(b.handle))
}

func TestLateJoinerHoldsFederationWidePoint(t *testing.T) {
	n := newRoot()
	createFederation(t, n, "fed")
	a := joinFederate(t, n, "fed", "alpha")
	a.send(t, &message.RegisterSynchronizationPointRequest{Header: a.header(), Label: "ready"})
	a.rec.take()

	b := joinFederate(t, n, "fed", "bravo")
	require.Equal(t, []message.SyncPointInfo{{Label: "ready"}}, b.response.SyncPoints)

	a.send(t, &message.SynchronizationPointAchieved{Header: a.header(), Label: "ready", Success: true})
	none[*message.FederationSynchronized](t, a.rec)

	b.send(t, &message.SynchronizationPointAchieved{Header: b.header(), Label: "ready", Success: true})
	done := one[*message.FederationSynchronized](t, a.rec)
	require.ElementsMatch(t, []model.FederateHandle{a.handle, b.handle}, done.Federates)
}

type fakeMetrics struct {
	mu        sync.Mutex
	kinds     []string
	errs      int
	federates int
}

func (f *fakeMetrics) ObserveDispatch(kind string, _ time.Duration, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kinds = append(f.kinds, kind)
	if err != nil {
		f.errs++
	}
}

func (f *fakeMetrics) SetNodeCounts(_, _, federates int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.federates = federates
}

func TestMetricsRecorderObservesDispatch(t *testing.T) {
	m := &fakeMetrics{}
	n := newRoot(WithMetricsRecorder(m))
	createFederation(t, n, "fed")
	joinFederate(t, n, "fed", "alpha")

	rec := &recorder{}
	conn := n.InsertConnect(rec, nil)
	err := n.DispatchMessage(&message.FederationSaved{}, conn)
	require.True(t, errors.Is(err, ErrUnroutable))

	require.Equal(t, []string{"CreateFederationExecutionRequest", "JoinFederationExecutionRequest", "FederationSaved"}, m.kinds)
	require.Equal(t, 1, m.errs)
	require.Equal(t, 1, m.federates)
}
