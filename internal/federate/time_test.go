package federate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/rti/message"
	"github.com/signalsfoundry/rti/model"
)

func TestLoneFederateAdvancesFreely(t *testing.T) {
	l := federation(t)
	p := join(t, l, "alpha")
	regulate(t, p, 2)
	constrain(t, p)

	la, err := p.QueryLookahead()
	require.NoError(t, err)
	require.Equal(t, span(2), la)
	_, ok := p.QueryGALT()
	require.False(t, ok)

	require.NoError(t, p.TimeAdvanceRequest(5))
	settle(t, func() bool { return len(p.ev.grants) == 1 }, p)
	require.Equal(t, []clock{5}, p.ev.grants)
	require.Equal(t, clock(5), p.QueryLogicalTime())
}

func TestMutualRegulationGrantsTogether(t *testing.T) {
	l := federation(t)
	peers := acquainted(t, l, "a", "b")
	a, b := peers[0], peers[1]
	regulate(t, a, 1, b)
	regulate(t, b, 1, a)
	constrain(t, a, b)
	constrain(t, b, a)

	galt, ok := a.QueryGALT()
	require.True(t, ok)
	require.Equal(t, clock(1), galt)

	require.NoError(t, a.TimeAdvanceRequest(10))
	idle(t, 50*time.Millisecond, a, b)
	require.Empty(t, a.ev.grants, "a must wait for b")

	require.NoError(t, b.TimeAdvanceRequest(10))
	settle(t, func() bool { return len(a.ev.grants) == 1 && len(b.ev.grants) == 1 }, a, b)
	require.Equal(t, []clock{10}, a.ev.grants)
	require.Equal(t, []clock{10}, b.ev.grants)

	galt, ok = a.QueryGALT()
	require.True(t, ok)
	require.Equal(t, clock(11), galt)
}

func TestZeroLookaheadAdvance(t *testing.T) {
	l := federation(t)
	peers := acquainted(t, l, "a", "b")
	a, b := peers[0], peers[1]
	regulate(t, a, 0, b)
	regulate(t, b, 0, a)
	constrain(t, a, b)
	constrain(t, b, a)

	require.NoError(t, a.TimeAdvanceRequest(5))
	require.NoError(t, b.TimeAdvanceRequest(5))
	settle(t, func() bool { return len(a.ev.grants) == 1 && len(b.ev.grants) == 1 }, a, b)
	require.Equal(t, clock(5), a.QueryLogicalTime())
	require.Equal(t, clock(5), b.QueryLogicalTime())

	// After a zero lookahead grant the granted time itself is closed.
	require.NoError(t, a.PublishInteractionClass(a.h.greeting))
	requireKind(t, a.SendInteractionAt(a.h.greeting, nil, nil, 5), model.InvalidLogicalTime)

	require.NoError(t, a.TimeAdvanceRequestAvailable(7))
	require.NoError(t, b.TimeAdvanceRequestAvailable(7))
	settle(t, func() bool { return len(a.ev.grants) == 2 && len(b.ev.grants) == 2 }, a, b)
	require.NoError(t, a.SendInteractionAt(a.h.greeting, nil, nil, 7))
}

func TestTimestampOrderDelivery(t *testing.T) {
	l := federation(t)
	peers := acquainted(t, l, "producer", "consumer")
	prod, cons := peers[0], peers[1]
	regulate(t, prod, 1, cons)
	constrain(t, cons, prod)

	require.NoError(t, cons.SubscribeInteractionClass(cons.h.greeting))
	cons.barrier(t)
	require.NoError(t, prod.PublishInteractionClass(prod.h.greeting))
	require.NoError(t, prod.SendInteractionAt(prod.h.greeting, nil, []byte("t5"), 5))
	require.NoError(t, prod.SendInteractionAt(prod.h.greeting, nil, []byte("t3"), 3))
	require.NoError(t, prod.SendInteraction(prod.h.greeting, nil, []byte("ro")))
	requireKind(t, prod.SendInteractionAt(prod.h.greeting, nil, nil, 0.5), model.InvalidLogicalTime)

	settle(t, func() bool { return len(cons.ev.receipts) == 1 }, prod, cons)
	require.Equal(t, []string{"receive ro"}, cons.ev.log)

	require.NoError(t, prod.TimeAdvanceRequest(20))
	require.NoError(t, cons.TimeAdvanceRequest(10))
	settle(t, func() bool { return len(cons.ev.grants) == 1 }, prod, cons)
	require.Equal(t, []string{"receive ro", "receive t3", "receive t5", "grant 10"}, cons.ev.log)

	r := cons.ev.receipts[1]
	require.Equal(t, model.TimestampOrder, r.Order)
	require.True(t, r.Timestamped)
	require.Equal(t, clock(3), r.Time)
}

func TestUnconstrainedReceivesTimestampedInReceiveOrder(t *testing.T) {
	l := federation(t)
	peers := acquainted(t, l, "producer", "consumer")
	prod, cons := peers[0], peers[1]
	regulate(t, prod, 1, cons)

	require.NoError(t, cons.SubscribeInteractionClass(cons.h.greeting))
	cons.barrier(t)
	require.NoError(t, prod.PublishInteractionClass(prod.h.greeting))
	require.NoError(t, prod.SendInteractionAt(prod.h.greeting, nil, []byte("t5"), 5))
	settle(t, func() bool { return len(cons.ev.receipts) == 1 }, prod, cons)

	r := cons.ev.receipts[0]
	require.Equal(t, model.ReceiveOrder, r.Order)
	require.True(t, r.Timestamped)
	require.Equal(t, clock(5), r.Time)
}

func TestNextMessageRequestStopsAtMessage(t *testing.T) {
	l := federation(t)
	peers := acquainted(t, l, "producer", "consumer")
	prod, cons := peers[0], peers[1]
	regulate(t, prod, 1, cons)
	constrain(t, cons, prod)

	require.NoError(t, cons.SubscribeObjectClassAttributes(cons.h.vehicle, []model.AttributeHandle{cons.h.position}, false))
	cons.barrier(t)
	require.NoError(t, prod.PublishObjectClassAttributes(prod.h.vehicle, []model.AttributeHandle{prod.h.position}))
	obj, err := prod.RegisterObjectInstance(prod.h.vehicle, "")
	require.NoError(t, err)
	require.NoError(t, prod.UpdateAttributeValuesAt(obj,
		[]message.AttributeValue{{Handle: prod.h.position, Value: []byte{4}}}, []byte("t4"), 4))
	require.NoError(t, prod.TimeAdvanceRequest(20))

	require.NoError(t, cons.NextMessageRequest(10))
	settle(t, func() bool { return len(cons.ev.grants) == 1 }, prod, cons)
	require.Equal(t, []string{"discover", "reflect t4", "grant 4"}, cons.ev.log)
	require.Equal(t, clock(4), cons.QueryLogicalTime())

	require.NoError(t, cons.NextMessageRequest(10))
	settle(t, func() bool { return len(cons.ev.grants) == 2 }, prod, cons)
	require.Equal(t, clock(10), cons.ev.grants[1])
}

func TestRegulationStartsAtConstrainedPeerTime(t *testing.T) {
	l := federation(t)
	peers := acquainted(t, l, "early", "late")
	early, late := peers[0], peers[1]
	constrain(t, late, early)
	require.NoError(t, late.TimeAdvanceRequest(8))
	settle(t, func() bool { return len(late.ev.grants) == 1 }, late)

	regulate(t, early, 1, late)
	require.Equal(t, clock(8), early.QueryLogicalTime())
}

func TestQueryLITSIncludesQueuedMessages(t *testing.T) {
	l := federation(t)
	peers := acquainted(t, l, "producer", "consumer")
	prod, cons := peers[0], peers[1]
	regulate(t, prod, 1, cons)
	constrain(t, cons, prod)
	require.NoError(t, cons.SubscribeInteractionClass(cons.h.greeting))
	cons.barrier(t)
	require.NoError(t, prod.PublishInteractionClass(prod.h.greeting))
	require.NoError(t, prod.SendInteractionAt(prod.h.greeting, nil, nil, 6))
	require.NoError(t, prod.TimeAdvanceRequest(30))
	settle(t, func() bool {
		g, ok := cons.QueryGALT()
		return ok && g == 31
	}, prod, cons)

	lits, ok := cons.QueryLITS()
	require.True(t, ok)
	require.Equal(t, clock(6), lits)

	require.NoError(t, cons.DisableTimeConstrained())
	settle(t, func() bool { return len(cons.ev.receipts) == 1 }, cons)
	lits, ok = cons.QueryLITS()
	require.True(t, ok)
	require.Equal(t, clock(31), lits)
}

func TestTimeManagementErrors(t *testing.T) {
	l := federation(t)
	peers := acquainted(t, l, "a", "b")
	a, b := peers[0], peers[1]

	_, err := a.QueryLookahead()
	requireKind(t, err, model.TimeRegulationIsNotEnabled)
	requireKind(t, a.ModifyLookahead(1), model.TimeRegulationIsNotEnabled)
	requireKind(t, a.DisableTimeRegulation(), model.TimeRegulationIsNotEnabled)
	requireKind(t, a.DisableTimeConstrained(), model.TimeConstrainedIsNotEnabled)
	requireKind(t, a.EnableTimeRegulation(-1), model.InvalidLookahead)

	require.NoError(t, a.EnableTimeRegulation(1))
	requireKind(t, a.EnableTimeRegulation(1), model.RequestForTimeRegulationPending)
	requireKind(t, a.TimeAdvanceRequest(3), model.RequestForTimeRegulationPending)
	settle(t, func() bool { return a.ev.regulating }, a, b)
	requireKind(t, a.EnableTimeRegulation(1), model.TimeRegulationAlreadyEnabled)

	regulate(t, b, 1, a)
	constrain(t, a, b)
	requireKind(t, a.EnableTimeConstrained(), model.TimeConstrainedAlreadyEnabled)

	requireKind(t, a.TimeAdvanceRequest(0), model.LogicalTimeAlreadyPassed)
	require.NoError(t, a.TimeAdvanceRequest(3))
	requireKind(t, a.TimeAdvanceRequest(4), model.InTimeAdvancingState)
	requireKind(t, a.ModifyLookahead(2), model.InTimeAdvancingState)
	requireKind(t, a.DisableTimeRegulation(), model.InTimeAdvancingState)
	idle(t, 30*time.Millisecond, a, b)
	require.Empty(t, a.ev.grants)

	require.NoError(t, b.TimeAdvanceRequest(10))
	settle(t, func() bool { return len(a.ev.grants) == 1 }, a, b)
	requireKind(t, a.TimeAdvanceRequest(3), model.LogicalTimeAlreadyPassed)
	require.NoError(t, a.TimeAdvanceRequestAvailable(3))
	settle(t, func() bool { return len(a.ev.grants) == 2 }, a, b)

	require.NoError(t, a.ModifyLookahead(2))
	la, err := a.QueryLookahead()
	require.NoError(t, err)
	require.Equal(t, span(2), la)

	require.NoError(t, a.DisableTimeRegulation())
	require.False(t, a.IsTimeRegulating())
	settle(t, func() bool { _, ok := b.QueryGALT(); return !ok }, b)
}
