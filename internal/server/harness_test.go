package server

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/rti/kb"
	"github.com/signalsfoundry/rti/message"
	"github.com/signalsfoundry/rti/model"
)

func vehicleModule() *kb.Module {
	return &kb.Module{
		Name:       "vehicles",
		Dimensions: []kb.DimensionDef{{Name: "X", UpperBound: 1000}},
		ObjectClasses: []kb.ObjectClassDef{
			{Name: "Vehicle", Attributes: []kb.AttributeDef{{Name: "Position", Dimensions: []string{"X"}}}},
			{Name: "Vehicle.Car", Attributes: []kb.AttributeDef{{Name: "Fuel"}}},
		},
		InteractionClasses: []kb.InteractionClassDef{
			{Name: "Greeting", Parameters: []string{"Text"}, Dimensions: []string{"X"}},
		},
	}
}

// recorder is a MessageSender standing in for a federate.
type recorder struct {
	mu     sync.Mutex
	msgs   []message.Message
	closed bool
}

func (r *recorder) Send(m message.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
	return nil
}

func (r *recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func (r *recorder) take() []message.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.msgs
	r.msgs = nil
	return out
}

func ofType[T message.Message](msgs []message.Message) []T {
	var out []T
	for _, m := range msgs {
		if v, ok := m.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// one drains r and requires exactly one message of type T.
func one[T message.Message](t *testing.T, r *recorder) T {
	t.Helper()
	got := ofType[T](r.take())
	require.Len(t, got, 1)
	return got[0]
}

func none[T message.Message](t *testing.T, r *recorder) {
	t.Helper()
	require.Empty(t, ofType[T](r.take()))
}

// handles resolves the fixture names against a built object model.
type handles struct {
	om        *kb.ObjectModel
	vehicle   model.ObjectClassHandle
	car       model.ObjectClassHandle
	position  model.AttributeHandle
	fuel      model.AttributeHandle
	privilege model.AttributeHandle
	greeting  model.InteractionClassHandle
	x         model.DimensionHandle
}

func resolve(t *testing.T, om *kb.ObjectModel) handles {
	t.Helper()
	var h handles
	var err error
	h.om = om
	h.vehicle, err = om.ObjectClassByName("Vehicle")
	require.NoError(t, err)
	h.car, err = om.ObjectClassByName("Vehicle.Car")
	require.NoError(t, err)
	h.position, err = om.AttributeByName(h.car, "Position")
	require.NoError(t, err)
	h.fuel, err = om.AttributeByName(h.car, "Fuel")
	require.NoError(t, err)
	h.privilege = om.PrivilegeToDelete()
	h.greeting, err = om.InteractionClassByName("Greeting")
	require.NoError(t, err)
	h.x, err = om.DimensionByName("X")
	require.NoError(t, err)
	return h
}

// member is a joined federate driven directly against a node.
type member struct {
	node     *Node
	conn     model.ConnectHandle
	rec      *recorder
	fed      model.FederationHandle
	handle   model.FederateHandle
	response *message.JoinFederationExecutionResponse
}

func (m *member) header() message.Header {
	return message.Header{Federation: m.fed, Federate: m.handle}
}

func (m *member) send(t *testing.T, msg message.Message) {
	t.Helper()
	require.NoError(t, m.node.DispatchMessage(msg, m.conn))
}

func createFederation(t *testing.T, n *Node, name string) model.FederationHandle {
	t.Helper()
	rec := &recorder{}
	conn := n.InsertConnect(rec, nil)
	require.NoError(t, n.DispatchMessage(&message.CreateFederationExecutionRequest{
		Correlation: message.Correlation{RequestID: message.NewRequestID()},
		Name:        name,
		Modules:     []*kb.Module{vehicleModule()},
	}, conn))
	resp := one[*message.CreateFederationExecutionResponse](t, rec)
	require.NoError(t, resp.Failure())
	n.EraseConnect(conn)
	return resp.Federation
}

func joinFederate(t *testing.T, n *Node, federation, name string) *member {
	t.Helper()
	rec := &recorder{}
	conn := n.InsertConnect(rec, nil)
	require.NoError(t, n.DispatchMessage(&message.JoinFederationExecutionRequest{
		Correlation:    message.Correlation{RequestID: message.NewRequestID()},
		FederationName: federation,
		FederateName:   name,
		FederateType:   "test",
		ResignAction:   model.ResignCancelThenDeleteThenDivest,
	}, conn))
	msgs := rec.take()
	resp := ofType[*message.JoinFederationExecutionResponse](msgs)
	require.Len(t, resp, 1)
	require.NoError(t, resp[0].Failure())
	return &member{node: n, conn: conn, rec: rec, fed: resp[0].Federation, handle: resp[0].Federate, response: resp[0]}
}
