package federate

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/rti/internal/logging"
	"github.com/signalsfoundry/rti/internal/server"
	"github.com/signalsfoundry/rti/kb"
	"github.com/signalsfoundry/rti/model"
	"github.com/signalsfoundry/rti/timectrl"
)

type (
	clock = timectrl.Float64Time
	span  = timectrl.Float64Interval
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

func startServer(t *testing.T, opts ...server.Option) *server.Loop {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	l := server.NewLoop(server.NewNode(logging.Noop(), append([]server.Option{server.WithName("root")}, opts...)...))
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return l
}

func dial(t *testing.T, l *server.Loop) *Ambassador {
	t.Helper()
	c, err := l.Connect(context.Background(), nil)
	require.NoError(t, err)
	return NewAmbassador(c, logging.Noop())
}

func requireKind(t *testing.T, err error, kind model.ErrorKind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, model.KindOf(err), "error: %v", err)
}

// events records every callback a federate received, in order.
type events struct {
	log []string

	reserved     map[string]bool
	discovered   []model.ObjectInstanceHandle
	removed      []model.ObjectInstanceHandle
	reflections  []Reflection[clock]
	receipts     []Receipt[clock]
	provide      []model.ObjectInstanceHandle
	grants       []clock
	regulating   bool
	constrained  bool
	lost         bool
	notices      map[string][]model.AttributeHandle
	rejections   []model.ErrorKind
	owners       map[model.AttributeHandle]model.FederateHandle
	registered   []string
	announced    []string
	synchronized []string
	saveLabels   []string
	saveRefused  []model.ErrorKind
	saved        []bool
	restoreOK    []bool
	restoring    []string
	restored     []bool
}

func newEvents() *events {
	return &events{
		reserved: make(map[string]bool),
		notices:  make(map[string][]model.AttributeHandle),
		owners:   make(map[model.AttributeHandle]model.FederateHandle),
	}
}

func (e *events) note(format string, args ...any) {
	e.log = append(e.log, fmt.Sprintf(format, args...))
}

func (e *events) ownershipNotice(name string) func(model.ObjectInstanceHandle, []model.AttributeHandle) {
	return func(_ model.ObjectInstanceHandle, attrs []model.AttributeHandle) {
		e.notices[name] = append(e.notices[name], attrs...)
		e.note("%s", name)
	}
}

func (e *events) callbacks() Callbacks[clock] {
	return Callbacks[clock]{
		ConnectionLost: func(string) { e.lost = true },

		SynchronizationPointRegistrationSucceeded: func(label string) { e.registered = append(e.registered, label) },
		SynchronizationPointRegistrationFailed:    func(label string, _ error) { e.note("register failed %s", label) },
		AnnounceSynchronizationPoint:              func(label string, _ []byte) { e.announced = append(e.announced, label) },
		FederationSynchronized: func(label string, _ []model.FederateHandle) {
			e.synchronized = append(e.synchronized, label)
		},

		FederationSaveRejected: func(_ string, err error) {
			e.saveRefused = append(e.saveRefused, model.KindOf(err))
		},
		InitiateFederateSave:     func(label string) { e.saveLabels = append(e.saveLabels, label) },
		FederationSaved:          func(ok bool, _ string) { e.saved = append(e.saved, ok) },
		RequestFederationRestore: func(_ string, ok bool, _ string) { e.restoreOK = append(e.restoreOK, ok) },
		InitiateFederateRestore: func(label, _ string, _ model.FederateHandle) {
			e.restoring = append(e.restoring, label)
		},
		FederationRestored:         func(ok bool, _ string) { e.restored = append(e.restored, ok) },
		ObjectInstanceNameReserved: func(name string, ok bool) { e.reserved[name] = ok },

		DiscoverObjectInstance: func(obj model.ObjectInstanceHandle, _ model.ObjectClassHandle, _ string) {
			e.discovered = append(e.discovered, obj)
			e.note("discover")
		},
		ReflectAttributeValues: func(r Reflection[clock]) {
			e.reflections = append(e.reflections, r)
			e.note("reflect %s", r.Tag)
		},
		ReceiveInteraction: func(r Receipt[clock]) {
			e.receipts = append(e.receipts, r)
			e.note("receive %s", r.Tag)
		},
		RemoveObjectInstance: func(obj model.ObjectInstanceHandle, _ []byte) { e.removed = append(e.removed, obj) },
		ProvideAttributeValueUpdate: func(obj model.ObjectInstanceHandle, _ []model.AttributeHandle, _ []byte) {
			e.provide = append(e.provide, obj)
		},

		RequestAttributeOwnershipRelease: func(_ model.ObjectInstanceHandle, attrs []model.AttributeHandle, _ []byte) {
			e.notices["release"] = append(e.notices["release"], attrs...)
		},
		RequestAttributeOwnershipAssumption: func(_ model.ObjectInstanceHandle, attrs []model.AttributeHandle, _ []byte) {
			e.notices["assume"] = append(e.notices["assume"], attrs...)
		},
		AttributeOwnershipDivestitureNotification:        e.ownershipNotice("divested"),
		AttributeOwnershipAcquisitionNotification:        e.ownershipNotice("acquired"),
		AttributeOwnershipUnavailable:                    e.ownershipNotice("unavailable"),
		ConfirmAttributeOwnershipAcquisitionCancellation: e.ownershipNotice("cancelled"),
		InformAttributeOwnership: func(_ model.ObjectInstanceHandle, attr model.AttributeHandle, owner model.FederateHandle) {
			e.owners[attr] = owner
		},
		AttributeOwnershipRequestRejected: func(_ model.ObjectInstanceHandle, attrs []model.AttributeHandle, err error) {
			e.notices["rejected"] = append(e.notices["rejected"], attrs...)
			e.rejections = append(e.rejections, model.KindOf(err))
		},

		TimeRegulationEnabled:  func(clock) { e.regulating = true },
		TimeConstrainedEnabled: func(clock) { e.constrained = true },
		TimeAdvanceGrant: func(t clock) {
			e.grants = append(e.grants, t)
			e.note("grant %s", t)
		},
	}
}

// handles resolves the fixture names against the joined object model.
type handles struct {
	vehicle   model.ObjectClassHandle
	car       model.ObjectClassHandle
	position  model.AttributeHandle
	fuel      model.AttributeHandle
	privilege model.AttributeHandle
	greeting  model.InteractionClassHandle
	text      model.ParameterHandle
	x         model.DimensionHandle
}

func resolve(t *testing.T, om *kb.ObjectModel) handles {
	t.Helper()
	var h handles
	var err error
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
	h.text, err = om.ParameterByName(h.greeting, "Text")
	require.NoError(t, err)
	h.x, err = om.DimensionByName("X")
	require.NoError(t, err)
	return h
}

// peer is a joined federate with its recorded callbacks.
type peer struct {
	*Federate[clock, span]
	ev  *events
	amb *Ambassador
	h   handles
	n   int
}

// federation starts a root server with a federation "fed" built from the
// vehicle module.
func federation(t *testing.T, opts ...server.Option) *server.Loop {
	t.Helper()
	l := startServer(t, opts...)
	amb := dial(t, l)
	require.NoError(t, amb.CreateFederationExecution(context.Background(), "fed", "", []*kb.Module{vehicleModule()}))
	amb.Close()
	return l
}

func join(t *testing.T, l *server.Loop, name string) *peer {
	t.Helper()
	amb := dial(t, l)
	ev := newEvents()
	f, err := Join[clock, span](context.Background(), amb, timectrl.Float64Factory{}, "fed", name, "test", ev.callbacks())
	require.NoError(t, err)
	return &peer{Federate: f, ev: ev, amb: amb, h: resolve(t, f.ObjectModel())}
}

// settle ticks every peer until cond holds.
func settle(t *testing.T, cond func() bool, peers ...*peer) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		for _, p := range peers {
			_, err := p.Tick(5 * time.Millisecond)
			require.NoError(t, err)
		}
	}
	require.True(t, cond(), "condition not reached")
}

// idle ticks every peer for d without expecting anything.
func idle(t *testing.T, d time.Duration, peers ...*peer) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		for _, p := range peers {
			_, err := p.Tick(5 * time.Millisecond)
			require.NoError(t, err)
		}
	}
}

// barrier returns once the server processed everything p sent so far.
func (p *peer) barrier(t *testing.T) {
	t.Helper()
	p.n++
	name := fmt.Sprintf("barrier-%s-%d", p.Name(), p.n)
	require.NoError(t, p.ReserveObjectInstanceName(name))
	settle(t, func() bool { _, ok := p.ev.reserved[name]; return ok }, p)
}

// acquainted joins names and waits until every peer knows the others.
func acquainted(t *testing.T, l *server.Loop, names ...string) []*peer {
	t.Helper()
	peers := make([]*peer, 0, len(names))
	for _, name := range names {
		peers = append(peers, join(t, l, name))
	}
	settle(t, func() bool {
		for _, p := range peers {
			if len(p.Federates()) != len(peers)-1 {
				return false
			}
		}
		return true
	}, peers...)
	return peers
}

// regulate enables regulation with lookahead on p while the others answer.
func regulate(t *testing.T, p *peer, lookahead span, others ...*peer) {
	t.Helper()
	require.NoError(t, p.EnableTimeRegulation(lookahead))
	settle(t, func() bool { return p.ev.regulating }, append([]*peer{p}, others...)...)
	require.True(t, p.IsTimeRegulating())
}

func constrain(t *testing.T, p *peer, others ...*peer) {
	t.Helper()
	require.NoError(t, p.EnableTimeConstrained())
	settle(t, func() bool { return p.ev.constrained }, append([]*peer{p}, others...)...)
	require.True(t, p.IsTimeConstrained())
}
