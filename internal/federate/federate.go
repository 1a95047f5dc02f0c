package federate

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/signalsfoundry/rti/internal/logging"
	"github.com/signalsfoundry/rti/kb"
	"github.com/signalsfoundry/rti/message"
	"github.com/signalsfoundry/rti/model"
	"github.com/signalsfoundry/rti/timectrl"
)

// Option configures Join.
type Option func(*settings)

type settings struct {
	log          logging.Logger
	resignAction model.ResignAction
}

// WithLogger sets the logger of the federate.
func WithLogger(log logging.Logger) Option {
	return func(s *settings) { s.log = log }
}

// WithResignAction sets the action the server applies when the connect is
// lost without a resign. The default cancels acquisitions, deletes owned
// objects and divests the remaining attributes.
func WithResignAction(action model.ResignAction) Option {
	return func(s *settings) { s.resignAction = action }
}

// Federate is one joined federate. It is not safe for concurrent use: all
// calls, including Tick, belong to one goroutine.
type Federate[T timectrl.Time[T, I], I timectrl.Interval[I]] struct {
	amb     *Ambassador
	factory timectrl.Factory[T, I]
	cb      Callbacks[T]
	log     logging.Logger
	calls   callbackQueue

	federation     model.FederationHandle
	federationName string
	handle         model.FederateHandle
	name           string
	om             *kb.ObjectModel
	phase          model.FederationPhase
	joined         bool
	lost           bool

	federates map[model.FederateHandle]message.FederateInfo

	objectPubs      map[model.ObjectClassHandle]attrSet
	interactionPubs map[model.InteractionClassHandle]struct{}
	objectSubs      map[model.ObjectClassHandle]*subscription
	interactionSubs map[model.InteractionClassHandle]*subscription

	objects  map[model.ObjectInstanceHandle]*objectView
	serial   uint32
	reserved map[string]bool

	regions      map[model.RegionHandle]*regionView
	regionSerial uint32

	// announced maps pending labels to whether they were achieved.
	announced map[string]bool
	saveLabel string
	saves     map[string]timeSnapshot[T, I]

	tm timeState[T, I]
}

// Join joins the named federation through amb. The federation's time
// implementation must be the one factory provides.
func Join[T timectrl.Time[T, I], I timectrl.Interval[I]](ctx context.Context, amb *Ambassador, factory timectrl.Factory[T, I], federation, name, federateType string, cb Callbacks[T], opts ...Option) (*Federate[T, I], error) {
	s := settings{log: amb.log, resignAction: model.ResignCancelThenDeleteThenDivest}
	for _, opt := range opts {
		opt(&s)
	}
	if !s.resignAction.Valid() {
		return nil, model.Errorf(model.InvalidResignAction, "resign action %d", s.resignAction)
	}

	id := message.NewRequestID()
	resp, err := amb.request(ctx, id, &message.JoinFederationExecutionRequest{
		Correlation:    message.Correlation{RequestID: id},
		FederationName: federation,
		FederateName:   name,
		FederateType:   federateType,
		ResignAction:   s.resignAction,
	})
	if err != nil {
		return nil, err
	}
	if err := resp.Failure(); err != nil {
		return nil, err
	}
	jr, ok := resp.(*message.JoinFederationExecutionResponse)
	if !ok {
		return nil, model.Errorf(model.RTIinternalError, "unexpected join response %s", resp.Kind())
	}

	f := newFederate(amb, factory, cb, s.log, jr)
	if jr.TimeImplementation != factory.Name() {
		_ = f.ResignFederationExecution(ctx, model.ResignNoAction)
		return nil, model.Errorf(model.CouldNotCreateLogicalTimeFactory,
			"federation %q uses %s, federate uses %s", federation, jr.TimeImplementation, factory.Name())
	}
	f.load(jr)
	f.log.Info(ctx, "joined federation",
		logging.Federation(f.federationName),
		logging.String("federate", f.name),
		logging.Uint64("handle", uint64(f.handle)))
	return f, nil
}

func newFederate[T timectrl.Time[T, I], I timectrl.Interval[I]](amb *Ambassador, factory timectrl.Factory[T, I], cb Callbacks[T], log logging.Logger, jr *message.JoinFederationExecutionResponse) *Federate[T, I] {
	if log == nil {
		log = logging.Noop()
	}
	f := &Federate[T, I]{
		amb:             amb,
		factory:         factory,
		cb:              cb,
		federation:      jr.Federation,
		federationName:  jr.FederationName,
		handle:          jr.Federate,
		om:              jr.ObjectModel,
		phase:           jr.Phase,
		joined:          true,
		federates:       make(map[model.FederateHandle]message.FederateInfo),
		objectPubs:      make(map[model.ObjectClassHandle]attrSet),
		interactionPubs: make(map[model.InteractionClassHandle]struct{}),
		objectSubs:      make(map[model.ObjectClassHandle]*subscription),
		interactionSubs: make(map[model.InteractionClassHandle]*subscription),
		objects:         make(map[model.ObjectInstanceHandle]*objectView),
		reserved:        make(map[string]bool),
		regions:         make(map[model.RegionHandle]*regionView),
		announced:       make(map[string]bool),
		saves:           make(map[string]timeSnapshot[T, I]),
		tm:              newTimeState(factory),
	}
	for _, info := range jr.Federates {
		if info.Handle == f.handle {
			f.name = info.Name
			continue
		}
		f.federates[info.Handle] = info
	}
	f.log = log.With(logging.String("federate", f.name))
	return f
}

// load takes over the federation state the join response carries.
func (f *Federate[T, I]) load(jr *message.JoinFederationExecutionResponse) {
	for _, info := range jr.Objects {
		f.insertObject(info.Handle, info.Class, info.Name, info.Owned(f.handle))
	}
	for _, c := range jr.Commits {
		if c.Federate == f.handle {
			continue
		}
		t, err := f.factory.DecodeTime(c.Commit)
		if err != nil {
			f.log.Warn(context.Background(), "undecodable commit in join snapshot",
				logging.Uint64("from", uint64(c.Federate)), logging.Err(err))
			continue
		}
		f.tm.peers[c.Federate] = bound[T]{time: t, strict: c.Strict}
	}
	for _, sp := range jr.SyncPoints {
		f.announce(sp.Label, sp.Tag)
	}
}

// Handle returns the federate handle assigned at join.
func (f *Federate[T, I]) Handle() model.FederateHandle { return f.handle }

// Name returns the federate name, generated by the server when none was
// given.
func (f *Federate[T, I]) Name() string { return f.name }

// FederationHandle returns the handle of the joined federation.
func (f *Federate[T, I]) FederationHandle() model.FederationHandle { return f.federation }

// ObjectModel returns the federation's merged object model.
func (f *Federate[T, I]) ObjectModel() *kb.ObjectModel { return f.om }

// Federates lists the other joined federates.
func (f *Federate[T, I]) Federates() []message.FederateInfo {
	out := make([]message.FederateInfo, 0, len(f.federates))
	for _, h := range slices.Sorted(maps.Keys(f.federates)) {
		out = append(out, f.federates[h])
	}
	return out
}

func (f *Federate[T, I]) header() message.Header {
	return message.Header{Federation: f.federation, Federate: f.handle}
}

func (f *Federate[T, I]) send(m message.Message) error {
	if err := f.member(); err != nil {
		return err
	}
	return f.amb.send(m)
}

// member fails once the federate resigned or lost its connect.
func (f *Federate[T, I]) member() error {
	if f.lost {
		return model.Errorf(model.NotConnected, "connection lost")
	}
	if !f.joined {
		return model.Errorf(model.FederateNotExecutionMember, "federate %q resigned", f.name)
	}
	return nil
}

// active additionally rejects calls while a save or restore runs.
func (f *Federate[T, I]) active() error {
	if err := f.member(); err != nil {
		return err
	}
	return model.PhaseError(f.phase)
}

// ResignFederationExecution leaves the federation after the server applied
// action.
func (f *Federate[T, I]) ResignFederationExecution(ctx context.Context, action model.ResignAction) error {
	if err := f.member(); err != nil {
		return err
	}
	if !action.Valid() {
		return model.Errorf(model.InvalidResignAction, "resign action %d", action)
	}
	if err := f.amb.send(&message.ResignFederationExecutionRequest{Header: f.header(), Action: action}); err != nil {
		return err
	}
	resp, err := f.amb.await(ctx, func(m message.Message) bool {
		r, ok := m.(*message.ResignFederationExecutionResponse)
		return ok && r.To == f.handle && r.Federation == f.federation
	})
	if err != nil {
		return err
	}
	if err := resp.(*message.ResignFederationExecutionResponse).Failure(); err != nil {
		return err
	}
	f.joined = false
	f.log.Info(ctx, "resigned", logging.String("action", action.String()))
	return nil
}

// Tick runs the callbacks waiting when it is called. When none is waiting
// it waits up to timeout for traffic that produces one. Callbacks queued
// by those callbacks wait for the next call. It reports whether any
// callback ran.
func (f *Federate[T, I]) Tick(timeout time.Duration) (bool, error) {
	if err := f.fill(timeout); err != nil {
		return false, err
	}
	n := f.calls.len()
	for i := 0; i < n; i++ {
		fn, _ := f.calls.pop()
		fn()
	}
	return n > 0, nil
}

// EvokeCallback runs at most one callback, waiting up to timeout for one.
func (f *Federate[T, I]) EvokeCallback(timeout time.Duration) (bool, error) {
	if err := f.fill(timeout); err != nil {
		return false, err
	}
	fn, ok := f.calls.pop()
	if !ok {
		return false, nil
	}
	fn()
	return true, nil
}

// fill processes traffic until a callback is waiting or timeout passes.
// It fails only when the connect is gone and nothing is left to deliver.
func (f *Federate[T, I]) fill(timeout time.Duration) error {
	f.drain()
	deadline := time.Now().Add(timeout)
	for f.calls.len() == 0 {
		if !f.amb.Connected() {
			f.connectionLost("connect closed")
			if f.calls.len() > 0 {
				return nil
			}
			return model.Errorf(model.NotConnected, "connection lost")
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		m, ok := f.amb.receive(remaining)
		if !ok {
			continue
		}
		f.apply(m)
		f.drain()
	}
	return nil
}

func (f *Federate[T, I]) drain() {
	for {
		m, ok := f.amb.poll()
		if !ok {
			return
		}
		f.apply(m)
	}
}

func (f *Federate[T, I]) connectionLost(reason string) {
	if f.lost {
		return
	}
	f.lost = true
	f.amb.lost = true
	f.log.Warn(context.Background(), "connection lost", logging.String("reason", reason))
	if cb := f.cb.ConnectionLost; cb != nil {
		f.calls.push(func() { cb(reason) })
	}
}

// apply applies one message from the server.
func (f *Federate[T, I]) apply(m message.Message) {
	if lost, ok := m.(*message.ConnectionLost); ok {
		f.connectionLost(lost.Reason)
		return
	}
	if s, ok := m.(message.Scoped); ok && s.FederationHandle() != f.federation {
		return
	}
	if a, ok := m.(message.Addressed); ok && a.Recipient() != f.handle {
		return
	}
	switch m := m.(type) {
	case *message.JoinFederateNotify:
		if m.Federate != f.handle {
			f.federates[m.Federate] = message.FederateInfo{Handle: m.Federate, Name: m.Name, Type: m.Type}
		}
	case *message.ResignFederateNotify:
		if m.Federate != f.handle {
			f.federateLeft(m.Federate)
		}

	case *message.EnableTimeRegulationRequest:
		f.onRegulationRequest(m)
	case *message.EnableTimeRegulationResponse:
		f.onRegulationResponse(m)
	case *message.DisableTimeRegulationRequest:
		delete(f.tm.peers, m.Federate)
		f.progress()
	case *message.CommitLowerBoundTimeStamp:
		f.onCommit(m)

	case *message.InsertObjectInstance:
		f.onInsert(m)
	case *message.DeleteObjectInstance:
		f.onDelete(m)
	case *message.AttributeUpdate:
		f.onUpdate(m)
	case *message.Interaction:
		f.onInteraction(m)
	case *message.RequestAttributeValueUpdate:
		f.onProvideRequest(m)
	case *message.ReserveObjectInstanceNameResponse:
		f.onNameReserved(m)

	case *message.AttributeOwnershipNotification:
		f.onOwnership(m)

	case *message.RegisterSynchronizationPointResponse:
		f.onRegisterResponse(m)
	case *message.AnnounceSynchronizationPoint:
		if m.Includes(f.handle) {
			f.announce(m.Label, m.Tag)
		}
	case *message.FederationSynchronized:
		f.onSynchronized(m)

	case *message.RequestFederationSaveResponse:
		f.onSaveResponse(m)
	case *message.InitiateFederateSave:
		f.onInitiateSave(m)
	case *message.FederationSaved:
		f.onSaved(m)
	case *message.RequestFederationRestoreResponse:
		f.onRestoreResponse(m)
	case *message.FederationRestoreBegun:
		f.onRestoreBegun(m)
	case *message.InitiateFederateRestore:
		f.onInitiateRestore(m)
	case *message.FederationRestored:
		f.onRestored(m)

	default:
		f.log.Debug(context.Background(), "message ignored", logging.String("kind", string(m.Kind())))
	}
}

// federateLeft forgets a resigned federate. Its objects were deleted or
// divested by separate messages.
func (f *Federate[T, I]) federateLeft(h model.FederateHandle) {
	delete(f.federates, h)
	delete(f.tm.peers, h)
	if f.tm.regulation == regulationPending {
		delete(f.tm.awaiting, h)
		f.checkRegulation()
	}
	f.progress()
}

func (f *Federate[T, I]) String() string {
	return fmt.Sprintf("federate %q (%d) in %q", f.name, f.handle, f.federationName)
}
