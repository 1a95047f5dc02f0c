// Package server implements the server node: the routing and bookkeeping
// authority of one hub in the RTI tree. A node without a parent connect is
// the root and owns the authoritative state of every federation; other
// nodes keep mirrors for the federates below them and forward the rest.
//
// A Node is not safe for concurrent use. Drive it from one goroutine, for
// example through Loop.
package server

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/rti/core"
	"github.com/signalsfoundry/rti/internal/connect"
	"github.com/signalsfoundry/rti/internal/logging"
	"github.com/signalsfoundry/rti/internal/savestore"
	"github.com/signalsfoundry/rti/kb"
	"github.com/signalsfoundry/rti/message"
	"github.com/signalsfoundry/rti/model"
)

var (
	ErrUnknownConnect    = errors.New("unknown connect")
	ErrUnknownFederation = errors.New("unknown federation")
	ErrUnroutable        = errors.New("unroutable message")
)

// MetricsRecorder receives dispatch observations and entity counts.
type MetricsRecorder interface {
	ObserveDispatch(kind string, elapsed time.Duration, err error)
	SetNodeCounts(connects, federations, federates int)
}

// Option customises Node construction.
type Option func(*Node)

// WithName names the node in logs and spans.
func WithName(name string) Option {
	return func(n *Node) { n.name = name }
}

// WithDDM enables region based filtering of updates and interactions.
func WithDDM(enabled bool) Option {
	return func(n *Node) { n.ddm = enabled }
}

// WithSaveStore attaches the store federation saves are written to.
func WithSaveStore(s savestore.Store) Option {
	return func(n *Node) { n.store = s }
}

// WithCatalog attaches a module catalogue that create requests may name
// modules from.
func WithCatalog(c *kb.KnowledgeBase) Option {
	return func(n *Node) { n.catalog = c }
}

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(n *Node) { n.metrics = m }
}

// WithTracer overrides the tracer used for federation lifecycle spans.
func WithTracer(t trace.Tracer) Option {
	return func(n *Node) { n.tracer = t }
}

type pendingRequest struct {
	origin model.ConnectHandle
	action model.ResignAction
}

type connectRecord struct {
	handle  model.ConnectHandle
	sender  connect.MessageSender
	options map[string][]string
	parent  bool
}

// Node is one server hub.
type Node struct {
	name    string
	ddm     bool
	log     logging.Logger
	metrics MetricsRecorder
	tracer  trace.Tracer
	store   savestore.Store
	catalog *kb.KnowledgeBase

	connects    map[model.ConnectHandle]*connectRecord
	lastConnect model.ConnectHandle
	parent      model.ConnectHandle

	// pending remembers where requests without a federate handle came
	// from until the parent answers.
	pending map[message.RequestID]pendingRequest

	federations     map[model.FederationHandle]*federation
	byName          map[string]*federation
	federationAlloc *model.HandleAllocator
}

// NewNode constructs a root node; attaching a parent connect turns it into
// an inner node.
func NewNode(log logging.Logger, opts ...Option) *Node {
	if log == nil {
		log = logging.Noop()
	}
	n := &Node{
		name:            "rti",
		ddm:             true,
		log:             log,
		connects:        make(map[model.ConnectHandle]*connectRecord),
		pending:         make(map[message.RequestID]pendingRequest),
		federations:     make(map[model.FederationHandle]*federation),
		byName:          make(map[string]*federation),
		federationAlloc: model.NewHandleAllocator(model.MaxFederateHandle),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	if n.tracer == nil {
		n.tracer = otel.Tracer("github.com/signalsfoundry/rti/internal/server")
	}
	n.log = n.log.With(logging.String("node", n.name))
	return n
}

// IsRoot reports whether the node has no parent connect.
func (n *Node) IsRoot() bool { return n.parent == 0 }

// HasConnect reports whether handle is registered.
func (n *Node) HasConnect(handle model.ConnectHandle) bool {
	_, ok := n.connects[handle]
	return ok
}

// ConnectOptions returns the options a connect was registered with.
func (n *Node) ConnectOptions(handle model.ConnectHandle) map[string][]string {
	if rec, ok := n.connects[handle]; ok {
		return rec.options
	}
	return nil
}

// InsertConnect registers a downstream connect and returns its handle.
func (n *Node) InsertConnect(sender connect.MessageSender, clientOptions map[string][]string) model.ConnectHandle {
	n.lastConnect++
	h := n.lastConnect
	n.connects[h] = &connectRecord{handle: h, sender: sender, options: clientOptions}
	n.log.Debug(context.Background(), "connect inserted", logging.Connect(h))
	n.recordCounts()
	return h
}

// InsertParentConnect registers the single upstream connect. A second
// parent is an invariant violation.
func (n *Node) InsertParentConnect(sender connect.MessageSender, parentOptions map[string][]string) model.ConnectHandle {
	if n.parent != 0 {
		model.Violation("node %q already has parent connect %d", n.name, n.parent)
	}
	h := n.InsertConnect(sender, parentOptions)
	n.connects[h].parent = true
	n.parent = h
	n.log.Info(context.Background(), "parent connect inserted", logging.Connect(h))
	return h
}

// EraseConnect tears a connect down. Federates reachable only through it
// are resigned with their automatic resign action. Erasing the parent
// drops every federation mirror and tells the children the link is lost.
// Erasing an unknown handle is an invariant violation.
func (n *Node) EraseConnect(handle model.ConnectHandle) {
	rec, ok := n.connects[handle]
	if !ok {
		model.Violation("erase of unknown connect %d", handle)
	}
	ctx := context.Background()
	delete(n.connects, handle)

	if rec.parent {
		n.parent = 0
		n.log.Warn(ctx, "parent connect lost; dropping federation mirrors")
		for _, h := range n.connectHandles() {
			n.send(h, &message.ConnectionLost{Reason: "parent connect lost"})
		}
		clear(n.federations)
		clear(n.byName)
		clear(n.pending)
	} else {
		for _, fed := range n.sortedFederations() {
			for _, f := range fed.sortedFederates() {
				if f.connect == handle {
					n.cascadeResign(fed, f)
				}
			}
		}
	}
	rec.sender.Close()
	n.log.Debug(ctx, "connect erased", logging.Connect(handle))
	n.recordCounts()
}

// DispatchMessage routes one message that arrived on connect from.
// Messages from unknown connects are dropped. Protocol failures are
// answered to the requester; the returned error only reports messages the
// node could not route.
func (n *Node) DispatchMessage(msg message.Message, from model.ConnectHandle) (err error) {
	start := time.Now()
	defer func() {
		if n.metrics != nil {
			n.metrics.ObserveDispatch(string(msg.Kind()), time.Since(start), err)
		}
		if err != nil {
			n.log.Warn(context.Background(), "message dropped",
				logging.String("kind", string(msg.Kind())),
				logging.Connect(from),
				logging.Err(err))
		}
	}()

	if _, ok := n.connects[from]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownConnect, from)
	}
	n.log.Debug(context.Background(), "dispatch",
		logging.String("kind", string(msg.Kind())),
		logging.Connect(from))

	switch m := msg.(type) {
	case *message.CreateFederationExecutionRequest:
		return n.onCreate(m, from)
	case *message.DestroyFederationExecutionRequest:
		return n.onDestroy(m, from)
	case *message.JoinFederationExecutionRequest:
		return n.onJoin(m, from)
	case *message.CreateFederationExecutionResponse, *message.DestroyFederationExecutionResponse:
		return n.routeResponse(m.(message.Response), from)
	case *message.JoinFederationExecutionResponse:
		return n.onJoinResponse(m, from)

	case *message.ResignFederationExecutionRequest:
		return n.onResign(m, from)
	case *message.ResignFederationExecutionResponse:
		return n.onResignResponse(m, from)

	case *message.PublishObjectClassAttributes, *message.PublishInteractionClass,
		*message.SubscribeObjectClassAttributes, *message.SubscribeInteractionClass,
		*message.CommitRegion, *message.EraseRegion,
		*message.RegisterSynchronizationPointRequest, *message.SynchronizationPointAchieved,
		*message.RequestFederationSave, *message.FederateSaveBegun, *message.FederateSaveStatus,
		*message.AbortFederationSave, *message.RequestFederationRestore, *message.FederateRestoreStatus,
		*message.ReserveObjectInstanceNameRequest, *message.ReleaseObjectInstanceName,
		*message.AttributeOwnershipRequest:
		return n.onUpstream(m.(message.Sourced), from)

	case *message.InsertObjectInstance, *message.DeleteObjectInstance,
		*message.EnableTimeRegulationRequest, *message.DisableTimeRegulationRequest,
		*message.CommitLowerBoundTimeStamp, *message.RequestAttributeValueUpdate:
		return n.onFederateFlood(m.(message.Sourced), from)

	case *message.JoinFederateNotify, *message.ResignFederateNotify,
		*message.AnnounceSynchronizationPoint, *message.FederationSynchronized,
		*message.InitiateFederateSave, *message.FederationSaved,
		*message.FederationRestoreBegun, *message.InitiateFederateRestore, *message.FederationRestored:
		return n.onRootFlood(m.(message.Scoped), from)

	case *message.AttributeUpdate:
		return n.onInterest(m, from, func(fed *federation, f *federateRecord) bool {
			return n.matchesUpdate(fed, f, m)
		})
	case *message.Interaction:
		return n.onInterest(m, from, func(fed *federation, f *federateRecord) bool {
			return n.matchesInteraction(fed, f, m)
		})

	case *message.RegisterSynchronizationPointResponse, *message.ReserveObjectInstanceNameResponse,
		*message.RequestFederationSaveResponse, *message.RequestFederationRestoreResponse, *message.AttributeOwnershipNotification,
		*message.EnableTimeRegulationResponse:
		return n.onTargeted(m.(message.Addressed), from)

	case *message.ConnectionLost:
		n.log.Warn(context.Background(), "peer reported connection lost", logging.String("reason", m.Reason))
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnroutable, msg.Kind())
}

// send hands m to one connect. A failing sender is logged, never fatal.
func (n *Node) send(h model.ConnectHandle, m message.Message) {
	rec, ok := n.connects[h]
	if !ok {
		return
	}
	if err := rec.sender.Send(m); err != nil {
		n.log.Warn(context.Background(), "send failed",
			logging.Connect(h),
			logging.String("kind", string(m.Kind())),
			logging.Err(err))
	}
}

func (n *Node) sendUp(m message.Message) {
	if n.parent != 0 {
		n.send(n.parent, m)
	}
}

// broadcast sends m up when it did not come from the parent and to every
// downstream connect of fed other than from.
func (n *Node) broadcast(fed *federation, m message.Message, from model.ConnectHandle) {
	if from != n.parent {
		n.sendUp(m)
	}
	for _, h := range fed.downstream() {
		if h != from {
			n.send(h, m)
		}
	}
}

// deliver routes an addressed message toward its federate.
func (n *Node) deliver(fed *federation, to model.FederateHandle, m message.Message, from model.ConnectHandle) error {
	if f, ok := fed.federates[to]; ok {
		if f.connect != from {
			n.send(f.connect, m)
		}
		return nil
	}
	if n.parent != 0 && from != n.parent {
		n.sendUp(m)
		return nil
	}
	return fmt.Errorf("%w: no route to %s", ErrUnroutable, to)
}

func (n *Node) routeResponse(m message.Response, from model.ConnectHandle) error {
	p, ok := n.pending[m.ID()]
	if !ok {
		return fmt.Errorf("%w: no pending request %s", ErrUnroutable, m.ID())
	}
	delete(n.pending, m.ID())
	n.send(p.origin, m)
	return nil
}

// lookup resolves the federation of a scoped message.
func (n *Node) lookup(m message.Scoped) (*federation, error) {
	fed, ok := n.federations[m.FederationHandle()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFederation, m.FederationHandle())
	}
	return fed, nil
}

// source resolves the issuing federate of a message from a child and
// checks that it really sits behind that connect.
func (n *Node) source(m message.Sourced, from model.ConnectHandle) (*federation, *federateRecord, error) {
	fed, err := n.lookup(m)
	if err != nil {
		return nil, nil, err
	}
	f, ok := fed.federates[m.FederateHandle()]
	if !ok {
		if from == n.parent {
			return fed, nil, nil
		}
		return nil, nil, fmt.Errorf("%w: %s unknown in %s", ErrUnroutable, m.FederateHandle(), fed.name)
	}
	if from != 0 && from != n.parent && f.connect != from {
		return nil, nil, fmt.Errorf("%w: %s is not behind connect %d", ErrUnroutable, f.handle, from)
	}
	return fed, f, nil
}

func (n *Node) onUpstream(m message.Sourced, from model.ConnectHandle) error {
	if from == n.parent {
		return fmt.Errorf("%w: %s from parent", ErrUnroutable, m.Kind())
	}
	fed, f, err := n.source(m, from)
	if err != nil {
		return err
	}
	switch m := m.(type) {
	case *message.PublishObjectClassAttributes, *message.PublishInteractionClass:
	case *message.SubscribeObjectClassAttributes:
		fed.subscribeObject(f, m)
	case *message.SubscribeInteractionClass:
		fed.subscribeInteraction(f, m)
	case *message.CommitRegion:
		fed.commitRegions(f, m.Regions)
	case *message.EraseRegion:
		fed.eraseRegions(f, m.Regions)
	}
	if !n.IsRoot() {
		n.sendUp(m)
		return nil
	}
	return n.handleAtRoot(fed, f, m)
}

func (n *Node) handleAtRoot(fed *federation, f *federateRecord, m message.Sourced) error {
	switch m := m.(type) {
	case *message.PublishObjectClassAttributes:
		fed.publishObject(f, m)
	case *message.PublishInteractionClass:
		fed.publishInteraction(f, m)
	case *message.SubscribeObjectClassAttributes, *message.SubscribeInteractionClass,
		*message.CommitRegion, *message.EraseRegion:
	case *message.RegisterSynchronizationPointRequest:
		n.registerSyncPoint(fed, f, m)
	case *message.SynchronizationPointAchieved:
		n.achieveSyncPoint(fed, f, m)
	case *message.RequestFederationSave:
		n.requestSave(fed, f, m)
	case *message.FederateSaveBegun:
		n.log.Debug(context.Background(), "federate save begun", logging.Federation(fed.name), logging.Federate(f.handle))
	case *message.FederateSaveStatus:
		n.saveStatus(fed, f, m.Success)
	case *message.AbortFederationSave:
		n.abortSave(fed)
	case *message.RequestFederationRestore:
		n.requestRestore(fed, f, m)
	case *message.FederateRestoreStatus:
		n.restoreStatus(fed, f, m.Success)
	case *message.ReserveObjectInstanceNameRequest:
		n.reserveName(fed, f, m)
	case *message.ReleaseObjectInstanceName:
		fed.releaseName(f.handle, m.Name)
	case *message.AttributeOwnershipRequest:
		n.ownershipRequest(fed, f, m)
	default:
		return fmt.Errorf("%w: %s at root", ErrUnroutable, m.Kind())
	}
	return nil
}

// onFederateFlood handles federation wide messages a federate emits.
func (n *Node) onFederateFlood(m message.Sourced, from model.ConnectHandle) error {
	fed, f, err := n.source(m, from)
	if err != nil {
		return err
	}
	if n.IsRoot() {
		if !n.recordFlood(fed, f, m) {
			return nil
		}
	}
	n.broadcast(fed, m, from)
	return nil
}

// recordFlood keeps the root's view of objects and commits current. It
// returns false when the message must not be propagated.
func (n *Node) recordFlood(fed *federation, f *federateRecord, m message.Sourced) bool {
	switch m := m.(type) {
	case *message.InsertObjectInstance:
		if err := fed.insertObject(f.handle, m); err != nil {
			n.log.Warn(context.Background(), "object registration rejected",
				logging.Federation(fed.name), logging.Err(err))
			return false
		}
	case *message.DeleteObjectInstance:
		if _, ok := fed.objects[m.Object]; !ok {
			return false
		}
		fed.deleteObject(m.Object)
	case *message.EnableTimeRegulationRequest:
		fed.commits[f.handle] = message.CommitInfo{Federate: f.handle, Commit: m.Commit}
	case *message.CommitLowerBoundTimeStamp:
		fed.commits[f.handle] = message.CommitInfo{Federate: f.handle, Commit: m.Commit, Strict: m.Strict}
	case *message.DisableTimeRegulationRequest:
		delete(fed.commits, f.handle)
	}
	return true
}

// onRootFlood relays root generated notifications down the tree.
func (n *Node) onRootFlood(m message.Scoped, from model.ConnectHandle) error {
	if from != n.parent || n.IsRoot() {
		return fmt.Errorf("%w: %s must come from the parent", ErrUnroutable, m.Kind())
	}
	fed, err := n.lookup(m)
	if err != nil {
		// No federate below takes part in this federation.
		return nil
	}
	if notify, ok := m.(*message.ResignFederateNotify); ok {
		n.dropMirrorFederate(fed, notify.Federate)
	}
	n.broadcast(fed, m, from)
	if fed.empty() {
		n.dropMirror(fed)
	}
	return nil
}

func (n *Node) onTargeted(m message.Addressed, from model.ConnectHandle) error {
	fed, err := n.lookup(m)
	if err != nil {
		return err
	}
	return n.deliver(fed, m.Recipient(), m, from)
}

// onInterest routes updates and interactions to every connect with a
// matching subscriber, at most once per connect.
func (n *Node) onInterest(m message.Sourced, from model.ConnectHandle, match func(*federation, *federateRecord) bool) error {
	fed, _, err := n.source(m, from)
	if err != nil {
		return err
	}
	if from != n.parent {
		n.sendUp(m)
	}
	sent := map[model.ConnectHandle]bool{from: true}
	for _, f := range fed.sortedFederates() {
		if sent[f.connect] || f.handle == m.FederateHandle() {
			continue
		}
		if match(fed, f) {
			sent[f.connect] = true
			n.send(f.connect, m)
		}
	}
	return nil
}

func (n *Node) matchesUpdate(fed *federation, f *federateRecord, m *message.AttributeUpdate) bool {
	class, ok := fed.om.NearestObjectClass(m.Class, func(c model.ObjectClassHandle) bool {
		_, ok := f.objectSubs[c]
		return ok
	})
	if !ok {
		return false
	}
	sub := f.objectSubs[class]
	regional := false
	for _, v := range m.Values {
		if _, ok := sub.attrs[v.Handle]; ok {
			return true
		}
		if _, ok := sub.regionAttrs[v.Handle]; ok {
			regional = true
		}
	}
	return regional && (!n.ddm || sub.matchesRegions(m.Regions))
}

func (n *Node) matchesInteraction(fed *federation, f *federateRecord, m *message.Interaction) bool {
	class, ok := fed.om.NearestInteractionClass(m.Class, func(c model.InteractionClassHandle) bool {
		_, ok := f.interactionSubs[c]
		return ok
	})
	if !ok {
		return false
	}
	sub := f.interactionSubs[class]
	if sub.unfiltered {
		return true
	}
	return !n.ddm || sub.matchesRegions(m.Regions)
}

func (n *Node) connectHandles() []model.ConnectHandle {
	out := make([]model.ConnectHandle, 0, len(n.connects))
	for h, rec := range n.connects {
		if !rec.parent {
			out = append(out, h)
		}
	}
	slices.Sort(out)
	return out
}

func (n *Node) sortedFederations() []*federation {
	out := make([]*federation, 0, len(n.federations))
	for _, fed := range n.federations {
		out = append(out, fed)
	}
	slices.SortFunc(out, func(a, b *federation) int { return cmpHandle(a.handle, b.handle) })
	return out
}

func (n *Node) recordCounts() {
	if n.metrics == nil {
		return
	}
	federates := 0
	for _, fed := range n.federations {
		federates += len(fed.federates)
	}
	n.metrics.SetNodeCounts(len(n.connects), len(n.federations), federates)
}

// span starts a lifecycle span named op.
func (n *Node) span(op string, fed string) (context.Context, trace.Span) {
	return n.tracer.Start(context.Background(), "rti."+op,
		trace.WithAttributes(attribute.String("rti.node", n.name), attribute.String("rti.federation", fed)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Regions exposes the regions committed for a federation on this node.
func (n *Node) Regions(federation model.FederationHandle) *core.RegionSet {
	if fed, ok := n.federations[federation]; ok {
		return fed.regions
	}
	return nil
}
