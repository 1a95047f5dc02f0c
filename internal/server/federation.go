package server

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/signalsfoundry/rti/core"
	"github.com/signalsfoundry/rti/internal/logging"
	"github.com/signalsfoundry/rti/kb"
	"github.com/signalsfoundry/rti/message"
	"github.com/signalsfoundry/rti/model"
	"github.com/signalsfoundry/rti/timectrl"
)

// subscription is one federate's interest in a class. Attributes in attrs
// match regardless of regions; those in regionAttrs only where the update
// regions meet regions.
type subscription struct {
	attrs       map[model.AttributeHandle]struct{}
	regionAttrs map[model.AttributeHandle]struct{}
	regions     *core.RegionSet
	passive     bool
	unfiltered  bool
}

func newSubscription() *subscription {
	return &subscription{
		attrs:       make(map[model.AttributeHandle]struct{}),
		regionAttrs: make(map[model.AttributeHandle]struct{}),
		regions:     core.NewRegionSet(),
	}
}

func (s *subscription) empty() bool {
	return !s.unfiltered && len(s.attrs) == 0 && (len(s.regionAttrs) == 0 || s.regions.Empty())
}

// matchesRegions treats an update without regions as covering the whole
// routing space.
func (s *subscription) matchesRegions(regions []core.Region) bool {
	if s.regions.Empty() {
		return false
	}
	if len(regions) == 0 {
		return true
	}
	for _, r := range regions {
		if s.regions.IntersectsRegion(r) {
			return true
		}
	}
	return false
}

type federateRecord struct {
	handle       model.FederateHandle
	name         string
	typ          string
	connect      model.ConnectHandle
	resignAction model.ResignAction

	objectSubs      map[model.ObjectClassHandle]*subscription
	interactionSubs map[model.InteractionClassHandle]*subscription

	// Publications are only tracked at the root.
	objectPubs      map[model.ObjectClassHandle]map[model.AttributeHandle]struct{}
	interactionPubs map[model.InteractionClassHandle]struct{}
}

func newFederateRecord(h model.FederateHandle, name, typ string, conn model.ConnectHandle, action model.ResignAction) *federateRecord {
	return &federateRecord{
		handle:          h,
		name:            name,
		typ:             typ,
		connect:         conn,
		resignAction:    action,
		objectSubs:      make(map[model.ObjectClassHandle]*subscription),
		interactionSubs: make(map[model.InteractionClassHandle]*subscription),
		objectPubs:      make(map[model.ObjectClassHandle]map[model.AttributeHandle]struct{}),
		interactionPubs: make(map[model.InteractionClassHandle]struct{}),
	}
}

func (f *federateRecord) publishes(om *kb.ObjectModel, class model.ObjectClassHandle, attr model.AttributeHandle) bool {
	for _, c := range om.ObjectClassAncestry(class) {
		if _, ok := f.objectPubs[c][attr]; ok {
			return true
		}
	}
	return false
}

type nameEntry struct {
	federate model.FederateHandle
	object   model.ObjectInstanceHandle
}

// federation is the state a node keeps for one federation execution. On
// inner nodes it is a mirror holding only the federates below the node;
// the object, name, commit, sync and save tables stay empty there.
type federation struct {
	handle   model.FederationHandle
	name     string
	timeImpl string
	om       *kb.ObjectModel
	phase    model.FederationPhase

	federates map[model.FederateHandle]*federateRecord
	regions   *core.RegionSet

	federateAlloc *model.HandleAllocator
	objects       map[model.ObjectInstanceHandle]*objectRecord
	names         map[string]nameEntry
	commits       map[model.FederateHandle]message.CommitInfo
	syncPoints    map[string]*syncPoint
	save          *saveState
	restore       *restoreState
}

func newFederation(h model.FederationHandle, name, timeImpl string, om *kb.ObjectModel) *federation {
	return &federation{
		handle:        h,
		name:          name,
		timeImpl:      timeImpl,
		om:            om,
		phase:         model.PhaseCreated,
		federates:     make(map[model.FederateHandle]*federateRecord),
		regions:       core.NewRegionSet(),
		federateAlloc: model.NewHandleAllocator(model.MaxFederateHandle),
		objects:       make(map[model.ObjectInstanceHandle]*objectRecord),
		names:         make(map[string]nameEntry),
		commits:       make(map[model.FederateHandle]message.CommitInfo),
		syncPoints:    make(map[string]*syncPoint),
	}
}

func (fed *federation) empty() bool { return len(fed.federates) == 0 }

func (fed *federation) sortedFederates() []*federateRecord {
	out := make([]*federateRecord, 0, len(fed.federates))
	for _, f := range fed.federates {
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b *federateRecord) int { return cmpHandle(a.handle, b.handle) })
	return out
}

func (fed *federation) federateByName(name string) *federateRecord {
	for _, f := range fed.federates {
		if f.name == name {
			return f
		}
	}
	return nil
}

// downstream returns the connects that lead to federates of fed.
func (fed *federation) downstream() []model.ConnectHandle {
	var out []model.ConnectHandle
	for _, f := range fed.federates {
		if !slices.Contains(out, f.connect) {
			out = append(out, f.connect)
		}
	}
	slices.Sort(out)
	return out
}

func (fed *federation) removeFederate(h model.FederateHandle) {
	delete(fed.federates, h)
	fed.regions.EraseFederate(h)
}

func (fed *federation) federateInfos() []message.FederateInfo {
	out := make([]message.FederateInfo, 0, len(fed.federates))
	for _, f := range fed.sortedFederates() {
		out = append(out, message.FederateInfo{Handle: f.handle, Name: f.name, Type: f.typ})
	}
	return out
}

func (fed *federation) commitInfos() []message.CommitInfo {
	out := make([]message.CommitInfo, 0, len(fed.commits))
	for _, c := range fed.commits {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b message.CommitInfo) int { return cmpHandle(a.Federate, b.Federate) })
	return out
}

func (fed *federation) publishObject(f *federateRecord, m *message.PublishObjectClassAttributes) {
	if m.Unpublish {
		if len(m.Attributes) == 0 {
			delete(f.objectPubs, m.Class)
			return
		}
		for _, a := range m.Attributes {
			delete(f.objectPubs[m.Class], a)
		}
		if len(f.objectPubs[m.Class]) == 0 {
			delete(f.objectPubs, m.Class)
		}
		return
	}
	pub, ok := f.objectPubs[m.Class]
	if !ok {
		pub = make(map[model.AttributeHandle]struct{})
		f.objectPubs[m.Class] = pub
	}
	for _, a := range m.Attributes {
		pub[a] = struct{}{}
	}
}

func (fed *federation) publishInteraction(f *federateRecord, m *message.PublishInteractionClass) {
	if m.Unpublish {
		delete(f.interactionPubs, m.Class)
		return
	}
	f.interactionPubs[m.Class] = struct{}{}
}

func (fed *federation) subscribeObject(f *federateRecord, m *message.SubscribeObjectClassAttributes) {
	if f == nil {
		return
	}
	sub, ok := f.objectSubs[m.Class]
	if m.Unsubscribe {
		if !ok {
			return
		}
		switch {
		case len(m.Regions) > 0:
			for _, r := range m.Regions {
				sub.regions.Erase(r.Handle)
			}
			if sub.regions.Empty() {
				clear(sub.regionAttrs)
			}
		case len(m.Attributes) == 0:
			delete(f.objectSubs, m.Class)
			return
		default:
			for _, a := range m.Attributes {
				delete(sub.attrs, a)
				delete(sub.regionAttrs, a)
			}
		}
		if sub.empty() {
			delete(f.objectSubs, m.Class)
		}
		return
	}
	if !ok {
		sub = newSubscription()
		f.objectSubs[m.Class] = sub
	}
	sub.passive = m.Passive
	if len(m.Regions) == 0 {
		for _, a := range m.Attributes {
			sub.attrs[a] = struct{}{}
		}
		return
	}
	for _, a := range m.Attributes {
		sub.regionAttrs[a] = struct{}{}
	}
	for _, r := range m.Regions {
		sub.regions.Insert(r.Handle, r.Region)
		fed.regions.Insert(r.Handle, r.Region)
	}
}

func (fed *federation) subscribeInteraction(f *federateRecord, m *message.SubscribeInteractionClass) {
	if f == nil {
		return
	}
	sub, ok := f.interactionSubs[m.Class]
	if m.Unsubscribe {
		if !ok {
			return
		}
		if len(m.Regions) == 0 {
			delete(f.interactionSubs, m.Class)
			return
		}
		for _, r := range m.Regions {
			sub.regions.Erase(r.Handle)
		}
		if sub.empty() {
			delete(f.interactionSubs, m.Class)
		}
		return
	}
	if !ok {
		sub = newSubscription()
		f.interactionSubs[m.Class] = sub
	}
	if len(m.Regions) == 0 {
		sub.unfiltered = true
		return
	}
	for _, r := range m.Regions {
		sub.regions.Insert(r.Handle, r.Region)
		fed.regions.Insert(r.Handle, r.Region)
	}
}

// commitRegions updates region extents everywhere they are used.
func (fed *federation) commitRegions(f *federateRecord, entries []core.RegionEntry) {
	if f == nil {
		return
	}
	for _, e := range entries {
		if e.Handle.Federate() != f.handle {
			continue
		}
		fed.regions.Insert(e.Handle, e.Region)
		for _, sub := range f.objectSubs {
			if sub.regions.Contains(e.Handle) {
				sub.regions.Insert(e.Handle, e.Region)
			}
		}
		for _, sub := range f.interactionSubs {
			if sub.regions.Contains(e.Handle) {
				sub.regions.Insert(e.Handle, e.Region)
			}
		}
	}
}

func (fed *federation) eraseRegions(f *federateRecord, handles []model.RegionHandle) {
	if f == nil {
		return
	}
	for _, h := range handles {
		if h.Federate() != f.handle {
			continue
		}
		fed.regions.Erase(h)
		for c, sub := range f.objectSubs {
			sub.regions.Erase(h)
			if sub.regions.Empty() {
				clear(sub.regionAttrs)
			}
			if sub.empty() {
				delete(f.objectSubs, c)
			}
		}
		for c, sub := range f.interactionSubs {
			sub.regions.Erase(h)
			if sub.empty() {
				delete(f.interactionSubs, c)
			}
		}
	}
}

func (fed *federation) reserveName(f model.FederateHandle, name string) bool {
	if name == "" || strings.HasPrefix(strings.ToUpper(name), "HLA") {
		return false
	}
	if _, taken := fed.names[name]; taken {
		return false
	}
	fed.names[name] = nameEntry{federate: f}
	return true
}

func (fed *federation) releaseName(f model.FederateHandle, name string) {
	if e, ok := fed.names[name]; ok && e.federate == f && e.object == 0 {
		delete(fed.names, name)
	}
}

// releaseNames drops every reservation of f not yet bound to an object.
func (fed *federation) releaseNames(f model.FederateHandle) {
	for name, e := range fed.names {
		if e.federate == f && e.object == 0 {
			delete(fed.names, name)
		}
	}
}

func (n *Node) onCreate(m *message.CreateFederationExecutionRequest, from model.ConnectHandle) error {
	if !n.IsRoot() {
		n.pending[m.RequestID] = pendingRequest{origin: from}
		n.sendUp(m)
		return nil
	}
	_, span := n.span("federation.create", m.Name)
	h, err := n.createFederation(m)
	endSpan(span, err)
	n.send(from, &message.CreateFederationExecutionResponse{
		Correlation: m.Correlation,
		Outcome:     message.Fail(err),
		Federation:  h,
	})
	return nil
}

func (n *Node) createFederation(m *message.CreateFederationExecutionRequest) (model.FederationHandle, error) {
	ctx := context.Background()
	if m.Name == "" {
		return 0, model.Errorf(model.IllegalName, "empty federation name")
	}
	if _, ok := n.byName[m.Name]; ok {
		return 0, model.Errorf(model.FederationExecutionAlreadyExists, "%q", m.Name)
	}
	timeImpl := m.TimeImplementation
	if timeImpl == "" {
		timeImpl = model.HLAfloat64Time
	}
	if !timectrl.Supported(timeImpl) {
		return 0, model.Errorf(model.CouldNotCreateLogicalTimeFactory, "unknown time implementation %q", timeImpl)
	}

	var modules []*kb.Module
	if len(m.Designators) > 0 {
		if n.catalog == nil {
			return 0, model.Errorf(model.CouldNotOpenFDD, "no module catalogue to resolve %v", m.Designators)
		}
		resolved, err := n.catalog.Resolve(m.Designators)
		if err != nil {
			return 0, err
		}
		modules = append(modules, resolved...)
	}
	modules = append(modules, m.Modules...)
	om, err := kb.Build(modules...)
	if err != nil {
		return 0, err
	}

	next, err := n.federationAlloc.Next()
	if err != nil {
		return 0, err
	}
	fed := newFederation(model.FederationHandle(next), m.Name, timeImpl, om)
	n.federations[fed.handle] = fed
	n.byName[fed.name] = fed
	n.log.Info(ctx, "federation created",
		logging.Federation(fed.name),
		logging.Uint64("handle", uint64(fed.handle)),
		logging.String("time", timeImpl))
	n.recordCounts()
	return fed.handle, nil
}

func (n *Node) onDestroy(m *message.DestroyFederationExecutionRequest, from model.ConnectHandle) error {
	if !n.IsRoot() {
		n.pending[m.RequestID] = pendingRequest{origin: from}
		n.sendUp(m)
		return nil
	}
	_, span := n.span("federation.destroy", m.Name)
	err := n.destroyFederation(m.Name)
	endSpan(span, err)
	n.send(from, &message.DestroyFederationExecutionResponse{Correlation: m.Correlation, Outcome: message.Fail(err)})
	return nil
}

func (n *Node) destroyFederation(name string) error {
	fed, ok := n.byName[name]
	if !ok {
		return model.Errorf(model.FederationExecutionDoesNotExist, "%q", name)
	}
	if !fed.empty() {
		return model.Errorf(model.FederatesCurrentlyJoined, "%d federates joined to %q", len(fed.federates), name)
	}
	delete(n.federations, fed.handle)
	delete(n.byName, name)
	n.log.Info(context.Background(), "federation destroyed", logging.Federation(name))
	n.recordCounts()
	return nil
}

func (n *Node) onJoin(m *message.JoinFederationExecutionRequest, from model.ConnectHandle) error {
	if !n.IsRoot() {
		n.pending[m.RequestID] = pendingRequest{origin: from, action: m.ResignAction}
		n.sendUp(m)
		return nil
	}
	_, span := n.span("federate.join", m.FederationName)
	resp, err := n.joinFederate(m, from)
	endSpan(span, err)
	if err != nil {
		n.send(from, &message.JoinFederationExecutionResponse{Correlation: m.Correlation, Outcome: message.Fail(err)})
		return nil
	}
	n.send(from, resp)
	fed := n.federations[resp.Federation]
	f := fed.federates[resp.Federate]
	n.broadcast(fed, &message.JoinFederateNotify{
		Header: message.Header{Federation: fed.handle, Federate: f.handle},
		Name:   f.name,
		Type:   f.typ,
	}, 0)
	return nil
}

func (n *Node) joinFederate(m *message.JoinFederationExecutionRequest, from model.ConnectHandle) (*message.JoinFederationExecutionResponse, error) {
	fed, ok := n.byName[m.FederationName]
	if !ok {
		return nil, model.Errorf(model.FederationExecutionDoesNotExist, "%q", m.FederationName)
	}
	if err := model.PhaseError(fed.phase); err != nil {
		return nil, err
	}
	if !m.ResignAction.Valid() {
		return nil, model.Errorf(model.InvalidResignAction, "%d", m.ResignAction)
	}
	if m.FederateName != "" && fed.federateByName(m.FederateName) != nil {
		return nil, model.Errorf(model.FederateNameAlreadyInUse, "%q in %q", m.FederateName, fed.name)
	}
	next, err := fed.federateAlloc.Next()
	if err != nil {
		return nil, err
	}
	h := model.FederateHandle(next)
	name := m.FederateName
	if name == "" {
		name = fmt.Sprintf("HLAfederate%d", next)
	}
	fed.federates[h] = newFederateRecord(h, name, m.FederateType, from, m.ResignAction)
	if fed.phase == model.PhaseCreated {
		fed.phase = model.PhaseActive
	}
	for _, sp := range fed.syncPoints {
		if sp.wide {
			sp.achieved[h] = false
		}
	}
	n.log.Info(context.Background(), "federate joined",
		logging.Federation(fed.name),
		logging.String("federate", name),
		logging.Uint64("handle", uint64(h)))
	n.recordCounts()

	return &message.JoinFederationExecutionResponse{
		Correlation:        m.Correlation,
		Header:             message.Header{Federation: fed.handle, Federate: h},
		FederationName:     fed.name,
		TimeImplementation: fed.timeImpl,
		ObjectModel:        fed.om,
		Federates:          fed.federateInfos(),
		Objects:            fed.objectInfos(),
		Commits:            fed.commitInfos(),
		SyncPoints:         fed.syncPointInfos(h),
		Phase:              fed.phase,
	}, nil
}

// onJoinResponse installs the mirror for a federate that joined through
// this node.
func (n *Node) onJoinResponse(m *message.JoinFederationExecutionResponse, from model.ConnectHandle) error {
	if n.IsRoot() || from != n.parent {
		return fmt.Errorf("%w: join response from child", ErrUnroutable)
	}
	p, ok := n.pending[m.RequestID]
	delete(n.pending, m.RequestID)
	if m.Failure() != nil {
		if ok {
			n.send(p.origin, m)
		}
		return nil
	}
	if !ok || !n.HasConnect(p.origin) {
		// The joiner left before the answer arrived.
		action := model.ResignCancelThenDeleteThenDivest
		if ok {
			action = p.action
		}
		n.sendUp(&message.ResignFederationExecutionRequest{Header: m.Header, Action: action})
		return nil
	}
	fed, exists := n.federations[m.Federation]
	if !exists {
		fed = newFederation(m.Federation, m.FederationName, m.TimeImplementation, m.ObjectModel)
		n.federations[fed.handle] = fed
		n.byName[fed.name] = fed
	}
	fed.phase = m.Phase
	var self message.FederateInfo
	for _, fi := range m.Federates {
		if fi.Handle == m.Federate {
			self = fi
		}
	}
	fed.federates[m.Federate] = newFederateRecord(m.Federate, self.Name, self.Type, p.origin, p.action)
	n.recordCounts()
	n.send(p.origin, m)
	return nil
}

func (n *Node) onResign(m *message.ResignFederationExecutionRequest, from model.ConnectHandle) error {
	if from == n.parent && !n.IsRoot() {
		return fmt.Errorf("%w: resign from parent", ErrUnroutable)
	}
	fed, f, err := n.source(m, from)
	if err != nil {
		return err
	}
	if !n.IsRoot() {
		n.sendUp(m)
		return nil
	}
	if !m.Action.Valid() {
		n.send(f.connect, &message.ResignFederationExecutionResponse{
			Header:  m.Header,
			Target:  message.Target{To: f.handle},
			Outcome: message.Fail(model.Errorf(model.InvalidResignAction, "%d", m.Action)),
		})
		return nil
	}
	n.resignFederate(fed, f, m.Action)
	return nil
}

func (n *Node) onResignResponse(m *message.ResignFederationExecutionResponse, from model.ConnectHandle) error {
	fed, err := n.lookup(m)
	if err != nil {
		return nil
	}
	f, ok := fed.federates[m.To]
	if !ok || from != n.parent {
		return nil
	}
	n.send(f.connect, m)
	if m.Failure() == nil {
		n.dropMirrorFederate(fed, f.handle)
		if fed.empty() {
			n.dropMirror(fed)
		}
	}
	return nil
}

// resignFederate performs the resign action and removes f at the root.
func (n *Node) resignFederate(fed *federation, f *federateRecord, action model.ResignAction) {
	_, span := n.span("federate.resign", fed.name)
	defer endSpan(span, nil)

	if action.Has(model.ResignCancelPendingAcquisitions) {
		n.cancelAcquisitions(fed, f.handle)
	}
	if action.Has(model.ResignDeleteObjects) {
		n.deleteOwnedObjects(fed, f.handle)
	}
	if action.Has(model.ResignUnconditionallyDivest) {
		n.divestAll(fed, f.handle)
	}
	n.releaseOwnership(fed, f.handle)
	fed.releaseNames(f.handle)
	delete(fed.commits, f.handle)

	conn := f.connect
	fed.removeFederate(f.handle)
	n.syncOnResign(fed, f.handle)
	n.saveOnResign(fed, f.handle)
	n.restoreOnResign(fed, f.handle)

	n.send(conn, &message.ResignFederationExecutionResponse{
		Header: message.Header{Federation: fed.handle, Federate: f.handle},
		Target: message.Target{To: f.handle},
	})
	n.broadcast(fed, &message.ResignFederateNotify{Header: message.Header{Federation: fed.handle, Federate: f.handle}}, 0)
	n.log.Info(context.Background(), "federate resigned",
		logging.Federation(fed.name),
		logging.String("federate", f.name),
		logging.String("action", action.String()))
	n.recordCounts()
}

// cascadeResign resigns a federate whose connect went away.
func (n *Node) cascadeResign(fed *federation, f *federateRecord) {
	n.log.Warn(context.Background(), "resigning federate of lost connect",
		logging.Federation(fed.name),
		logging.Federate(f.handle))
	if n.IsRoot() {
		n.resignFederate(fed, f, f.resignAction)
		return
	}
	n.dropMirrorFederate(fed, f.handle)
	n.sendUp(&message.ResignFederationExecutionRequest{
		Header: message.Header{Federation: fed.handle, Federate: f.handle},
		Action: f.resignAction,
	})
	if fed.empty() {
		n.dropMirror(fed)
	}
}

func (n *Node) dropMirrorFederate(fed *federation, h model.FederateHandle) {
	if n.IsRoot() {
		return
	}
	fed.removeFederate(h)
	n.recordCounts()
}

func (n *Node) dropMirror(fed *federation) {
	if n.IsRoot() {
		return
	}
	delete(n.federations, fed.handle)
	delete(n.byName, fed.name)
	n.recordCounts()
}

func cmpHandle[H ~uint64](a, b H) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
