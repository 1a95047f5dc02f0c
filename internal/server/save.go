package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/signalsfoundry/rti/internal/logging"
	"github.com/signalsfoundry/rti/internal/savestore"
	"github.com/signalsfoundry/rti/message"
	"github.com/signalsfoundry/rti/model"
)

type saveState struct {
	label   string
	pending map[model.FederateHandle]struct{}
	failed  bool
}

type restoreState struct {
	label   string
	snap    *snapshot
	pending map[model.FederateHandle]struct{}
	failed  bool
}

// snapshot is the federation state written to the save store. Federates
// and owners are stored by name so a restore can remap handles.
type snapshot struct {
	Federation         string        `json:"federation"`
	TimeImplementation string        `json:"timeImplementation"`
	Federates          []string      `json:"federates"`
	Objects            []savedObject `json:"objects"`
}

type savedObject struct {
	Registrar string                           `json:"registrar"`
	Serial    uint32                           `json:"serial"`
	Class     model.ObjectClassHandle          `json:"class"`
	Name      string                           `json:"name,omitempty"`
	Owners    map[model.AttributeHandle]string `json:"owners,omitempty"`
}

func pendingSet(fed *federation) map[model.FederateHandle]struct{} {
	out := make(map[model.FederateHandle]struct{}, len(fed.federates))
	for h := range fed.federates {
		out[h] = struct{}{}
	}
	return out
}

func (n *Node) requestSave(fed *federation, f *federateRecord, m *message.RequestFederationSave) {
	reply := func(err error) {
		n.deliver(fed, f.handle, &message.RequestFederationSaveResponse{
			Header:  message.Header{Federation: fed.handle},
			Target:  message.Target{To: f.handle},
			Outcome: message.Fail(err),
			Label:   m.Label,
		}, 0)
	}
	if err := model.PhaseError(fed.phase); err != nil {
		n.log.Warn(context.Background(), "save request rejected",
			logging.Federation(fed.name), logging.Err(err))
		reply(err)
		return
	}
	reply(nil)
	fed.phase = model.PhaseSaving
	fed.save = &saveState{label: m.Label, pending: pendingSet(fed)}
	n.log.Info(context.Background(), "federation save initiated",
		logging.Federation(fed.name), logging.Label(m.Label))
	n.broadcast(fed, &message.InitiateFederateSave{
		Header: message.Header{Federation: fed.handle, Federate: f.handle},
		Label:  m.Label,
	}, 0)
}

func (n *Node) saveStatus(fed *federation, f *federateRecord, success bool) {
	if fed.save == nil {
		return
	}
	delete(fed.save.pending, f.handle)
	if !success {
		fed.save.failed = true
	}
	n.checkSave(fed)
}

func (n *Node) checkSave(fed *federation) {
	s := fed.save
	if s == nil || len(s.pending) > 0 {
		return
	}
	ctx, span := n.span("federation.save", fed.name)
	var err error
	if s.failed {
		err = errors.New("a federate failed to save")
	} else {
		err = n.persist(ctx, fed, s.label)
	}
	endSpan(span, err)
	n.finishSave(fed, err)
}

func (n *Node) finishSave(fed *federation, err error) {
	saved := &message.FederationSaved{Header: message.Header{Federation: fed.handle}, Success: err == nil}
	if err != nil {
		saved.Reason = err.Error()
		n.log.Warn(context.Background(), "federation save failed",
			logging.Federation(fed.name), logging.Err(err))
	} else {
		n.log.Info(context.Background(), "federation saved",
			logging.Federation(fed.name), logging.Label(fed.save.label))
	}
	fed.save = nil
	fed.phase = model.PhaseActive
	n.broadcast(fed, saved, 0)
}

func (n *Node) abortSave(fed *federation) {
	if fed.save == nil {
		return
	}
	n.finishSave(fed, errors.New("save aborted"))
}

func (n *Node) saveOnResign(fed *federation, f model.FederateHandle) {
	if fed.save != nil {
		delete(fed.save.pending, f)
		n.checkSave(fed)
	}
}

func (n *Node) persist(ctx context.Context, fed *federation, label string) error {
	if n.store == nil {
		return errors.New("no save store configured")
	}
	payload, err := json.Marshal(fed.snapshot())
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return n.store.Put(ctx, &savestore.Record{
		Federation: fed.name,
		Label:      label,
		SavedAt:    time.Now().UTC(),
		Payload:    payload,
	})
}

func (fed *federation) snapshot() *snapshot {
	snap := &snapshot{Federation: fed.name, TimeImplementation: fed.timeImpl}
	for _, f := range fed.sortedFederates() {
		snap.Federates = append(snap.Federates, f.name)
	}
	nameOf := func(h model.FederateHandle) string {
		if f, ok := fed.federates[h]; ok {
			return f.name
		}
		return ""
	}
	for _, h := range sortedKeys(fed.objects) {
		obj := fed.objects[h]
		so := savedObject{
			Registrar: nameOf(h.Federate()),
			Serial:    h.Serial(),
			Class:     obj.class,
			Name:      obj.name,
			Owners:    make(map[model.AttributeHandle]string),
		}
		for a, rec := range obj.attrs {
			if name := nameOf(rec.owner); name != "" {
				so.Owners[a] = name
			}
		}
		snap.Objects = append(snap.Objects, so)
	}
	return snap
}

func (n *Node) requestRestore(fed *federation, f *federateRecord, m *message.RequestFederationRestore) {
	reply := func(err error) {
		resp := &message.RequestFederationRestoreResponse{
			Header:  message.Header{Federation: fed.handle},
			Target:  message.Target{To: f.handle},
			Label:   m.Label,
			Success: err == nil,
		}
		if err != nil {
			resp.Reason = err.Error()
		}
		n.deliver(fed, f.handle, resp, 0)
	}
	if err := model.PhaseError(fed.phase); err != nil {
		reply(err)
		return
	}
	snap, err := n.load(fed, m.Label)
	if err != nil {
		reply(err)
		return
	}
	current := make([]string, 0, len(fed.federates))
	for _, f := range fed.federates {
		current = append(current, f.name)
	}
	slices.Sort(current)
	saved := slices.Clone(snap.Federates)
	slices.Sort(saved)
	if !slices.Equal(current, saved) {
		reply(model.Errorf(model.RestoreLabelUnknown, "joined federates %v do not match saved federates %v", current, saved))
		return
	}
	reply(nil)

	fed.phase = model.PhaseRestoring
	fed.restore = &restoreState{label: m.Label, snap: snap, pending: pendingSet(fed)}
	n.log.Info(context.Background(), "federation restore initiated",
		logging.Federation(fed.name), logging.Label(m.Label))
	hdr := message.Header{Federation: fed.handle, Federate: f.handle}
	n.broadcast(fed, &message.FederationRestoreBegun{Header: hdr, Label: m.Label}, 0)
	n.broadcast(fed, &message.InitiateFederateRestore{Header: hdr, Label: m.Label}, 0)
}

func (n *Node) load(fed *federation, label string) (*snapshot, error) {
	if n.store == nil {
		return nil, model.Errorf(model.RestoreLabelUnknown, "no save store configured")
	}
	rec, err := n.store.Get(context.Background(), fed.name, label)
	if errors.Is(err, savestore.ErrNotFound) {
		return nil, model.Errorf(model.RestoreLabelUnknown, "%q", label)
	}
	if err != nil {
		return nil, model.Errorf(model.RTIinternalError, "load save %q: %v", label, err)
	}
	var snap snapshot
	if err := json.Unmarshal(rec.Payload, &snap); err != nil {
		return nil, model.Errorf(model.RTIinternalError, "decode save %q: %v", label, err)
	}
	if snap.TimeImplementation != fed.timeImpl {
		return nil, model.Errorf(model.RestoreLabelUnknown, "save %q uses %s", label, snap.TimeImplementation)
	}
	return &snap, nil
}

func (n *Node) restoreStatus(fed *federation, f *federateRecord, success bool) {
	if fed.restore == nil {
		return
	}
	delete(fed.restore.pending, f.handle)
	if !success {
		fed.restore.failed = true
	}
	n.checkRestore(fed)
}

func (n *Node) restoreOnResign(fed *federation, f model.FederateHandle) {
	if fed.restore != nil {
		delete(fed.restore.pending, f)
		n.checkRestore(fed)
	}
}

func (n *Node) checkRestore(fed *federation) {
	r := fed.restore
	if r == nil || len(r.pending) > 0 {
		return
	}
	_, span := n.span("federation.restore", fed.name)
	done := &message.FederationRestored{Header: message.Header{Federation: fed.handle}, Success: !r.failed}
	var err error
	if r.failed {
		err = errors.New("a federate failed to restore")
		done.Reason = err.Error()
	} else {
		fed.apply(r.snap)
		done.Objects = fed.objectInfos()
	}
	endSpan(span, err)
	fed.restore = nil
	fed.phase = model.PhaseActive
	n.log.Info(context.Background(), "federation restore finished",
		logging.Federation(fed.name), logging.Bool("success", done.Success))
	n.broadcast(fed, done, 0)
}

// apply replaces the object and ownership tables with snap, remapping
// federate names to the handles of the federates joined now.
func (fed *federation) apply(snap *snapshot) {
	byName := make(map[string]model.FederateHandle, len(fed.federates))
	for h, f := range fed.federates {
		byName[f.name] = h
	}
	clear(fed.objects)
	for name, e := range fed.names {
		if e.object != 0 {
			delete(fed.names, name)
		}
	}
	for _, so := range snap.Objects {
		registrar, ok := byName[so.Registrar]
		if !ok {
			continue
		}
		h := model.NewObjectInstanceHandle(registrar, so.Serial)
		obj := &objectRecord{handle: h, class: so.Class, name: so.Name, attrs: make(map[model.AttributeHandle]*ownership)}
		for a, owner := range so.Owners {
			if to, ok := byName[owner]; ok {
				obj.attr(a).transfer(to)
			}
		}
		fed.objects[h] = obj
		if so.Name != "" {
			fed.names[so.Name] = nameEntry{federate: registrar, object: h}
		}
	}
}
