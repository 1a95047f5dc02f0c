package server

import (
	"context"
	"slices"

	"github.com/signalsfoundry/rti/internal/logging"
	"github.com/signalsfoundry/rti/message"
	"github.com/signalsfoundry/rti/model"
)

type syncPoint struct {
	label string
	tag   []byte
	// wide points were registered for the whole federation and pick up
	// late joiners.
	wide     bool
	achieved map[model.FederateHandle]bool
	failed   []model.FederateHandle
}

func (fed *federation) syncPointInfos(f model.FederateHandle) []message.SyncPointInfo {
	var out []message.SyncPointInfo
	for _, label := range sortedLabels(fed.syncPoints) {
		sp := fed.syncPoints[label]
		if _, member := sp.achieved[f]; member {
			out = append(out, message.SyncPointInfo{Label: sp.label, Tag: sp.tag})
		}
	}
	return out
}

func (n *Node) registerSyncPoint(fed *federation, f *federateRecord, m *message.RegisterSynchronizationPointRequest) {
	reply := func(err error) {
		n.deliver(fed, f.handle, &message.RegisterSynchronizationPointResponse{
			Header:  message.Header{Federation: fed.handle},
			Target:  message.Target{To: f.handle},
			Outcome: message.Fail(err),
			Label:   m.Label,
		}, 0)
	}
	if _, exists := fed.syncPoints[m.Label]; exists || m.Label == "" {
		reply(model.Errorf(model.SynchronizationPointLabelNotUnique, "%q", m.Label))
		return
	}
	sp := &syncPoint{label: m.Label, tag: m.Tag, wide: len(m.Federates) == 0, achieved: make(map[model.FederateHandle]bool)}
	members := m.Federates
	if sp.wide {
		members = sortedKeys(fed.federates)
	}
	for _, h := range members {
		if _, ok := fed.federates[h]; !ok {
			reply(model.Errorf(model.FederateNotExecutionMember, "%s in synchronization set of %q", h, m.Label))
			return
		}
		sp.achieved[h] = false
	}
	fed.syncPoints[m.Label] = sp
	reply(nil)

	n.log.Info(context.Background(), "synchronization point registered",
		logging.Federation(fed.name),
		logging.Label(m.Label),
		logging.Int("members", len(sp.achieved)))
	n.broadcast(fed, &message.AnnounceSynchronizationPoint{
		Header:    message.Header{Federation: fed.handle, Federate: f.handle},
		Label:     m.Label,
		Tag:       m.Tag,
		Federates: sortedKeys(sp.achieved),
	}, 0)
}

func (n *Node) achieveSyncPoint(fed *federation, f *federateRecord, m *message.SynchronizationPointAchieved) {
	sp, ok := fed.syncPoints[m.Label]
	if !ok {
		n.log.Warn(context.Background(), "achieved unknown synchronization point",
			logging.Federation(fed.name), logging.Label(m.Label))
		return
	}
	if _, member := sp.achieved[f.handle]; !member {
		return
	}
	sp.achieved[f.handle] = true
	if !m.Success {
		sp.failed = append(sp.failed, f.handle)
	}
	n.checkSyncPoint(fed, sp)
}

func (n *Node) checkSyncPoint(fed *federation, sp *syncPoint) {
	for _, done := range sp.achieved {
		if !done {
			return
		}
	}
	delete(fed.syncPoints, sp.label)
	if len(sp.achieved) == 0 {
		return
	}
	slices.Sort(sp.failed)
	n.broadcast(fed, &message.FederationSynchronized{
		Header:    message.Header{Federation: fed.handle},
		Label:     sp.label,
		Federates: sortedKeys(sp.achieved),
		Failed:    sp.failed,
	}, 0)
	n.log.Info(context.Background(), "federation synchronized",
		logging.Federation(fed.name), logging.Label(sp.label))
}

func (n *Node) syncOnResign(fed *federation, f model.FederateHandle) {
	for _, label := range sortedLabels(fed.syncPoints) {
		sp := fed.syncPoints[label]
		if _, member := sp.achieved[f]; member {
			delete(sp.achieved, f)
			n.checkSyncPoint(fed, sp)
		}
	}
}

func (n *Node) reserveName(fed *federation, f *federateRecord, m *message.ReserveObjectInstanceNameRequest) {
	ok := fed.reserveName(f.handle, m.Name)
	n.deliver(fed, f.handle, &message.ReserveObjectInstanceNameResponse{
		Header:  message.Header{Federation: fed.handle},
		Target:  message.Target{To: f.handle},
		Name:    m.Name,
		Success: ok,
	}, 0)
}

func sortedLabels[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
