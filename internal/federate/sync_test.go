package federate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/rti/internal/savestore"
	"github.com/signalsfoundry/rti/internal/server"
	"github.com/signalsfoundry/rti/model"
)

func TestSynchronizationPoint(t *testing.T) {
	l := federation(t)
	peers := acquainted(t, l, "x", "y")
	x, y := peers[0], peers[1]

	requireKind(t, x.SynchronizationPointAchieved("ready", true), model.SynchronizationPointLabelNotAnnounced)

	require.NoError(t, x.RegisterFederationSynchronizationPoint("ready", []byte("tag"), nil))
	settle(t, func() bool {
		return len(x.ev.registered) == 1 && len(x.ev.announced) == 1 && len(y.ev.announced) == 1
	}, x, y)
	require.Equal(t, []string{"ready"}, y.ev.announced)

	require.NoError(t, x.RegisterFederationSynchronizationPoint("ready", nil, nil))
	settle(t, func() bool { return len(x.ev.log) == 1 }, x)
	require.Equal(t, []string{"register failed ready"}, x.ev.log)

	require.NoError(t, x.SynchronizationPointAchieved("ready", true))
	idle(t, 20*time.Millisecond, x, y)
	require.Empty(t, y.ev.synchronized)
	require.NoError(t, y.SynchronizationPointAchieved("ready", true))
	settle(t, func() bool { return len(x.ev.synchronized) == 1 && len(y.ev.synchronized) == 1 }, x, y)
}

func TestSynchronizationPointForSubset(t *testing.T) {
	l := federation(t)
	peers := acquainted(t, l, "x", "y", "z")
	x, y, z := peers[0], peers[1], peers[2]

	require.NoError(t, x.RegisterFederationSynchronizationPoint("pair", nil, []model.FederateHandle{x.Handle(), y.Handle()}))
	settle(t, func() bool { return len(x.ev.announced) == 1 && len(y.ev.announced) == 1 }, x, y, z)
	require.NoError(t, x.SynchronizationPointAchieved("pair", true))
	require.NoError(t, y.SynchronizationPointAchieved("pair", true))
	settle(t, func() bool { return len(x.ev.synchronized) == 1 && len(y.ev.synchronized) == 1 }, x, y, z)
	idle(t, 20*time.Millisecond, z)
	require.Empty(t, z.ev.announced)
	require.Empty(t, z.ev.synchronized)
	requireKind(t, z.SynchronizationPointAchieved("pair", true), model.SynchronizationPointLabelNotAnnounced)
}

func TestLateJoinerSeesPendingSynchronizationPoint(t *testing.T) {
	l := federation(t)
	x := join(t, l, "x")
	require.NoError(t, x.RegisterFederationSynchronizationPoint("ready", nil, nil))
	settle(t, func() bool { return len(x.ev.announced) == 1 }, x)

	y := join(t, l, "y")
	settle(t, func() bool { return len(y.ev.announced) == 1 }, y)

	// The joiner is now part of the point and holds it open.
	require.NoError(t, x.SynchronizationPointAchieved("ready", true))
	requireKind(t, x.SynchronizationPointAchieved("ready", true), model.SynchronizationPointLabelNotAnnounced)
	idle(t, 20*time.Millisecond, x, y)
	require.Empty(t, x.ev.synchronized)

	require.NoError(t, y.SynchronizationPointAchieved("ready", true))
	settle(t, func() bool { return len(x.ev.synchronized) == 1 && len(y.ev.synchronized) == 1 }, x, y)
}

func TestConcurrentSaveRequestIsRejected(t *testing.T) {
	l := federation(t, server.WithSaveStore(savestore.NewMemoryStore()))
	peers := acquainted(t, l, "x", "y")
	x, y := peers[0], peers[1]

	require.NoError(t, x.RequestFederationSave("first"))
	x.barrier(t)
	// y has not seen the save start yet, so its request still goes out.
	require.NoError(t, y.RequestFederationSave("second"))
	settle(t, func() bool { return len(y.ev.saveRefused) == 1 && len(y.ev.saveLabels) == 1 }, y)
	require.Equal(t, []model.ErrorKind{model.SaveInProgress}, y.ev.saveRefused)
	require.Equal(t, []string{"first"}, y.ev.saveLabels)
	require.Empty(t, x.ev.saveRefused)

	for _, p := range peers {
		require.NoError(t, p.FederateSaveBegun())
		require.NoError(t, p.FederateSaveComplete())
	}
	settle(t, func() bool { return len(x.ev.saved) == 1 && len(y.ev.saved) == 1 }, x, y)
	require.Equal(t, []bool{true}, y.ev.saved)
}

// saveRound runs a complete federation save under label.
func saveRound(t *testing.T, label string, peers ...*peer) {
	t.Helper()
	require.NoError(t, peers[0].RequestFederationSave(label))
	settle(t, func() bool {
		for _, p := range peers {
			if len(p.ev.saveLabels) == 0 {
				return false
			}
		}
		return true
	}, peers...)
	for _, p := range peers {
		require.Equal(t, label, p.ev.saveLabels[len(p.ev.saveLabels)-1])
		require.NoError(t, p.FederateSaveBegun())
		require.NoError(t, p.FederateSaveComplete())
	}
	settle(t, func() bool {
		for _, p := range peers {
			if len(p.ev.saved) == 0 {
				return false
			}
		}
		return true
	}, peers...)
}

func TestSaveAndRestoreTimeState(t *testing.T) {
	store := savestore.NewMemoryStore()
	l := federation(t, server.WithSaveStore(store))
	peers := acquainted(t, l, "x", "y")
	x, y := peers[0], peers[1]

	requireKind(t, x.FederateSaveBegun(), model.SaveNotInitiated)
	requireKind(t, x.FederateRestoreComplete(), model.RestoreNotRequested)

	require.NoError(t, x.RequestFederationSave("s1"))
	settle(t, func() bool { return len(x.ev.saveLabels) == 1 }, x)
	requireKind(t, x.TimeAdvanceRequest(1), model.SaveInProgress)
	requireKind(t, x.PublishInteractionClass(x.h.greeting), model.SaveInProgress)
	settle(t, func() bool { return len(y.ev.saveLabels) == 1 }, y)
	for _, p := range peers {
		require.NoError(t, p.FederateSaveBegun())
		require.NoError(t, p.FederateSaveComplete())
	}
	settle(t, func() bool { return len(x.ev.saved) == 1 && len(y.ev.saved) == 1 }, x, y)
	require.Equal(t, []bool{true}, x.ev.saved)

	require.NoError(t, x.TimeAdvanceRequest(5))
	settle(t, func() bool { return len(x.ev.grants) == 1 }, x)
	require.Equal(t, clock(5), x.QueryLogicalTime())

	require.NoError(t, y.RequestFederationRestore("s1"))
	settle(t, func() bool {
		return len(y.ev.restoreOK) == 1 && len(x.ev.restoring) == 1 && len(y.ev.restoring) == 1
	}, x, y)
	require.Equal(t, []bool{true}, y.ev.restoreOK)
	requireKind(t, x.TimeAdvanceRequest(9), model.RestoreInProgress)

	for _, p := range peers {
		require.NoError(t, p.FederateRestoreComplete())
	}
	settle(t, func() bool { return len(x.ev.restored) == 1 && len(y.ev.restored) == 1 }, x, y)
	require.Equal(t, []bool{true}, x.ev.restored)
	require.Equal(t, clock(0), x.QueryLogicalTime())

	require.NoError(t, x.RequestFederationRestore("missing"))
	settle(t, func() bool { return len(x.ev.restoreOK) == 1 }, x)
	require.Equal(t, []bool{false}, x.ev.restoreOK)
}

func TestRestoreRebuildsObjects(t *testing.T) {
	l := federation(t, server.WithSaveStore(savestore.NewMemoryStore()))
	peers := acquainted(t, l, "x", "y")
	x, y := peers[0], peers[1]
	obj := sharedVehicle(t, x, y)

	saveRound(t, "before", x, y)

	require.NoError(t, x.DeleteObjectInstance(obj, nil))
	settle(t, func() bool { return len(y.ev.removed) == 1 }, x, y)
	require.Empty(t, y.KnownObjects())

	require.NoError(t, x.RequestFederationRestore("before"))
	settle(t, func() bool { return len(x.ev.restoring) == 1 && len(y.ev.restoring) == 1 }, x, y)
	require.NoError(t, x.FederateRestoreComplete())
	require.NoError(t, y.FederateRestoreComplete())
	settle(t, func() bool { return len(x.ev.restored) == 1 && len(y.ev.restored) == 1 }, x, y)

	require.Equal(t, []model.ObjectInstanceHandle{obj}, x.KnownObjects())
	require.Equal(t, []model.ObjectInstanceHandle{obj}, y.KnownObjects())
	owned, err := x.IsAttributeOwnedByFederate(obj, x.h.position)
	require.NoError(t, err)
	require.True(t, owned)

	// Handles allocated after the restore do not collide with restored ones.
	next, err := x.RegisterObjectInstance(x.h.vehicle, "")
	require.NoError(t, err)
	require.NotEqual(t, obj, next)
}

func TestFailedSaveReportsFailure(t *testing.T) {
	l := federation(t, server.WithSaveStore(savestore.NewMemoryStore()))
	peers := acquainted(t, l, "x", "y")
	x, y := peers[0], peers[1]

	require.NoError(t, x.RequestFederationSave("bad"))
	settle(t, func() bool { return len(x.ev.saveLabels) == 1 && len(y.ev.saveLabels) == 1 }, x, y)
	require.NoError(t, x.FederateSaveComplete())
	require.NoError(t, y.FederateSaveNotComplete())
	settle(t, func() bool { return len(x.ev.saved) == 1 && len(y.ev.saved) == 1 }, x, y)
	require.Equal(t, []bool{false}, x.ev.saved)

	require.NoError(t, x.TimeAdvanceRequest(1))
	require.NoError(t, x.RequestFederationRestore("bad"))
	settle(t, func() bool { return len(x.ev.restoreOK) == 1 }, x)
	require.Equal(t, []bool{false}, x.ev.restoreOK)
}
