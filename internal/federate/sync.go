package federate

import (
	"context"

	"github.com/signalsfoundry/rti/internal/logging"
	"github.com/signalsfoundry/rti/message"
	"github.com/signalsfoundry/rti/model"
)

// RegisterFederationSynchronizationPoint registers label for the listed
// federates, or for the whole federation when none are listed.
func (f *Federate[T, I]) RegisterFederationSynchronizationPoint(label string, tag []byte, federates []model.FederateHandle) error {
	if err := f.active(); err != nil {
		return err
	}
	return f.send(&message.RegisterSynchronizationPointRequest{
		Header:    f.header(),
		Label:     label,
		Tag:       tag,
		Federates: federates,
	})
}

// SynchronizationPointAchieved reports that the federate reached an
// announced point.
func (f *Federate[T, I]) SynchronizationPointAchieved(label string, success bool) error {
	if err := f.active(); err != nil {
		return err
	}
	if achieved, ok := f.announced[label]; !ok || achieved {
		return model.Errorf(model.SynchronizationPointLabelNotAnnounced, "label %q", label)
	}
	if err := f.send(&message.SynchronizationPointAchieved{Header: f.header(), Label: label, Success: success}); err != nil {
		return err
	}
	f.announced[label] = true
	return nil
}

func (f *Federate[T, I]) announce(label string, tag []byte) {
	f.announced[label] = false
	if cb := f.cb.AnnounceSynchronizationPoint; cb != nil {
		f.calls.push(func() { cb(label, tag) })
	}
}

func (f *Federate[T, I]) onRegisterResponse(m *message.RegisterSynchronizationPointResponse) {
	label := m.Label
	if err := m.Failure(); err != nil {
		if cb := f.cb.SynchronizationPointRegistrationFailed; cb != nil {
			f.calls.push(func() { cb(label, err) })
		}
		return
	}
	if cb := f.cb.SynchronizationPointRegistrationSucceeded; cb != nil {
		f.calls.push(func() { cb(label) })
	}
}

func (f *Federate[T, I]) onSynchronized(m *message.FederationSynchronized) {
	if _, ok := f.announced[m.Label]; !ok || !m.Includes(f.handle) {
		return
	}
	delete(f.announced, m.Label)
	if cb := f.cb.FederationSynchronized; cb != nil {
		label, failed := m.Label, m.Failed
		f.calls.push(func() { cb(label, failed) })
	}
}

// RequestFederationSave asks every federate to save under label.
func (f *Federate[T, I]) RequestFederationSave(label string) error {
	if err := f.active(); err != nil {
		return err
	}
	return f.send(&message.RequestFederationSave{Header: f.header(), Label: label})
}

func (f *Federate[T, I]) onSaveResponse(m *message.RequestFederationSaveResponse) {
	err := m.Failure()
	if err == nil {
		return
	}
	if cb := f.cb.FederationSaveRejected; cb != nil {
		label := m.Label
		f.calls.push(func() { cb(label, err) })
	}
}

// FederateSaveBegun tells the federation the federate started saving.
func (f *Federate[T, I]) FederateSaveBegun() error {
	if err := f.saving(); err != nil {
		return err
	}
	return f.send(&message.FederateSaveBegun{Header: f.header()})
}

// FederateSaveComplete reports a successful save of the federate's own
// state. The RTI keeps the federate's time state under the same label.
func (f *Federate[T, I]) FederateSaveComplete() error {
	if err := f.saving(); err != nil {
		return err
	}
	f.saves[f.saveLabel] = f.snapshotTime()
	return f.send(&message.FederateSaveStatus{Header: f.header(), Success: true})
}

// FederateSaveNotComplete reports a failed save, which fails the
// federation save.
func (f *Federate[T, I]) FederateSaveNotComplete() error {
	if err := f.saving(); err != nil {
		return err
	}
	return f.send(&message.FederateSaveStatus{Header: f.header(), Success: false})
}

// AbortFederationSave cancels a running save.
func (f *Federate[T, I]) AbortFederationSave() error {
	if err := f.saving(); err != nil {
		return err
	}
	return f.send(&message.AbortFederationSave{Header: f.header()})
}

func (f *Federate[T, I]) saving() error {
	if err := f.member(); err != nil {
		return err
	}
	if f.phase != model.PhaseSaving {
		return model.Errorf(model.SaveNotInitiated, "no save in progress")
	}
	return nil
}

func (f *Federate[T, I]) onInitiateSave(m *message.InitiateFederateSave) {
	f.phase = model.PhaseSaving
	f.saveLabel = m.Label
	f.log.Info(context.Background(), "federation save initiated", logging.Label(m.Label))
	if cb := f.cb.InitiateFederateSave; cb != nil {
		label := m.Label
		f.calls.push(func() { cb(label) })
	}
}

func (f *Federate[T, I]) onSaved(m *message.FederationSaved) {
	if f.phase == model.PhaseSaving {
		f.phase = model.PhaseActive
	}
	if !m.Success {
		delete(f.saves, f.saveLabel)
	}
	f.saveLabel = ""
	if cb := f.cb.FederationSaved; cb != nil {
		ok, reason := m.Success, m.Reason
		f.calls.push(func() { cb(ok, reason) })
	}
}

// RequestFederationRestore asks the federation to return to the state
// saved under label.
func (f *Federate[T, I]) RequestFederationRestore(label string) error {
	if err := f.active(); err != nil {
		return err
	}
	return f.send(&message.RequestFederationRestore{Header: f.header(), Label: label})
}

// FederateRestoreComplete reports that the federate restored its own
// state. The time state saved under the label is reinstated.
func (f *Federate[T, I]) FederateRestoreComplete() error {
	if err := f.restoring(); err != nil {
		return err
	}
	if s, ok := f.saves[f.saveLabel]; ok {
		f.restoreTime(s)
	}
	return f.send(&message.FederateRestoreStatus{Header: f.header(), Success: true})
}

// FederateRestoreNotComplete reports a failed restore.
func (f *Federate[T, I]) FederateRestoreNotComplete() error {
	if err := f.restoring(); err != nil {
		return err
	}
	return f.send(&message.FederateRestoreStatus{Header: f.header(), Success: false})
}

func (f *Federate[T, I]) restoring() error {
	if err := f.member(); err != nil {
		return err
	}
	if f.phase != model.PhaseRestoring {
		return model.Errorf(model.RestoreNotRequested, "no restore in progress")
	}
	return nil
}

func (f *Federate[T, I]) onRestoreResponse(m *message.RequestFederationRestoreResponse) {
	if cb := f.cb.RequestFederationRestore; cb != nil {
		label, ok, reason := m.Label, m.Success, m.Reason
		f.calls.push(func() { cb(label, ok, reason) })
	}
}

func (f *Federate[T, I]) onRestoreBegun(m *message.FederationRestoreBegun) {
	f.phase = model.PhaseRestoring
	f.saveLabel = m.Label
	if cb := f.cb.FederationRestoreBegun; cb != nil {
		label := m.Label
		f.calls.push(func() { cb(label) })
	}
}

func (f *Federate[T, I]) onInitiateRestore(m *message.InitiateFederateRestore) {
	f.saveLabel = m.Label
	f.log.Info(context.Background(), "federate restore initiated", logging.Label(m.Label))
	if cb := f.cb.InitiateFederateRestore; cb != nil {
		label, name, h := m.Label, f.name, f.handle
		f.calls.push(func() { cb(label, name, h) })
	}
}

// onRestored ends a restore. On success the object table is replaced by
// the saved one; discovery state follows the current subscriptions
// without new callbacks.
func (f *Federate[T, I]) onRestored(m *message.FederationRestored) {
	f.phase = model.PhaseActive
	f.saveLabel = ""
	if m.Success {
		f.objects = make(map[model.ObjectInstanceHandle]*objectView, len(m.Objects))
		f.serial = 0
		for _, info := range m.Objects {
			obj := f.insertObject(info.Handle, info.Class, info.Name, info.Owned(f.handle))
			if info.Handle.Federate() != f.handle {
				if class, ok := f.subscribedClass(info.Class); ok {
					obj.known = class
				}
			}
		}
	}
	f.log.Info(context.Background(), "federation restore finished", logging.Bool("success", m.Success))
	if cb := f.cb.FederationRestored; cb != nil {
		ok, reason := m.Success, m.Reason
		f.calls.push(func() { cb(ok, reason) })
	}
}
