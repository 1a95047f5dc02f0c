package federate

import (
	"github.com/signalsfoundry/rti/message"
	"github.com/signalsfoundry/rti/model"
)

// Reflection is an attribute update as the subscriber sees it. Class is
// the class the object was discovered as; Values holds only subscribed
// attributes.
type Reflection[T any] struct {
	Object      model.ObjectInstanceHandle
	Class       model.ObjectClassHandle
	Values      []message.AttributeValue
	Tag         []byte
	Order       model.OrderType
	Time        T
	Timestamped bool
	Producer    model.FederateHandle
}

// Receipt is an interaction as the subscriber sees it. Class is the
// nearest subscribed class; Parameters holds only parameters that class
// defines.
type Receipt[T any] struct {
	Class       model.InteractionClassHandle
	Parameters  []message.ParameterValue
	Tag         []byte
	Order       model.OrderType
	Time        T
	Timestamped bool
	Producer    model.FederateHandle
}

// Callbacks are the notifications a federate may receive. Nil fields are
// skipped. Callbacks run inside Tick or EvokeCallback on the caller's
// goroutine and may call back into the Federate.
type Callbacks[T any] struct {
	ConnectionLost func(reason string)

	SynchronizationPointRegistrationSucceeded func(label string)
	SynchronizationPointRegistrationFailed    func(label string, err error)
	AnnounceSynchronizationPoint              func(label string, tag []byte)
	FederationSynchronized                    func(label string, failed []model.FederateHandle)

	FederationSaveRejected     func(label string, err error)
	InitiateFederateSave       func(label string)
	FederationSaved            func(success bool, reason string)
	RequestFederationRestore   func(label string, success bool, reason string)
	FederationRestoreBegun     func(label string)
	InitiateFederateRestore    func(label, name string, federate model.FederateHandle)
	FederationRestored         func(success bool, reason string)
	ObjectInstanceNameReserved func(name string, success bool)

	DiscoverObjectInstance      func(object model.ObjectInstanceHandle, class model.ObjectClassHandle, name string)
	ReflectAttributeValues      func(Reflection[T])
	ReceiveInteraction          func(Receipt[T])
	RemoveObjectInstance        func(object model.ObjectInstanceHandle, tag []byte)
	ProvideAttributeValueUpdate func(object model.ObjectInstanceHandle, attrs []model.AttributeHandle, tag []byte)

	RequestAttributeOwnershipRelease                 func(object model.ObjectInstanceHandle, attrs []model.AttributeHandle, tag []byte)
	RequestAttributeOwnershipAssumption              func(object model.ObjectInstanceHandle, attrs []model.AttributeHandle, tag []byte)
	AttributeOwnershipDivestitureNotification        func(object model.ObjectInstanceHandle, attrs []model.AttributeHandle)
	AttributeOwnershipAcquisitionNotification        func(object model.ObjectInstanceHandle, attrs []model.AttributeHandle)
	AttributeOwnershipUnavailable                    func(object model.ObjectInstanceHandle, attrs []model.AttributeHandle)
	ConfirmAttributeOwnershipAcquisitionCancellation func(object model.ObjectInstanceHandle, attrs []model.AttributeHandle)
	InformAttributeOwnership                         func(object model.ObjectInstanceHandle, attr model.AttributeHandle, owner model.FederateHandle)
	AttributeOwnershipRequestRejected                func(object model.ObjectInstanceHandle, attrs []model.AttributeHandle, err error)

	TimeRegulationEnabled  func(t T)
	TimeConstrainedEnabled func(t T)
	TimeAdvanceGrant       func(t T)
}

// callbackQueue is the FIFO of callbacks waiting for Tick.
type callbackQueue struct {
	items []func()
}

func (q *callbackQueue) push(fn func()) { q.items = append(q.items, fn) }

func (q *callbackQueue) pop() (func(), bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	fn := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return fn, true
}

func (q *callbackQueue) len() int { return len(q.items) }
