package model

import "strings"

// OrderType selects receive-order or timestamp-order delivery.
type OrderType uint8

const (
	ReceiveOrder OrderType = iota
	TimestampOrder
)

func (o OrderType) String() string {
	if o == TimestampOrder {
		return "TIMESTAMP"
	}
	return "RECEIVE"
}

// TransportationType is carried for API parity; every connect is reliable.
type TransportationType uint8

const (
	Reliable TransportationType = iota
	BestEffort
)

// ResignAction is a bit set of the cleanups performed when a federate
// leaves, whether by resigning or by losing its connect.
type ResignAction uint8

const (
	ResignUnconditionallyDivest ResignAction = 1 << iota
	ResignDeleteObjects
	ResignCancelPendingAcquisitions

	ResignNoAction                   ResignAction = 0
	ResignDeleteObjectsThenDivest                 = ResignDeleteObjects | ResignUnconditionallyDivest
	ResignCancelThenDeleteThenDivest              = ResignCancelPendingAcquisitions | ResignDeleteObjects | ResignUnconditionallyDivest
)

// Has reports whether all bits of flag are set.
func (a ResignAction) Has(flag ResignAction) bool { return a&flag == flag }

// Valid reports whether only known bits are set.
func (a ResignAction) Valid() bool {
	return a&^ResignCancelThenDeleteThenDivest == 0
}

func (a ResignAction) String() string {
	if a == ResignNoAction {
		return "NO_ACTION"
	}
	var parts []string
	if a.Has(ResignCancelPendingAcquisitions) {
		parts = append(parts, "CANCEL")
	}
	if a.Has(ResignDeleteObjects) {
		parts = append(parts, "DELETE")
	}
	if a.Has(ResignUnconditionallyDivest) {
		parts = append(parts, "DIVEST")
	}
	return strings.Join(parts, "_THEN_")
}

// FederationPhase is the save/restore phase of a federation execution.
type FederationPhase uint8

const (
	PhaseCreated FederationPhase = iota
	PhaseActive
	PhaseSaving
	PhaseRestoring
)

func (p FederationPhase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhaseActive:
		return "active"
	case PhaseSaving:
		return "saving"
	case PhaseRestoring:
		return "restoring"
	default:
		return "unknown"
	}
}

// PhaseError returns the error an operation incompatible with the phase
// must report, or nil when the phase permits it.
func PhaseError(p FederationPhase) error {
	switch p {
	case PhaseSaving:
		return Errorf(SaveInProgress, "federation save in progress")
	case PhaseRestoring:
		return Errorf(RestoreInProgress, "federation restore in progress")
	default:
		return nil
	}
}

// OwnershipState is the arbitration state of one (object, attribute) pair.
type OwnershipState uint8

const (
	Unowned OwnershipState = iota
	Owned
	DivestiturePending
	AcquisitionPending
)

func (s OwnershipState) String() string {
	switch s {
	case Unowned:
		return "unowned"
	case Owned:
		return "owned"
	case DivestiturePending:
		return "divestiture-pending"
	case AcquisitionPending:
		return "acquisition-pending"
	default:
		return "unknown"
	}
}

// Well-known logical time implementation names.
const (
	HLAfloat64Time   = "HLAfloat64Time"
	HLAinteger64Time = "HLAinteger64Time"
)
