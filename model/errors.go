package model

import (
	"errors"
	"fmt"
)

// ErrorKind names one HLA exception condition. Kinds travel on the wire in
// failure responses, so their string values are stable.
type ErrorKind string

const (
	// Federation management.
	FederationExecutionAlreadyExists ErrorKind = "FederationExecutionAlreadyExists"
	FederationExecutionDoesNotExist  ErrorKind = "FederationExecutionDoesNotExist"
	FederatesCurrentlyJoined         ErrorKind = "FederatesCurrentlyJoined"
	FederateAlreadyExecutionMember   ErrorKind = "FederateAlreadyExecutionMember"
	FederateNameAlreadyInUse         ErrorKind = "FederateNameAlreadyInUse"
	FederateNotExecutionMember       ErrorKind = "FederateNotExecutionMember"
	CouldNotCreateLogicalTimeFactory ErrorKind = "CouldNotCreateLogicalTimeFactory"
	InconsistentFDD                  ErrorKind = "InconsistentFDD"
	CouldNotOpenFDD                  ErrorKind = "CouldNotOpenFDD"
	InvalidResignAction              ErrorKind = "InvalidResignAction"

	// Synchronization points, save and restore.
	SynchronizationPointLabelNotAnnounced ErrorKind = "SynchronizationPointLabelNotAnnounced"
	SynchronizationPointLabelNotUnique    ErrorKind = "SynchronizationPointLabelNotUnique"
	SaveInProgress                        ErrorKind = "SaveInProgress"
	SaveNotInitiated                      ErrorKind = "SaveNotInitiated"
	SaveNotRequested                      ErrorKind = "SaveNotRequested"
	RestoreInProgress                     ErrorKind = "RestoreInProgress"
	RestoreNotRequested                   ErrorKind = "RestoreNotRequested"
	RestoreLabelUnknown                   ErrorKind = "RestoreLabelUnknown"

	// Declaration and object management.
	ObjectClassNotDefined          ErrorKind = "ObjectClassNotDefined"
	ObjectClassNotPublished        ErrorKind = "ObjectClassNotPublished"
	AttributeNotDefined            ErrorKind = "AttributeNotDefined"
	AttributeNotPublished          ErrorKind = "AttributeNotPublished"
	InteractionClassNotDefined     ErrorKind = "InteractionClassNotDefined"
	InteractionClassNotPublished   ErrorKind = "InteractionClassNotPublished"
	InteractionParameterNotDefined ErrorKind = "InteractionParameterNotDefined"
	ObjectInstanceNotKnown         ErrorKind = "ObjectInstanceNotKnown"
	ObjectInstanceNameInUse        ErrorKind = "ObjectInstanceNameInUse"
	ObjectInstanceNameNotReserved  ErrorKind = "ObjectInstanceNameNotReserved"
	IllegalName                    ErrorKind = "IllegalName"
	DeletePrivilegeNotHeld         ErrorKind = "DeletePrivilegeNotHeld"
	InvalidOrderType               ErrorKind = "InvalidOrderType"

	// Ownership management.
	AttributeNotOwned                   ErrorKind = "AttributeNotOwned"
	AttributeAlreadyOwned               ErrorKind = "AttributeAlreadyOwned"
	AttributeAlreadyBeingDivested       ErrorKind = "AttributeAlreadyBeingDivested"
	AttributeAlreadyBeingAcquired       ErrorKind = "AttributeAlreadyBeingAcquired"
	AttributeDivestitureWasNotRequested ErrorKind = "AttributeDivestitureWasNotRequested"
	AttributeAcquisitionWasNotRequested ErrorKind = "AttributeAcquisitionWasNotRequested"
	NoAcquisitionPending                ErrorKind = "NoAcquisitionPending"

	// Time management.
	TimeRegulationAlreadyEnabled     ErrorKind = "TimeRegulationAlreadyEnabled"
	TimeRegulationIsNotEnabled       ErrorKind = "TimeRegulationIsNotEnabled"
	TimeConstrainedAlreadyEnabled    ErrorKind = "TimeConstrainedAlreadyEnabled"
	TimeConstrainedIsNotEnabled      ErrorKind = "TimeConstrainedIsNotEnabled"
	RequestForTimeRegulationPending  ErrorKind = "RequestForTimeRegulationPending"
	RequestForTimeConstrainedPending ErrorKind = "RequestForTimeConstrainedPending"
	InTimeAdvancingState             ErrorKind = "InTimeAdvancingState"
	LogicalTimeAlreadyPassed         ErrorKind = "LogicalTimeAlreadyPassed"
	InvalidLogicalTime               ErrorKind = "InvalidLogicalTime"
	InvalidLookahead                 ErrorKind = "InvalidLookahead"
	CouldNotDecode                   ErrorKind = "CouldNotDecode"

	// Data distribution management.
	InvalidRegion                      ErrorKind = "InvalidRegion"
	RegionNotCreatedByThisFederate     ErrorKind = "RegionNotCreatedByThisFederate"
	RegionInUseForUpdateOrSubscription ErrorKind = "RegionInUseForUpdateOrSubscription"
	InvalidDimensionHandle             ErrorKind = "InvalidDimensionHandle"
	InvalidRangeBound                  ErrorKind = "InvalidRangeBound"

	// Connection and internal failures.
	NotConnected     ErrorKind = "NotConnected"
	ConnectionFailed ErrorKind = "ConnectionFailed"
	RTIinternalError ErrorKind = "RTIinternalError"
)

// Error is the single error type for every HLA exception condition.
type Error struct {
	Kind   ErrorKind
	Reason string
}

// Errorf builds an *Error of the given kind with a formatted reason.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Reason
}

// Is matches any *Error of the same kind, so sentinels work with errors.Is
// regardless of the reason text.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// KindOf extracts the error kind from err, or "" when err carries none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Sentinels for errors.Is comparisons.
var (
	ErrFederationExecutionAlreadyExists = &Error{Kind: FederationExecutionAlreadyExists}
	ErrFederationExecutionDoesNotExist  = &Error{Kind: FederationExecutionDoesNotExist}
	ErrFederatesCurrentlyJoined         = &Error{Kind: FederatesCurrentlyJoined}
	ErrFederateAlreadyExecutionMember   = &Error{Kind: FederateAlreadyExecutionMember}
	ErrFederateNameAlreadyInUse         = &Error{Kind: FederateNameAlreadyInUse}
	ErrFederateNotExecutionMember       = &Error{Kind: FederateNotExecutionMember}
	ErrCouldNotCreateLogicalTimeFactory = &Error{Kind: CouldNotCreateLogicalTimeFactory}
	ErrInconsistentFDD                  = &Error{Kind: InconsistentFDD}
	ErrCouldNotOpenFDD                  = &Error{Kind: CouldNotOpenFDD}
	ErrInvalidResignAction              = &Error{Kind: InvalidResignAction}

	ErrSynchronizationPointLabelNotAnnounced = &Error{Kind: SynchronizationPointLabelNotAnnounced}
	ErrSynchronizationPointLabelNotUnique    = &Error{Kind: SynchronizationPointLabelNotUnique}
	ErrSaveInProgress                        = &Error{Kind: SaveInProgress}
	ErrSaveNotInitiated                      = &Error{Kind: SaveNotInitiated}
	ErrSaveNotRequested                      = &Error{Kind: SaveNotRequested}
	ErrRestoreInProgress                     = &Error{Kind: RestoreInProgress}
	ErrRestoreNotRequested                   = &Error{Kind: RestoreNotRequested}
	ErrRestoreLabelUnknown                   = &Error{Kind: RestoreLabelUnknown}

	ErrObjectClassNotDefined          = &Error{Kind: ObjectClassNotDefined}
	ErrObjectClassNotPublished        = &Error{Kind: ObjectClassNotPublished}
	ErrAttributeNotDefined            = &Error{Kind: AttributeNotDefined}
	ErrAttributeNotPublished          = &Error{Kind: AttributeNotPublished}
	ErrInteractionClassNotDefined     = &Error{Kind: InteractionClassNotDefined}
	ErrInteractionClassNotPublished   = &Error{Kind: InteractionClassNotPublished}
	ErrInteractionParameterNotDefined = &Error{Kind: InteractionParameterNotDefined}
	ErrObjectInstanceNotKnown         = &Error{Kind: ObjectInstanceNotKnown}
	ErrObjectInstanceNameInUse        = &Error{Kind: ObjectInstanceNameInUse}
	ErrObjectInstanceNameNotReserved  = &Error{Kind: ObjectInstanceNameNotReserved}
	ErrIllegalName                    = &Error{Kind: IllegalName}
	ErrDeletePrivilegeNotHeld         = &Error{Kind: DeletePrivilegeNotHeld}
	ErrInvalidOrderType               = &Error{Kind: InvalidOrderType}

	ErrAttributeNotOwned                   = &Error{Kind: AttributeNotOwned}
	ErrAttributeAlreadyOwned               = &Error{Kind: AttributeAlreadyOwned}
	ErrAttributeAlreadyBeingDivested       = &Error{Kind: AttributeAlreadyBeingDivested}
	ErrAttributeAlreadyBeingAcquired       = &Error{Kind: AttributeAlreadyBeingAcquired}
	ErrAttributeDivestitureWasNotRequested = &Error{Kind: AttributeDivestitureWasNotRequested}
	ErrAttributeAcquisitionWasNotRequested = &Error{Kind: AttributeAcquisitionWasNotRequested}
	ErrNoAcquisitionPending                = &Error{Kind: NoAcquisitionPending}

	ErrTimeRegulationAlreadyEnabled     = &Error{Kind: TimeRegulationAlreadyEnabled}
	ErrTimeRegulationIsNotEnabled       = &Error{Kind: TimeRegulationIsNotEnabled}
	ErrTimeConstrainedAlreadyEnabled    = &Error{Kind: TimeConstrainedAlreadyEnabled}
	ErrTimeConstrainedIsNotEnabled      = &Error{Kind: TimeConstrainedIsNotEnabled}
	ErrRequestForTimeRegulationPending  = &Error{Kind: RequestForTimeRegulationPending}
	ErrRequestForTimeConstrainedPending = &Error{Kind: RequestForTimeConstrainedPending}
	ErrInTimeAdvancingState             = &Error{Kind: InTimeAdvancingState}
	ErrLogicalTimeAlreadyPassed         = &Error{Kind: LogicalTimeAlreadyPassed}
	ErrInvalidLogicalTime               = &Error{Kind: InvalidLogicalTime}
	ErrInvalidLookahead                 = &Error{Kind: InvalidLookahead}
	ErrCouldNotDecode                   = &Error{Kind: CouldNotDecode}

	ErrInvalidRegion                      = &Error{Kind: InvalidRegion}
	ErrRegionNotCreatedByThisFederate     = &Error{Kind: RegionNotCreatedByThisFederate}
	ErrRegionInUseForUpdateOrSubscription = &Error{Kind: RegionInUseForUpdateOrSubscription}
	ErrInvalidDimensionHandle             = &Error{Kind: InvalidDimensionHandle}
	ErrInvalidRangeBound                  = &Error{Kind: InvalidRangeBound}

	ErrNotConnected     = &Error{Kind: NotConnected}
	ErrConnectionFailed = &Error{Kind: ConnectionFailed}
	ErrRTIinternalError = &Error{Kind: RTIinternalError}
)

// InvariantViolation is the panic value raised when trusted internal code
// breaks a node invariant, such as erasing a connect twice. It is fatal by
// contract and never returned as an error.
type InvariantViolation struct {
	Reason string
}

func (v InvariantViolation) Error() string { return "internal invariant violated: " + v.Reason }

// Violation panics with an InvariantViolation.
func Violation(format string, args ...any) {
	panic(InvariantViolation{Reason: fmt.Sprintf(format, args...)})
}
