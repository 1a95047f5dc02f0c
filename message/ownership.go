package message

import "github.com/signalsfoundry/rti/model"

// OwnershipOp is an ownership operation a federate asks the root for.
type OwnershipOp uint8

const (
	OpUnconditionalDivestiture OwnershipOp = iota + 1
	OpNegotiatedDivestiture
	OpConfirmDivestiture
	OpCancelNegotiatedDivestiture
	OpAcquisition
	OpAcquisitionIfAvailable
	OpCancelAcquisition
	OpQuery
)

func (o OwnershipOp) String() string {
	switch o {
	case OpUnconditionalDivestiture:
		return "unconditional-divestiture"
	case OpNegotiatedDivestiture:
		return "negotiated-divestiture"
	case OpConfirmDivestiture:
		return "confirm-divestiture"
	case OpCancelNegotiatedDivestiture:
		return "cancel-negotiated-divestiture"
	case OpAcquisition:
		return "acquisition"
	case OpAcquisitionIfAvailable:
		return "acquisition-if-available"
	case OpCancelAcquisition:
		return "cancel-acquisition"
	case OpQuery:
		return "query"
	default:
		return "unknown"
	}
}

// OwnershipNotice is the callback an ownership notification triggers.
type OwnershipNotice uint8

const (
	NoticeRequestRelease OwnershipNotice = iota + 1
	NoticeRequestAssumption
	NoticeDivestiture
	NoticeAcquisition
	NoticeUnavailable
	NoticeCancellationConfirmed
	NoticeInform
	NoticeRejected
)

func (n OwnershipNotice) String() string {
	switch n {
	case NoticeRequestRelease:
		return "request-release"
	case NoticeRequestAssumption:
		return "request-assumption"
	case NoticeDivestiture:
		return "divestiture"
	case NoticeAcquisition:
		return "acquisition"
	case NoticeUnavailable:
		return "unavailable"
	case NoticeCancellationConfirmed:
		return "cancellation-confirmed"
	case NoticeInform:
		return "inform"
	case NoticeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

type AttributeOwnershipRequest struct {
	ownershipManagement
	Header
	Object     model.ObjectInstanceHandle `json:"object"`
	Attributes []model.AttributeHandle    `json:"attributes"`
	Op         OwnershipOp                `json:"op"`
	Tag        []byte                     `json:"tag,omitempty"`
}

// AttributeOwnershipNotification reports an ownership outcome to one
// federate. For NoticeInform, Owner is the current owner or zero when the
// attributes are unowned. For NoticeRejected, Op is the refused operation
// and Outcome says why.
type AttributeOwnershipNotification struct {
	ownershipManagement
	Header
	Target
	Outcome
	Object     model.ObjectInstanceHandle `json:"object"`
	Attributes []model.AttributeHandle    `json:"attributes"`
	Notice     OwnershipNotice            `json:"notice"`
	Owner      model.FederateHandle       `json:"owner,omitempty"`
	Op         OwnershipOp                `json:"op,omitempty"`
	Tag        []byte                     `json:"tag,omitempty"`
}

func (*AttributeOwnershipRequest) Kind() Kind      { return "AttributeOwnershipRequest" }
func (*AttributeOwnershipNotification) Kind() Kind { return "AttributeOwnershipNotification" }
