// Package message defines every value that travels between federates and
// server nodes. Messages are plain structs built completely before they
// are sent and never mutated afterwards, so one value may be handed to
// several connects at once.
package message

import (
	"github.com/google/uuid"

	"github.com/signalsfoundry/rti/model"
)

// Category groups messages by the HLA service area they belong to.
type Category uint8

const (
	FederationManagement Category = iota
	DeclarationManagement
	ObjectManagement
	OwnershipManagement
	TimeManagement
	DataDistribution
	Connection
)

func (c Category) String() string {
	switch c {
	case FederationManagement:
		return "federation"
	case DeclarationManagement:
		return "declaration"
	case ObjectManagement:
		return "object"
	case OwnershipManagement:
		return "ownership"
	case TimeManagement:
		return "time"
	case DataDistribution:
		return "ddm"
	case Connection:
		return "connection"
	default:
		return "unknown"
	}
}

// Kind is the stable name of a message type.
type Kind string

// Message is implemented by every message type.
type Message interface {
	Kind() Kind
	Category() Category
}

// Scoped messages belong to one federation execution.
type Scoped interface {
	Message
	FederationHandle() model.FederationHandle
}

// Sourced messages name the federate that issued them.
type Sourced interface {
	Scoped
	FederateHandle() model.FederateHandle
}

// Addressed messages are meant for exactly one federate.
type Addressed interface {
	Scoped
	Recipient() model.FederateHandle
}

// Request messages are answered by a Response with the same id.
type Request interface {
	Message
	ID() RequestID
}

// Response messages answer a Request.
type Response interface {
	Message
	ID() RequestID
	Failure() error
}

// RequestID correlates requests made before a federate has a handle.
type RequestID = uuid.UUID

// NewRequestID returns a fresh random id.
func NewRequestID() RequestID { return uuid.New() }

// Header carries the federation and the issuing federate.
type Header struct {
	Federation model.FederationHandle `json:"federation,omitempty"`
	Federate   model.FederateHandle   `json:"federate,omitempty"`
}

func (h Header) FederationHandle() model.FederationHandle { return h.Federation }
func (h Header) FederateHandle() model.FederateHandle     { return h.Federate }

// Target names the federate an addressed message is for.
type Target struct {
	To model.FederateHandle `json:"to"`
}

func (t Target) Recipient() model.FederateHandle { return t.To }

// Correlation carries the request id of a request or response.
type Correlation struct {
	RequestID RequestID `json:"requestId"`
}

func (c Correlation) ID() RequestID { return c.RequestID }

// Outcome carries the failure of a response, nil on success.
type Outcome struct {
	Err *model.Error `json:"err,omitempty"`
}

// Failure returns the carried error as an error interface value.
func (o Outcome) Failure() error {
	if o.Err == nil {
		return nil
	}
	return o.Err
}

// Fail converts err into an Outcome, keeping its kind when it has one.
func Fail(err error) Outcome {
	if err == nil {
		return Outcome{}
	}
	kind := model.KindOf(err)
	if kind == "" {
		kind = model.RTIinternalError
	}
	return Outcome{Err: &model.Error{Kind: kind, Reason: err.Error()}}
}

// ConnectionLost tells the receiver that the link above it went away and
// every federation known through it is gone.
type ConnectionLost struct {
	Reason string `json:"reason"`
}

func (*ConnectionLost) Kind() Kind         { return "ConnectionLost" }
func (*ConnectionLost) Category() Category { return Connection }

// Category markers embedded in message structs.
type (
	federationManagement  struct{}
	declarationManagement struct{}
	objectManagement      struct{}
	ownershipManagement   struct{}
	timeManagement        struct{}
	dataDistribution      struct{}
)

func (federationManagement) Category() Category  { return FederationManagement }
func (declarationManagement) Category() Category { return DeclarationManagement }
func (objectManagement) Category() Category      { return ObjectManagement }
func (ownershipManagement) Category() Category   { return OwnershipManagement }
func (timeManagement) Category() Category        { return TimeManagement }
func (dataDistribution) Category() Category      { return DataDistribution }
