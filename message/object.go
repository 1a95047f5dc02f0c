package message

import (
	"github.com/signalsfoundry/rti/core"
	"github.com/signalsfoundry/rti/model"
)

// AttributeValue is one (attribute, encoded value) pair.
type AttributeValue struct {
	Handle model.AttributeHandle `json:"handle"`
	Value  []byte                `json:"value"`
}

// ParameterValue is one (parameter, encoded value) pair.
type ParameterValue struct {
	Handle model.ParameterHandle `json:"handle"`
	Value  []byte                `json:"value"`
}

type ReserveObjectInstanceNameRequest struct {
	objectManagement
	Header
	Name string `json:"name"`
}

type ReserveObjectInstanceNameResponse struct {
	objectManagement
	Header
	Target
	Name    string `json:"name"`
	Success bool   `json:"success"`
}

type ReleaseObjectInstanceName struct {
	objectManagement
	Header
	Name string `json:"name"`
}

// InsertObjectInstance announces a newly registered object. The
// registering federate owns OwnedAttributes from the start.
type InsertObjectInstance struct {
	objectManagement
	Header
	Object          model.ObjectInstanceHandle `json:"object"`
	Class           model.ObjectClassHandle    `json:"class"`
	Name            string                     `json:"name"`
	OwnedAttributes []model.AttributeHandle    `json:"ownedAttributes,omitempty"`
}

type DeleteObjectInstance struct {
	objectManagement
	Header
	Object model.ObjectInstanceHandle `json:"object"`
	Tag    []byte                     `json:"tag,omitempty"`
}

// AttributeUpdate carries new attribute values. Timestamp is the encoded
// logical time for timestamp-ordered updates and empty otherwise.
type AttributeUpdate struct {
	objectManagement
	Header
	Object    model.ObjectInstanceHandle `json:"object"`
	Class     model.ObjectClassHandle    `json:"class"`
	Values    []AttributeValue           `json:"values"`
	Tag       []byte                     `json:"tag,omitempty"`
	Regions   []core.Region              `json:"regions,omitempty"`
	Timestamp []byte                     `json:"timestamp,omitempty"`
	Order     model.OrderType            `json:"order"`
}

// Attributes lists the handles the update carries.
func (m *AttributeUpdate) Attributes() []model.AttributeHandle {
	out := make([]model.AttributeHandle, len(m.Values))
	for i, v := range m.Values {
		out[i] = v.Handle
	}
	return out
}

type Interaction struct {
	objectManagement
	Header
	Class      model.InteractionClassHandle `json:"class"`
	Parameters []ParameterValue             `json:"parameters"`
	Tag        []byte                       `json:"tag,omitempty"`
	Regions    []core.Region                `json:"regions,omitempty"`
	Timestamp  []byte                       `json:"timestamp,omitempty"`
	Order      model.OrderType              `json:"order"`
}

// RequestAttributeValueUpdate asks the owners of Attributes to provide
// fresh values, for one object or, with Object zero, every object of Class.
type RequestAttributeValueUpdate struct {
	objectManagement
	Header
	Object     model.ObjectInstanceHandle `json:"object,omitempty"`
	Class      model.ObjectClassHandle    `json:"class,omitempty"`
	Attributes []model.AttributeHandle    `json:"attributes"`
	Tag        []byte                     `json:"tag,omitempty"`
}

func (*ReserveObjectInstanceNameRequest) Kind() Kind  { return "ReserveObjectInstanceNameRequest" }
func (*ReserveObjectInstanceNameResponse) Kind() Kind { return "ReserveObjectInstanceNameResponse" }
func (*ReleaseObjectInstanceName) Kind() Kind         { return "ReleaseObjectInstanceName" }
func (*InsertObjectInstance) Kind() Kind              { return "InsertObjectInstance" }
func (*DeleteObjectInstance) Kind() Kind              { return "DeleteObjectInstance" }
func (*AttributeUpdate) Kind() Kind                   { return "AttributeUpdate" }
func (*Interaction) Kind() Kind                       { return "Interaction" }
func (*RequestAttributeValueUpdate) Kind() Kind       { return "RequestAttributeValueUpdate" }
