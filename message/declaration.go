package message

import (
	"github.com/signalsfoundry/rti/core"
	"github.com/signalsfoundry/rti/model"
)

// PublishObjectClassAttributes adds attributes to the federate's
// publication of Class, or removes them when Unpublish is set. Unpublish
// with no attributes withdraws the whole class.
type PublishObjectClassAttributes struct {
	declarationManagement
	Header
	Class      model.ObjectClassHandle `json:"class"`
	Attributes []model.AttributeHandle `json:"attributes,omitempty"`
	Unpublish  bool                    `json:"unpublish,omitempty"`
}

type PublishInteractionClass struct {
	declarationManagement
	Header
	Class     model.InteractionClassHandle `json:"class"`
	Unpublish bool                         `json:"unpublish,omitempty"`
}

// SubscribeObjectClassAttributes records interest in attributes of Class.
// Regions narrow the subscription when DDM is enabled; an empty list means
// no region filtering.
type SubscribeObjectClassAttributes struct {
	declarationManagement
	Header
	Class       model.ObjectClassHandle `json:"class"`
	Attributes  []model.AttributeHandle `json:"attributes,omitempty"`
	Regions     []core.RegionEntry      `json:"regions,omitempty"`
	Passive     bool                    `json:"passive,omitempty"`
	Unsubscribe bool                    `json:"unsubscribe,omitempty"`
}

type SubscribeInteractionClass struct {
	declarationManagement
	Header
	Class       model.InteractionClassHandle `json:"class"`
	Regions     []core.RegionEntry           `json:"regions,omitempty"`
	Unsubscribe bool                         `json:"unsubscribe,omitempty"`
}

func (*PublishObjectClassAttributes) Kind() Kind   { return "PublishObjectClassAttributes" }
func (*PublishInteractionClass) Kind() Kind        { return "PublishInteractionClass" }
func (*SubscribeObjectClassAttributes) Kind() Kind { return "SubscribeObjectClassAttributes" }
func (*SubscribeInteractionClass) Kind() Kind      { return "SubscribeInteractionClass" }
