package message

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownKind = errors.New("unknown message kind")

var registry = map[Kind]func() Message{}

func register(factories ...func() Message) {
	for _, f := range factories {
		registry[f().Kind()] = f
	}
}

func init() {
	register(
		func() Message { return new(ConnectionLost) },

		func() Message { return new(CreateFederationExecutionRequest) },
		func() Message { return new(CreateFederationExecutionResponse) },
		func() Message { return new(DestroyFederationExecutionRequest) },
		func() Message { return new(DestroyFederationExecutionResponse) },
		func() Message { return new(JoinFederationExecutionRequest) },
		func() Message { return new(JoinFederationExecutionResponse) },
		func() Message { return new(JoinFederateNotify) },
		func() Message { return new(ResignFederationExecutionRequest) },
		func() Message { return new(ResignFederationExecutionResponse) },
		func() Message { return new(ResignFederateNotify) },
		func() Message { return new(RegisterSynchronizationPointRequest) },
		func() Message { return new(RegisterSynchronizationPointResponse) },
		func() Message { return new(AnnounceSynchronizationPoint) },
		func() Message { return new(SynchronizationPointAchieved) },
		func() Message { return new(FederationSynchronized) },
		func() Message { return new(RequestFederationSave) },
		func() Message { return new(RequestFederationSaveResponse) },
		func() Message { return new(InitiateFederateSave) },
		func() Message { return new(FederateSaveBegun) },
		func() Message { return new(FederateSaveStatus) },
		func() Message { return new(FederationSaved) },
		func() Message { return new(AbortFederationSave) },
		func() Message { return new(RequestFederationRestore) },
		func() Message { return new(RequestFederationRestoreResponse) },
		func() Message { return new(FederationRestoreBegun) },
		func() Message { return new(InitiateFederateRestore) },
		func() Message { return new(FederateRestoreStatus) },
		func() Message { return new(FederationRestored) },

		func() Message { return new(PublishObjectClassAttributes) },
		func() Message { return new(PublishInteractionClass) },
		func() Message { return new(SubscribeObjectClassAttributes) },
		func() Message { return new(SubscribeInteractionClass) },

		func() Message { return new(ReserveObjectInstanceNameRequest) },
		func() Message { return new(ReserveObjectInstanceNameResponse) },
		func() Message { return new(ReleaseObjectInstanceName) },
		func() Message { return new(InsertObjectInstance) },
		func() Message { return new(DeleteObjectInstance) },
		func() Message { return new(AttributeUpdate) },
		func() Message { return new(Interaction) },
		func() Message { return new(RequestAttributeValueUpdate) },

		func() Message { return new(AttributeOwnershipRequest) },
		func() Message { return new(AttributeOwnershipNotification) },

		func() Message { return new(EnableTimeRegulationRequest) },
		func() Message { return new(EnableTimeRegulationResponse) },
		func() Message { return new(DisableTimeRegulationRequest) },
		func() Message { return new(CommitLowerBoundTimeStamp) },

		func() Message { return new(CommitRegion) },
		func() Message { return new(EraseRegion) },
	)
}

// Envelope is the self-describing JSON form of a message.
type Envelope struct {
	Kind Kind            `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// Seal wraps m into an envelope.
func Seal(m Message) (*Envelope, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	return &Envelope{Kind: m.Kind(), Body: body}, nil
}

// Open decodes the message inside e.
func (e *Envelope) Open() (Message, error) {
	f, ok := registry[e.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
	m := f()
	if err := json.Unmarshal(e.Body, m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", e.Kind, err)
	}
	return m, nil
}

// Kinds returns every registered kind.
func Kinds() []Kind {
	out := make([]Kind, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	return out
}
