package message

import (
	"slices"

	"github.com/signalsfoundry/rti/kb"
	"github.com/signalsfoundry/rti/model"
)

type CreateFederationExecutionRequest struct {
	federationManagement
	Correlation
	Name               string       `json:"name"`
	TimeImplementation string       `json:"timeImplementation"`
	Modules            []*kb.Module `json:"modules,omitempty"`
	Designators        []string     `json:"designators,omitempty"`
}

type CreateFederationExecutionResponse struct {
	federationManagement
	Correlation
	Outcome
	Federation model.FederationHandle `json:"federation,omitempty"`
}

type DestroyFederationExecutionRequest struct {
	federationManagement
	Correlation
	Name string `json:"name"`
}

type DestroyFederationExecutionResponse struct {
	federationManagement
	Correlation
	Outcome
}

type JoinFederationExecutionRequest struct {
	federationManagement
	Correlation
	FederationName string             `json:"federationName"`
	FederateName   string             `json:"federateName"`
	FederateType   string             `json:"federateType"`
	ResignAction   model.ResignAction `json:"resignAction"`
}

// FederateInfo describes a joined federate.
type FederateInfo struct {
	Handle model.FederateHandle `json:"handle"`
	Name   string               `json:"name"`
	Type   string               `json:"type"`
}

// ObjectInfo describes a registered object instance and who owns which
// of its attributes. Unowned attributes are not listed.
type ObjectInfo struct {
	Handle model.ObjectInstanceHandle `json:"handle"`
	Class  model.ObjectClassHandle    `json:"class"`
	Name   string                     `json:"name"`
	Owners []AttributeOwner           `json:"owners,omitempty"`
}

// AttributeOwner pairs an attribute with its owning federate.
type AttributeOwner struct {
	Attribute model.AttributeHandle `json:"attribute"`
	Owner     model.FederateHandle  `json:"owner"`
}

// Owned lists the attributes federate owns.
func (o ObjectInfo) Owned(federate model.FederateHandle) []model.AttributeHandle {
	var out []model.AttributeHandle
	for _, a := range o.Owners {
		if a.Owner == federate {
			out = append(out, a.Attribute)
		}
	}
	return out
}

// CommitInfo is the latest lower bound a regulating federate committed.
type CommitInfo struct {
	Federate model.FederateHandle `json:"federate"`
	Commit   []byte               `json:"commit"`
	Strict   bool                 `json:"strict,omitempty"`
}

// SyncPointInfo is a synchronization point a joiner takes part in.
type SyncPointInfo struct {
	Label string `json:"label"`
	Tag   []byte `json:"tag,omitempty"`
}

type JoinFederationExecutionResponse struct {
	federationManagement
	Correlation
	Outcome
	Header
	FederationName     string                `json:"federationName,omitempty"`
	TimeImplementation string                `json:"timeImplementation,omitempty"`
	ObjectModel        *kb.ObjectModel       `json:"objectModel,omitempty"`
	Federates          []FederateInfo        `json:"federates,omitempty"`
	Objects            []ObjectInfo          `json:"objects,omitempty"`
	Commits            []CommitInfo          `json:"commits,omitempty"`
	SyncPoints         []SyncPointInfo       `json:"syncPoints,omitempty"`
	Phase              model.FederationPhase `json:"phase"`
}

// JoinFederateNotify announces a joined federate to the federation.
type JoinFederateNotify struct {
	federationManagement
	Header
	Name string `json:"name"`
	Type string `json:"type"`
}

type ResignFederationExecutionRequest struct {
	federationManagement
	Header
	Action model.ResignAction `json:"action"`
}

type ResignFederationExecutionResponse struct {
	federationManagement
	Header
	Target
	Outcome
}

// ResignFederateNotify announces that Federate left.
type ResignFederateNotify struct {
	federationManagement
	Header
}

type RegisterSynchronizationPointRequest struct {
	federationManagement
	Header
	Label     string                 `json:"label"`
	Tag       []byte                 `json:"tag,omitempty"`
	Federates []model.FederateHandle `json:"federates,omitempty"`
}

type RegisterSynchronizationPointResponse struct {
	federationManagement
	Header
	Target
	Outcome
	Label string `json:"label"`
}

// AnnounceSynchronizationPoint is flooded; federates not listed ignore it.
// An empty list means every federate.
type AnnounceSynchronizationPoint struct {
	federationManagement
	Header
	Label     string                 `json:"label"`
	Tag       []byte                 `json:"tag,omitempty"`
	Federates []model.FederateHandle `json:"federates,omitempty"`
}

// Includes reports whether federate takes part in the point.
func (m *AnnounceSynchronizationPoint) Includes(federate model.FederateHandle) bool {
	return includes(m.Federates, federate)
}

func includes(set []model.FederateHandle, federate model.FederateHandle) bool {
	if len(set) == 0 {
		return true
	}
	return slices.Contains(set, federate)
}

type SynchronizationPointAchieved struct {
	federationManagement
	Header
	Label   string `json:"label"`
	Success bool   `json:"success"`
}

// FederationSynchronized is flooded like the announce and only concerns
// the listed federates.
type FederationSynchronized struct {
	federationManagement
	Header
	Label     string                 `json:"label"`
	Federates []model.FederateHandle `json:"federates,omitempty"`
	Failed    []model.FederateHandle `json:"failed,omitempty"`
}

// Includes reports whether federate took part in the point.
func (m *FederationSynchronized) Includes(federate model.FederateHandle) bool {
	return includes(m.Federates, federate)
}

type RequestFederationSave struct {
	federationManagement
	Header
	Label string `json:"label"`
}

// RequestFederationSaveResponse tells the requester whether the root
// started the save.
type RequestFederationSaveResponse struct {
	federationManagement
	Header
	Target
	Outcome
	Label string `json:"label"`
}

type InitiateFederateSave struct {
	federationManagement
	Header
	Label string `json:"label"`
}

type FederateSaveBegun struct {
	federationManagement
	Header
}

type FederateSaveStatus struct {
	federationManagement
	Header
	Success bool `json:"success"`
}

type FederationSaved struct {
	federationManagement
	Header
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

type AbortFederationSave struct {
	federationManagement
	Header
}

type RequestFederationRestore struct {
	federationManagement
	Header
	Label string `json:"label"`
}

type RequestFederationRestoreResponse struct {
	federationManagement
	Header
	Target
	Label   string `json:"label"`
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

type FederationRestoreBegun struct {
	federationManagement
	Header
	Label string `json:"label"`
}

// InitiateFederateRestore is flooded; every federate restores the state
// it saved under Label.
type InitiateFederateRestore struct {
	federationManagement
	Header
	Label string `json:"label"`
}

type FederateRestoreStatus struct {
	federationManagement
	Header
	Success bool `json:"success"`
}

// FederationRestored ends a restore. On success Objects is the object
// table as it was saved.
type FederationRestored struct {
	federationManagement
	Header
	Success bool         `json:"success"`
	Reason  string       `json:"reason,omitempty"`
	Objects []ObjectInfo `json:"objects,omitempty"`
}

func (*CreateFederationExecutionRequest) Kind() Kind    { return "CreateFederationExecutionRequest" }
func (*CreateFederationExecutionResponse) Kind() Kind   { return "CreateFederationExecutionResponse" }
func (*DestroyFederationExecutionRequest) Kind() Kind   { return "DestroyFederationExecutionRequest" }
func (*DestroyFederationExecutionResponse) Kind() Kind  { return "DestroyFederationExecutionResponse" }
func (*JoinFederationExecutionRequest) Kind() Kind      { return "JoinFederationExecutionRequest" }
func (*JoinFederationExecutionResponse) Kind() Kind     { return "JoinFederationExecutionResponse" }
func (*JoinFederateNotify) Kind() Kind                  { return "JoinFederateNotify" }
func (*ResignFederationExecutionRequest) Kind() Kind    { return "ResignFederationExecutionRequest" }
func (*ResignFederationExecutionResponse) Kind() Kind   { return "ResignFederationExecutionResponse" }
func (*ResignFederateNotify) Kind() Kind                { return "ResignFederateNotify" }
func (*RegisterSynchronizationPointRequest) Kind() Kind { return "RegisterSynchronizationPointRequest" }
func (*RegisterSynchronizationPointResponse) Kind() Kind {
	return "RegisterSynchronizationPointResponse"
}
func (*AnnounceSynchronizationPoint) Kind() Kind { return "AnnounceSynchronizationPoint" }
func (*SynchronizationPointAchieved) Kind() Kind { return "SynchronizationPointAchieved" }
func (*FederationSynchronized) Kind() Kind       { return "FederationSynchronized" }
func (*RequestFederationSave) Kind() Kind        { return "RequestFederationSave" }
func (*RequestFederationSaveResponse) Kind() Kind {
	return "RequestFederationSaveResponse"
}
func (*InitiateFederateSave) Kind() Kind             { return "InitiateFederateSave" }
func (*FederateSaveBegun) Kind() Kind                { return "FederateSaveBegun" }
func (*FederateSaveStatus) Kind() Kind               { return "FederateSaveStatus" }
func (*FederationSaved) Kind() Kind                  { return "FederationSaved" }
func (*AbortFederationSave) Kind() Kind              { return "AbortFederationSave" }
func (*RequestFederationRestore) Kind() Kind         { return "RequestFederationRestore" }
func (*RequestFederationRestoreResponse) Kind() Kind { return "RequestFederationRestoreResponse" }
func (*FederationRestoreBegun) Kind() Kind           { return "FederationRestoreBegun" }
func (*InitiateFederateRestore) Kind() Kind          { return "InitiateFederateRestore" }
func (*FederateRestoreStatus) Kind() Kind            { return "FederateRestoreStatus" }
func (*FederationRestored) Kind() Kind               { return "FederationRestored" }
