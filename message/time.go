package message

// EnableTimeRegulationRequest is flooded when a federate asks to become
// regulating. Commit is its encoded time plus lookahead.
type EnableTimeRegulationRequest struct {
	timeManagement
	Header
	Commit []byte `json:"commit"`
	Serial uint32 `json:"serial"`
}

// EnableTimeRegulationResponse answers a regulation request with the
// responder's logical time.
type EnableTimeRegulationResponse struct {
	timeManagement
	Header
	Target
	Time        []byte `json:"time"`
	Constrained bool   `json:"constrained"`
	Serial      uint32 `json:"serial"`
}

type DisableTimeRegulationRequest struct {
	timeManagement
	Header
}

// CommitLowerBoundTimeStamp announces the lowest timestamp the sender
// may still send. With Strict set the sender will not send at Commit
// either.
type CommitLowerBoundTimeStamp struct {
	timeManagement
	Header
	Commit []byte `json:"commit"`
	Strict bool   `json:"strict,omitempty"`
	Serial uint32 `json:"serial"`
}

func (*EnableTimeRegulationRequest) Kind() Kind  { return "EnableTimeRegulationRequest" }
func (*EnableTimeRegulationResponse) Kind() Kind { return "EnableTimeRegulationResponse" }
func (*DisableTimeRegulationRequest) Kind() Kind { return "DisableTimeRegulationRequest" }
func (*CommitLowerBoundTimeStamp) Kind() Kind    { return "CommitLowerBoundTimeStamp" }
