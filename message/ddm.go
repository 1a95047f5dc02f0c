package message

import (
	"github.com/signalsfoundry/rti/core"
	"github.com/signalsfoundry/rti/model"
)

// CommitRegion publishes new extents of the sender's regions so every
// subscription that uses them is narrowed accordingly.
type CommitRegion struct {
	dataDistribution
	Header
	Regions []core.RegionEntry `json:"regions"`
}

type EraseRegion struct {
	dataDistribution
	Header
	Regions []model.RegionHandle `json:"regions"`
}

func (*CommitRegion) Kind() Kind { return "CommitRegion" }
func (*EraseRegion) Kind() Kind  { return "EraseRegion" }
