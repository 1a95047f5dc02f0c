package model

import "fmt"

// ConnectHandle identifies one connect registered on a server node. It is
// node-local: the same physical link has different handles on each side.
type ConnectHandle uint64

// FederationHandle identifies a federation execution. Allocated by the root.
type FederationHandle uint64

// FederateHandle identifies a joined federate within its federation.
// Allocated by the root, never reused while the federation exists.
type FederateHandle uint64

// ObjectClassHandle identifies an object class of the federation object model.
type ObjectClassHandle uint64

// AttributeHandle identifies an attribute. Attribute handles are unique
// across the whole object model, not only within their declaring class.
type AttributeHandle uint64

// InteractionClassHandle identifies an interaction class.
type InteractionClassHandle uint64

// ParameterHandle identifies an interaction parameter.
type ParameterHandle uint64

// DimensionHandle identifies a DDM dimension.
type DimensionHandle uint64

// ObjectInstanceHandle identifies a registered object instance. The upper
// 32 bits carry the registering federate, the lower 32 bits a serial.
type ObjectInstanceHandle uint64

// RegionHandle identifies a DDM region. Laid out like ObjectInstanceHandle.
type RegionHandle uint64

// MaxSerial is the largest serial a federate can allocate in its slice.
const MaxSerial = 1<<32 - 1

// MaxFederateHandle bounds federate handles so they fit a handle slice.
const MaxFederateHandle = 1<<32 - 1

// Valid reports whether the handle was ever allocated.
func (h ConnectHandle) Valid() bool    { return h != 0 }
func (h FederationHandle) Valid() bool { return h != 0 }
func (h FederateHandle) Valid() bool   { return h != 0 }

func (h ConnectHandle) String() string    { return fmt.Sprintf("connect(%d)", uint64(h)) }
func (h FederationHandle) String() string { return fmt.Sprintf("federation(%d)", uint64(h)) }
func (h FederateHandle) String() string   { return fmt.Sprintf("federate(%d)", uint64(h)) }

// NewObjectInstanceHandle composes an object instance handle from the
// registering federate and its local serial.
func NewObjectInstanceHandle(federate FederateHandle, serial uint32) ObjectInstanceHandle {
	return ObjectInstanceHandle(uint64(federate)<<32 | uint64(serial))
}

// Federate returns the federate whose handle slice contains h.
func (h ObjectInstanceHandle) Federate() FederateHandle { return FederateHandle(uint64(h) >> 32) }

// Serial returns the federate-local part of h.
func (h ObjectInstanceHandle) Serial() uint32 { return uint32(h) }

func (h ObjectInstanceHandle) String() string {
	return fmt.Sprintf("object(%d.%d)", uint64(h.Federate()), h.Serial())
}

// NewRegionHandle composes a region handle from the creating federate and
// its local serial.
func NewRegionHandle(federate FederateHandle, serial uint32) RegionHandle {
	return RegionHandle(uint64(federate)<<32 | uint64(serial))
}

// Federate returns the federate that created the region.
func (h RegionHandle) Federate() FederateHandle { return FederateHandle(uint64(h) >> 32) }

// Serial returns the federate-local part of h.
func (h RegionHandle) Serial() uint32 { return uint32(h) }

func (h RegionHandle) String() string {
	return fmt.Sprintf("region(%d.%d)", uint64(h.Federate()), h.Serial())
}

// FederateSlice returns the half-open handle range [lo, hi) owned by a
// federate for slice-allocated handles.
func FederateSlice(federate FederateHandle) (lo, hi uint64) {
	lo = uint64(federate) << 32
	return lo, lo + MaxSerial + 1
}

// HandleAllocator hands out monotonically increasing handles. Handles are
// never recycled; Next fails once the limit is reached.
type HandleAllocator struct {
	last  uint64
	limit uint64
}

// NewHandleAllocator returns an allocator whose first handle is 1 and whose
// last possible handle is limit.
func NewHandleAllocator(limit uint64) *HandleAllocator {
	return &HandleAllocator{limit: limit}
}

// Next returns the next unused handle.
func (a *HandleAllocator) Next() (uint64, error) {
	if a.last >= a.limit {
		return 0, Errorf(RTIinternalError, "handle space exhausted after %d allocations", a.last)
	}
	a.last++
	return a.last, nil
}

// Last returns the most recently allocated handle, or zero.
func (a *HandleAllocator) Last() uint64 { return a.last }
