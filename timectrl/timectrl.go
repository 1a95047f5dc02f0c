// Package timectrl provides the logical time representations federates
// advance through: HLAfloat64Time and HLAinteger64Time with their
// intervals. Every value encodes to an 8-byte big-endian buffer so times
// can cross the wire unchanged between independent implementations.
package timectrl

import "github.com/signalsfoundry/rti/model"

// EncodedLength is the wire size of every time and interval value.
const EncodedLength = 8

// Interval is the capability a logical time interval provides.
type Interval[I any] interface {
	Compare(I) int
	IsZero() bool
	Negative() bool
	Valid() bool
	Encode() []byte
	String() string
}

// Time is the capability a logical time provides. Add never wraps and
// never silently absorbs a nonzero interval.
type Time[T any, I any] interface {
	Compare(T) int
	Add(I) T
	Valid() bool
	Encode() []byte
	String() string
}

// Factory creates and decodes values of one time implementation.
type Factory[T Time[T, I], I Interval[I]] interface {
	Name() string
	Initial() T
	Final() T
	Zero() I
	Epsilon() I
	DecodeTime([]byte) (T, error)
	DecodeInterval([]byte) (I, error)
}

// Supported reports whether name is a time implementation this package
// provides.
func Supported(name string) bool {
	switch name {
	case model.HLAfloat64Time, model.HLAinteger64Time:
		return true
	default:
		return false
	}
}

// Min returns the earlier of a and b.
func Min[T Time[T, I], I Interval[I]](a, b T) T {
	if b.Compare(a) < 0 {
		return b
	}
	return a
}

// Max returns the later of a and b.
func Max[T Time[T, I], I Interval[I]](a, b T) T {
	if b.Compare(a) > 0 {
		return b
	}
	return a
}

func checkLength(what string, buf []byte) error {
	if len(buf) != EncodedLength {
		return model.Errorf(model.CouldNotDecode, "%s needs %d bytes, got %d", what, EncodedLength, len(buf))
	}
	return nil
}

func compare[N int64 | float64](a, b N) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
