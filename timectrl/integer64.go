package timectrl

import (
	"encoding/binary"
	"math"
	"strconv"

	"github.com/signalsfoundry/rti/model"
)

// Integer64Time is HLAinteger64Time: a two's-complement int64 on the wire.
type Integer64Time int64

// Integer64Interval is HLAinteger64Interval.
type Integer64Interval int64

// Compare orders two times.
func (t Integer64Time) Compare(o Integer64Time) int { return compare(int64(t), int64(o)) }

// Add returns t+i, saturating at math.MinInt64 and math.MaxInt64.
func (t Integer64Time) Add(i Integer64Interval) Integer64Time {
	return Integer64Time(saturatingAdd(int64(t), int64(i)))
}

// Valid is always true; every int64 is a time.
func (t Integer64Time) Valid() bool { return true }

// Encode returns the 8-byte big-endian two's-complement representation.
func (t Integer64Time) Encode() []byte { return encodeInt(int64(t)) }

func (t Integer64Time) String() string { return strconv.FormatInt(int64(t), 10) }

// Compare orders two intervals.
func (i Integer64Interval) Compare(o Integer64Interval) int { return compare(int64(i), int64(o)) }

// IsZero reports whether the interval is zero.
func (i Integer64Interval) IsZero() bool { return i == 0 }

// Negative reports whether the interval points backwards.
func (i Integer64Interval) Negative() bool { return i < 0 }

// Valid is always true.
func (i Integer64Interval) Valid() bool { return true }

// Encode returns the 8-byte big-endian two's-complement representation.
func (i Integer64Interval) Encode() []byte { return encodeInt(int64(i)) }

func (i Integer64Interval) String() string { return strconv.FormatInt(int64(i), 10) }

// Integer64Factory builds HLAinteger64Time values.
type Integer64Factory struct{}

func (Integer64Factory) Name() string               { return model.HLAinteger64Time }
func (Integer64Factory) Initial() Integer64Time     { return 0 }
func (Integer64Factory) Final() Integer64Time       { return math.MaxInt64 }
func (Integer64Factory) Zero() Integer64Interval    { return 0 }
func (Integer64Factory) Epsilon() Integer64Interval { return 1 }

// DecodeTime reads an 8-byte big-endian int64.
func (Integer64Factory) DecodeTime(buf []byte) (Integer64Time, error) {
	if err := checkLength("HLAinteger64Time", buf); err != nil {
		return 0, err
	}
	return Integer64Time(binary.BigEndian.Uint64(buf)), nil
}

// DecodeInterval reads an 8-byte big-endian int64.
func (Integer64Factory) DecodeInterval(buf []byte) (Integer64Interval, error) {
	if err := checkLength("HLAinteger64Interval", buf); err != nil {
		return 0, err
	}
	return Integer64Interval(binary.BigEndian.Uint64(buf)), nil
}

func saturatingAdd(a, b int64) int64 {
	switch {
	case b > 0 && a > math.MaxInt64-b:
		return math.MaxInt64
	case b < 0 && a < math.MinInt64-b:
		return math.MinInt64
	default:
		return a + b
	}
}

func encodeInt(v int64) []byte {
	buf := make([]byte, EncodedLength)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}
