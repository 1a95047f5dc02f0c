package timectrl

import (
	"encoding/binary"
	"math"
	"strconv"

	"github.com/signalsfoundry/rti/model"
)

// Float64Time is HLAfloat64Time: an IEEE-754 double on the wire.
type Float64Time float64

// Float64Interval is HLAfloat64Interval.
type Float64Interval float64

// Compare orders two times.
func (t Float64Time) Compare(o Float64Time) int { return compare(float64(t), float64(o)) }

// Add returns t+i. When rounding would leave t unchanged for a nonzero i the
// result steps to the adjacent representable value in the direction of i,
// and the result saturates at ±math.MaxFloat64.
func (t Float64Time) Add(i Float64Interval) Float64Time {
	sum := float64(t) + float64(i)
	if i != 0 && sum == float64(t) {
		sum = math.Nextafter(float64(t), math.Copysign(math.Inf(1), float64(i)))
	}
	switch {
	case sum > math.MaxFloat64:
		sum = math.MaxFloat64
	case sum < -math.MaxFloat64:
		sum = -math.MaxFloat64
	}
	return Float64Time(sum)
}

// Valid reports whether t is a finite number.
func (t Float64Time) Valid() bool { return finite(float64(t)) }

// Encode returns the 8-byte big-endian IEEE-754 representation.
func (t Float64Time) Encode() []byte { return encodeFloat(float64(t)) }

func (t Float64Time) String() string { return strconv.FormatFloat(float64(t), 'g', -1, 64) }

// Compare orders two intervals.
func (i Float64Interval) Compare(o Float64Interval) int { return compare(float64(i), float64(o)) }

// IsZero reports whether the interval is zero.
func (i Float64Interval) IsZero() bool { return i == 0 }

// Negative reports whether the interval points backwards.
func (i Float64Interval) Negative() bool { return i < 0 }

// Valid reports whether i is a finite number.
func (i Float64Interval) Valid() bool { return finite(float64(i)) }

// Encode returns the 8-byte big-endian IEEE-754 representation.
func (i Float64Interval) Encode() []byte { return encodeFloat(float64(i)) }

func (i Float64Interval) String() string { return strconv.FormatFloat(float64(i), 'g', -1, 64) }

// Float64Factory builds HLAfloat64Time values.
type Float64Factory struct{}

func (Float64Factory) Name() string             { return model.HLAfloat64Time }
func (Float64Factory) Initial() Float64Time     { return 0 }
func (Float64Factory) Final() Float64Time       { return math.MaxFloat64 }
func (Float64Factory) Zero() Float64Interval    { return 0 }
func (Float64Factory) Epsilon() Float64Interval { return math.SmallestNonzeroFloat64 }

// DecodeTime reads an 8-byte big-endian double.
func (Float64Factory) DecodeTime(buf []byte) (Float64Time, error) {
	v, err := decodeFloat("HLAfloat64Time", buf)
	return Float64Time(v), err
}

// DecodeInterval reads an 8-byte big-endian double.
func (Float64Factory) DecodeInterval(buf []byte) (Float64Interval, error) {
	v, err := decodeFloat("HLAfloat64Interval", buf)
	return Float64Interval(v), err
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func encodeFloat(v float64) []byte {
	buf := make([]byte, EncodedLength)
	binary.BigEndian.PutUint64(buf, math.Float64bits(v))
	return buf
}

func decodeFloat(what string, buf []byte) (float64, error) {
	if err := checkLength(what, buf); err != nil {
		return 0, err
	}
	v := math.Float64frombits(binary.BigEndian.Uint64(buf))
	if !finite(v) {
		return 0, model.Errorf(model.CouldNotDecode, "%s is not finite", what)
	}
	return v, nil
}
