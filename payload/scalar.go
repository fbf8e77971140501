package payload

import (
	"fmt"
	"math"
	"time"

	"github.com/luma/sparkplug/metric"
)

// wireKind is the slot a scalar occupies on the wire. Both payload formats
// and the dataset cells map their value slots onto these.
type wireKind int

const (
	wireNone wireKind = iota
	wireInt
	wireLong
	wireFloat
	wireDouble
	wireBool
	wireString
	wireBytes
)

func (k wireKind) String() string {
	switch k {
	case wireInt:
		return "int"
	case wireLong:
		return "long"
	case wireFloat:
		return "float"
	case wireDouble:
		return "double"
	case wireBool:
		return "boolean"
	case wireString:
		return "string"
	case wireBytes:
		return "bytes"
	default:
		return "none"
	}
}

// scalar is a wire value with its slot.
type scalar struct {
	kind wireKind
	u32  uint32
	u64  uint64
	f32  float32
	f64  float64
	b    bool
	s    string
	raw  []byte
}

// wireKindFor returns the slot used to carry dt.
func wireKindFor(dt metric.DataType) wireKind {
	switch dt {
	case metric.Int8, metric.Int16, metric.Int32, metric.UInt8, metric.UInt16, metric.UInt32:
		return wireInt
	case metric.Int64, metric.UInt64, metric.DateTime:
		return wireLong
	case metric.Float:
		return wireFloat
	case metric.Double:
		return wireDouble
	case metric.Boolean:
		return wireBool
	case metric.String, metric.Text, metric.UUID:
		return wireString
	case metric.Bytes, metric.File:
		return wireBytes
	default:
		return wireNone
	}
}

// encodeScalar turns a typed Go value into its wire slot. The value must
// already carry the Go type of dt.
func encodeScalar(dt metric.DataType, v interface{}) (scalar, error) {
	if err := metric.CheckValue(dt, v); err != nil {
		return scalar{}, err
	}

	switch x := v.(type) {
	case int8:
		return scalar{kind: wireInt, u32: uint32(int32(x))}, nil
	case int16:
		return scalar{kind: wireInt, u32: uint32(int32(x))}, nil
	case int32:
		return scalar{kind: wireInt, u32: uint32(x)}, nil
	case uint8:
		return scalar{kind: wireInt, u32: uint32(x)}, nil
	case uint16:
		return scalar{kind: wireInt, u32: uint32(x)}, nil
	case uint32:
		return scalar{kind: wireInt, u32: x}, nil
	case int64:
		return scalar{kind: wireLong, u64: uint64(x)}, nil
	case uint64:
		return scalar{kind: wireLong, u64: x}, nil
	case time.Time:
		return scalar{kind: wireLong, u64: toMillis(x)}, nil
	case float32:
		return scalar{kind: wireFloat, f32: x}, nil
	case float64:
		return scalar{kind: wireDouble, f64: x}, nil
	case bool:
		return scalar{kind: wireBool, b: x}, nil
	case string:
		return scalar{kind: wireString, s: x}, nil
	case []byte:
		return scalar{kind: wireBytes, raw: x}, nil
	}

	return scalar{}, fmt.Errorf("%s: %w", dt, ErrUnsupportedType)
}

// decodeScalar converts a wire slot to the Go type of dt. The slot has to be
// the one dt is carried in and the value has to fit the type.
func decodeScalar(dt metric.DataType, s scalar) (interface{}, error) {
	if s.kind == wireNone {
		return nil, ErrMissingValue
	}

	want := wireKindFor(dt)
	if want == wireNone {
		return nil, fmt.Errorf("%s: %w", dt, ErrUnsupportedType)
	}

	if s.kind != want {
		return nil, fmt.Errorf("%s carried as %s: %w", dt, s.kind, metric.ErrTypeMismatch)
	}

	switch dt {
	case metric.Int8:
		v, ok := signedInt(s.u32, math.MinInt8, math.MaxInt8, math.MaxUint8)
		if !ok {
			return nil, outOfRange(dt, s.u32)
		}
		return int8(v), nil
	case metric.Int16:
		v, ok := signedInt(s.u32, math.MinInt16, math.MaxInt16, math.MaxUint16)
		if !ok {
			return nil, outOfRange(dt, s.u32)
		}
		return int16(v), nil
	case metric.Int32:
		return int32(s.u32), nil
	case metric.UInt8:
		if s.u32 > math.MaxUint8 {
			return nil, outOfRange(dt, s.u32)
		}
		return uint8(s.u32), nil
	case metric.UInt16:
		if s.u32 > math.MaxUint16 {
			return nil, outOfRange(dt, s.u32)
		}
		return uint16(s.u32), nil
	case metric.UInt32:
		return s.u32, nil
	case metric.Int64:
		return int64(s.u64), nil
	case metric.UInt64:
		return s.u64, nil
	case metric.DateTime:
		return fromMillis(s.u64), nil
	case metric.Float:
		return s.f32, nil
	case metric.Double:
		return s.f64, nil
	case metric.Boolean:
		return s.b, nil
	case metric.String, metric.Text, metric.UUID:
		return s.s, nil
	default:
		return s.raw, nil
	}
}

// signedInt reads a narrow signed integer from the 32 bit int slot. Writers
// either sign extend to 32 bits or store the unsigned bit pattern of the
// narrow type; both are accepted.
func signedInt(u uint32, min, max int32, umax uint32) (int32, bool) {
	if v := int32(u); v >= min && v <= max {
		return v, true
	}

	if u <= umax {
		// two's complement of the narrow type
		return int32(u) - int32(umax) - 1, true
	}

	return 0, false
}

func outOfRange(dt metric.DataType, v uint32) error {
	return fmt.Errorf("%s got %d: %w", dt, v, ErrOutOfRange)
}
