package metric

import (
	"encoding/base64"
	"fmt"
	"math"
	"time"
)

// Coerce converts a loosely typed value, as produced by JSON, YAML or
// msgpack decoders, into the Go type of dt. Integers must fit the target
// type exactly, floats are only accepted for integer types when they have
// no fractional part. Strings are accepted for DateTime (RFC 3339) and for
// Bytes and File (base64).
//
// Coerce is for values entering from configuration and storage. Values read
// off the wire are never coerced.
func Coerce(dt DataType, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	if err := CheckValue(dt, v); err == nil {
		return v, nil
	}

	mismatch := fmt.Errorf("%s got %T(%v): %w", dt, v, v, ErrTypeMismatch)

	switch dt {
	case Int8, Int16, Int32, Int64:
		i, ok := asInt64(v)
		if !ok || !fitsSigned(dt, i) {
			return nil, mismatch
		}
		return castSigned(dt, i), nil

	case UInt8, UInt16, UInt32, UInt64:
		u, ok := asUint64(v)
		if !ok || !fitsUnsigned(dt, u) {
			return nil, mismatch
		}
		return castUnsigned(dt, u), nil

	case Float:
		f, ok := asFloat64(v)
		if !ok || math.Abs(f) > math.MaxFloat32 {
			return nil, mismatch
		}
		return float32(f), nil

	case Double:
		f, ok := asFloat64(v)
		if !ok {
			return nil, mismatch
		}
		return f, nil

	case DateTime:
		switch x := v.(type) {
		case string:
			t, err := time.Parse(time.RFC3339Nano, x)
			if err != nil {
				return nil, mismatch
			}
			return t.UTC(), nil
		default:
			ms, ok := asInt64(v)
			if !ok {
				return nil, mismatch
			}
			return time.UnixMilli(ms).UTC(), nil
		}

	case Bytes, File:
		s, ok := v.(string)
		if !ok {
			return nil, mismatch
		}

		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, mismatch
		}
		return b, nil
	}

	return nil, mismatch
}

func asInt64(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return int64(x), uint64(x) <= math.MaxInt64
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return int64(x), x <= math.MaxInt64
	case float32:
		return floatToInt(float64(x))
	case float64:
		return floatToInt(x)
	}

	return 0, false
}

func asUint64(v interface{}) (uint64, bool) {
	switch x := v.(type) {
	case uint:
		return uint64(x), true
	case uint8:
		return uint64(x), true
	case uint16:
		return uint64(x), true
	case uint32:
		return uint64(x), true
	case uint64:
		return x, true
	case float32, float64:
		f, _ := asFloat64(x)
		if f < 0 || f != math.Trunc(f) || f >= math.MaxUint64 {
			return 0, false
		}
		return uint64(f), true
	}

	i, ok := asInt64(v)
	if !ok || i < 0 {
		return 0, false
	}

	return uint64(i), true
}

func asFloat64(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}

	if i, ok := asInt64(v); ok {
		return float64(i), true
	}

	if u, ok := asUint64(v); ok {
		return float64(u), true
	}

	return 0, false
}

func floatToInt(f float64) (int64, bool) {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}

	return int64(f), true
}

func fitsSigned(dt DataType, i int64) bool {
	switch dt {
	case Int8:
		return i >= math.MinInt8 && i <= math.MaxInt8
	case Int16:
		return i >= math.MinInt16 && i <= math.MaxInt16
	case Int32:
		return i >= math.MinInt32 && i <= math.MaxInt32
	default:
		return true
	}
}

func castSigned(dt DataType, i int64) interface{} {
	switch dt {
	case Int8:
		return int8(i)
	case Int16:
		return int16(i)
	case Int32:
		return int32(i)
	default:
		return i
	}
}

func fitsUnsigned(dt DataType, u uint64) bool {
	switch dt {
	case UInt8:
		return u <= math.MaxUint8
	case UInt16:
		return u <= math.MaxUint16
	case UInt32:
		return u <= math.MaxUint32
	default:
		return true
	}
}

func castUnsigned(dt DataType, u uint64) interface{} {
	switch dt {
	case UInt8:
		return uint8(u)
	case UInt16:
		return uint16(u)
	case UInt32:
		return uint32(u)
	default:
		return u
	}
}
