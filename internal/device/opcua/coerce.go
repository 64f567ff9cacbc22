package opcua

import (
	"fmt"
	"math"
	"strconv"
)

// Coerce converts value to the Go type of current, the node's present
// value, so that a JSON number can be written to an Int16 or Boolean tag.
// Values of unsupported current types are returned unchanged.
func Coerce(value, current any) (any, error) {
	switch current.(type) {
	case bool:
		return toBool(value)
	case string:
		return toString(value), nil
	case float32:
		f, err := toFloat(value)
		if err != nil {
			return nil, err
		}
		if math.Abs(f) > math.MaxFloat32 {
			return nil, fmt.Errorf("%v overflows float32", value)
		}
		return float32(f), nil
	case float64:
		return toFloat(value)
	case int8:
		return toInt(value, math.MinInt8, math.MaxInt8, func(i int64) any { return int8(i) })
	case int16:
		return toInt(value, math.MinInt16, math.MaxInt16, func(i int64) any { return int16(i) })
	case int32:
		return toInt(value, math.MinInt32, math.MaxInt32, func(i int64) any { return int32(i) })
	case int64:
		return toInt(value, math.MinInt64, math.MaxInt64, func(i int64) any { return i })
	case uint8:
		return toInt(value, 0, math.MaxUint8, func(i int64) any { return uint8(i) })
	case uint16:
		return toInt(value, 0, math.MaxUint16, func(i int64) any { return uint16(i) })
	case uint32:
		return toInt(value, 0, math.MaxUint32, func(i int64) any { return uint32(i) })
	case uint64:
		return toInt(value, 0, math.MaxInt64, func(i int64) any { return uint64(i) })
	default:
		return value, nil
	}
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to a number", value)
	}
}

func toInt(value any, lo, hi float64, conv func(int64) any) (any, error) {
	f, err := toFloat(value)
	if err != nil {
		return nil, err
	}
	if f != math.Trunc(f) {
		return nil, fmt.Errorf("%v is not an integer", value)
	}
	if f < lo || f > hi {
		return nil, fmt.Errorf("%v out of range [%v, %v]", value, lo, hi)
	}
	return conv(int64(f)), nil
}

func toBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("%q is not a boolean", v)
		}
		return b, nil
	default:
		f, err := toFloat(value)
		if err != nil {
			return false, err
		}
		return f != 0, nil
	}
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
