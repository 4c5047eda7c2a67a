package valueindex

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/evtdb/eventindex/bits"
	"github.com/evtdb/eventindex/schema"
)

var defaultByteOrder = binary.LittleEndian

func unsupportedValue(t schema.Type, v any) error {
	return fmt.Errorf("value index: value %v (%T) is not assignable to column of type %v", v, v, t.Kind)
}

// coerce converts an ingested cell value (any concrete Go type a caller
// might reasonably hand in) to the index's storage type T.
func coerce[T any](value any) (T, bool) {
	var zero T
	switch any(zero).(type) {
	case int64:
		v, ok := coerceInt64(value)
		return any(v).(T), ok
	case uint64:
		v, ok := coerceUint64(value)
		return any(v).(T), ok
	case float64:
		v, ok := coerceFloat64(value)
		return any(v).(T), ok
	case string:
		v, ok := value.(string)
		return any(v).(T), ok
	default:
		return zero, false
	}
}

func coerceSlice[T any](value any) ([]T, bool) {
	switch v := value.(type) {
	case []T:
		return v, true
	case []any:
		out := make([]T, 0, len(v))
		for _, el := range v {
			c, ok := coerce[T](el)
			if !ok {
				return nil, false
			}
			out = append(out, c)
		}
		return out, true
	default:
		return nil, false
	}
}

func coerceInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case time.Duration:
		return int64(v), true
	case time.Time:
		return v.UnixNano(), true
	default:
		return 0, false
	}
}

func coerceUint64(value any) (uint64, bool) {
	switch v := value.(type) {
	case uint64:
		return v, true
	case uint:
		return uint64(v), true
	case uint32:
		return uint64(v), true
	case uint16:
		return uint64(v), true
	case int:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	default:
		return 0, false
	}
}

func coerceFloat64(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	default:
		return 0, false
	}
}

func encodeInt64(w *bits.BitWriter, v int64)   { w.PutInt64(v) }
func decodeInt64(r *bits.BitsReader) (int64, error) { return r.ReadI64() }

func encodeUint64(w *bits.BitWriter, v uint64)   { w.PutUint64(v) }
func decodeUint64(r *bits.BitsReader) (uint64, error) { return r.ReadU64() }

func encodeFloat64(w *bits.BitWriter, v float64)   { w.PutFloat64(v) }
func decodeFloat64(r *bits.BitsReader) (float64, error) { return r.ReadF64() }

func encodeString(w *bits.BitWriter, v string)   { w.PutString(v) }
func decodeString(r *bits.BitsReader) (string, error) { return r.ReadString() }
