// Package canonical normalizes structured values into a deterministic form
// suitable for stable hashing. Semantically equal inputs that differ only in
// key order or null-vs-absent fields serialize to identical bytes.
package canonical

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// Kind discriminates the variants of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindTime
	KindArray
	KindObject
)

// Value is a serialization-neutral value tree: a closed sum of the shapes an
// event payload or founding payload may carry. Using a tagged variant instead
// of raw maps keeps canonicalization total (no fail path) and type-checked.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	t    time.Time
	arr  []Value
	obj  map[string]Value
}

func Null() Value               { return Value{kind: KindNull} }
func Bool(b bool) Value         { return Value{kind: KindBool, b: b} }
func Number(n float64) Value    { return Value{kind: KindNumber, n: n} }
func String(s string) Value     { return Value{kind: KindString, s: s} }
func Time(t time.Time) Value    { return Value{kind: KindTime, t: t} }
func Array(vs ...Value) Value   { return Value{kind: KindArray, arr: vs} }

// Object builds an object value. The map is used as-is; callers must not
// mutate it afterwards.
func Object(fields map[string]Value) Value {
	return Value{kind: KindObject, obj: fields}
}

func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is the null variant.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Field returns the named object field and whether it exists.
func (v Value) Field(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	f, ok := v.obj[key]
	return f, ok
}

// FromAny converts a decoded JSON value (map[string]any, []any, float64,
// string, bool, nil, time.Time) into a Value. Unsupported shapes fall back to
// their string representation rather than failing; canonicalization has no
// error path.
func FromAny(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(x)
	case float64:
		return Number(x)
	case int:
		return Number(float64(x))
	case int64:
		return Number(float64(x))
	case string:
		return String(x)
	case time.Time:
		return Time(x)
	case []any:
		arr := make([]Value, len(x))
		for i, e := range x {
			arr[i] = FromAny(e)
		}
		return Value{kind: KindArray, arr: arr}
	case map[string]any:
		obj := make(map[string]Value, len(x))
		for k, e := range x {
			obj[k] = FromAny(e)
		}
		return Object(obj)
	case Value:
		return x
	default:
		return String(stringify(x))
	}
}

func stringify(v any) string {
	return fmt.Sprintf("%v", v)
}

// Coordinate precision: latitude/longitude quantized to 6 decimal places,
// accuracy to integer meters. Keeps location hashes stable across floating
// point jitter and optional-field presence.
const coordPrecision = 1e6

func round6(f float64) float64 {
	return math.Round(f*coordPrecision) / coordPrecision
}

// Canonicalize applies the normalization rules recursively:
//
//   - objects: keys sorted at serialization, entries with null values dropped
//   - arrays: elements canonicalized in place, order preserved
//   - objects holding both "lat" and "lng" reduce to the fixed coordinate
//     form {lat, lng, accuracy?, timestamp?, permission_status?} with
//     quantized numbers; all other keys are discarded
//   - primitives pass through unchanged
//
// Canonicalizing a canonical value is a no-op. A top-level null stays null.
func Canonicalize(v Value) Value {
	switch v.kind {
	case KindArray:
		arr := make([]Value, len(v.arr))
		for i, e := range v.arr {
			arr[i] = Canonicalize(e)
		}
		return Value{kind: KindArray, arr: arr}
	case KindObject:
		if isCoordinate(v) {
			return canonicalCoordinate(v)
		}
		obj := make(map[string]Value, len(v.obj))
		for k, e := range v.obj {
			ce := Canonicalize(e)
			if ce.IsNull() {
				continue
			}
			obj[k] = ce
		}
		return Object(obj)
	default:
		return v
	}
}

func isCoordinate(v Value) bool {
	_, hasLat := v.obj["lat"]
	_, hasLng := v.obj["lng"]
	return hasLat && hasLng
}

func canonicalCoordinate(v Value) Value {
	out := make(map[string]Value, 5)
	if lat, ok := v.obj["lat"]; ok && lat.kind == KindNumber {
		out["lat"] = Number(round6(lat.n))
	}
	if lng, ok := v.obj["lng"]; ok && lng.kind == KindNumber {
		out["lng"] = Number(round6(lng.n))
	}
	if acc, ok := v.obj["accuracy"]; ok && acc.kind == KindNumber {
		out["accuracy"] = Number(math.Round(acc.n))
	}
	if ts, ok := v.obj["timestamp"]; ok && !ts.IsNull() {
		out["timestamp"] = Canonicalize(ts)
	}
	if ps, ok := v.obj["permission_status"]; ok && !ps.IsNull() {
		out["permission_status"] = Canonicalize(ps)
	}
	return Object(out)
}

// MarshalJSON serializes the value deterministically: object keys ascending
// by code point, floats in shortest round-trip form, times as RFC3339 UTC
// with nanoseconds. The output of a canonicalized value is the byte form
// that gets hashed.
func (v Value) MarshalJSON() ([]byte, error) {
	return v.appendJSON(nil), nil
}

// EncodeCanonical canonicalizes and serializes in one step.
func EncodeCanonical(v Value) []byte {
	return Canonicalize(v).appendJSON(nil)
}

func (v Value) appendJSON(b []byte) []byte {
	switch v.kind {
	case KindNull:
		return append(b, "null"...)
	case KindBool:
		return strconv.AppendBool(b, v.b)
	case KindNumber:
		return appendNumber(b, v.n)
	case KindString:
		return appendString(b, v.s)
	case KindTime:
		b = append(b, '"')
		b = v.t.UTC().AppendFormat(b, time.RFC3339Nano)
		return append(b, '"')
	case KindArray:
		b = append(b, '[')
		for i, e := range v.arr {
			if i > 0 {
				b = append(b, ',')
			}
			b = e.appendJSON(b)
		}
		return append(b, ']')
	case KindObject:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b = append(b, '{')
		for i, k := range keys {
			if i > 0 {
				b = append(b, ',')
			}
			b = appendString(b, k)
			b = append(b, ':')
			b = v.obj[k].appendJSON(b)
		}
		return append(b, '}')
	}
	return b
}

func appendNumber(b []byte, f float64) []byte {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.AppendInt(b, int64(f), 10)
	}
	return strconv.AppendFloat(b, f, 'f', -1, 64)
}

func appendString(b []byte, s string) []byte {
	b = append(b, '"')
	for _, r := range s {
		switch r {
		case '"':
			b = append(b, '\\', '"')
		case '\\':
			b = append(b, '\\', '\\')
		case '\n':
			b = append(b, '\\', 'n')
		case '\r':
			b = append(b, '\\', 'r')
		case '\t':
			b = append(b, '\\', 't')
		default:
			if r < 0x20 {
				b = append(b, '\\', 'u', '0', '0', hexDigits[r>>4], hexDigits[r&0xf])
			} else {
				b = append(b, string(r)...)
			}
		}
	}
	return append(b, '"')
}

const hexDigits = "0123456789abcdef"
