// Package value implements the typed value model used for payload fields.
//
// Every parameter, return value and transport ledger entry is a Value: a
// tagged union over the wire-level data types. Values are created from the
// raw data the codec decodes, and coerced between kinds with widening-only
// rules. Narrowing a value to an incompatible kind fails with *TypeError.
package value

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind identifies the data type of a Value.
//
// The names returned by String() are the type tags shared with the router
// and the SDKs in other languages, so they must not change.
type Kind int

const (
	KindUnknown Kind = iota
	KindNull
	KindBoolean
	KindInteger
	KindFloat
	KindString
	KindBinary
	KindArray
	KindObject
)

var kindNames = map[Kind]string{
	KindUnknown: "unknown",
	KindNull:    "null",
	KindBoolean: "boolean",
	KindInteger: "integer",
	KindFloat:   "float",
	KindString:  "string",
	KindBinary:  "binary",
	KindArray:   "array",
	KindObject:  "object",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// KindOf resolves a Kind from its wire-level type tag.
// Unrecognized tags resolve to KindUnknown.
func KindOf(name string) Kind {
	for kind, n := range kindNames {
		if n == name {
			return kind
		}
	}
	return KindUnknown
}

// TypeError reports an illegal coercion between two kinds.
type TypeError struct {
	From Kind
	To   Kind
}

func (e *TypeError) Error() string {
	return fmt.Sprintf(`type "%s" is not compatible with "%s"`, e.From, e.To)
}

// Value is a tagged union over the wire-level data types.
// The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	bin  []byte
	arr  []Value
	obj  map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

func Bool(b bool) Value     { return Value{kind: KindBoolean, b: b} }
func Int(i int64) Value     { return Value{kind: KindInteger, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }
func String(s string) Value { return Value{kind: KindString, s: s} }
func Binary(b []byte) Value { return Value{kind: KindBinary, bin: b} }
func Array(v []Value) Value { return Value{kind: KindArray, arr: v} }
func Object(m map[string]Value) Value {
	return Value{kind: KindObject, obj: m}
}

// Of infers a Value from a raw decoded wire representation.
//
// The codec hands back native Go types after deserializing the payload, with
// integer widths depending on how the number was packed. All widths collapse
// into the integer kind. Unrecognized types fall back to their canonical
// string form.
func Of(raw any) Value {
	switch v := raw.(type) {
	case nil:
		return Null()
	case Value:
		return v
	case bool:
		return Bool(v)
	case int:
		return Int(int64(v))
	case int8:
		return Int(int64(v))
	case int16:
		return Int(int64(v))
	case int32:
		return Int(int64(v))
	case int64:
		return Int(v)
	case uint:
		return Int(int64(v))
	case uint8:
		return Int(int64(v))
	case uint16:
		return Int(int64(v))
	case uint32:
		return Int(int64(v))
	case uint64:
		return Int(int64(v))
	case float32:
		return Float(float64(v))
	case float64:
		return Float(v)
	case string:
		return String(v)
	case []byte:
		return Binary(v)
	case []any:
		items := make([]Value, len(v))
		for i, item := range v {
			items[i] = Of(item)
		}
		return Array(items)
	case []Value:
		return Array(v)
	case map[string]any:
		obj := make(map[string]Value, len(v))
		for key, item := range v {
			obj[key] = Of(item)
		}
		return Object(obj)
	case map[any]any:
		// Some deserializers return untyped map keys
		obj := make(map[string]Value, len(v))
		for key, item := range v {
			obj[fmt.Sprint(key)] = Of(item)
		}
		return Object(obj)
	default:
		return String(fmt.Sprint(v))
	}
}

// Zero returns the zero value for a kind: empty string, 0, false and so on.
func Zero(kind Kind) Value {
	switch kind {
	case KindBoolean:
		return Bool(false)
	case KindInteger:
		return Int(0)
	case KindFloat:
		return Float(0)
	case KindString:
		return String("")
	case KindBinary:
		return Binary(nil)
	case KindArray:
		return Array(nil)
	case KindObject:
		return Object(nil)
	default:
		return Null()
	}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull || v.kind == KindUnknown }
func (v Value) Bool() bool   { return v.b }
func (v Value) Int() int64   { return v.i }

func (v Value) Float() float64 {
	if v.kind == KindInteger {
		return float64(v.i)
	}
	return v.f
}

func (v Value) Bytes() []byte            { return v.bin }
func (v Value) Array() []Value           { return v.arr }
func (v Value) Object() map[string]Value { return v.obj }

// String returns the canonical text form of the value.
func (v Value) String() string {
	switch v.kind {
	case KindBoolean:
		return strconv.FormatBool(v.b)
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindString:
		return v.s
	case KindBinary:
		return string(v.bin)
	case KindArray, KindObject:
		data, err := json.Marshal(v.Raw())
		if err != nil {
			return ""
		}
		return string(data)
	default:
		return ""
	}
}

// Raw converts the value back to its wire representation for serialization.
func (v Value) Raw() any {
	switch v.kind {
	case KindBoolean:
		return v.b
	case KindInteger:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindBinary:
		return v.bin
	case KindArray:
		items := make([]any, len(v.arr))
		for i, item := range v.arr {
			items[i] = item.Raw()
		}
		return items
	case KindObject:
		obj := make(map[string]any, len(v.obj))
		for key, item := range v.obj {
			obj[key] = item.Raw()
		}
		return obj
	default:
		return nil
	}
}

// Equal reports whether two values are equal under the codec's coercion
// rules: integers and floats compare by numeric value, everything else by
// kind and content.
func (v Value) Equal(other Value) bool {
	if v.isNumeric() && other.isNumeric() {
		return v.Float() == other.Float()
	}
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindBoolean:
		return v.b == other.b
	case KindString:
		return v.s == other.s
	case KindBinary:
		return string(v.bin) == string(other.bin)
	case KindArray:
		if len(v.arr) != len(other.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(other.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj) != len(other.obj) {
			return false
		}
		for key, item := range v.obj {
			o, ok := other.obj[key]
			if !ok || !item.Equal(o) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func (v Value) isNumeric() bool {
	return v.kind == KindInteger || v.kind == KindFloat
}

// Coerce converts a value to the target kind.
//
// Allowed conversions are widening only: integer→float, anything→string via
// canonical formatting, and null→zero value of the target kind. Numeric text
// converts to integer or float, and "true"/"false" to boolean. Everything
// else fails with *TypeError.
func Coerce(v Value, kind Kind) (Value, error) {
	if kind == KindUnknown || v.kind == kind {
		return v, nil
	}
	if v.IsNull() {
		return Zero(kind), nil
	}

	switch kind {
	case KindString:
		return String(v.String()), nil
	case KindFloat:
		switch v.kind {
		case KindInteger:
			return Float(float64(v.i)), nil
		case KindString:
			if f, err := strconv.ParseFloat(v.s, 64); err == nil {
				return Float(f), nil
			}
		}
	case KindInteger:
		if v.kind == KindString {
			if i, err := strconv.ParseInt(v.s, 10, 64); err == nil {
				return Int(i), nil
			}
		}
	case KindBoolean:
		if v.kind == KindString {
			if b, err := strconv.ParseBool(v.s); err == nil {
				return Bool(b), nil
			}
		}
	case KindBinary:
		if v.kind == KindString {
			return Binary([]byte(v.s)), nil
		}
	}

	return Value{}, &TypeError{From: v.kind, To: kind}
}
