package checkpoint

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"

	"github.com/bytedance/sonic"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindSequence
	KindMapping
	KindOpaque
)

// Markers rendered in place of values that cannot be captured as data.
const (
	CircularMarker       = "[circular reference]"
	FunctionMarker       = "[function]"
	NativeFunctionMarker = "[native function]"
	UnserializableMarker = "[unserializable]"
)

// Value is an immutable JSON-like datum captured from caller data.
// The zero Value is Null. Constructors copy their inputs, so a Value
// never aliases memory the caller can still mutate.
type Value struct {
	kind Kind
	b    bool
	s    string // string contents, number text, or opaque marker
	seq  []Value
	m    map[string]Value
}

// Null returns the null Value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Int wraps a signed integer.
func Int(i int64) Value { return Value{kind: KindNumber, s: strconv.FormatInt(i, 10)} }

// Uint wraps an unsigned integer.
func Uint(u uint64) Value { return Value{kind: KindNumber, s: strconv.FormatUint(u, 10)} }

// Float wraps a float64. NaN and the infinities have no JSON number
// form and become the Strings "NaN", "+Inf" and "-Inf".
func Float(f float64) Value { return floatValue(f, 64) }

func floatValue(f float64, bitSize int) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return String(strconv.FormatFloat(f, 'g', -1, 64))
	}
	return Value{kind: KindNumber, s: strconv.FormatFloat(f, 'f', -1, bitSize)}
}

// Number builds a numeric Value from its decimal text. Text that does
// not parse as a finite number yields a String instead.
func Number(text string) Value {
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return String(text)
	}
	return Value{kind: KindNumber, s: text}
}

// Seq builds a Sequence from the given items.
func Seq(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindSequence, seq: cp}
}

// Map builds a Mapping. A nil map yields an empty Mapping.
func Map(m map[string]Value) Value {
	cp := make(map[string]Value, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{kind: KindMapping, m: cp}
}

// Opaque builds a marker Value for data that is not captured.
func Opaque(marker string) Value { return Value{kind: KindOpaque, s: marker} }

// Kind reports which variant v holds.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is Null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Bool returns the boolean, or false when v is not a Bool.
func (v Value) Bool() bool { return v.b }

// Text returns the string contents, the number rendering, or the opaque
// marker. It is empty for other kinds.
func (v Value) Text() string { return v.s }

// Float returns the numeric value, or 0 when v is not a Number.
func (v Value) Float() float64 {
	if v.kind != KindNumber {
		return 0
	}
	f, _ := strconv.ParseFloat(v.s, 64)
	return f
}

// Len returns the number of items in a Sequence or entries in a Mapping.
func (v Value) Len() int {
	switch v.kind {
	case KindSequence:
		return len(v.seq)
	case KindMapping:
		return len(v.m)
	}
	return 0
}

// Index returns the i-th item of a Sequence.
func (v Value) Index(i int) Value {
	if v.kind != KindSequence || i < 0 || i >= len(v.seq) {
		return Value{}
	}
	return v.seq[i]
}

// Get looks up key in a Mapping.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMapping {
		return Value{}, false
	}
	item, ok := v.m[key]
	return item, ok
}

// Keys returns the keys of a Mapping in sorted order.
func (v Value) Keys() []string {
	if v.kind != KindMapping {
		return nil
	}
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Interface converts v into plain Go data: nil, bool, json.Number,
// string, []any or map[string]any. Opaque values become their marker.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return json.Number(v.s)
	case KindString, KindOpaque:
		return v.s
	case KindSequence:
		out := make([]any, len(v.seq))
		for i, item := range v.seq {
			out[i] = item.Interface()
		}
		return out
	case KindMapping:
		out := make(map[string]any, len(v.m))
		for k, item := range v.m {
			out[k] = item.Interface()
		}
		return out
	}
	return nil
}

// Equal reports whether v and other hold the same data.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindSequence:
		if len(v.seq) != len(other.seq) {
			return false
		}
		for i := range v.seq {
			if !v.seq[i].Equal(other.seq[i]) {
				return false
			}
		}
		return true
	case KindMapping:
		if len(v.m) != len(other.m) {
			return false
		}
		for k, item := range v.m {
			o, ok := other.m[k]
			if !ok || !item.Equal(o) {
				return false
			}
		}
		return true
	}
	return v.s == other.s
}

func (v Value) MarshalJSON() ([]byte, error) {
	return sonic.Marshal(v.Interface())
}

var numberDecoder = sonic.Config{UseNumber: true}.Froze()

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := numberDecoder.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

// mapping returns the entries of a Mapping without copying. Callers must
// not modify the result.
func (v Value) mapping() map[string]Value {
	if v.kind != KindMapping {
		return nil
	}
	return v.m
}
