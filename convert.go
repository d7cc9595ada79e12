package checkpoint

import (
	"encoding"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

// FromAny converts arbitrary caller data into a Value. This is the only
// place foreign object shapes are inspected; the rest of the package
// works on Values.
func FromAny(x any) Value {
	c := converter{visiting: make(map[visitKey]bool)}
	return c.convert(reflect.ValueOf(x))
}

type visitKey struct {
	ptr uintptr
	typ reflect.Type
}

type converter struct {
	visiting map[visitKey]bool
}

var (
	valueType     = reflect.TypeOf(Value{})
	marshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textType      = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	stringerType  = reflect.TypeOf((*fmt.Stringer)(nil)).Elem()
	errorType     = reflect.TypeOf((*error)(nil)).Elem()
	numberType    = reflect.TypeOf(json.Number(""))
)

func (c *converter) convert(rv reflect.Value) (out Value) {
	if !rv.IsValid() {
		return Null()
	}
	defer func() {
		if r := recover(); r != nil {
			out = Opaque(UnserializableMarker)
		}
	}()

	if rv.Type() == valueType {
		return rv.Interface().(Value)
	}
	if rv.Type() == numberType {
		return Number(rv.String())
	}

	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null()
		}
	case reflect.Func:
		if rv.IsNil() {
			return Null()
		}
		return funcMarker(rv)
	}

	if rv.Kind() == reflect.Pointer {
		key := visitKey{ptr: rv.Pointer(), typ: rv.Type()}
		if c.visiting[key] {
			return Opaque(CircularMarker)
		}
		c.visiting[key] = true
		defer delete(c.visiting, key)
	}

	if hooked, ok := c.serializationHook(rv); ok {
		return hooked
	}

	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		return c.convert(rv.Elem())
	case reflect.Bool:
		return Bool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return Uint(rv.Uint())
	case reflect.Float32:
		return floatValue(rv.Float(), 32)
	case reflect.Float64:
		return Float(rv.Float())
	case reflect.String:
		return String(rv.String())
	case reflect.Slice:
		if rv.IsNil() {
			return Null()
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return String(base64.StdEncoding.EncodeToString(rv.Bytes()))
		}
		if rv.Len() > 0 {
			key := visitKey{ptr: rv.Pointer(), typ: rv.Type()}
			if c.visiting[key] {
				return Opaque(CircularMarker)
			}
			c.visiting[key] = true
			defer delete(c.visiting, key)
		}
		return c.sequence(rv)
	case reflect.Array:
		return c.sequence(rv)
	case reflect.Map:
		if rv.IsNil() {
			return Null()
		}
		key := visitKey{ptr: rv.Pointer(), typ: rv.Type()}
		if c.visiting[key] {
			return Opaque(CircularMarker)
		}
		c.visiting[key] = true
		defer delete(c.visiting, key)
		return c.mapping(rv)
	case reflect.Struct:
		return c.structFields(rv)
	case reflect.Chan, reflect.UnsafePointer:
		return Opaque(NativeFunctionMarker)
	}
	return String(fmt.Sprint(rv.Interface()))
}

// serializationHook applies json.Marshaler, then encoding.TextMarshaler.
// Errors render as their message. fmt.Stringer is only used for types
// that are not otherwise data.
func (c *converter) serializationHook(rv reflect.Value) (Value, bool) {
	if !rv.CanInterface() {
		return Value{}, false
	}
	t := rv.Type()
	switch {
	case t.Implements(marshalerType):
		data, err := rv.Interface().(json.Marshaler).MarshalJSON()
		if err != nil {
			return Opaque(UnserializableMarker), true
		}
		var raw any
		if err := numberDecoder.Unmarshal(data, &raw); err != nil {
			return Opaque(UnserializableMarker), true
		}
		return c.convert(reflect.ValueOf(raw)), true
	case t.Implements(textType):
		text, err := rv.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return Opaque(UnserializableMarker), true
		}
		return String(string(text)), true
	case t.Implements(errorType):
		return String(rv.Interface().(error).Error()), true
	case t.Implements(stringerType) && rv.Kind() == reflect.Struct && !hasExportedFields(t):
		return String(rv.Interface().(fmt.Stringer).String()), true
	}
	return Value{}, false
}

func (c *converter) sequence(rv reflect.Value) Value {
	items := make([]Value, rv.Len())
	for i := range items {
		items[i] = c.convert(rv.Index(i))
	}
	return Value{kind: KindSequence, seq: items}
}

func (c *converter) mapping(rv reflect.Value) Value {
	entries := make(map[string]Value, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		entries[mapKey(iter.Key())] = c.convert(iter.Value())
	}
	return Value{kind: KindMapping, m: entries}
}

func mapKey(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	if k.CanInterface() {
		if tm, ok := k.Interface().(encoding.TextMarshaler); ok {
			if text, err := tm.MarshalText(); err == nil {
				return string(text)
			}
		}
		return fmt.Sprint(k.Interface())
	}
	return k.String()
}

func (c *converter) structFields(rv reflect.Value) Value {
	t := rv.Type()
	entries := make(map[string]Value, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name := field.Name
		if tag, ok := field.Tag.Lookup("json"); ok {
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}
		entries[name] = c.convert(rv.Field(i))
	}
	return Value{kind: KindMapping, m: entries}
}

func hasExportedFields(t reflect.Type) bool {
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).IsExported() {
			return true
		}
	}
	return false
}

// funcMarker distinguishes standard library (or unresolvable) functions
// from functions defined in ordinary packages. Standard library import
// paths have no dot in their first element.
func funcMarker(rv reflect.Value) Value {
	fn := runtime.FuncForPC(rv.Pointer())
	if fn == nil {
		return Opaque(NativeFunctionMarker)
	}
	name := fn.Name()
	var first string
	if i := strings.Index(name, "/"); i >= 0 {
		first = name[:i]
	} else {
		first, _, _ = strings.Cut(name, ".")
	}
	if first == "main" || strings.Contains(first, ".") {
		return Opaque(FunctionMarker)
	}
	return Opaque(NativeFunctionMarker)
}
