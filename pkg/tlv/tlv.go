// Package tlv maps BER-TLV data to and from Go structs.
//
// Fields opt in with a `tlv:"<tag>"` struct tag. Supported field types are []byte (raw value),
// string (hex text of the value), nested structs for constructed tags, slices of those for
// repeated tags, and types implementing Marshaler or Unmarshaler. A field tagged `tlv:",unknown"`
// of type []bertlv.TLV collects the tags no other field claimed, and is written back as-is.
package tlv

import (
	"reflect"
	"strings"
)

// Unmarshaler lets a type decode its own value.
type Unmarshaler interface {
	UnmarshalTLV(data []byte) error
}

// Marshaler lets a type encode its own value.
type Marshaler interface {
	MarshalTLV() ([]byte, error)
}

type fieldSpec struct {
	tag     string
	unknown bool
}

// specOf reads the tlv struct tag of f. ok is false for untagged fields.
func specOf(f reflect.StructField) (spec fieldSpec, ok bool) {
	raw, found := f.Tag.Lookup("tlv")
	if !found {
		if f.Name == "Unknown" {
			return fieldSpec{unknown: true}, true
		}
		return fieldSpec{}, false
	}

	name, opts, _ := strings.Cut(raw, ",")
	if opts == "unknown" {
		return fieldSpec{unknown: true}, true
	}
	if name == "" {
		return fieldSpec{}, false
	}
	return fieldSpec{tag: strings.ToUpper(name)}, true
}

func structValue(target any) (reflect.Value, bool) {
	v := reflect.ValueOf(target)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}
	return v, v.Kind() == reflect.Struct
}

func isByteSlice(t reflect.Type) bool {
	return t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8
}

func isStruct(t reflect.Type) bool {
	return t.Kind() == reflect.Struct || t.Kind() == reflect.Ptr && t.Elem().Kind() == reflect.Struct
}
