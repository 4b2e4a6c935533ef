package tlv

import (
	"encoding/hex"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/moov-io/bertlv"
)

// ErrTagNotFound is returned when a required tag is absent.
var ErrTagNotFound = errors.New("tag not found")

// Unmarshal decodes raw BER-TLV data into the struct pointed to by target.
func Unmarshal(data []byte, target any) error {
	packets, err := bertlv.Decode(data)
	if err != nil {
		return fmt.Errorf("bertlv decode failed: %w", err)
	}
	return UnmarshalFromPackets(packets, target)
}

// UnmarshalTemplate decodes data that must be a single constructed tag and maps its children.
func UnmarshalTemplate(data []byte, tag string, target any) error {
	packets, err := bertlv.Decode(data)
	if err != nil {
		return fmt.Errorf("bertlv decode failed: %w", err)
	}
	if len(packets) == 0 || !strings.EqualFold(packets[0].Tag, tag) {
		return fmt.Errorf("template %s: %w", strings.ToUpper(tag), ErrTagNotFound)
	}
	return UnmarshalFromPackets(packets[0].TLVs, target)
}

// UnmarshalFromPackets maps already decoded packets into target. Repeated tags fill slice fields.
func UnmarshalFromPackets(packets []bertlv.TLV, target any) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("target must be a non-nil pointer")
	}
	v, ok := structValue(target)
	if !ok {
		return fmt.Errorf("target must point to a struct, got %s", rv.Elem().Kind())
	}
	t := v.Type()

	claimed := make([]bool, len(packets))
	unknown := -1

	for i := 0; i < t.NumField(); i++ {
		spec, ok := specOf(t.Field(i))
		if !ok {
			continue
		}
		if spec.unknown {
			unknown = i
			continue
		}

		for idx, p := range packets {
			if !strings.EqualFold(p.Tag, spec.tag) {
				continue
			}
			if err := assign(p, v.Field(i)); err != nil {
				return fmt.Errorf("tag %s: %w", spec.tag, err)
			}
			claimed[idx] = true
		}
	}

	if unknown < 0 || !v.Field(unknown).CanSet() {
		return nil
	}
	var rest []bertlv.TLV
	for idx, p := range packets {
		if !claimed[idx] {
			rest = append(rest, p)
		}
	}
	if len(rest) > 0 {
		v.Field(unknown).Set(reflect.ValueOf(rest))
	}
	return nil
}

// assign stores one packet in field, appending when field is a slice of non-byte elements.
func assign(p bertlv.TLV, field reflect.Value) error {
	if field.Kind() == reflect.Slice && !isByteSlice(field.Type()) {
		elem := reflect.New(field.Type().Elem()).Elem()
		if err := decodeValue(p, elem); err != nil {
			return err
		}
		field.Set(reflect.Append(field, elem))
		return nil
	}
	return decodeValue(p, field)
}

func decodeValue(p bertlv.TLV, field reflect.Value) error {
	if field.CanAddr() {
		if u, ok := field.Addr().Interface().(Unmarshaler); ok {
			return u.UnmarshalTLV(rawValue(p))
		}
	}

	switch {
	case isByteSlice(field.Type()):
		field.SetBytes(rawValue(p))
	case field.Kind() == reflect.String:
		field.SetString(strings.ToUpper(hex.EncodeToString(p.Value)))
	case isStruct(field.Type()):
		target := field
		if field.Kind() == reflect.Ptr {
			if field.IsNil() {
				field.Set(reflect.New(field.Type().Elem()))
			}
		} else {
			target = field.Addr()
		}
		if len(p.TLVs) > 0 {
			return UnmarshalFromPackets(p.TLVs, target.Interface())
		}
		return Unmarshal(p.Value, target.Interface())
	}
	return nil
}

// rawValue is the value bytes of p, re-encoding children of constructed tags.
func rawValue(p bertlv.TLV) []byte {
	if len(p.TLVs) > 0 {
		if enc, err := bertlv.Encode(p.TLVs); err == nil {
			return enc
		}
	}
	return p.Value
}
