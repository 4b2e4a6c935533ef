package tlv

import (
	"encoding/hex"
	"fmt"
	"reflect"

	"github.com/moov-io/bertlv"
)

// Marshal converts the tagged fields of v into packets, in field order. Empty values are
// skipped.
func Marshal(v any) ([]bertlv.TLV, error) {
	sv, ok := structValue(v)
	if !ok {
		return nil, fmt.Errorf("marshal: %T is not a struct", v)
	}
	t := sv.Type()

	var out []bertlv.TLV
	var unknown []bertlv.TLV

	for i := 0; i < t.NumField(); i++ {
		spec, ok := specOf(t.Field(i))
		if !ok {
			continue
		}
		field := sv.Field(i)

		if spec.unknown {
			if rest, ok := field.Interface().([]bertlv.TLV); ok {
				unknown = rest
			}
			continue
		}

		if field.Kind() == reflect.Slice && !isByteSlice(field.Type()) {
			for j := 0; j < field.Len(); j++ {
				p, keep, err := encodeValue(spec.tag, field.Index(j))
				if err != nil {
					return nil, err
				}
				if keep {
					out = append(out, p)
				}
			}
			continue
		}

		p, keep, err := encodeValue(spec.tag, field)
		if err != nil {
			return nil, err
		}
		if keep {
			out = append(out, p)
		}
	}

	return append(out, unknown...), nil
}

// MarshalTemplate encodes v as the children of the constructed tag.
func MarshalTemplate(tag string, v any) ([]byte, error) {
	children, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	return bertlv.Encode([]bertlv.TLV{{Tag: tag, TLVs: children}})
}

func encodeValue(tag string, field reflect.Value) (bertlv.TLV, bool, error) {
	if m, ok := field.Interface().(Marshaler); ok {
		if field.Kind() == reflect.Ptr && field.IsNil() {
			return bertlv.TLV{}, false, nil
		}
		b, err := m.MarshalTLV()
		if err != nil {
			return bertlv.TLV{}, false, fmt.Errorf("tag %s: %w", tag, err)
		}
		return bertlv.TLV{Tag: tag, Value: b}, len(b) > 0, nil
	}

	switch {
	case isByteSlice(field.Type()):
		b := field.Bytes()
		return bertlv.TLV{Tag: tag, Value: b}, len(b) > 0, nil
	case field.Kind() == reflect.String:
		b, err := hex.DecodeString(field.String())
		if err != nil {
			return bertlv.TLV{}, false, fmt.Errorf("tag %s: %w", tag, err)
		}
		return bertlv.TLV{Tag: tag, Value: b}, len(b) > 0, nil
	case isStruct(field.Type()):
		if field.Kind() == reflect.Ptr && field.IsNil() {
			return bertlv.TLV{}, false, nil
		}
		children, err := Marshal(field.Interface())
		if err != nil {
			return bertlv.TLV{}, false, err
		}
		return bertlv.TLV{Tag: tag, TLVs: children}, len(children) > 0, nil
	}
	return bertlv.TLV{}, false, fmt.Errorf("tag %s: unsupported field type %s", tag, field.Type())
}
