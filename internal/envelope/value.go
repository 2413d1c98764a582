package envelope

import (
	"encoding/json"
	"fmt"
	"slices"
	"unicode/utf16"
)

// AttrValue is a sealed interface for signal attribute values.
// Only AttrString, AttrInt, AttrBool, AttrArray, and AttrObject implement it.
// There is deliberately no float variant: floats break byte-identical
// replay and are rejected at the ingestion boundary.
type AttrValue interface {
	attrValue()
}

// AttrString is a string attribute.
type AttrString string

func (AttrString) attrValue() {}

// AttrInt is an integer attribute. Always int64.
type AttrInt int64

func (AttrInt) attrValue() {}

// AttrBool is a boolean attribute.
type AttrBool bool

func (AttrBool) attrValue() {}

// AttrArray is an ordered list of attribute values.
type AttrArray []AttrValue

func (AttrArray) attrValue() {}

// AttrObject is a string-keyed attribute bag.
// Use SortedKeys for deterministic iteration.
type AttrObject map[string]AttrValue

func (AttrObject) attrValue() {}

// SortedKeys returns keys in canonical order (UTF-16 code units, per
// RFC 8785). Go's sort.Strings compares UTF-8 bytes, which produces a
// different order for strings outside the ASCII range.
func (o AttrObject) SortedKeys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysUTF16)
	return keys
}

func compareKeysUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	default:
		return 0
	}
}

// UnmarshalJSON implements json.Unmarshaler for AttrObject.
func (o *AttrObject) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*o = make(AttrObject, len(raw))
	for k, v := range raw {
		val, err := unmarshalAttrValue(v)
		if err != nil {
			return fmt.Errorf("attr %q: %w", k, err)
		}
		(*o)[k] = val
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler for AttrArray.
func (a *AttrArray) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = make(AttrArray, len(raw))
	for i, v := range raw {
		val, err := unmarshalAttrValue(v)
		if err != nil {
			return fmt.Errorf("attr[%d]: %w", i, err)
		}
		(*a)[i] = val
	}
	return nil
}

// unmarshalAttrValue decodes a JSON value into the matching AttrValue.
// Floats and nulls are rejected: both are forbidden in the envelope.
func unmarshalAttrValue(data []byte) (AttrValue, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON value")
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return AttrString(s), nil

	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return AttrBool(b), nil

	case 'n':
		return nil, fmt.Errorf("null is forbidden in signal attributes")

	case '[':
		var arr AttrArray
		if err := json.Unmarshal(data, &arr); err != nil {
			return nil, err
		}
		return arr, nil

	case '{':
		var obj AttrObject
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, err
		}
		return obj, nil

	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, err
		}
		i, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("floats are forbidden in signal attributes: %s", string(data))
		}
		return AttrInt(i), nil
	}
}

// ToAttrValue converts a plain Go value (e.g. from a decoded YAML
// scenario) into an AttrValue. Floats and nils are rejected.
func ToAttrValue(v any) (AttrValue, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null is forbidden")
	case AttrValue:
		return val, nil
	case string:
		return AttrString(val), nil
	case int:
		return AttrInt(val), nil
	case int64:
		return AttrInt(val), nil
	case bool:
		return AttrBool(val), nil
	case float32, float64:
		return nil, fmt.Errorf("floats are forbidden: %v", val)
	case []any:
		arr := make(AttrArray, len(val))
		for i, elem := range val {
			av, err := ToAttrValue(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = av
		}
		return arr, nil
	case map[string]any:
		obj := make(AttrObject, len(val))
		for k, elem := range val {
			av, err := ToAttrValue(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			obj[k] = av
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported attribute type: %T", v)
	}
}
