package catalog

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
)

// ValueKind is the closed set of kinds an attribute value can have.
type ValueKind string

const (
	KindString ValueKind = "string"
	KindNumber ValueKind = "number"
	KindList   ValueKind = "list"
)

// AttributeValue is a tagged value, exactly one of its fields is meaningful
// depending on Kind.
type AttributeValue struct {
	Kind   ValueKind `json:"kind"`
	String string    `json:"string,omitempty"`
	Number float64   `json:"number,omitempty"`
	List   []string  `json:"list,omitempty"`
}

func String(s string) AttributeValue {
	return AttributeValue{Kind: KindString, String: s}
}

func Number(n float64) AttributeValue {
	return AttributeValue{Kind: KindNumber, Number: n}
}

func List(items ...string) AttributeValue {
	return AttributeValue{Kind: KindList, List: items}
}

func (v AttributeValue) Validate() error {
	switch v.Kind {
	case KindString:
		if v.Number != 0 || v.List != nil {
			return errorf("string value carries other fields")
		}
	case KindNumber:
		if math.IsNaN(v.Number) || math.IsInf(v.Number, 0) {
			return errorf("number value is not finite")
		}
		if v.String != "" || v.List != nil {
			return errorf("number value carries other fields")
		}
	case KindList:
		if v.String != "" || v.Number != 0 {
			return errorf("list value carries other fields")
		}
	default:
		return errorf("unknown value kind %q", v.Kind)
	}
	return nil
}

// Display renders the value for humans.
func (v AttributeValue) Display() string {
	switch v.Kind {
	case KindString:
		return v.String
	case KindNumber:
		return fmt.Sprintf("%g", v.Number)
	case KindList:
		return fmt.Sprintf("%v", v.List)
	}
	return ""
}

// Attributes maps a field name (title, price, images, variants...) to its value.
type Attributes map[string]AttributeValue

func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		v.List = slices.Clone(v.List)
		out[k] = v
	}
	return out
}

func (a Attributes) Validate() error {
	for name, value := range a {
		if name == "" {
			return errorf("attribute with an empty name")
		}
		if err := value.Validate(); err != nil {
			return fmt.Errorf("attribute %q: %w", name, err)
		}
	}
	return nil
}

// DecodeAttributes parses and validates attributes serialized with json.Marshal.
func DecodeAttributes(raw []byte) (Attributes, error) {
	var out Attributes
	err := json.Unmarshal(raw, &out)
	if err != nil {
		return nil, err
	}
	err = out.Validate()
	if err != nil {
		return nil, err
	}
	return out, nil
}

type validationError struct {
	msg string
}

func (e validationError) Error() string {
	return e.msg
}

func errorf(format string, args ...any) error {
	return validationError{msg: fmt.Sprintf(format, args...)}
}
