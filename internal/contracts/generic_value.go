package contracts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strings"
)

type ValueType string

const (
	ValueBool      ValueType = "bool"
	ValueText      ValueType = "text"
	ValueBlob      ValueType = "blob"
	ValuePrincipal ValueType = "principal"
	ValueNat8      ValueType = "nat8"
	ValueNat16     ValueType = "nat16"
	ValueNat32     ValueType = "nat32"
	ValueNat64     ValueType = "nat64"
	ValueNat       ValueType = "nat"
	ValueInt8      ValueType = "int8"
	ValueInt16     ValueType = "int16"
	ValueInt32     ValueType = "int32"
	ValueInt64     ValueType = "int64"
	ValueInt       ValueType = "int"
	ValueFloat     ValueType = "float"
	ValueNested    ValueType = "nested"
)

// GenericValue is a typed property value. Value holds the JSON encoding of the payload;
// nat and int accept arbitrary precision as a decimal string or number.
type GenericValue struct {
	Type  ValueType       `json:"type"`
	Value json.RawMessage `json:"value"`
}

// Property is a named contract attribute
type Property struct {
	Key   string       `json:"key"`
	Value GenericValue `json:"value"`
}

func TextValue(s string) GenericValue {
	return mustValue(ValueText, s)
}

func BoolValue(b bool) GenericValue {
	return mustValue(ValueBool, b)
}

func Nat64Value(n uint64) GenericValue {
	return mustValue(ValueNat64, n)
}

func FloatValue(f float64) GenericValue {
	return mustValue(ValueFloat, f)
}

func NestedValue(props ...Property) GenericValue {
	return mustValue(ValueNested, props)
}

func mustValue(t ValueType, v interface{}) GenericValue {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return GenericValue{Type: t, Value: raw}
}

// Text returns the payload of a text or principal value
func (v GenericValue) Text() (string, bool) {
	if v.Type != ValueText && v.Type != ValuePrincipal {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v.Value, &s); err != nil {
		return "", false
	}
	return s, true
}

// Validate checks the payload decodes as its declared type and fits its range
func (v GenericValue) Validate() error {
	if len(v.Value) == 0 {
		return fmt.Errorf("%w: missing value", ErrInvalidProperty)
	}
	switch v.Type {
	case ValueBool:
		var b bool
		return decode(v, &b)
	case ValueText:
		var s string
		return decode(v, &s)
	case ValuePrincipal:
		var s string
		if err := decode(v, &s); err != nil {
			return err
		}
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%w: empty principal", ErrInvalidProperty)
		}
		return nil
	case ValueBlob:
		var b []byte
		return decode(v, &b)
	case ValueNat8:
		return checkUnsigned(v, math.MaxUint8)
	case ValueNat16:
		return checkUnsigned(v, math.MaxUint16)
	case ValueNat32:
		return checkUnsigned(v, math.MaxUint32)
	case ValueNat64:
		return checkUnsigned(v, math.MaxUint64)
	case ValueInt8:
		return checkSigned(v, math.MinInt8, math.MaxInt8)
	case ValueInt16:
		return checkSigned(v, math.MinInt16, math.MaxInt16)
	case ValueInt32:
		return checkSigned(v, math.MinInt32, math.MaxInt32)
	case ValueInt64:
		return checkSigned(v, math.MinInt64, math.MaxInt64)
	case ValueNat, ValueInt:
		n, err := bigValue(v)
		if err != nil {
			return err
		}
		if v.Type == ValueNat && n.Sign() < 0 {
			return fmt.Errorf("%w: nat cannot be negative", ErrInvalidProperty)
		}
		return nil
	case ValueFloat:
		var f float64
		return decode(v, &f)
	case ValueNested:
		var props []Property
		if err := decode(v, &props); err != nil {
			return err
		}
		return ValidateProperties(props)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidProperty, v.Type)
	}
}

// ValidateProperties validates every value and rejects empty or duplicate keys
func ValidateProperties(props []Property) error {
	seen := make(map[string]bool, len(props))
	for _, p := range props {
		if p.Key == "" {
			return fmt.Errorf("%w: empty key", ErrInvalidProperty)
		}
		if seen[p.Key] {
			return fmt.Errorf("%w: duplicate key %q", ErrInvalidProperty, p.Key)
		}
		seen[p.Key] = true
		if err := p.Value.Validate(); err != nil {
			return fmt.Errorf("property %q: %w", p.Key, err)
		}
	}
	return nil
}

func decode(v GenericValue, out interface{}) error {
	if err := json.Unmarshal(v.Value, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidProperty, v.Type, err)
	}
	return nil
}

func bigValue(v GenericValue) (*big.Int, error) {
	raw := bytes.Trim(bytes.TrimSpace(v.Value), `"`)
	n, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an integer", ErrInvalidProperty, v.Type)
	}
	return n, nil
}

func checkUnsigned(v GenericValue, max uint64) error {
	n, err := bigValue(v)
	if err != nil {
		return err
	}
	if n.Sign() < 0 || !n.IsUint64() || n.Uint64() > max {
		return fmt.Errorf("%w: %s out of range", ErrInvalidProperty, v.Type)
	}
	return nil
}

func checkSigned(v GenericValue, min, max int64) error {
	n, err := bigValue(v)
	if err != nil {
		return err
	}
	if !n.IsInt64() || n.Int64() < min || n.Int64() > max {
		return fmt.Errorf("%w: %s out of range", ErrInvalidProperty, v.Type)
	}
	return nil
}
