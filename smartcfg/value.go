package smartcfg

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Kind discriminates the closed set of scalar types a declared
// configuration value can have.
type Kind int

const (
	KindInvalid Kind = iota
	KindBool
	KindInt
	KindText
)

// Value is a declared configuration scalar: boolean, integer or text.
// The zero Value is invalid and compares unequal to everything, which is
// how "currently unset" is represented.
type Value struct {
	kind Kind
	b    bool
	i    int64
	s    string
}

func Bool(v bool) Value   { return Value{kind: KindBool, b: v} }
func Int(v int64) Value   { return Value{kind: KindInt, i: v} }
func Text(v string) Value { return Value{kind: KindText, s: v} }

func (v Value) Kind() Kind    { return v.kind }
func (v Value) IsValid() bool { return v.kind != KindInvalid }

func (v Value) AsBool() bool   { return v.b }
func (v Value) AsInt() int64   { return v.i }
func (v Value) AsText() string { return v.s }

// String renders the value for display and logging, not for the wire.
func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindText:
		return v.s
	default:
		return "<unset>"
	}
}

// decodeScalar converts a YAML scalar node into a Value, keeping the
// declared type rather than coercing everything to strings.
func decodeScalar(node *yaml.Node) (Value, error) {
	if node.Kind != yaml.ScalarNode {
		return Value{}, fmt.Errorf("line %d: expected a scalar value", node.Line)
	}

	switch node.Tag {
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return Value{}, err
		}
		return Bool(b), nil
	case "!!int":
		var i int64
		if err := node.Decode(&i); err != nil {
			return Value{}, err
		}
		return Int(i), nil
	case "!!str":
		return Text(node.Value), nil
	default:
		return Value{}, fmt.Errorf("line %d: unsupported value type %s", node.Line, node.Tag)
	}
}
