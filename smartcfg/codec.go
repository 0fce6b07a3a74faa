package smartcfg

import (
	"fmt"
	"strconv"
	"strings"
)

// Codec translates between declared logical values and the textual
// representation an AT parameter uses on the wire.
//
// Render produces the argument text placed in a set command. Parse
// converts the payload extracted from a query response back into a Value.
// Equal compares declared against current after normalizing type and
// representation, so "007" matches 7 and a boolean matches 0/1.
type Codec interface {
	Render(v Value) string
	Parse(payload string) (Value, error)
	Equal(declared, current Value) bool
}

// ParseError reports a query payload that did not match the shape the
// codec expects.
type ParseError struct {
	Payload string
	Want    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse %q as %s", e.Payload, e.Want)
}

// Numeric handles decimal integer parameters (the majority of AT
// configuration values).
type Numeric struct{}

func (Numeric) Render(v Value) string {
	switch v.Kind() {
	case KindBool:
		if v.AsBool() {
			return "1"
		}
		return "0"
	case KindInt:
		return strconv.FormatInt(v.AsInt(), 10)
	default:
		return v.String()
	}
}

func (Numeric) Parse(payload string) (Value, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(payload), 10, 64)
	if err != nil {
		return Value{}, &ParseError{Payload: payload, Want: "integer"}
	}
	return Int(n), nil
}

func (Numeric) Equal(declared, current Value) bool {
	d, ok1 := asInt(declared)
	c, ok2 := asInt(current)
	return ok1 && ok2 && d == c
}

// Boolean handles parameters that are logically on/off but travel as 0/1.
type Boolean struct{}

func (Boolean) Render(v Value) string {
	b, ok := asBool(v)
	if ok && b {
		return "1"
	}
	return "0"
}

func (Boolean) Parse(payload string) (Value, error) {
	switch strings.TrimSpace(payload) {
	case "0":
		return Bool(false), nil
	case "1":
		return Bool(true), nil
	default:
		return Value{}, &ParseError{Payload: payload, Want: "boolean 0/1"}
	}
}

func (Boolean) Equal(declared, current Value) bool {
	d, ok1 := asBool(declared)
	c, ok2 := asBool(current)
	return ok1 && ok2 && d == c
}

// Quoted handles text parameters that are rendered inside double quotes.
// Responses may or may not quote the value, so Parse strips surrounding
// quotes. FoldCase enables case-insensitive comparison for parameters the
// modem treats as case-insensitive identifiers.
type Quoted struct {
	FoldCase bool
}

func (Quoted) Render(v Value) string {
	return `"` + v.String() + `"`
}

func (Quoted) Parse(payload string) (Value, error) {
	return Text(unquote(payload)), nil
}

func (c Quoted) Equal(declared, current Value) bool {
	if !declared.IsValid() || !current.IsValid() {
		return false
	}
	if c.FoldCase {
		return strings.EqualFold(declared.String(), current.String())
	}
	return declared.String() == current.String()
}

// Opaque handles multi-value parameters (e.g. raw GNSS config "31,0")
// that are compared as exact text and rendered without quoting.
type Opaque struct{}

func (Opaque) Render(v Value) string {
	return v.String()
}

func (Opaque) Parse(payload string) (Value, error) {
	return Text(strings.TrimSpace(payload)), nil
}

func (Opaque) Equal(declared, current Value) bool {
	return declared.IsValid() && current.IsValid() &&
		declared.String() == current.String()
}

// Presence handles parameters whose desired state is "the listing must be
// empty" (e.g. the forbidden PLMN list). The value is a boolean meaning
// "listing is empty": parsing any payload yields false, while a query with
// no matching line means the listing is already empty. A declared false
// imposes no requirement and always compares equal.
type Presence struct{}

func (Presence) Render(v Value) string {
	return ""
}

func (Presence) Parse(payload string) (Value, error) {
	return Bool(false), nil
}

func (Presence) Equal(declared, current Value) bool {
	d, ok := asBool(declared)
	if !ok {
		return false
	}
	if !d {
		return true
	}
	c, ok := asBool(current)
	return ok && c
}

func asInt(v Value) (int64, bool) {
	switch v.Kind() {
	case KindInt:
		return v.AsInt(), true
	case KindBool:
		if v.AsBool() {
			return 1, true
		}
		return 0, true
	case KindText:
		n, err := strconv.ParseInt(strings.TrimSpace(v.AsText()), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func asBool(v Value) (bool, bool) {
	switch v.Kind() {
	case KindBool:
		return v.AsBool(), true
	case KindInt:
		return v.AsInt() != 0, true
	default:
		return false, false
	}
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
