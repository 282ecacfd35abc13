package game

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrMalformedTemplate = errors.New("malformed template")
	ErrArgumentCount     = errors.New("placeholder count does not match argument types")
	ErrArgumentDecode    = errors.New("argument decode failed")
)

// TypeTag is the type an extracted argument is converted to.
type TypeTag int

const (
	String TypeTag = iota
	Int64
	Int32
	Int16
	Float32
	Float64
	Bool
)

var typeTagNames = []string{"string", "int64", "int32", "int16", "float32", "float64", "bool"}

func (t TypeTag) String() string {
	if t < 0 || int(t) >= len(typeTagNames) {
		return "unknown"
	}
	return typeTagNames[t]
}

// ParseTypeTag accepts the names produced by String plus a few aliases.
func ParseTypeTag(s string) (TypeTag, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "string", "str":
		return String, nil
	case "int64", "long", "int":
		return Int64, nil
	case "int32", "integer":
		return Int32, nil
	case "int16", "short":
		return Int16, nil
	case "float32", "float":
		return Float32, nil
	case "float64", "double":
		return Float64, nil
	case "bool", "boolean":
		return Bool, nil
	}
	return 0, fmt.Errorf("unknown argument type %q", s)
}

// ArgumentError reports a capture that matched its pattern but could not be converted.
type ArgumentError struct {
	Type  string
	Index int
	Tag   TypeTag
	Value string
	Err   error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("event %s: argument %d (%s) %q: %v", e.Type, e.Index, e.Tag, e.Value, e.Err)
}

func (e *ArgumentError) Is(target error) bool { return target == ErrArgumentDecode }
func (e *ArgumentError) Unwrap() error        { return e.Err }

// EventType is a known line shape: a template of literal text and %macro% placeholders plus
// the types of the values captured by those placeholders, in order.
type EventType struct {
	ID       string
	Template string
	Args     []TypeTag
	// MatchRaw tests the whole raw line instead of the message content.
	MatchRaw bool
	// Custom is set for types added after the base table, including overrides.
	Custom bool

	pattern *regexp.Regexp
	groups  []int
}

// Pattern returns the compiled, anchored expression.
func (e *EventType) Pattern() *regexp.Regexp { return e.pattern }

// compile turns the template into an anchored pattern with one named group per placeholder.
func (e *EventType) compile(macros *MacroTable) error {
	var (
		b     strings.Builder
		lit   strings.Builder
		count int
	)
	b.WriteByte('^')
	flush := func() {
		b.WriteString(regexp.QuoteMeta(lit.String()))
		lit.Reset()
	}

	tpl := e.Template
	for i := 0; i < len(tpl); i++ {
		if tpl[i] != '%' {
			lit.WriteByte(tpl[i])
			continue
		}
		if i+1 < len(tpl) && tpl[i+1] == '%' {
			lit.WriteByte('%')
			i++
			continue
		}
		end := strings.IndexByte(tpl[i+1:], '%')
		if end < 0 {
			return fmt.Errorf("%w: %s: unterminated placeholder at offset %d", ErrMalformedTemplate, e.ID, i)
		}
		name := tpl[i+1 : i+1+end]
		if !ValidIdentifier(name) {
			return fmt.Errorf("%w: %s: bad placeholder %q", ErrMalformedTemplate, e.ID, name)
		}
		m, ok := macros.Lookup(name)
		if !ok {
			return fmt.Errorf("%w: %s: %%%s%%", ErrUnknownMacro, e.ID, name)
		}
		flush()
		fmt.Fprintf(&b, "(?P<a%d>%s)", count, m.Fragment)
		count++
		i += end + 1
	}
	flush()
	b.WriteByte('$')

	if count != len(e.Args) {
		return fmt.Errorf("%w: %s has %d placeholders and %d argument types", ErrArgumentCount, e.ID, count, len(e.Args))
	}

	re, err := regexp.Compile(b.String())
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedTemplate, e.ID, err)
	}
	groups := make([]int, count)
	for i := range groups {
		groups[i] = re.SubexpIndex("a" + strconv.Itoa(i))
	}
	e.pattern = re
	e.groups = groups
	return nil
}

// match returns the raw captures when s has this shape.
func (e *EventType) match(s string) ([]string, bool) {
	m := e.pattern.FindStringSubmatch(s)
	if m == nil {
		return nil, false
	}
	caps := make([]string, len(e.groups))
	for i, g := range e.groups {
		caps[i] = m[g]
	}
	return caps, true
}

// decode converts captures according to Args.
func (e *EventType) decode(caps []string) ([]any, error) {
	args := make([]any, len(caps))
	for i, c := range caps {
		v, err := convert(e.Args[i], c)
		if err != nil {
			return nil, &ArgumentError{Type: e.ID, Index: i, Tag: e.Args[i], Value: c, Err: err}
		}
		args[i] = v
	}
	return args, nil
}

func convert(tag TypeTag, s string) (any, error) {
	switch tag {
	case String:
		return s, nil
	case Int64:
		return strconv.ParseInt(s, 10, 64)
	case Int32:
		n, err := strconv.ParseInt(s, 10, 32)
		return int32(n), err
	case Int16:
		n, err := strconv.ParseInt(s, 10, 16)
		return int16(n), err
	case Float32:
		f, err := strconv.ParseFloat(s, 32)
		return float32(f), err
	case Float64:
		return strconv.ParseFloat(s, 64)
	case Bool:
		switch {
		case strings.EqualFold(s, "true"):
			return true, nil
		case strings.EqualFold(s, "false"):
			return false, nil
		}
		return nil, fmt.Errorf("not a boolean")
	}
	return nil, fmt.Errorf("unsupported type tag %d", tag)
}
