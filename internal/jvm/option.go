package jvm

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidOption = errors.New("invalid runtime option")

// RuntimeOption is a single -XX tuning flag: either a boolean toggle or a key=value pair.
type RuntimeOption interface {
	Name() string
	// Flag renders the option the way the runtime expects it on the command line.
	Flag() string
}

// Enabled is a boolean toggle, rendered as -XX:+Name or -XX:-Name.
type Enabled struct {
	Key string
	On  bool
}

func (e Enabled) Name() string { return e.Key }

func (e Enabled) Flag() string {
	if e.On {
		return "-XX:+" + e.Key
	}
	return "-XX:-" + e.Key
}

// Assigned is a key=value option, rendered as -XX:Name=Value.
type Assigned struct {
	Key   string
	Value string
}

func (a Assigned) Name() string { return a.Key }
func (a Assigned) Flag() string { return "-XX:" + a.Key + "=" + a.Value }

// ParseOption accepts "+Name", "-Name", "Name=Value" and the rendered "-XX:..." forms.
func ParseOption(s string) (RuntimeOption, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "-XX:")
	if s == "" {
		return nil, ErrInvalidOption
	}

	switch s[0] {
	case '+', '-':
		name := s[1:]
		if !validOptionName(name) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidOption, s)
		}
		return Enabled{Key: name, On: s[0] == '+'}, nil
	}

	name, value, ok := strings.Cut(s, "=")
	if !ok || !validOptionName(name) || value == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOption, s)
	}
	return Assigned{Key: name, Value: value}, nil
}

// ParseOptions parses every entry, stopping at the first invalid one.
func ParseOptions(ss []string) ([]RuntimeOption, error) {
	opts := make([]RuntimeOption, 0, len(ss))
	for _, s := range ss {
		o, err := ParseOption(s)
		if err != nil {
			return nil, err
		}
		opts = append(opts, o)
	}
	return opts, nil
}

func validOptionName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return true
}
