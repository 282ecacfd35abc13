package game

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
)

var (
	ErrDuplicateMacro    = errors.New("macro already defined")
	ErrUnknownMacro      = errors.New("unknown macro")
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrInvalidFragment   = errors.New("invalid regex fragment")
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether s starts with a letter or underscore and continues with
// letters, digits or underscores.
func ValidIdentifier(s string) bool {
	return identRe.MatchString(s)
}

// Macro is a named regex fragment substituted for %name% in message templates.
type Macro struct {
	Identifier string
	Fragment   string
}

// MacroTable holds macro definitions. It is filled once during startup and only read after
// that, so lookups take no lock.
type MacroTable struct {
	macros map[string]Macro
}

func NewMacroTable() *MacroTable {
	return &MacroTable{macros: make(map[string]Macro)}
}

// Define adds a macro. Redefining an identifier is an error; there is no way to remove one.
func (t *MacroTable) Define(identifier, fragment string) error {
	if !ValidIdentifier(identifier) {
		return fmt.Errorf("%w: macro %q", ErrInvalidIdentifier, identifier)
	}
	if _, ok := t.macros[identifier]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateMacro, identifier)
	}
	if _, err := regexp.Compile(fragment); err != nil {
		return fmt.Errorf("%w: macro %q: %v", ErrInvalidFragment, identifier, err)
	}
	t.macros[identifier] = Macro{Identifier: identifier, Fragment: fragment}
	return nil
}

// DefineAll defines macros in identifier order so failures are reproducible.
func (t *MacroTable) DefineAll(defs map[string]string) error {
	ids := make([]string, 0, len(defs))
	for id := range defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := t.Define(id, defs[id]); err != nil {
			return err
		}
	}
	return nil
}

func (t *MacroTable) Lookup(identifier string) (Macro, bool) {
	m, ok := t.macros[identifier]
	return m, ok
}

func (t *MacroTable) Len() int { return len(t.macros) }
