package game

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateEventType = errors.New("event type already defined")
	ErrUnknownEventType   = errors.New("unknown event type")
)

// EventSpec describes an event type before compilation. Base tables are slices of these.
type EventSpec struct {
	ID       string
	Template string
	Args     []TypeTag
	MatchRaw bool
}

// Catalog holds the compiled base table and any custom types. Like MacroTable it is built
// during startup and read concurrently afterwards.
//
// Matching order: custom types in registration order, then base types in table order.
type Catalog struct {
	macros *MacroTable
	base   []*EventType
	custom []*EventType
	byID   map[string]*EventType
	// overridden marks base IDs that already have a DeriveFrom override.
	overridden map[string]bool
	ordered    []*EventType
}

// NewCatalog compiles the base table. Any template error is returned here, at startup.
func NewCatalog(macros *MacroTable, base []EventSpec) (*Catalog, error) {
	c := &Catalog{
		macros:     macros,
		byID:       make(map[string]*EventType, len(base)),
		overridden: make(map[string]bool),
	}
	for _, spec := range base {
		if !ValidIdentifier(spec.ID) {
			return nil, fmt.Errorf("%w: event type %q", ErrInvalidIdentifier, spec.ID)
		}
		if _, ok := c.byID[spec.ID]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateEventType, spec.ID)
		}
		et := &EventType{
			ID:       spec.ID,
			Template: spec.Template,
			Args:     append([]TypeTag(nil), spec.Args...),
			MatchRaw: spec.MatchRaw,
		}
		if err := et.compile(macros); err != nil {
			return nil, err
		}
		c.base = append(c.base, et)
		c.byID[et.ID] = et
	}
	c.reorder()
	return c, nil
}

// DeriveFrom overrides the template of a base type, keeping its ID and argument types. It is
// meant for server variants that word a message differently. A base type can be overridden
// once; the override is tried before the base template.
func (c *Catalog) DeriveFrom(baseID, template string) (*EventType, error) {
	var base *EventType
	for _, et := range c.base {
		if et.ID == baseID {
			base = et
			break
		}
	}
	if base == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, baseID)
	}
	if c.overridden[baseID] {
		return nil, fmt.Errorf("%w: %q is already overridden", ErrDuplicateEventType, baseID)
	}
	et := &EventType{
		ID:       base.ID,
		Template: template,
		Args:     append([]TypeTag(nil), base.Args...),
		MatchRaw: base.MatchRaw,
		Custom:   true,
	}
	if err := et.compile(c.macros); err != nil {
		return nil, err
	}
	c.custom = append(c.custom, et)
	c.overridden[baseID] = true
	c.reorder()
	return et, nil
}

// DefineCustom adds a new type under a fresh identifier.
func (c *Catalog) DefineCustom(id, template string, args ...TypeTag) (*EventType, error) {
	return c.define(EventSpec{ID: id, Template: template, Args: args})
}

// DefineSpec is DefineCustom taking a full spec, used by config-driven definitions.
func (c *Catalog) DefineSpec(spec EventSpec) (*EventType, error) {
	return c.define(spec)
}

func (c *Catalog) define(spec EventSpec) (*EventType, error) {
	if !ValidIdentifier(spec.ID) {
		return nil, fmt.Errorf("%w: event type %q", ErrInvalidIdentifier, spec.ID)
	}
	if _, ok := c.byID[spec.ID]; ok {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateEventType, spec.ID)
	}
	et := &EventType{
		ID:       spec.ID,
		Template: spec.Template,
		Args:     append([]TypeTag(nil), spec.Args...),
		MatchRaw: spec.MatchRaw,
		Custom:   true,
	}
	if err := et.compile(c.macros); err != nil {
		return nil, err
	}
	c.custom = append(c.custom, et)
	c.byID[et.ID] = et
	c.reorder()
	return et, nil
}

// Lookup returns the base or custom type registered under id. Overrides share their base ID
// and are not returned here.
func (c *Catalog) Lookup(id string) (*EventType, bool) {
	et, ok := c.byID[id]
	return et, ok
}

func (c *Catalog) reorder() {
	out := make([]*EventType, 0, len(c.custom)+len(c.base))
	out = append(out, c.custom...)
	c.ordered = append(out, c.base...)
}

// Types returns every type in matching order. The slice must not be modified.
func (c *Catalog) Types() []*EventType {
	return c.ordered
}

func (c *Catalog) Macros() *MacroTable { return c.macros }
