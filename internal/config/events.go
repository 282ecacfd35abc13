package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/reedfamily/mcwarden/internal/game"
)

type EventsConfig struct {
	Custom []CustomEvent
	// Overrides maps a base event id to a replacement template.
	Overrides map[string]string
	// File is an optional YAML file with more macros, custom events and overrides.
	File string
}

// MacroConfig is one named regex fragment. Macros are a list rather than a map so viper keeps
// the identifier's case.
type MacroConfig struct {
	ID       string `mapstructure:"id" yaml:"id"`
	Fragment string `mapstructure:"fragment" yaml:"fragment"`
}

type CustomEvent struct {
	ID       string   `mapstructure:"id" yaml:"id"`
	Template string   `mapstructure:"template" yaml:"template"`
	Args     []string `mapstructure:"args" yaml:"args"`
	MatchRaw bool     `mapstructure:"match_raw" yaml:"match_raw"`
}

// EventFile is the layout of events.file.
type EventFile struct {
	Macros    []MacroConfig     `yaml:"macros"`
	Events    []CustomEvent     `yaml:"events"`
	Overrides map[string]string `yaml:"overrides"`
}

func ReadEventFile(path string) (*EventFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read event file: %w", err)
	}
	var f EventFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse event file %s: %w", path, err)
	}
	return &f, nil
}

func (e CustomEvent) spec() (game.EventSpec, error) {
	args := make([]game.TypeTag, len(e.Args))
	for i, a := range e.Args {
		tag, err := game.ParseTypeTag(a)
		if err != nil {
			return game.EventSpec{}, fmt.Errorf("event %s argument %d: %w", e.ID, i, err)
		}
		args[i] = tag
	}
	return game.EventSpec{ID: e.ID, Template: e.Template, Args: args, MatchRaw: e.MatchRaw}, nil
}

// ApplyEvents adds the configured macros, overrides and custom events to c, in that order,
// followed by the contents of the event file. Overrides are applied in id order so the
// resulting match order does not depend on map iteration.
func (cfg *Config) ApplyEvents(c *game.Catalog) error {
	if err := apply(c, cfg.Macros, cfg.Events.Overrides, cfg.Events.Custom); err != nil {
		return err
	}
	if cfg.Events.File == "" {
		return nil
	}
	f, err := ReadEventFile(cfg.Events.File)
	if err != nil {
		return err
	}
	return apply(c, f.Macros, f.Overrides, f.Events)
}

func apply(c *game.Catalog, macros []MacroConfig, overrides map[string]string, custom []CustomEvent) error {
	for _, m := range macros {
		if err := c.Macros().Define(m.ID, m.Fragment); err != nil {
			return fmt.Errorf("macros: %w", err)
		}
	}
	ids := make([]string, 0, len(overrides))
	for id := range overrides {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, err := c.DeriveFrom(id, overrides[id]); err != nil {
			return fmt.Errorf("override %s: %w", id, err)
		}
	}
	for _, e := range custom {
		spec, err := e.spec()
		if err != nil {
			return err
		}
		if _, err := c.DefineSpec(spec); err != nil {
			return fmt.Errorf("custom event %s: %w", e.ID, err)
		}
	}
	return nil
}
