package game

// GameAdapter provides game-specific behavior for a server type.
type GameAdapter interface {
	// Game returns the game identifier (e.g., "minecraft")
	Game() string

	// Macros returns the regex fragments the base templates are written with
	Macros() map[string]string

	// Events returns the base event table, in matching order
	Events() []EventSpec

	// PlayerCommand returns the command to list online players
	PlayerCommand() string

	// StopCommand returns the graceful stop command for the server
	StopCommand() string
}

// Build creates a fresh macro table and catalog from an adapter's tables. Callers add their
// own macros and custom types to the returned catalog before handing it to a Decoder.
func Build(a GameAdapter) (*Catalog, error) {
	macros := NewMacroTable()
	if err := macros.DefineAll(a.Macros()); err != nil {
		return nil, err
	}
	return NewCatalog(macros, a.Events())
}
