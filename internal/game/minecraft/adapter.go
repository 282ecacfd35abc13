package minecraft

import (
	"github.com/reedfamily/mcwarden/internal/game"
)

// Event IDs of the base table.
const (
	ServerStarting       = "server_starting"
	ServerBound          = "server_bound"
	ServerReady          = "server_ready"
	ServerStopping       = "server_stopping"
	ServerOverloaded     = "server_overloaded"
	PlayerUUID           = "player_uuid"
	PlayerLogin          = "player_login"
	PlayerJoin           = "player_join"
	PlayerLeave          = "player_leave"
	PlayerLostConnection = "player_lost_connection"
	PlayerChat           = "player_chat"
	PlayerAdvancement    = "player_advancement"
	PlayerList           = "player_list"
	GameSaved            = "game_saved"
	GameruleQuery        = "gamerule_query"
	ViewDistance         = "view_distance"
)

type Adapter struct{}

func (a *Adapter) Game() string { return "minecraft" }

func (a *Adapter) Macros() map[string]string {
	return map[string]string{
		"player":  `[A-Za-z0-9_.]{1,16}`,
		"int":     `[-+]?\d+`,
		"float":   `[-+]?\d+(?:\.\d+)?`,
		"bool":    `(?i:true|false)`,
		"word":    `\S+`,
		"text":    `.+`,
		"any":     `.*`,
		"version": `[0-9A-Za-z._-]+`,
		"uuid":    `[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`,
		"address": `[0-9A-Za-z.:*\[\]-]*:\d+`,
	}
}

var events = []game.EventSpec{
	{ID: ServerStarting, Template: "Starting minecraft server version %version%", Args: []game.TypeTag{game.String}},
	{ID: ServerBound, Template: "Starting Minecraft server on %address%", Args: []game.TypeTag{game.String}},
	{ID: ServerReady, Template: `Done (%float%s)! For help, type "help"`, Args: []game.TypeTag{game.Float64}},
	{ID: ServerStopping, Template: "Stopping server"},
	{ID: ServerOverloaded, Template: "Can't keep up! Is the server overloaded? Running %int%ms or %int% ticks behind", Args: []game.TypeTag{game.Int64, game.Int64}},
	{ID: PlayerUUID, Template: "UUID of player %player% is %uuid%", Args: []game.TypeTag{game.String, game.String}},
	{ID: PlayerLogin, Template: "%player%[/%address%] logged in with entity id %int% at (%float%, %float%, %float%)", Args: []game.TypeTag{game.String, game.String, game.Int32, game.Float64, game.Float64, game.Float64}},
	{ID: PlayerJoin, Template: "%player% joined the game", Args: []game.TypeTag{game.String}},
	{ID: PlayerLeave, Template: "%player% left the game", Args: []game.TypeTag{game.String}},
	{ID: PlayerLostConnection, Template: "%player% lost connection: %text%", Args: []game.TypeTag{game.String, game.String}},
	{ID: PlayerChat, Template: "<%player%> %any%", Args: []game.TypeTag{game.String, game.String}},
	{ID: PlayerAdvancement, Template: "%player% has made the advancement [%text%]", Args: []game.TypeTag{game.String, game.String}},
	{ID: PlayerList, Template: "There are %int% of a max of %int% players online: %any%", Args: []game.TypeTag{game.Int32, game.Int32, game.String}},
	{ID: GameSaved, Template: "Saved the game"},
	{ID: GameruleQuery, Template: "Gamerule %word% is currently set to: %bool%", Args: []game.TypeTag{game.String, game.Bool}},
	{ID: ViewDistance, Template: "Changing view distance to %int%", Args: []game.TypeTag{game.Int16}},
}

func (a *Adapter) Events() []game.EventSpec {
	return events
}

func (a *Adapter) PlayerCommand() string { return "list" }
func (a *Adapter) StopCommand() string   { return "stop" }
