package minecraft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reedfamily/mcwarden/internal/game"
)

func newDecoder(t *testing.T) *game.Decoder {
	t.Helper()
	c, err := game.Build(&Adapter{})
	require.NoError(t, err)
	return game.NewDecoder(c)
}

func TestServerReady(t *testing.T) {
	d := newDecoder(t)
	msg := d.DecodeString(`[22:15:19] [Server thread/INFO]: Done (6.420s)! For help, type "help"`)

	ev, err := d.Classify(msg)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, ServerReady, ev.ID())
	require.Len(t, ev.Args, 1)
	assert.Equal(t, 6.420, ev.Args[0])
}

func TestBaseEvents(t *testing.T) {
	d := newDecoder(t)
	tests := []struct {
		line string
		id   string
		args []any
	}{
		{"[10:00:00] [Server thread/INFO]: Starting minecraft server version 1.21.4", ServerStarting, []any{"1.21.4"}},
		{"[10:00:00] [Server thread/INFO]: Starting Minecraft server on *:25565", ServerBound, []any{"*:25565"}},
		{"[10:00:00] [Server thread/INFO]: Stopping server", ServerStopping, []any{}},
		{"[10:00:00] [Server thread/WARN]: Can't keep up! Is the server overloaded? Running 2034ms or 40 ticks behind", ServerOverloaded, []any{int64(2034), int64(40)}},
		{"[10:00:00] [User Authenticator #1/INFO]: UUID of player Steve is 069a79f4-44e9-4726-a5be-fca90e38aaf5", PlayerUUID, []any{"Steve", "069a79f4-44e9-4726-a5be-fca90e38aaf5"}},
		{"[10:00:00] [Server thread/INFO]: Steve[/127.0.0.1:53712] logged in with entity id 212 at (-21.5, 64.0, 13.25)", PlayerLogin, []any{"Steve", "127.0.0.1:53712", int32(212), -21.5, 64.0, 13.25}},
		{"[10:00:00] [Server thread/INFO]: Steve joined the game", PlayerJoin, []any{"Steve"}},
		{"[10:00:00] [Server thread/INFO]: Steve left the game", PlayerLeave, []any{"Steve"}},
		{"[10:00:00] [Server thread/INFO]: Steve lost connection: Disconnected", PlayerLostConnection, []any{"Steve", "Disconnected"}},
		{"[10:00:00] [Server thread/INFO]: <Steve> hello there", PlayerChat, []any{"Steve", "hello there"}},
		{"[10:00:00] [Server thread/INFO]: Steve has made the advancement [Stone Age]", PlayerAdvancement, []any{"Steve", "Stone Age"}},
		{"[10:00:00] [Server thread/INFO]: There are 0 of a max of 20 players online: ", PlayerList, []any{int32(0), int32(20), ""}},
		{"[10:00:00] [Server thread/INFO]: Saved the game", GameSaved, []any{}},
		{"[10:00:00] [Server thread/INFO]: Gamerule keepInventory is currently set to: false", GameruleQuery, []any{"keepInventory", false}},
		{"[10:00:00] [Server thread/INFO]: Changing view distance to 12", ViewDistance, []any{int16(12)}},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			ev, err := d.Classify(d.DecodeString(tt.line))
			require.NoError(t, err)
			require.NotNil(t, ev)
			assert.Equal(t, tt.id, ev.ID())
			assert.Equal(t, tt.args, ev.Args)
		})
	}
}

func TestUnrelatedLines(t *testing.T) {
	d := newDecoder(t)
	for _, line := range []string{
		"[10:00:00] [Worker-Main-1/INFO]: Preparing spawn area: 83%",
		"garbage text",
		"[10:00:00] [Server thread/INFO]: Steve joined the game and then some",
	} {
		ev, err := d.Classify(d.DecodeString(line))
		assert.NoError(t, err)
		assert.Nil(t, ev, line)
	}
}

func TestCommands(t *testing.T) {
	a := &Adapter{}
	assert.Equal(t, "minecraft", a.Game())
	assert.Equal(t, "stop", a.StopCommand())
	assert.Equal(t, "list", a.PlayerCommand())
}
