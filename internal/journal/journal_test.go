package journal

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reedfamily/mcwarden/internal/db"
	"github.com/reedfamily/mcwarden/internal/game"
	"github.com/reedfamily/mcwarden/internal/game/minecraft"
)

func setup(t *testing.T, maxRows int) (*Journal, *game.Decoder) {
	t.Helper()
	conn, err := db.Open(db.Memory)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c, err := game.Build(&minecraft.Adapter{})
	require.NoError(t, err)
	return New(conn, maxRows, func() string { return "run-1" }, nil), game.NewDecoder(c)
}

func event(t *testing.T, d *game.Decoder, line string) *game.Event {
	t.Helper()
	ev, err := d.Classify(d.DecodeString(line))
	require.NoError(t, err)
	require.NotNil(t, ev, line)
	return ev
}

func TestAppendAndRecent(t *testing.T) {
	ctx := context.Background()
	j, d := setup(t, 0)

	j.HandleEvent(event(t, d, "[12:00:00] [Server thread/INFO]: Steve joined the game"))
	j.HandleEvent(event(t, d, "[12:00:05] [Server thread/INFO]: <Steve> hi"))

	got, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, minecraft.PlayerChat, got[0].Type)
	assert.Equal(t, []any{"Steve", "hi"}, got[0].Args)
	assert.Equal(t, minecraft.PlayerJoin, got[1].Type)
	assert.Equal(t, "12:00:00", got[1].Time)
	assert.Equal(t, "run-1", got[1].RunID)
	assert.False(t, got[1].ReceivedAt.IsZero())

	got, err = j.Find(ctx, Query{Type: minecraft.PlayerJoin})
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = j.Find(ctx, Query{Before: got[0].ID})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestJournalIsBounded(t *testing.T) {
	ctx := context.Background()
	j, d := setup(t, 3)

	for i := 0; i < 5; i++ {
		_, err := j.Append(ctx, event(t, d, fmt.Sprintf("[12:00:0%d] [Server thread/INFO]: <Alex> %d", i, i)))
		require.NoError(t, err)
	}
	n, err := j.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := j.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "<Alex> 4", got[0].Content)
	assert.Equal(t, "<Alex> 2", got[2].Content)
}
