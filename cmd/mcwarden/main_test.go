package main

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reedfamily/mcwarden/internal/config"
	"github.com/reedfamily/mcwarden/internal/game"
	"github.com/reedfamily/mcwarden/internal/server"
)

const testConfig = `
events:
  custom:
    - id: vote_started
      template: "%player% started a vote: %text%"
      args: [string, string]
schedules:
  - name: nightly
    cron: "0 4 * * *"
    action: backup
`

func loadConfig(t *testing.T, jar string) *config.Config {
	t.Helper()
	v := config.NewViper()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(testConfig)))
	v.Set("server.executable", jar)
	cfg, err := config.Load(v)
	require.NoError(t, err)
	return cfg
}

func writeJar(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.jar")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	_, err = zw.Create("META-INF/MANIFEST.MF")
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestDecodeLines(t *testing.T) {
	catalog, err := server.Catalog(loadConfig(t, ""))
	require.NoError(t, err)
	dec := game.NewDecoder(catalog)

	input := strings.Join([]string{
		"[20:15:00] [Server thread/INFO]: Steve joined the game",
		"garbage",
		"[20:15:04] [Server thread/INFO]: Alex started a vote: skip the night",
	}, "\n")

	var out, errs bytes.Buffer
	n, err := decodeLines(strings.NewReader(input), &out, &errs, dec, false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, errs.String())

	var records []game.Record
	d := json.NewDecoder(&out)
	for d.More() {
		var r game.Record
		require.NoError(t, d.Decode(&r))
		records = append(records, r)
	}
	require.Len(t, records, 2)
	assert.Equal(t, "player_join", records[0].Type)
	assert.Equal(t, "20:15:00", records[0].Time)
	assert.Equal(t, []any{"Steve"}, records[0].Args)
	assert.Equal(t, "vote_started", records[1].Type)
	assert.Equal(t, []any{"Alex", "skip the night"}, records[1].Args)
}

func TestDecodeLinesAll(t *testing.T) {
	catalog, err := server.Catalog(loadConfig(t, ""))
	require.NoError(t, err)

	var out, errs bytes.Buffer
	n, err := decodeLines(strings.NewReader("garbage\n"), &out, &errs, game.NewDecoder(catalog), true)
	require.NoError(t, err)
	assert.Zero(t, n)

	var r game.Record
	require.NoError(t, json.Unmarshal(out.Bytes(), &r))
	assert.Empty(t, r.Type)
	assert.Equal(t, "unknown", r.Time)
	assert.Equal(t, "garbage", r.Content)
}

func TestCheck(t *testing.T) {
	jar := writeJar(t)
	var out bytes.Buffer
	require.NoError(t, check(&out, loadConfig(t, jar), true))

	text := out.String()
	assert.Contains(t, text, jar)
	assert.Contains(t, text, "-jar")
	assert.Contains(t, text, "nogui")
	assert.Contains(t, text, "(1 custom)")
	assert.Contains(t, text, "nightly")
	assert.Contains(t, text, "vote_started")
}

func TestCheckRejectsMissingJar(t *testing.T) {
	var out bytes.Buffer
	err := check(&out, loadConfig(t, filepath.Join(t.TempDir(), "missing.jar")), false)
	require.Error(t, err)
	assert.Empty(t, out.String())
}
