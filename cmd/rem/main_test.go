package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/CZERTAINLY/rem/internal/job"
	"github.com/CZERTAINLY/rem/internal/log"
	"github.com/CZERTAINLY/rem/internal/model"
	"github.com/CZERTAINLY/rem/internal/store"
	"github.com/stretchr/testify/require"
)

func TestInitConfigRoundTrip(t *testing.T) {
	logger = log.Discard()
	path := filepath.Join(t.TempDir(), "sub", defaultConfigName)

	require.NoError(t, writeConfig(path, model.DefaultConfig()))
	require.True(t, exists(path))

	config, err := loadConfig(path)
	require.NoError(t, err)
	require.Equal(t, model.DefaultConfig(), *config)
}

func TestLoadConfigInvalid(t *testing.T) {
	logger = log.Discard()
	path := filepath.Join(t.TempDir(), defaultConfigName)
	require.NoError(t, os.WriteFile(path, []byte("version: 0\npacket:\n  name: x\n"), 0o600))

	_, err := loadConfig(path)
	require.Error(t, err)

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestPrintStatus(t *testing.T) {
	code := 1
	updated := time.Date(2024, 6, 1, 8, 30, 0, 0, time.Local)
	rows := []store.SnapshotRow{
		{
			Packet: "p",
			Snapshot: job.Snapshot{
				ID:          "build",
				MaxTryCount: 3,
				Tries:       2,
				WorkingTime: 90 * time.Second,
				Results: []model.Result{
					{Kind: model.KindOSExit, Code: &code, Message: "started: x;\nboom"},
				},
			},
			Updated: updated,
		},
		{
			Packet:   "p",
			Snapshot: job.Snapshot{ID: "idle", MaxTryCount: 1},
			Updated:  updated,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, printStatus(&buf, rows))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasPrefix(lines[0], "JOB"))
	require.Contains(t, lines[1], "build")
	require.Contains(t, lines[1], "2/3")
	require.Contains(t, lines[1], "1m30s")
	require.Contains(t, lines[1], "2024-06-01 08:30:00")
	require.Contains(t, lines[1], `OS exit code: 1, "started: x;`)
	require.NotContains(t, lines[1], "boom")
	require.Contains(t, lines[2], "idle")
	require.Contains(t, lines[2], "0/1")
}

func TestFindConfig(t *testing.T) {
	opts.Config = "explicit.yaml"
	t.Cleanup(func() { opts.Config = "" })
	path, err := findConfig()
	require.NoError(t, err)
	require.Equal(t, "explicit.yaml", path)
}

func TestLoadStatusFromPacketState(t *testing.T) {
	state := filepath.Join(t.TempDir(), "rem.db")
	config := model.DefaultConfig()
	config.Service = &model.Service{State: &state}

	_, err := loadStatus(t.Context(), &model.Config{Packet: config.Packet})
	require.Error(t, err)

	db, err := store.InitDB(t.Context(), state)
	require.NoError(t, err)
	snap := job.Snapshot{ID: "build", MaxTryCount: 3, Tries: 1}
	require.NoError(t, store.Save(t.Context(), db, config.Packet.Name, snap))
	require.NoError(t, db.Close())

	rows, err := loadStatus(t.Context(), &config)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "build", rows[0].Snapshot.ID)
}
