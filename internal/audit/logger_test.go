package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motor-control/mcn/internal/config"
)

type bufferCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufferCloser) Close() error {
	b.closed = true
	return nil
}

func readEntries(t *testing.T, data []byte) []Entry {
	t.Helper()
	var entries []Entry
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		entries = append(entries, e)
	}
	return entries
}

func TestNewLoggerCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.jsonl")

	l, err := NewLogger(config.AuditConfig{Enabled: true, Path: path, MaxSizeMB: 1})
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	l.Log(Entry{Action: "FORWARD", Outcome: OutcomeSuccess, Code: "SUCCESS"})
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	entries := readEntries(t, data)
	require.Len(t, entries, 1)
	assert.Equal(t, "FORWARD", entries[0].Action)
	assert.Equal(t, path, l.GetFilePath())
}

func TestLogFields(t *testing.T) {
	buf := &bufferCloser{}
	l := NewWriterLogger(buf)

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	l.Log(Entry{
		Timestamp: ts,
		Source:    "udp:192.168.4.2:5000",
		Action:    "RIGHT",
		Params:    map[string]any{"speed": 200, "speedDefaulted": true},
		Outcome:   OutcomeSuccess,
		Code:      "MALFORMED_SPEED",
	})
	l.Log(Entry{Action: "JUMP", Outcome: OutcomeRejected, Code: "UNKNOWN_COMMAND"})

	entries := readEntries(t, buf.Bytes())
	require.Len(t, entries, 2)

	assert.True(t, entries[0].Timestamp.Equal(ts))
	assert.Equal(t, time.UTC, entries[0].Timestamp.Location())
	assert.Equal(t, "udp:192.168.4.2:5000", entries[0].Source)
	assert.Equal(t, true, entries[0].Params["speedDefaulted"])
	assert.Equal(t, "MALFORMED_SPEED", entries[0].Code)

	assert.False(t, entries[1].Timestamp.IsZero())
	assert.Equal(t, OutcomeRejected, entries[1].Outcome)
}

func TestCloseDropsLaterEntries(t *testing.T) {
	buf := &bufferCloser{}
	l := NewWriterLogger(buf)

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	assert.True(t, buf.closed)

	l.Log(Entry{Action: "STOP", Outcome: OutcomeSuccess})
	assert.Zero(t, buf.Len())
}

func TestRotate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")

	l, err := NewLogger(config.AuditConfig{Enabled: true, Path: path, MaxSizeMB: 1, MaxBackups: 2})
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	l.Log(Entry{Action: "FORWARD", Outcome: OutcomeSuccess})
	require.NoError(t, l.Rotate())
	l.Log(Entry{Action: "STOP", Outcome: OutcomeSuccess})

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}
