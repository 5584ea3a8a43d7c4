package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSince(t *testing.T) {
	got, err := parseSince("")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = parseSince("2014-05-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2014, 5, 1, 0, 0, 0, 0, time.UTC), got)

	got, err = parseSince("2014-05-01T12:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, 12, got.Hour())

	_, err = parseSince("last tuesday")
	assert.Error(t, err)
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"sweep"},
		{"submit", "1"},
		{"ingest", "league", "1"},
		{"ingest", "account", "1"},
		{"worker", "add", "gc-1"},
		{"worker", "remove", "1"},
		{"worker", "list"},
		{"fleet", "load"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.NotNil(t, cmd.RunE, path)
	}
}
