package vaultfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanzure/go-vaults/persist"
)

func TestCreateAndExists(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, Exists(dir))

	require.NoError(t, Create(dir))
	assert.True(t, Exists(dir))
}

func TestCreateRefusesToOverwrite(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Create(dir))

	err := Create(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestReadRoundTripsVersion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Create(dir))

	marker, err := Read(dir)
	require.NoError(t, err)
	assert.Equal(t, persist.FormatVersion, marker.Version)
}

func TestReadMissingFileFails(t *testing.T) {
	dir := t.TempDir()
	_, err := Read(dir)
	require.Error(t, err)
}
