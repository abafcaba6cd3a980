package vaultlog

import (
	"testing"

	"github.com/btcsuite/btclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBackendAssignsLeveledLoggerToEverySubsystem(t *testing.T) {
	var got []btclog.Logger
	subs := []Subsystem{
		{Tag: "ONE", UseLogger: func(l btclog.Logger) { got = append(got, l) }},
		{Tag: "TWO", UseLogger: func(l btclog.Logger) { got = append(got, l) }},
	}

	backend := NewBackend(nil, btclog.LevelDebug, subs)
	require.NotNil(t, backend)
	require.Len(t, got, 2)
	for _, l := range got {
		assert.Equal(t, btclog.LevelDebug, l.Level())
	}
}

func TestDisableAllPointsEverySubsystemAtDisabled(t *testing.T) {
	var got []btclog.Logger
	subs := []Subsystem{
		{Tag: "ONE", UseLogger: func(l btclog.Logger) { got = append(got, l) }},
	}

	DisableAll(subs)
	require.Len(t, got, 1)
	assert.Equal(t, btclog.Disabled, got[0])
}

func TestLogWriterTolerateNoRotator(t *testing.T) {
	w := logWriter{}
	n, err := w.Write([]byte("hello\n"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}
