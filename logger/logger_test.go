package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSLogWithOptions(t *testing.T) {
	log, err := NewSLogWithOptions(&SLogOptions{Level: "debug", Format: "json"})
	require.NoError(t, err)
	require.NotNil(t, log)

	log, err = NewSLogWithOptions(&SLogOptions{})
	require.NoError(t, err)
	require.NotNil(t, log)

	_, err = NewSLogWithOptions(nil)
	assert.Error(t, err)

	_, err = NewSLogWithOptions(&SLogOptions{Level: "verbose"})
	assert.Error(t, err)

	_, err = NewSLogWithOptions(&SLogOptions{Target: "file"})
	assert.Error(t, err)
}

func TestSLogWith(t *testing.T) {
	log, err := NewSLogWithOptions(&SLogOptions{Level: "error"})
	require.NoError(t, err)

	child := log.With("collection", "players")
	assert.NotNil(t, child)
	assert.NotSame(t, log, child)

	grouped := log.WithGroup("query")
	assert.NotNil(t, grouped)
}

func TestNopLogger(t *testing.T) {
	var log Logger = NewNopLogger()

	log.Debug("ignored")
	log.InfoContext(context.Background(), "ignored")
	assert.Same(t, log, log.With("k", "v"))
	assert.Same(t, log, log.WithGroup("g"))
}
