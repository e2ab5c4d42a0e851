package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/penf-chat/config"
	"github.com/otherjamesbrown/penf-chat/pkg/logging"
)

func TestServeCommand_Flags(t *testing.T) {
	cmd := NewServeCommand(DefaultDeps(""))

	assert.Equal(t, "serve", cmd.Use)
	for _, name := range []string{"migrate", "no-events", "addr"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}

func TestServe_InvalidConfig(t *testing.T) {
	var out bytes.Buffer
	deps := testDeps(&out)
	deps.LoadConfig = func() (*config.ServiceConfig, error) {
		cfg := config.DefaultConfig()
		cfg.OutputFormat = "xml"
		return cfg, nil
	}

	err := runServe(context.Background(), deps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestServe_DatabaseUnavailable(t *testing.T) {
	var out bytes.Buffer
	deps := testDeps(&out)
	deps.NewLogger = DefaultDeps("").NewLogger

	serveAddr = ""
	err := runServe(context.Background(), deps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connecting to database")
}

type purgeCounter struct{ n int }

func (p *purgeCounter) Invalidate() { p.n++ }

type fakeBroadcaster struct {
	calls int
	err   error
}

func (f *fakeBroadcaster) ClonesInvalidated(context.Context) error {
	f.calls++
	return f.err
}

func TestCloneInvalidator(t *testing.T) {
	t.Run("local only", func(t *testing.T) {
		local := &purgeCounter{}
		cloneInvalidator{local: local, logger: logging.NewNopLogger()}.Invalidate()
		assert.Equal(t, 1, local.n)
	})

	t.Run("broadcasts to replicas", func(t *testing.T) {
		local, bc := &purgeCounter{}, &fakeBroadcaster{}
		cloneInvalidator{local: local, broadcast: bc, logger: logging.NewNopLogger()}.Invalidate()
		assert.Equal(t, 1, local.n)
		assert.Equal(t, 1, bc.calls)
	})

	t.Run("broadcast failure still purges locally", func(t *testing.T) {
		local, bc := &purgeCounter{}, &fakeBroadcaster{err: errors.New("redis down")}
		cloneInvalidator{local: local, broadcast: bc, logger: logging.NewNopLogger()}.Invalidate()
		assert.Equal(t, 1, local.n)
		assert.Equal(t, 1, bc.calls)
	})
}
