package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/penf-chat/config"
	"github.com/otherjamesbrown/penf-chat/pkg/logging"
)

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand()

	assert.Equal(t, "penf-chat", root.Use)
	for _, name := range []string{"serve", "mentions", "clones", "db", "version"} {
		sub, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}
	for _, name := range []string{"config", "output", "debug"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(name), name)
	}
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output_format: text\n"), 0o600))

	t.Cleanup(func() { cfgFile, outputFormat, debug = "", "", false })
	cfgFile, outputFormat, debug = path, "json", true

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, config.OutputFormatJSON, cfg.OutputFormat)
	assert.Equal(t, logging.LevelDebug, cfg.Logging.Level)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	t.Cleanup(func() { cfgFile = "" })
	cfgFile = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := loadConfig()
	assert.Error(t, err)
}
