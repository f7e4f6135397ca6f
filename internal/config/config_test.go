package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, "bomrel.db", cfg.Database)
	assert.Equal(t, BackendSQLite, cfg.Backend)
	assert.Equal(t, "text", cfg.Format)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 10000, cfg.MaxSubtreeNodes)
	assert.Equal(t, IDStyleUUID, cfg.IDStyle)
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bomrel.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: badger\ndb: /data/bom\nmax_subtree_nodes: 50\n"), 0o644))
	t.Setenv("BOMREL_MAX_SUBTREE_NODES", "75")

	v := New()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("db", "", "")
	require.NoError(t, flags.Parse([]string{"--db", "/flag/bom"}))
	require.NoError(t, v.BindPFlag(KeyDatabase, flags.Lookup("db")))

	cfg, err := Load(v, path)
	require.NoError(t, err)
	assert.Equal(t, BackendBadger, cfg.Backend, "file overrides default")
	assert.Equal(t, 75, cfg.MaxSubtreeNodes, "env overrides file")
	assert.Equal(t, "/flag/bom", cfg.Database, "flag overrides file")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(New(), "")
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Backend = "postgres"
	assert.ErrorContains(t, cfg.Validate(), "invalid backend")

	cfg = base()
	cfg.Format = "xml"
	assert.ErrorContains(t, cfg.Validate(), "invalid format")

	cfg = base()
	cfg.IDStyle = "random"
	assert.ErrorContains(t, cfg.Validate(), "invalid id_style")

	cfg = base()
	cfg.MaxSubtreeNodes = -1
	assert.Error(t, cfg.Validate())
}
