package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Cleanup(ResetConfig)
	chdir(t, t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultDataDir, cfg.DataDir)
	assert.Equal(t, DefaultStoreDir, cfg.StoreDir)
	assert.Equal(t, DefaultStorePrefix, cfg.StorePrefix)
	assert.True(t, cfg.SafeMode)
	assert.Equal(t, DefaultValidateTimeout, cfg.ValidateTimeout)
	assert.Equal(t, DefaultOutput, cfg.OutputFormat)
	assert.Empty(t, GetConfigFileUsed())
}

func TestLoad_ConfigFile(t *testing.T) {
	t.Cleanup(ResetConfig)
	dir := t.TempDir()
	writeConfig(t, dir, `
data_dir: /srv/cadastre
store_prefix: italia
safe_mode: false
validate_timeout: 2m
`)
	chdir(t, dir)

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "/srv/cadastre", cfg.DataDir)
	assert.Equal(t, "italia", cfg.StorePrefix)
	assert.False(t, cfg.SafeMode)
	assert.Equal(t, 2*time.Minute, cfg.ValidateTimeout)
	assert.Equal(t, DefaultStoreDir, cfg.StoreDir, "unset keys keep their defaults")
	assert.Equal(t, filepath.Join(dir, "catasto.yaml"), GetConfigFileUsed())
}

func TestLoad_FoundInParentDirectory(t *testing.T) {
	t.Cleanup(ResetConfig)
	dir := t.TempDir()
	writeConfig(t, dir, "store_prefix: parent\n")
	nested := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o750))
	chdir(t, nested)

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "parent", cfg.StorePrefix)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Cleanup(ResetConfig)
	dir := t.TempDir()
	writeConfig(t, dir, "store_prefix: from_file\n")
	chdir(t, dir)
	t.Setenv("CATASTO_STORE_PREFIX", "from_env")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "from_env", cfg.StorePrefix)
}

func TestLoad_FlagsOverrideEverything(t *testing.T) {
	t.Cleanup(ResetConfig)
	dir := t.TempDir()
	writeConfig(t, dir, "store_prefix: from_file\n")
	chdir(t, dir)
	t.Setenv("CATASTO_STORE_PREFIX", "from_env")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("store-prefix", "", "")
	flags.Bool("verbose", false, "")
	require.NoError(t, flags.Parse([]string{"--store-prefix", "from_flag"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, "from_flag", cfg.StorePrefix)
	assert.False(t, cfg.Verbose, "unchanged flags do not override lower layers")
}

func TestLoad_ExplicitConfigPath(t *testing.T) {
	t.Cleanup(ResetConfig)
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store_prefix: custom\n"), 0o600))
	chdir(t, t.TempDir())

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "custom", cfg.StorePrefix)
	assert.Equal(t, path, GetConfigFileUsed())
}

func TestLoad_InvalidYAML(t *testing.T) {
	t.Cleanup(ResetConfig)
	dir := t.TempDir()
	writeConfig(t, dir, "store_prefix: [unclosed\n")
	chdir(t, dir)

	_, err := Load("", nil)
	assert.Error(t, err)
}

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "catasto.yaml"), []byte(content), 0o600))
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
