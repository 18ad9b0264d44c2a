package syncconfig_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/i5heu/ouroboros-db/internal/syncconfig"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "data_path: "+dir+"\n")

	cfg, err := syncconfig.Load(path)
	require.NoError(t, err)
	require.Equal(t, dir, cfg.DataPath)
	require.Equal(t, ":8080", cfg.HTTPBindAddress)
	require.EqualValues(t, 100*1024*1024, cfg.DirectTransferThresholdBytes)
}

func TestLoad_MissingDataPath(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "minimum_free_gb: 1\n")

	_, err := syncconfig.Load(path)
	require.Error(t, err)
}

func TestLoad_NonExistentDataPath(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "data_path: /no/such/directory/hopefully\n")

	_, err := syncconfig.Load(path)
	require.Error(t, err)
}
