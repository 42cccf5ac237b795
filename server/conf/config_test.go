package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCfgDefaults(t *testing.T) {
	cfg, err := NewCfg().Load(&CommandLineArgs{ConfigPath: filepath.Join(t.TempDir(), "absent.ini")})
	require.NoError(t, err)

	assert.Equal(t, 16384, cfg.PageSize)
	assert.Equal(t, 8192, cfg.BufferPoolPages())
	assert.True(t, cfg.RedoLogEnabled)
	assert.Equal(t, filepath.Join("data", "redo"), cfg.RedoLogPath())
	assert.Equal(t, 0.25, cfg.HashMergeThreshold)
}

func TestLoadIni(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xindex.ini")
	content := `
[storage]
data_dir = /var/lib/xindex
page_size = 8192
buffer_pool_size = 1048576
redo_log_dir = /var/log/xindex/redo
sync_on_commit = false

[index]
hash_merge_threshold = 0.1

[logs]
log_level = DEBUG
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := NewCfg().Load(&CommandLineArgs{ConfigPath: path})
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/xindex", cfg.DataDir)
	assert.Equal(t, 8192, cfg.PageSize)
	assert.Equal(t, 128, cfg.BufferPoolPages())
	assert.Equal(t, "/var/log/xindex/redo", cfg.RedoLogPath())
	assert.False(t, cfg.SyncOnCommit)
	assert.Equal(t, 0.1, cfg.HashMergeThreshold)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 8192, cfg.GetInt("storage.page_size"))
	assert.Equal(t, "/var/lib/xindex", cfg.GetString("storage.data_dir"))
}

func TestLoadToml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xindex.toml")
	content := `
[storage]
data_dir = "tomldata"
page_size = 32768
buffer_pool_size = 4194304
redo_log_enabled = false

[index]
hash_merge_threshold = 0.2

[logs]
log_level = "nonsense"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := NewCfg().Load(&CommandLineArgs{ConfigPath: path})
	require.NoError(t, err)

	assert.Equal(t, "tomldata", cfg.DataDir)
	assert.Equal(t, 32768, cfg.PageSize)
	assert.False(t, cfg.RedoLogEnabled)
	assert.Equal(t, 0.2, cfg.HashMergeThreshold)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	cfg := NewCfg()
	cfg.PageSize = 1000
	assert.Error(t, cfg.Validate())

	cfg = NewCfg()
	cfg.HashMergeThreshold = 0.7
	assert.Error(t, cfg.Validate())

	cfg = NewCfg()
	cfg.BufferPoolSize = cfg.PageSize
	assert.Error(t, cfg.Validate())
}
