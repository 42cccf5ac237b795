package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineFormatter(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{LogLevel: "debug"}))
	var buf bytes.Buffer
	SetOutput(&buf)

	WithFields(logrus.Fields{"op": 7, "file": 3}).Info("commit")
	line := buf.String()

	assert.Contains(t, line, "[INFO]")
	assert.Contains(t, line, "commit file=3 op=7")
	assert.Contains(t, line, "logger_test.go")
}

func TestLogLevel(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{LogLevel: "error"}))
	var buf bytes.Buffer
	SetOutput(&buf)

	Debugf("hidden %d", 1)
	Warnf("hidden %d", 2)
	Errorf("shown %d", 3)

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown 3")
	assert.Contains(t, buf.String(), "[ERRO]")

	t.Run("unknown level falls back to info", func(t *testing.T) {
		require.NoError(t, InitLogger(LogConfig{LogLevel: "loud"}))
		assert.Equal(t, logrus.InfoLevel, infoLog.GetLevel())
	})
}

func TestLogFile(t *testing.T) {
	dir := t.TempDir()
	cfg := LogConfig{
		InfoLogPath:  filepath.Join(dir, "logs", "info.log"),
		ErrorLogPath: filepath.Join(dir, "logs", "error.log"),
		LogLevel:     "info",
	}
	require.NoError(t, InitLogger(cfg))
	defer InitLogger(LogConfig{LogLevel: "warn"})

	Infof("started %s", "engine")
	Errorf("failed %s", "flush")

	info, err := os.ReadFile(cfg.InfoLogPath)
	require.NoError(t, err)
	assert.Contains(t, string(info), "started engine")
	assert.NotContains(t, string(info), "failed flush")

	errs, err := os.ReadFile(cfg.ErrorLogPath)
	require.NoError(t, err)
	assert.Contains(t, string(errs), "failed flush")
}
