package logging

import (
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestConfigure(t *testing.T) {
	defer log.SetOutput(os.Stderr)
	defer log.SetLevel(log.InfoLevel)

	path := filepath.Join(t.TempDir(), "board.log")
	cfg := DefaultConfig()
	cfg.File = path
	cfg.Level = "debug"
	cfg.Format = "json"

	closer, err := Configure(cfg)
	require.NoError(t, err)
	require.Equal(t, log.DebugLevel, log.GetLevel())

	Component("test").WithField("k", "v").Info("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"component":"test"`)
	require.Contains(t, string(data), `"msg":"hello"`)
}

func TestConfigure_Invalid(t *testing.T) {
	_, err := Configure(Config{Level: "loud"})
	require.Error(t, err)

	_, err = Configure(Config{Level: "info", Format: "xml"})
	require.Error(t, err)
}
