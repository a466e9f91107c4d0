package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInit(t *testing.T) {
	t.Cleanup(func() { Log = zap.NewNop() })

	t.Run("rejects unknown level", func(t *testing.T) {
		err := Init("loud", "json", "stdout")
		assert.Error(t, err)
	})

	t.Run("rejects unknown format", func(t *testing.T) {
		err := Init("info", "xml", "stdout")
		assert.Error(t, err)
	})

	t.Run("writes json to file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "app.log")
		require.NoError(t, Init("debug", "json", path))

		Info("index ready", zap.Int("sections", 5))
		Sync()

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"message":"index ready"`)
		assert.Contains(t, string(data), `"sections":5`)
	})
}

func TestDefaultLoggerIsUsable(t *testing.T) {
	assert.NotPanics(t, func() {
		Warn("before init")
		_ = GetLogger()
	})
}
