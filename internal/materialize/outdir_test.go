package materialize

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareOutputDir(t *testing.T) {
	root := t.TempDir()

	t.Run("creates missing dir", func(t *testing.T) {
		dir, err := PrepareOutputDir(filepath.Join(root, "out", "batch") + "/")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "out", "batch"), dir)
		assert.DirExists(t, dir)
	})

	t.Run("rejects traversal", func(t *testing.T) {
		_, err := PrepareOutputDir(root + "/../etc")
		assert.ErrorContains(t, err, "traversal")
	})

	t.Run("rejects empty", func(t *testing.T) {
		_, err := PrepareOutputDir("  ")
		assert.Error(t, err)
	})

	t.Run("rejects file", func(t *testing.T) {
		file := filepath.Join(root, "movie.mov")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
		_, err := PrepareOutputDir(file)
		assert.ErrorContains(t, err, "not a directory")
	})
}
