package ramfs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		path    string
		dir     string
		base    string
		wantErr error
	}{
		{"root", "/", "/", "/", nil},
		{"top_level", "/a", "/", "a", nil},
		{"nested", "/a/b/c", "/a/b", "c", nil},
		{"double_slash_prefix", "//a", "/", "a", nil},
		{"relative", "a/b", "", "", EINVAL},
		{"empty", "", "", "", EINVAL},
		{"trailing_slash", "/a/", "", "", EINVAL},
		{"too_long", "/" + strings.Repeat("x", PathMax-1), "", "", ENAMETOOLONG},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir, base, err := splitPath(tt.path)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.dir, dir)
			assert.Equal(t, tt.base, base)
		})
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	fs := mustMount(t)
	require.NoError(t, fs.Mkdir("/a", 0o755))
	require.NoError(t, fs.Mkdir("/a/b", 0o755))
	mustWriteFile(t, fs, "/a/f", "x")

	a, err := fs.resolve("/a")
	require.NoError(t, err)
	b, err := fs.resolve("/a/b")
	require.NoError(t, err)

	t.Run("empty components are skipped", func(t *testing.T) {
		got, err := fs.resolve("//a///b/")
		require.NoError(t, err)
		assert.Equal(t, b.ino, got.ino)
	})

	t.Run("dot entries are followed", func(t *testing.T) {
		got, err := fs.resolve("/a/b/..")
		require.NoError(t, err)
		assert.Equal(t, a.ino, got.ino)

		got, err = fs.resolve("/a/./b")
		require.NoError(t, err)
		assert.Equal(t, b.ino, got.ino)
	})

	t.Run("root is its own parent", func(t *testing.T) {
		root, err := fs.resolve("/")
		require.NoError(t, err)
		parent, err := fs.findChild(root, "..")
		require.NoError(t, err)
		assert.Equal(t, root.ino, parent.ino)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := fs.resolve("/a/missing")
		assert.ErrorIs(t, err, ENOENT)
		_, err = fs.resolve("a")
		assert.ErrorIs(t, err, EINVAL)
		_, err = fs.resolve("/a/f/x")
		assert.ErrorIs(t, err, ENOTDIR)
		_, err = fs.resolve("/" + strings.Repeat("y", PathMax))
		assert.ErrorIs(t, err, ENAMETOOLONG)
	})

	t.Run("lookup is case sensitive", func(t *testing.T) {
		_, err := fs.resolve("/A")
		assert.ErrorIs(t, err, ENOENT)
	})
}
