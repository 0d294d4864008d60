package ramfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mustMount(t *testing.T, opts ...Option) *FS {
	t.Helper()
	fs, err := Mount(opts...)
	require.NoError(t, err)
	return fs
}

func mustWriteFile(t *testing.T, fs *FS, path, content string) {
	t.Helper()
	f, err := fs.Creat(path, 0o644)
	require.NoError(t, err)
	n, err := fs.Write(f, []byte(content))
	require.NoError(t, err)
	require.Equal(t, len(content), n)
	require.NoError(t, fs.Close(f))
}

func listNames(t *testing.T, fs *FS, path string) []string {
	t.Helper()
	f, err := fs.Open(path, 0, 0)
	require.NoError(t, err)
	defer fs.Close(f)

	var names []string
	buf := make([]Dirent, 3)
	for {
		n, err := fs.Getdents(f, buf)
		require.NoError(t, err)
		if n == 0 {
			return names
		}
		for _, d := range buf[:n] {
			names = append(names, d.Name)
		}
	}
}

// countReferences walks every live directory and counts the records naming
// each inode. The result must match every inode's link count.
func countReferences(fs *FS) map[Ino]uint32 {
	refs := make(map[Ino]uint32)
	for _, n := range fs.inodes {
		if !n.isDir() {
			continue
		}
		content := n.content.Bytes()
		for pos := 0; pos+DirentSize <= len(content); pos += DirentSize {
			refs[recordIno(content, pos)]++
		}
	}
	return refs
}

func requireLinkCountsConsistent(t *testing.T, fs *FS) {
	t.Helper()
	refs := countReferences(fs)
	for ino, n := range fs.inodes {
		require.Equalf(t, refs[ino], n.nlink, "link count of inode %d", ino)
	}
}
