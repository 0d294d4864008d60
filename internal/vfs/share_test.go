package vfs

import (
	"io"
	"math"
	"os"
	"runtime"
	"sort"
	"testing"
	"time"

	"github.com/macos-fuse-t/go-smb2/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ramfs/internal/ramfs"
)

func newTestShare(t *testing.T, opts ...ramfs.Option) *RamShare {
	t.Helper()
	fs, err := ramfs.Mount(opts...)
	require.NoError(t, err)
	return NewRamShare(fs)
}

func writeShareFile(t *testing.T, s *RamShare, p, content string) {
	t.Helper()
	h, err := s.Open(p, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	n, err := s.Write(h, []byte(content), 0, 0)
	require.NoError(t, err)
	require.Equal(t, len(content), n)
	require.NoError(t, s.Close(h))
}

func readDirNames(t *testing.T, s *RamShare, h vfs.VfsHandle, count int) []string {
	t.Helper()
	entries, err := s.ReadDir(h, 0, count)
	if err == io.EOF {
		return nil
	}
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names
}

type recordingObserver struct {
	ops  []string
	errs []error
}

func (o *recordingObserver) ObserveOp(op string, err error, elapsed time.Duration) {
	o.ops = append(o.ops, op)
	o.errs = append(o.errs, err)
}

func TestShareOpenReadWrite(t *testing.T) {
	s := newTestShare(t)

	writeShareFile(t, s, "hello.txt", "hello world")

	h, err := s.Open("/hello.txt", os.O_RDONLY, 0)
	require.NoError(t, err)
	defer s.Close(h)

	buf := make([]byte, 5)
	n, err := s.Read(h, buf, 6, 0)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf[:n]))

	_, err = s.Read(h, buf, 11, 0)
	assert.Equal(t, io.EOF, err)

	n, err = s.Read(h, nil, 100, 0)
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestShareOpenErrors(t *testing.T) {
	s := newTestShare(t)

	_, err := s.Open("/missing", os.O_RDONLY, 0)
	assert.Equal(t, ramfs.ENOENT, err)

	_, err = s.Mkdir("/dir", 0o755)
	require.NoError(t, err)
	_, err = s.Open("/dir", os.O_RDONLY, 0)
	assert.Equal(t, EISDIR, err)

	writeShareFile(t, s, "/f", "x")
	_, err = s.Open("/f", os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	assert.Equal(t, ramfs.EEXIST, err)

	_, err = s.Read(vfs.VfsHandle(4242), make([]byte, 1), 0, 0)
	assert.Equal(t, EBADF, err)
	assert.Equal(t, EBADF, s.Close(vfs.VfsHandle(4242)))
}

func TestShareWritePastEndZeroFills(t *testing.T) {
	s := newTestShare(t)

	h, err := s.Open("/sparse", os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer s.Close(h)

	_, err = s.Write(h, []byte("ab"), 0, 0)
	require.NoError(t, err)
	n, err := s.Write(h, []byte("cd"), 5, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	buf := make([]byte, 16)
	n, err = s.Read(h, buf, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{'a', 'b', 0, 0, 0, 'c', 'd'}, buf[:n])
}

func TestShareWriteBudgetIsENOSPC(t *testing.T) {
	s := newTestShare(t, ramfs.WithMaxBytes(3*ramfs.DirentSize+4))

	h, err := s.Open("/f", os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer s.Close(h)

	_, err = s.Write(h, []byte("too large for the budget"), 0, 0)
	assert.Equal(t, ENOSPC, err)
}

func TestShareGrowthChecksBudgetFirst(t *testing.T) {
	s := newTestShare(t, ramfs.WithMaxBytes(1<<20))
	writeShareFile(t, s, "/g", "abc")

	h, err := s.Open("/g", os.O_RDWR, 0)
	require.NoError(t, err)
	defer s.Close(h)
	before := s.Usage()

	var start, end runtime.MemStats
	runtime.ReadMemStats(&start)

	_, err = s.Write(h, []byte("x"), 512<<20, 0)
	assert.Equal(t, ENOSPC, err)
	assert.Equal(t, ENOSPC, s.Truncate(h, 512<<20))

	in := &vfs.Attributes{}
	in.SetSizeBytes(512 << 20)
	_, err = s.SetAttr(h, in)
	assert.Equal(t, ENOSPC, err)

	for _, off := range []uint64{1 << 48, 1 << 62, math.MaxUint64} {
		_, err = s.Write(h, []byte("x"), off, 0)
		assert.Equalf(t, ENOSPC, err, "offset %d", off)
		assert.Equalf(t, ENOSPC, s.Truncate(h, off), "size %d", off)
	}

	runtime.ReadMemStats(&end)
	assert.Less(t, end.TotalAlloc-start.TotalAlloc, uint64(16<<20), "nothing sized by the offset is allocated")
	assert.Equal(t, before, s.Usage())

	attrs, err := s.GetAttr(h)
	require.NoError(t, err)
	size, _ := attrs.GetSizeBytes()
	assert.EqualValues(t, 3, size, "failed growth leaves the file as it was")
}

func TestShareWritePastEndIsAllOrNothing(t *testing.T) {
	s := newTestShare(t, ramfs.WithMaxBytes(1<<20))
	writeShareFile(t, s, "/w", "abc")

	h, err := s.Open("/w", os.O_RDWR, 0)
	require.NoError(t, err)
	defer s.Close(h)

	// The gap alone fits, the gap plus the payload does not.
	room := int(s.Usage().MaxBytes - s.Usage().Bytes)
	gapOffset := uint64(3 + room - 1)
	n, err := s.Write(h, []byte("xy"), gapOffset, 0)
	assert.Equal(t, ENOSPC, err)
	assert.Equal(t, 0, n)

	attrs, err := s.GetAttr(h)
	require.NoError(t, err)
	size, _ := attrs.GetSizeBytes()
	assert.EqualValues(t, 3, size)

	n, err = s.Write(h, []byte("x"), gapOffset, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, s.Usage().MaxBytes, s.Usage().Bytes)
}

func TestShareTruncate(t *testing.T) {
	s := newTestShare(t)
	writeShareFile(t, s, "/t", "abcdef")

	h, err := s.Open("/t", os.O_RDWR, 0)
	require.NoError(t, err)
	defer s.Close(h)

	require.NoError(t, s.Truncate(h, 6))
	require.NoError(t, s.Truncate(h, 8))
	attrs, err := s.GetAttr(h)
	require.NoError(t, err)
	size, _ := attrs.GetSizeBytes()
	assert.EqualValues(t, 8, size)

	assert.Equal(t, ramfs.ENOTSUP, s.Truncate(h, 3))

	require.NoError(t, s.Truncate(h, 0))
	attrs, err = s.GetAttr(h)
	require.NoError(t, err)
	size, _ = attrs.GetSizeBytes()
	assert.EqualValues(t, 0, size)
}

func TestShareSetAttrSize(t *testing.T) {
	s := newTestShare(t)
	writeShareFile(t, s, "/s", "data")

	h, err := s.Open("/s", os.O_RDWR, 0)
	require.NoError(t, err)
	defer s.Close(h)

	in := &vfs.Attributes{}
	in.SetSizeBytes(0)
	out, err := s.SetAttr(h, in)
	require.NoError(t, err)
	size, _ := out.GetSizeBytes()
	assert.EqualValues(t, 0, size)

	// Attributes without a size are accepted and leave the file alone.
	out, err = s.SetAttr(h, &vfs.Attributes{})
	require.NoError(t, err)
	size, _ = out.GetSizeBytes()
	assert.EqualValues(t, 0, size)
}

func TestShareReadDir(t *testing.T) {
	s := newTestShare(t)
	for _, name := range []string{"a", "b", "c", "d"} {
		writeShareFile(t, s, "/"+name, name)
	}

	h, err := s.OpenDir("/")
	require.NoError(t, err)
	defer s.Close(h)

	assert.Equal(t, []string{".", "..", "a"}, readDirNames(t, s, h, 3))
	assert.Equal(t, []string{"b", "c", "d"}, readDirNames(t, s, h, 3))

	// Nothing left; the empty batch marks the enumeration done.
	_, err = s.ReadDir(h, 0, 3)
	assert.Equal(t, io.EOF, err)

	// A non-zero offset restarts.
	entries, err := s.ReadDir(h, 1, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 6)
	_, err = s.ReadDir(h, 0, 0)
	assert.Equal(t, io.EOF, err)
}

func TestShareReadDirOnFile(t *testing.T) {
	s := newTestShare(t)
	writeShareFile(t, s, "/f", "x")

	h, err := s.Open("/f", os.O_RDONLY, 0)
	require.NoError(t, err)
	defer s.Close(h)

	_, err = s.ReadDir(h, 0, 10)
	assert.Equal(t, ENOTDIR, err)
}

func TestShareListDirAndStat(t *testing.T) {
	s := newTestShare(t)
	_, err := s.Mkdir("/docs", 0o755)
	require.NoError(t, err)
	writeShareFile(t, s, "/docs/readme", "hi")

	infos, err := s.ListDir("/")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "docs", infos[0].Name)
	assert.True(t, infos[0].IsDir())
	assert.EqualValues(t, 2, infos[0].Nlink)

	info, err := s.StatPath("/docs/readme")
	require.NoError(t, err)
	assert.Equal(t, "readme", info.Name)
	assert.False(t, info.IsDir())
	assert.EqualValues(t, 2, info.Size)
	assert.Equal(t, os.FileMode(0o644), info.Mode)
}

func TestShareLookup(t *testing.T) {
	s := newTestShare(t)
	_, err := s.Mkdir("/a", 0o755)
	require.NoError(t, err)
	writeShareFile(t, s, "/a/b", "x")

	attrs, err := s.Lookup(0, "a/b")
	require.NoError(t, err)
	assert.Equal(t, vfs.FileTypeRegularFile, attrs.GetFileType())

	dh, err := s.OpenDir("/a")
	require.NoError(t, err)
	defer s.Close(dh)

	_, err = s.Lookup(dh, "b")
	assert.NoError(t, err)
	_, err = s.Lookup(dh, "nope")
	assert.Equal(t, ramfs.ENOENT, err)

	root, err := s.GetAttr(0)
	require.NoError(t, err)
	assert.EqualValues(t, ramfs.RootIno, root.GetInodeNumber())
}

func TestShareUnlink(t *testing.T) {
	s := newTestShare(t)
	_, err := s.Mkdir("/empty", 0o755)
	require.NoError(t, err)
	_, err = s.Mkdir("/full", 0o755)
	require.NoError(t, err)
	writeShareFile(t, s, "/full/f", "x")

	require.NoError(t, s.UnlinkByPath("/empty"))
	_, err = s.GetAttrByPath("/empty")
	assert.Equal(t, ramfs.ENOENT, err)

	assert.Equal(t, ramfs.ENOTEMPTY, s.UnlinkByPath("/full"))
	assert.Equal(t, ramfs.ENOTSUP, s.UnlinkByPath("/full/f"))

	h, err := s.Open("/full/f", os.O_RDONLY, 0)
	require.NoError(t, err)
	assert.Equal(t, ramfs.ENOTSUP, s.Unlink(h))
	require.NoError(t, s.Close(h))
}

func TestShareUnsupported(t *testing.T) {
	s := newTestShare(t)
	writeShareFile(t, s, "/f", "x")

	h, err := s.Open("/f", os.O_RDONLY, 0)
	require.NoError(t, err)
	defer s.Close(h)

	assert.Equal(t, ramfs.ENOTSUP, s.Rename(h, "g", 0))
	_, err = s.Symlink(h, "/target", 0o777)
	assert.Equal(t, ramfs.ENOTSUP, err)
	_, err = s.Readlink(h)
	assert.Equal(t, ENOTSUP, err)
	_, err = s.Link(1, 2, "x")
	assert.Equal(t, ENOTSUP, err)

	names, err := s.Listxattr(h)
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.NoError(t, s.Setxattr(h, "com.apple.FinderInfo", []byte{1}))
	assert.NoError(t, s.Removexattr(h, "com.apple.FinderInfo"))
}

func TestShareStatFS(t *testing.T) {
	s := newTestShare(t, ramfs.WithMaxBytes(1<<20))
	writeShareFile(t, s, "/f", "x")

	attrs, err := s.StatFS(0)
	require.NoError(t, err)
	require.NotNil(t, attrs)

	total, free := capacity(s.Usage())
	assert.EqualValues(t, 1<<20, total)
	assert.Less(t, free, total)

	total, free = capacity(ramfs.Usage{Bytes: 10})
	assert.EqualValues(t, uint64(1<<40), total)
	assert.EqualValues(t, uint64(1<<40)-10, free)

	_, free = capacity(ramfs.Usage{Bytes: 20, MaxBytes: 10})
	assert.Zero(t, free)
}

func TestShareObserver(t *testing.T) {
	s := newTestShare(t)
	obs := &recordingObserver{}
	s.SetObserver(obs)

	_, err := s.Mkdir("/d", 0o755)
	require.NoError(t, err)
	_, err = s.Mkdir("/d", 0o755)
	require.Error(t, err)

	require.Equal(t, []string{"Mkdir", "Mkdir"}, obs.ops)
	assert.NoError(t, obs.errs[0])
	assert.Equal(t, ramfs.EEXIST, obs.errs[1])
}

func TestShareModTimeMoves(t *testing.T) {
	s := newTestShare(t)

	before, err := s.StatPath("/")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	writeShareFile(t, s, "/f", "x")

	after, err := s.StatPath("/")
	require.NoError(t, err)
	assert.True(t, after.ModTime.After(before.ModTime), "creating a file updates the parent's mtime")
}

func TestShareShutdownClosesHandles(t *testing.T) {
	s := newTestShare(t)
	writeShareFile(t, s, "/a", "x")

	_, err := s.Open("/a", os.O_RDONLY, 0)
	require.NoError(t, err)
	_, err = s.OpenDir("/")
	require.NoError(t, err)
	require.Equal(t, 2, s.OpenHandles())

	require.NoError(t, s.Shutdown())
	assert.Zero(t, s.OpenHandles())

	_, err = s.GetAttrByPath("/")
	assert.Equal(t, ramfs.EINVAL, err)
}

func TestRecoverSharePanic(t *testing.T) {
	run := func() (err error) {
		defer recoverSharePanic("test", &err)
		panic("boom")
	}
	assert.Equal(t, EIO, run())
}

func TestShareConcurrentWriters(t *testing.T) {
	s := newTestShare(t)
	done := make(chan string)
	for i := 0; i < 8; i++ {
		name := string(rune('a' + i))
		go func() {
			h, err := s.Open("/"+name, os.O_CREATE|os.O_RDWR, 0o644)
			if err == nil {
				_, _ = s.Write(h, []byte(name), 0, 0)
				_ = s.Close(h)
			}
			done <- name
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	infos, err := s.ListDir("/")
	require.NoError(t, err)
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f", "g", "h"}, names)
}
