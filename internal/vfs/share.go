// Copyright 2024 LatentFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vfs

import (
	"io"
	"os"
	"path"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/macos-fuse-t/go-smb2/vfs"

	"ramfs/internal/common"
	"ramfs/internal/ramfs"
)

// statFSBlockSize is the block size reported to clients by StatFS.
const statFSBlockSize = 4096

// direntBatch is how many records ReadDir pulls from the core per call.
const direntBatch = 64

// Observer receives the outcome of every share operation.
type Observer interface {
	ObserveOp(op string, err error, elapsed time.Duration)
}

// RamShare implements vfs.VFSFileSystem on top of one ramfs instance.
// The core is not safe for concurrent use, so every operation holds mu for
// its whole duration.
type RamShare struct {
	mu       sync.Mutex
	fs       *ramfs.FS
	handles  *HandleManager
	observer Observer
	mounted  time.Time

	// The core does not track time. Clients still need mtime to move when
	// content changes, so the share records when it last changed each inode.
	mtimes map[ramfs.Ino]time.Time
}

var _ vfs.VFSFileSystem = (*RamShare)(nil)

// NewRamShare wraps fs. The share takes over the lifetime of fs: Shutdown
// releases it.
func NewRamShare(fs *ramfs.FS) *RamShare {
	return &RamShare{
		fs:      fs,
		handles: NewHandleManager(),
		mounted: time.Now(),
		mtimes:  make(map[ramfs.Ino]time.Time),
	}
}

// SetObserver installs an observer for operation outcomes.
func (s *RamShare) SetObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = o
}

// Usage reports the resources held by the underlying filesystem.
func (s *RamShare) Usage() ramfs.Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fs.Usage()
}

// OpenHandles returns the number of handles held by clients.
func (s *RamShare) OpenHandles() int {
	return s.handles.Count()
}

// Shutdown closes every client handle and releases the filesystem.
func (s *RamShare) Shutdown() (err error) {
	defer recoverSharePanic("Shutdown", &err)
	s.mu.Lock()
	defer s.mu.Unlock()

	files := s.handles.Drain()
	for _, f := range files {
		if cerr := s.fs.Close(f); cerr != nil {
			log.Debugf("[VFS] Shutdown: close handle: %v", cerr)
		}
	}
	log.Infof("[VFS] Shutdown: closed %d handles, releasing filesystem", len(files))
	return s.fs.Release()
}

// recoverSharePanic turns a panic inside an operation into EIO so a broken
// invariant costs the client one request rather than the whole daemon.
func recoverSharePanic(operation string, err *error) {
	if r := recover(); r != nil {
		log.Errorf("[VFS] PANIC RECOVERED in %s: %v\nStack:\n%s", operation, r, debug.Stack())
		if err != nil {
			*err = EIO
		}
	}
}

func (s *RamShare) observe(op string, err *error) func() {
	start := time.Now()
	return func() {
		if log.IsLevelEnabled(log.TraceLevel) {
			log.Tracef("[VFS] %s → %v (%v)", op, *err, time.Since(start))
		}
		if s.observer != nil {
			s.observer.ObserveOp(op, *err, time.Since(start))
		}
	}
}

func (s *RamShare) touch(inos ...ramfs.Ino) {
	now := time.Now()
	for _, ino := range inos {
		s.mtimes[ino] = now
	}
}

func (s *RamShare) mtime(ino ramfs.Ino) time.Time {
	if t, ok := s.mtimes[ino]; ok {
		return t
	}
	return s.mounted
}

func (s *RamShare) attrs(st *ramfs.Stat) *vfs.Attributes {
	return statToAttributes(st, s.mtime(st.Ino))
}

func (s *RamShare) statLocked(p string) (*ramfs.Stat, error) {
	return s.fs.Stat(p)
}

func (s *RamShare) parentIno(p string) ramfs.Ino {
	st, err := s.fs.Stat(common.ParentPath(p))
	if err != nil {
		return 0
	}
	return st.Ino
}

// --- File Operations ---

// Open opens a regular file, creating it if O_CREATE is set.
// Directories must be opened with OpenDir.
func (s *RamShare) Open(p string, flags int, mode int) (handle vfs.VfsHandle, err error) {
	defer s.observe("Open", &err)()
	defer recoverSharePanic("Open", &err)
	log.Debugf("[VFS] Open: path=%q flags=%d mode=%o", p, flags, mode)
	s.mu.Lock()
	defer s.mu.Unlock()

	p = common.AbsPath(p)

	st, err := s.statLocked(p)
	existed := err == nil
	if existed && st.IsDir() {
		return 0, EISDIR
	}

	f, err := s.fs.Open(p, flags, uint32(mode))
	if err != nil {
		return 0, clientError(err)
	}
	if !existed || flags&os.O_TRUNC != 0 {
		s.touch(f.Ino())
		if !existed {
			s.touch(s.parentIno(p))
		}
	}

	h := s.handles.Allocate(f, p, false, flags)
	return vfs.VfsHandle(h), nil
}

// Close closes a file or directory handle
func (s *RamShare) Close(handle vfs.VfsHandle) (err error) {
	defer recoverSharePanic("Close", &err)
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.handles.Get(HandleID(handle))
	if !ok {
		return EBADF
	}
	s.handles.Release(HandleID(handle))
	return s.fs.Close(info.file)
}

// Read reads from a file at an explicit offset. Reading at or past the end
// returns io.EOF.
func (s *RamShare) Read(handle vfs.VfsHandle, buf []byte, offset uint64, flags int) (n int, err error) {
	defer s.observe("Read", &err)()
	defer recoverSharePanic("Read", &err)
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.handles.Get(HandleID(handle))
	if !ok {
		return 0, EBADF
	}
	if info.isDir {
		return 0, EISDIR
	}

	st, err := s.fs.Fstat(info.file)
	if err != nil {
		return 0, err
	}
	if int64(offset) >= st.Size {
		if len(buf) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	if _, err := s.fs.Seek(info.file, int64(offset), io.SeekStart); err != nil {
		return 0, err
	}
	return s.fs.Read(info.file, buf)
}

// Write writes at an explicit offset. A write that starts past the end of
// the file first grows it with zeros, since the core has no holes. The
// growth covers the gap and buf together, so the budget is checked once and
// a write that does not fit leaves the file as it was.
func (s *RamShare) Write(handle vfs.VfsHandle, buf []byte, offset uint64, flags int) (n int, err error) {
	defer s.observe("Write", &err)()
	defer recoverSharePanic("Write", &err)
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.handles.Get(HandleID(handle))
	if !ok {
		return 0, EBADF
	}
	if info.isDir {
		return 0, EISDIR
	}

	st, err := s.fs.Fstat(info.file)
	if err != nil {
		return 0, err
	}

	if offset > ramfs.MaxFileSize || uint64(len(buf)) > ramfs.MaxFileSize-offset {
		return 0, ENOSPC
	}
	off := int64(offset)
	if off > st.Size {
		if len(buf) == 0 {
			return 0, nil
		}
		if err := s.fs.Grow(info.file, off+int64(len(buf))); err != nil {
			return 0, clientError(err)
		}
	}
	if _, err := s.fs.Seek(info.file, off, io.SeekStart); err != nil {
		return 0, err
	}
	n, err = s.fs.Write(info.file, buf)
	if err != nil {
		return n, clientError(err)
	}
	s.touch(info.file.Ino())
	return n, nil
}

// Truncate changes a file's size. The core only supports emptying a file
// and growing it, so shrinking to a non-zero size is not supported.
func (s *RamShare) Truncate(handle vfs.VfsHandle, size uint64) (err error) {
	defer s.observe("Truncate", &err)()
	defer recoverSharePanic("Truncate", &err)
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.handles.Get(HandleID(handle))
	if !ok {
		return EBADF
	}
	if info.isDir {
		return EISDIR
	}
	return s.truncateLocked(info, size)
}

func (s *RamShare) truncateLocked(info *openHandle, newSize uint64) error {
	if newSize > ramfs.MaxFileSize {
		return ENOSPC
	}
	size := int64(newSize)
	st, err := s.fs.Fstat(info.file)
	if err != nil {
		return err
	}

	switch {
	case size == st.Size:
		return nil
	case size == 0:
		f, err := s.fs.Open(info.path, syscall.O_WRONLY|syscall.O_TRUNC, 0)
		if err != nil {
			return err
		}
		if err := s.fs.Close(f); err != nil {
			return err
		}
	case size > st.Size:
		if err := s.fs.Grow(info.file, size); err != nil {
			return clientError(err)
		}
	default:
		return s.fs.Ftruncate(info.file, size)
	}
	s.touch(info.file.Ino())
	return nil
}

// FSync is a no-op; there is nothing to persist.
func (s *RamShare) FSync(handle vfs.VfsHandle) error {
	return nil
}

// Flush is a no-op.
func (s *RamShare) Flush(handle vfs.VfsHandle) error {
	return nil
}

// --- Directory Operations ---

// Mkdir creates a directory
func (s *RamShare) Mkdir(p string, mode int) (attrs *vfs.Attributes, err error) {
	defer s.observe("Mkdir", &err)()
	defer recoverSharePanic("Mkdir", &err)
	log.Debugf("[VFS] Mkdir: path=%q mode=%o", p, mode)
	s.mu.Lock()
	defer s.mu.Unlock()

	p = common.AbsPath(p)
	if err := s.fs.Mkdir(p, uint32(mode)); err != nil {
		return nil, clientError(err)
	}
	st, err := s.fs.Stat(p)
	if err != nil {
		return nil, err
	}
	s.touch(st.Ino, s.parentIno(p))
	return s.attrs(st), nil
}

// OpenDir opens a directory for enumeration
func (s *RamShare) OpenDir(p string) (handle vfs.VfsHandle, err error) {
	defer s.observe("OpenDir", &err)()
	defer recoverSharePanic("OpenDir", &err)
	log.Debugf("[VFS] OpenDir: path=%q", p)
	s.mu.Lock()
	defer s.mu.Unlock()

	p = common.AbsPath(p)
	flags := os.O_RDONLY | syscall.O_DIRECTORY
	f, err := s.fs.Open(p, flags, 0)
	if err != nil {
		return 0, err
	}
	h := s.handles.Allocate(f, p, true, flags)
	return vfs.VfsHandle(h), nil
}

// OpenAny opens either a file or a directory
func (s *RamShare) OpenAny(p string, flags int, mode int) (handle vfs.VfsHandle, err error) {
	s.mu.Lock()
	st, serr := s.statLocked(common.AbsPath(p))
	s.mu.Unlock()

	if serr == nil && st.IsDir() {
		return s.OpenDir(p)
	}
	return s.Open(p, flags, mode)
}

// ReadDir lists a directory in record order. Following SMB2, a non-zero
// offset restarts the enumeration; io.EOF signals that it is exhausted.
func (s *RamShare) ReadDir(handle vfs.VfsHandle, offset int, count int) (entries []vfs.DirInfo, err error) {
	defer s.observe("ReadDir", &err)()
	defer recoverSharePanic("ReadDir", &err)
	log.Debugf("[VFS] ReadDir: handle=%d offset=%d count=%d", handle, offset, count)
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.handles.Get(HandleID(handle))
	if !ok {
		return nil, EBADF
	}
	if !info.isDir {
		return nil, ENOTDIR
	}

	if offset > 0 {
		if _, err := s.fs.Seek(info.file, 0, io.SeekStart); err != nil {
			return nil, err
		}
		s.handles.SetDirEnumDone(HandleID(handle), false)
	}
	if s.handles.IsDirEnumDone(HandleID(handle)) {
		return nil, io.EOF
	}

	dirents, err := s.readDirentsLocked(info.file, count)
	if err != nil {
		return nil, err
	}
	if count <= 0 || len(dirents) < count {
		s.handles.SetDirEnumDone(HandleID(handle), true)
	}
	if len(dirents) == 0 {
		return nil, io.EOF
	}

	for _, d := range dirents {
		st, err := s.fs.Stat(path.Join(info.path, d.Name))
		if err != nil {
			log.Debugf("[VFS] ReadDir: stat %q: %v", d.Name, err)
			continue
		}
		entries = append(entries, dirInfo(d.Name, s.attrs(st)))
	}
	return entries, nil
}

// readDirentsLocked pulls up to limit records (all when limit <= 0) from
// the handle's current position.
func (s *RamShare) readDirentsLocked(f *ramfs.File, limit int) ([]ramfs.Dirent, error) {
	var out []ramfs.Dirent
	buf := make([]ramfs.Dirent, direntBatch)
	for limit <= 0 || len(out) < limit {
		want := len(buf)
		if limit > 0 && limit-len(out) < want {
			want = limit - len(out)
		}
		n, err := s.fs.Getdents(f, buf[:want])
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
		out = append(out, buf[:n]...)
	}
	return out, nil
}

// ListDir returns every entry of a directory except "." and "..".
func (s *RamShare) ListDir(p string) (infos []Info, err error) {
	defer s.observe("ListDir", &err)()
	defer recoverSharePanic("ListDir", &err)
	s.mu.Lock()
	defer s.mu.Unlock()

	p = common.AbsPath(p)
	f, err := s.fs.Open(p, os.O_RDONLY|syscall.O_DIRECTORY, 0)
	if err != nil {
		return nil, err
	}
	defer s.fs.Close(f)

	dirents, err := s.readDirentsLocked(f, 0)
	if err != nil {
		return nil, err
	}
	for _, d := range dirents {
		if d.Name == "." || d.Name == ".." {
			continue
		}
		st, err := s.fs.Stat(path.Join(p, d.Name))
		if err != nil {
			return nil, err
		}
		infos = append(infos, infoFromStat(d.Name, st, s.mtime(st.Ino)))
	}
	return infos, nil
}

// StatPath describes the object at p.
func (s *RamShare) StatPath(p string) (info Info, err error) {
	defer recoverSharePanic("StatPath", &err)
	s.mu.Lock()
	defer s.mu.Unlock()

	p = common.AbsPath(p)
	st, err := s.fs.Stat(p)
	if err != nil {
		return Info{}, err
	}
	return infoFromStat(path.Base(p), st, s.mtime(st.Ino)), nil
}

// --- Metadata Operations ---

// GetAttr gets file attributes. Handle 0 means the root directory.
func (s *RamShare) GetAttr(handle vfs.VfsHandle) (attrs *vfs.Attributes, err error) {
	defer s.observe("GetAttr", &err)()
	defer recoverSharePanic("GetAttr", &err)
	s.mu.Lock()
	defer s.mu.Unlock()

	if handle == 0 {
		st, err := s.fs.Stat("/")
		if err != nil {
			return nil, err
		}
		return s.attrs(st), nil
	}

	info, ok := s.handles.Get(HandleID(handle))
	if !ok {
		return nil, EBADF
	}
	st, err := s.fs.Fstat(info.file)
	if err != nil {
		return nil, err
	}
	return s.attrs(st), nil
}

// GetAttrByPath gets attributes without opening a handle
func (s *RamShare) GetAttrByPath(p string) (attrs *vfs.Attributes, err error) {
	defer s.observe("GetAttrByPath", &err)()
	defer recoverSharePanic("GetAttrByPath", &err)
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.fs.Stat(common.AbsPath(p))
	if err != nil {
		return nil, err
	}
	return s.attrs(st), nil
}

// SetAttr applies size changes. Ownership, mode and time changes are
// accepted and ignored since the core does not store them.
func (s *RamShare) SetAttr(handle vfs.VfsHandle, inAttrs *vfs.Attributes) (attrs *vfs.Attributes, err error) {
	defer s.observe("SetAttr", &err)()
	defer recoverSharePanic("SetAttr", &err)
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.handles.Get(HandleID(handle))
	if !ok {
		return nil, EBADF
	}

	if size, ok := inAttrs.GetSizeBytes(); ok {
		if info.isDir {
			return nil, EISDIR
		}
		if err := s.truncateLocked(info, size); err != nil {
			return nil, err
		}
	}

	st, err := s.fs.Fstat(info.file)
	if err != nil {
		return nil, err
	}
	return s.attrs(st), nil
}

// Lookup finds name relative to a directory handle (0 means the root).
// name may contain several components.
func (s *RamShare) Lookup(dirHandle vfs.VfsHandle, name string) (attrs *vfs.Attributes, err error) {
	defer s.observe("Lookup", &err)()
	defer recoverSharePanic("Lookup", &err)
	log.Debugf("[VFS] Lookup: dirHandle=%d name=%q", dirHandle, name)
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := "/"
	if dirHandle != 0 {
		info, ok := s.handles.Get(HandleID(dirHandle))
		if !ok {
			return nil, EBADF
		}
		if !info.isDir {
			return nil, ENOTDIR
		}
		dir = info.path
	}

	st, err := s.fs.Stat(common.JoinPath(dir, name))
	if err != nil {
		return nil, err
	}
	return s.attrs(st), nil
}

// StatFS reports capacity derived from the byte budget. Without a budget the
// filesystem advertises a fixed large size.
func (s *RamShare) StatFS(handle vfs.VfsHandle) (*vfs.FSAttributes, error) {
	s.mu.Lock()
	u := s.fs.Usage()
	s.mu.Unlock()

	total, free := capacity(u)
	attrs := &vfs.FSAttributes{}
	attrs.SetBlockSize(statFSBlockSize)
	attrs.SetIOSize(statFSBlockSize)
	attrs.SetBlocks(total / statFSBlockSize)
	attrs.SetFreeBlocks(free / statFSBlockSize)
	attrs.SetAvailableBlocks(free / statFSBlockSize)
	attrs.SetFiles(uint64(u.Inodes) + free/ramfs.DirentSize)
	attrs.SetFreeFiles(free / ramfs.DirentSize)
	return attrs, nil
}

func capacity(u ramfs.Usage) (total, free uint64) {
	total = uint64(1 << 40)
	if u.MaxBytes > 0 {
		total = uint64(u.MaxBytes)
	}
	if used := uint64(u.Bytes); total > used {
		free = total - used
	}
	return total, free
}

// --- File Management ---

// Unlink removes the object behind handle. Only empty directories can be
// removed; unlinking a regular file is not supported.
func (s *RamShare) Unlink(handle vfs.VfsHandle) (err error) {
	defer s.observe("Unlink", &err)()
	defer recoverSharePanic("Unlink", &err)
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.handles.Get(HandleID(handle))
	if !ok {
		return EBADF
	}
	return s.removeLocked(info.path, info.isDir)
}

// UnlinkByPath removes an empty directory by path.
func (s *RamShare) UnlinkByPath(p string) (err error) {
	defer s.observe("UnlinkByPath", &err)()
	defer recoverSharePanic("UnlinkByPath", &err)
	s.mu.Lock()
	defer s.mu.Unlock()

	p = common.AbsPath(p)
	st, err := s.fs.Stat(p)
	if err != nil {
		return err
	}
	return s.removeLocked(p, st.IsDir())
}

func (s *RamShare) removeLocked(p string, isDir bool) error {
	if !isDir {
		return s.fs.Unlink(p)
	}
	parent := s.parentIno(p)
	st, err := s.fs.Stat(p)
	if err != nil {
		return err
	}
	if err := s.fs.Rmdir(p); err != nil {
		return err
	}
	delete(s.mtimes, st.Ino)
	s.touch(parent)
	return nil
}

// Rename is not supported.
func (s *RamShare) Rename(handle vfs.VfsHandle, newName string, flags int) (err error) {
	defer recoverSharePanic("Rename", &err)
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.handles.Get(HandleID(handle))
	if !ok {
		return EBADF
	}
	return s.fs.Rename(info.path, common.JoinPath(common.ParentPath(info.path), newName))
}

// --- Symbolic Link Operations ---

// Readlink is not supported; the share holds no symlinks.
func (s *RamShare) Readlink(handle vfs.VfsHandle) (string, error) {
	return "", ENOTSUP
}

// Symlink is not supported.
func (s *RamShare) Symlink(handle vfs.VfsHandle, target string, mode int) (attrs *vfs.Attributes, err error) {
	defer recoverSharePanic("Symlink", &err)
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.handles.Get(HandleID(handle))
	if !ok {
		return nil, EBADF
	}
	return nil, s.fs.Symlink(target, info.path)
}

// Link is not supported.
func (s *RamShare) Link(srcNode vfs.VfsNode, dstNode vfs.VfsNode, name string) (*vfs.Attributes, error) {
	return nil, ENOTSUP
}

// --- Extended Attributes ---

// Listxattr reports no extended attributes.
func (s *RamShare) Listxattr(handle vfs.VfsHandle) ([]string, error) {
	return []string{}, nil
}

// Getxattr is not supported.
func (s *RamShare) Getxattr(handle vfs.VfsHandle, name string, buf []byte) (int, error) {
	return 0, ENOTSUP
}

// Setxattr silently succeeds without storing anything; macOS SMB clients
// set Finder metadata on every copy and fail the copy if this errors.
func (s *RamShare) Setxattr(handle vfs.VfsHandle, name string, value []byte) error {
	return nil
}

// Removexattr silently succeeds.
func (s *RamShare) Removexattr(handle vfs.VfsHandle, name string) error {
	return nil
}
