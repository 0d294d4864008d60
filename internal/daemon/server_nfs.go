//go:build !smb

package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"sync"
	"time"

	billy "github.com/go-git/go-billy/v5"
	smbvfs "github.com/macos-fuse-t/go-smb2/vfs"
	log "github.com/sirupsen/logrus"
	nfs "github.com/willscott/go-nfs"
	nfsfile "github.com/willscott/go-nfs/file"
	nfshelper "github.com/willscott/go-nfs/helpers"

	"ramfs/internal/common"
	"ramfs/internal/ramfs"
	"ramfs/internal/util"
	ramvfs "ramfs/internal/vfs"
)

func init() {
	netFSTypeName = "nfs"
}

// nfsHandleCacheSize is how many file handles the go-nfs caching handler
// keeps before it starts evicting.
const nfsHandleCacheSize = 65536

// NFSServer wraps the go-nfs server
type NFSServer struct {
	mu       sync.Mutex
	listener net.Listener
	server   *nfs.Server
	ctx      context.Context
	cancel   context.CancelFunc
}

// newNetFSServer creates the server for this build's transport.
func newNetFSServer(share *ramvfs.RamShare, shareName string) NetFSServer {
	return NewNFSServer(share)
}

// NewNFSServer creates a new NFS server exporting share
func NewNFSServer(share *ramvfs.RamShare) *NFSServer {
	// Set go-nfs log level to match daemon's log level
	if log.IsLevelEnabled(log.TraceLevel) {
		nfs.Log.SetLevel(nfs.TraceLevel)
	} else if log.IsLevelEnabled(log.DebugLevel) {
		nfs.Log.SetLevel(nfs.DebugLevel)
	}
	handler := nfshelper.NewNullAuthHandler(NewBillyAdapter(share))
	cacheHelper := nfshelper.NewCachingHandler(handler, nfsHandleCacheSize)

	ctx, cancel := context.WithCancel(context.Background())
	return &NFSServer{
		server: &nfs.Server{
			Handler: cacheHelper,
			Context: ctx,
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Serve binds addr and serves NFS until Shutdown. Binding is retried while
// the address is still held by a previous daemon.
func (s *NFSServer) Serve(addr string) error {
	listener, err := util.RetryWithResult(s.ctx, func() (net.Listener, error) {
		return net.Listen("tcp", addr)
	}, util.ListenRetryOptions(s.ctx)...)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		listener.Close()
		return nil
	}
	s.listener = listener
	s.mu.Unlock()

	log.Infof("[NFS] Serving on %s", listener.Addr())
	err = s.server.Serve(listener)
	if s.ctx.Err() != nil {
		return nil
	}
	return err
}

// Addr returns the bound address, or nil before Serve has bound it.
func (s *NFSServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops the NFS server
func (s *NFSServer) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Cancel first so Serve treats the listener error as a clean stop.
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
}

// MountNetFS mounts the daemon's NFS export at mountPath.
func MountNetFS(addr, shareName, mountPath string) error {
	host, port, err := splitHostPort(addr)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(mountPath, 0755); err != nil {
		return fmt.Errorf("failed to create mount point: %w", err)
	}
	name, args := nfsMountCommand(hostOS(), host, port, mountPath)
	return runMountCommand(name, args)
}

// nfsMountCommand builds the NFSv3 mount invocation. go-nfs serves MOUNT and
// NFS on the same port and does not implement NLM, so locking is local.
func nfsMountCommand(goos, host string, port int, mountPath string) (string, []string) {
	source := fmt.Sprintf("%s:/", host)
	if goos == "darwin" {
		// rsize/wsize=65536 (64KB) is the maximum supported by macOS NFS client.
		opts := fmt.Sprintf("port=%d,mountport=%d,tcp,nolocks,vers=3,rsize=65536,wsize=65536,noac,soft,timeo=50,retrans=3,nobrowse", port, port)
		return "mount_nfs", []string{"-o", opts, source, mountPath}
	}
	opts := fmt.Sprintf("port=%d,mountport=%d,nfsvers=3,tcp,nolock,noac,soft,timeo=50,retrans=3", port, port)
	return "mount", []string{"-t", "nfs", "-o", opts, source, mountPath}
}

// BillyAdapter adapts a RamShare to the Billy filesystem interface go-nfs
// serves from.
type BillyAdapter struct {
	share *ramvfs.RamShare
	uid   uint32 // cached os.Getuid(), read once per adapter
	gid   uint32 // cached os.Getgid()
}

// NewBillyAdapter creates a Billy adapter for share
func NewBillyAdapter(share *ramvfs.RamShare) *BillyAdapter {
	return &BillyAdapter{
		share: share,
		uid:   uint32(os.Getuid()),
		gid:   uint32(os.Getgid()),
	}
}

func (b *BillyAdapter) Create(filename string) (billy.File, error) {
	return b.OpenFile(filename, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
}

func (b *BillyAdapter) Open(filename string) (billy.File, error) {
	return b.OpenFile(filename, os.O_RDONLY, 0)
}

func (b *BillyAdapter) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	handle, err := b.share.Open(filename, flag, int(perm.Perm()))
	if err != nil {
		return nil, err
	}
	return &BillyFile{
		adapter: b,
		handle:  handle,
		name:    filename,
		flags:   flag,
	}, nil
}

func (b *BillyAdapter) Stat(filename string) (os.FileInfo, error) {
	info, err := b.share.StatPath(filename)
	if err != nil {
		return nil, err
	}
	return b.fileInfo(info), nil
}

// Lstat is Stat: the filesystem holds no symlinks.
func (b *BillyAdapter) Lstat(filename string) (os.FileInfo, error) {
	return b.Stat(filename)
}

func (b *BillyAdapter) Rename(oldpath, newpath string) error {
	handle, err := b.share.OpenAny(oldpath, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer b.share.Close(handle)
	return b.share.Rename(handle, path.Base(newpath), 0)
}

// Remove deletes an empty directory. Regular files cannot be unlinked.
func (b *BillyAdapter) Remove(filename string) error {
	err := b.share.UnlinkByPath(filename)
	if err != nil {
		log.Debugf("[BillyAdapter.Remove] %q: %v", filename, err)
	}
	return err
}

func (b *BillyAdapter) Join(elem ...string) string {
	return path.Join(elem...)
}

func (b *BillyAdapter) TempFile(dir, prefix string) (billy.File, error) {
	return nil, os.ErrInvalid
}

func (b *BillyAdapter) ReadDir(dirname string) ([]os.FileInfo, error) {
	infos, err := b.share.ListDir(dirname)
	if err != nil {
		return nil, err
	}
	result := make([]os.FileInfo, 0, len(infos))
	for _, info := range infos {
		result = append(result, b.fileInfo(info))
	}
	return result, nil
}

// MkdirAll creates every missing directory along filename.
func (b *BillyAdapter) MkdirAll(filename string, perm os.FileMode) error {
	current := "/"
	for _, part := range common.SplitPath(filename) {
		current = path.Join(current, part)
		_, err := b.share.Mkdir(current, int(perm.Perm()))
		if err == nil {
			continue
		}
		if !errors.Is(err, ramfs.EEXIST) {
			return err
		}
		info, serr := b.share.StatPath(current)
		if serr != nil {
			return serr
		}
		if !info.IsDir() {
			return ramfs.ENOTDIR
		}
	}
	return nil
}

func (b *BillyAdapter) Symlink(target, link string) error {
	return ramfs.ENOTSUP
}

func (b *BillyAdapter) Readlink(link string) (string, error) {
	return "", ramfs.ENOTSUP
}

func (b *BillyAdapter) Chroot(path string) (billy.Filesystem, error) {
	return nil, os.ErrInvalid
}

func (b *BillyAdapter) Root() string {
	return "/"
}

// billy.Change interface. The core keeps mode bits but offers no way to
// change them, and has no ownership or times; these succeed for existing
// paths so clients like cp -p do not fail.
func (b *BillyAdapter) Chmod(name string, mode os.FileMode) error {
	_, err := b.share.StatPath(name)
	return err
}

func (b *BillyAdapter) Lchown(name string, uid, gid int) error            { return nil }
func (b *BillyAdapter) Chown(name string, uid, gid int) error             { return nil }
func (b *BillyAdapter) Chtimes(name string, atime, mtime time.Time) error { return nil }

func (b *BillyAdapter) Capabilities() billy.Capability {
	return billy.WriteCapability | billy.ReadCapability |
		billy.ReadAndWriteCapability | billy.SeekCapability | billy.TruncateCapability
}

func (b *BillyAdapter) fileInfo(info ramvfs.Info) *BillyFileInfo {
	return &BillyFileInfo{info: info, adapter: b}
}

type BillyFile struct {
	adapter *BillyAdapter
	handle  smbvfs.VfsHandle
	name    string
	flags   int
	offset  int64
}

func (f *BillyFile) Name() string {
	return f.name
}

func (f *BillyFile) Write(p []byte) (n int, err error) {
	if f.flags&os.O_APPEND != 0 {
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			return 0, err
		}
	}
	n, err = f.adapter.share.Write(f.handle, p, uint64(f.offset), 0)
	if err == nil {
		f.offset += int64(n)
	}
	return
}

func (f *BillyFile) Read(p []byte) (n int, err error) {
	n, err = f.adapter.share.Read(f.handle, p, uint64(f.offset), 0)
	if err == nil {
		f.offset += int64(n)
	}
	return
}

func (f *BillyFile) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, ramfs.EINVAL
	}
	for n < len(p) {
		m, err := f.adapter.share.Read(f.handle, p[n:], uint64(off)+uint64(n), 0)
		n += m
		if err != nil {
			return n, err
		}
		if m == 0 {
			return n, io.EOF
		}
	}
	return n, nil
}

func (f *BillyFile) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = f.offset
	case io.SeekEnd:
		attrs, err := f.adapter.share.GetAttr(f.handle)
		if err != nil {
			return 0, err
		}
		size, _ := attrs.GetSizeBytes()
		base = int64(size)
	default:
		return f.offset, ramfs.EINVAL
	}
	if base+offset < 0 {
		return f.offset, ramfs.EINVAL
	}
	f.offset = base + offset
	return f.offset, nil
}

func (f *BillyFile) Close() error {
	return f.adapter.share.Close(f.handle)
}

func (f *BillyFile) Lock() error {
	return nil
}

func (f *BillyFile) Unlock() error {
	return nil
}

func (f *BillyFile) Truncate(size int64) error {
	if size < 0 {
		return ramfs.EINVAL
	}
	return f.adapter.share.Truncate(f.handle, uint64(size))
}

// BillyFileInfo is an os.FileInfo over a share Info.
type BillyFileInfo struct {
	info    ramvfs.Info
	adapter *BillyAdapter // cached uid/gid source (nil falls back to syscall)
}

func (fi *BillyFileInfo) Name() string {
	return fi.info.Name
}

func (fi *BillyFileInfo) Size() int64 {
	return fi.info.Size
}

func (fi *BillyFileInfo) Mode() os.FileMode {
	return fi.info.Mode
}

func (fi *BillyFileInfo) ModTime() time.Time {
	return fi.info.ModTime
}

func (fi *BillyFileInfo) IsDir() bool {
	return fi.info.IsDir()
}

func (fi *BillyFileInfo) Sys() interface{} {
	// go-nfs's GetInfo() only recognizes file.FileInfo or *file.FileInfo types
	uid, gid := fi.getUIDGID()
	return &nfsfile.FileInfo{
		Nlink:  fi.info.Nlink,
		UID:    uid,
		GID:    gid,
		Fileid: fi.info.Ino,
	}
}

// getUIDGID returns cached uid/gid from the adapter if available, otherwise falls back to syscall.
func (fi *BillyFileInfo) getUIDGID() (uint32, uint32) {
	if fi.adapter != nil {
		return fi.adapter.uid, fi.adapter.gid
	}
	return uint32(os.Getuid()), uint32(os.Getgid())
}

var (
	_ billy.Filesystem = (*BillyAdapter)(nil)
	_ billy.Change     = (*BillyAdapter)(nil)
	_ billy.File       = (*BillyFile)(nil)
	_ os.FileInfo      = (*BillyFileInfo)(nil)
)
