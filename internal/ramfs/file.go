package ramfs

import (
	"io"
	"syscall"

	"github.com/google/uuid"
)

// File is an open handle. It refers to its inode by number and keeps the
// inode alive while open, even after the inode has been unlinked.
type File struct {
	fsID   uuid.UUID
	ino    Ino
	offset int64
	access int
	flags  int
	closed bool
}

// Ino returns the inode the handle is bound to.
func (f *File) Ino() Ino {
	return f.ino
}

// Offset returns the current file position.
func (f *File) Offset() int64 {
	return f.offset
}

// Flags returns the flags the handle was opened with.
func (f *File) Flags() int {
	return f.flags
}

// file validates f against fs and returns its inode.
func (fs *FS) file(f *File) (*inode, error) {
	if err := fs.check(); err != nil {
		return nil, err
	}
	if f == nil || f.closed || f.fsID != fs.id {
		return nil, EINVAL
	}
	n, ok := fs.inodes[f.ino]
	if !ok {
		invariant("file", "open handle refers to freed inode %d", f.ino)
	}
	return n, nil
}

func writeAccess(flags int) bool {
	acc := flags & syscall.O_ACCMODE
	return acc == syscall.O_WRONLY || acc == syscall.O_RDWR
}

// Creat is Open with O_CREAT|O_WRONLY|O_TRUNC.
func (fs *FS) Creat(path string, mode uint32) (*File, error) {
	return fs.Open(path, syscall.O_CREAT|syscall.O_WRONLY|syscall.O_TRUNC, mode)
}

// Open opens path, creating a regular file when O_CREAT is set and the path
// does not exist.
func (fs *FS) Open(path string, flags int, mode uint32) (f *File, err error) {
	defer fs.trace("Open "+path, &err)()
	if err := fs.check(); err != nil {
		return nil, err
	}
	fs.log.Debugf("[ramfs] Open: path=%q flags=%#x mode=%o", path, flags, mode)

	f = &File{
		fsID:   fs.id,
		access: flags & syscall.O_ACCMODE,
		flags:  flags,
	}

	n, err := fs.resolve(path)
	switch err {
	case nil:
		if flags&syscall.O_CREAT != 0 && flags&syscall.O_EXCL != 0 {
			return nil, EEXIST
		}
		if flags&syscall.O_DIRECTORY != 0 && !n.isDir() {
			return nil, ENOTDIR
		}
		if n.isDir() && (writeAccess(flags) || flags&syscall.O_TRUNC != 0) {
			return nil, EISDIR
		}
		if flags&syscall.O_TRUNC != 0 {
			n.content.Clear()
		}
		if flags&syscall.O_APPEND != 0 {
			f.offset = int64(n.content.Len())
		}
	case ENOENT:
		if flags&syscall.O_CREAT == 0 {
			return nil, ENOENT
		}
		dirname, basename, err := splitPath(path)
		if err != nil {
			return nil, err
		}
		parent, err := fs.resolve(dirname)
		if err != nil {
			return nil, err
		}
		if !parent.isDir() {
			return nil, ENOTDIR
		}
		n, err = fs.newInode(parent, basename, ModeFile|(mode&ModePerm))
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	f.ino = n.ino
	n.nopens++
	return f, nil
}

// Seek moves the file position. Seeking past the end of the file is not
// supported because the store has no holes.
func (fs *FS) Seek(f *File, offset int64, whence int) (pos int64, err error) {
	defer fs.trace("Seek", &err)()
	n, err := fs.file(f)
	if err != nil {
		return 0, err
	}

	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = f.offset + offset
	case io.SeekEnd:
		next = int64(n.content.Len()) + offset
	default:
		return 0, EINVAL
	}
	if next < 0 || next > int64(n.content.Len()) {
		return 0, EINVAL
	}
	// Directory positions always sit on a record boundary.
	if n.isDir() && next%DirentSize != 0 {
		return 0, EINVAL
	}
	f.offset = next
	return next, nil
}

// Read copies up to len(p) bytes from the current position and advances it.
// It returns 0 at end of file.
func (fs *FS) Read(f *File, p []byte) (n int, err error) {
	defer fs.trace("Read", &err)()
	node, err := fs.file(f)
	if err != nil {
		return 0, err
	}
	return readAt(node, f, p)
}

func readAt(node *inode, f *File, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	size := int64(node.content.Len())
	if f.offset > size {
		return 0, EINVAL
	}
	n := copy(p, node.content.Bytes()[f.offset:])
	f.offset += int64(n)
	return n, nil
}

// Write copies p at the current position, growing the file as needed.
// Either all of p is written or, on ENOMEM, nothing is.
func (fs *FS) Write(f *File, p []byte) (n int, err error) {
	defer fs.trace("Write", &err)()
	node, err := fs.file(f)
	if err != nil {
		return 0, err
	}
	if node.isDir() {
		return 0, EISDIR
	}
	if len(p) == 0 {
		return 0, nil
	}
	if f.offset > int64(node.content.Len()) {
		return 0, EINVAL
	}

	end := f.offset + int64(len(p))
	if end > MaxFileSize {
		return 0, ENOMEM
	}
	if end > int64(node.content.Len()) {
		if err := node.content.Resize(int(end)); err != nil {
			return 0, err
		}
	}
	copy(node.content.Bytes()[f.offset:end], p)
	f.offset = end
	return len(p), nil
}

// Grow extends the file to size bytes, zero-filling the new tail. The budget
// is charged once for the whole extension; on ENOMEM the file is unchanged.
// Growing to the current size or less is a no-op.
func (fs *FS) Grow(f *File, size int64) (err error) {
	defer fs.trace("Grow", &err)()
	node, err := fs.file(f)
	if err != nil {
		return err
	}
	if node.isDir() {
		return EISDIR
	}
	switch {
	case size < 0:
		return EINVAL
	case size > MaxFileSize:
		return ENOMEM
	case size <= int64(node.content.Len()):
		return nil
	}
	return node.content.Resize(int(size))
}

// Readv reads into each segment in turn, stopping after a short read.
func (fs *FS) Readv(f *File, iov [][]byte) (total int, err error) {
	if _, err := fs.file(f); err != nil {
		return 0, err
	}
	for _, seg := range iov {
		n, err := fs.Read(f, seg)
		total += n
		if err != nil {
			return total, err
		}
		if n < len(seg) {
			break
		}
	}
	return total, nil
}

// Writev writes each segment in turn, stopping after a short write.
func (fs *FS) Writev(f *File, iov [][]byte) (total int, err error) {
	if _, err := fs.file(f); err != nil {
		return 0, err
	}
	for _, seg := range iov {
		n, err := fs.Write(f, seg)
		total += n
		if err != nil {
			return total, err
		}
		if n < len(seg) {
			break
		}
	}
	return total, nil
}

// Close invalidates f. If its inode was removed while open and this was the
// last handle, the inode is freed.
func (fs *FS) Close(f *File) (err error) {
	defer fs.trace("Close", &err)()
	n, err := fs.file(f)
	if err != nil {
		return err
	}
	if n.nopens == 0 {
		invariant("Close", "inode %d has an open handle but nopens is 0", n.ino)
	}
	n.nopens--
	f.closed = true
	if n.nlink == 0 && n.nopens == 0 {
		fs.log.Debugf("[ramfs] Close: freeing unlinked inode %d", n.ino)
		fs.freeInode(n)
	}
	return nil
}
