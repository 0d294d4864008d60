package ramfs

import "time"

const blockSize = 512

// Stat mirrors struct stat. Ownership and timestamps are not tracked and
// are always zero.
type Stat struct {
	Dev     uint64
	Ino     Ino
	Mode    uint32
	Nlink   uint32
	Uid     uint32
	Gid     uint32
	Rdev    uint64
	Size    int64
	Blksize int64
	Blocks  int64
	Atim    time.Time
	Mtim    time.Time
	Ctim    time.Time
}

// IsDir reports whether the stat describes a directory.
func (st *Stat) IsDir() bool {
	return st.Mode&ModeMask == ModeDir
}

var epoch = time.Unix(0, 0).UTC()

func statOf(n *inode) *Stat {
	size := int64(n.content.Len())
	return &Stat{
		Ino:     n.ino,
		Mode:    n.mode,
		Nlink:   n.nlink,
		Size:    size,
		Blksize: blockSize,
		Blocks:  (size + blockSize - 1) / blockSize,
		Atim:    epoch,
		Mtim:    epoch,
		Ctim:    epoch,
	}
}

// Stat describes the inode at path.
func (fs *FS) Stat(path string) (st *Stat, err error) {
	defer fs.trace("Stat "+path, &err)()
	if err := fs.check(); err != nil {
		return nil, err
	}
	n, err := fs.resolve(path)
	if err != nil {
		return nil, err
	}
	return statOf(n), nil
}

// Fstat describes the inode bound to f.
func (fs *FS) Fstat(f *File) (st *Stat, err error) {
	defer fs.trace("Fstat", &err)()
	n, err := fs.file(f)
	if err != nil {
		return nil, err
	}
	return statOf(n), nil
}
