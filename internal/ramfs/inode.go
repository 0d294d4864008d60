package ramfs

import "strings"

// Ino identifies an inode within one filesystem instance.
type Ino uint64

// RootIno is the inode number of the root directory.
const RootIno Ino = 1

// File type bits, matching the S_IF* values of the host.
const (
	ModeMask uint32 = 0o170000
	ModeDir  uint32 = 0o040000
	ModeFile uint32 = 0o100000
	ModePerm uint32 = 0o7777
)

type inode struct {
	ino     Ino
	mode    uint32
	nlink   uint32
	nopens  uint32
	content Buffer
}

func (n *inode) isDir() bool {
	return n.mode&ModeMask == ModeDir
}

// isEmptyDir reports whether only the "." and ".." records remain.
func (n *inode) isEmptyDir() bool {
	return n.content.Len() == 2*DirentSize
}

func appendRecord(dir *inode, ino Ino, typ uint8, name string) error {
	var rec [DirentSize]byte
	d := Dirent{
		Ino:    ino,
		Off:    int64(dir.content.Len()),
		Reclen: DirentSize,
		Type:   typ,
		Name:   name,
	}
	d.marshal(rec[:])
	return dir.content.Append(rec[:])
}

// newInode creates an inode and links it under parent. A nil parent creates
// the root, whose ".." refers to itself. Every fallible step runs before any
// link count or table entry is touched, so a failure leaves no trace.
func (fs *FS) newInode(parent *inode, name string, mode uint32) (*inode, error) {
	if len(name) > NameMax {
		return nil, ENAMETOOLONG
	}
	// Record names are NUL padded; an embedded NUL would read back as a
	// shorter name and could duplicate an existing entry.
	if strings.IndexByte(name, 0) >= 0 {
		return nil, EINVAL
	}

	child := &inode{
		ino:     fs.nextIno,
		mode:    mode,
		content: newBuffer(fs.budget),
	}

	if child.isDir() {
		dotdot := child.ino
		if parent != nil {
			dotdot = parent.ino
		}
		if err := appendRecord(child, child.ino, DT_DIR, "."); err != nil {
			child.content.release()
			return nil, err
		}
		if err := appendRecord(child, dotdot, DT_DIR, ".."); err != nil {
			child.content.release()
			return nil, err
		}
	}

	if parent != nil {
		if err := appendRecord(parent, child.ino, direntType(mode), name); err != nil {
			child.content.release()
			return nil, err
		}
	}

	fs.nextIno++
	fs.inodes[child.ino] = child

	if child.isDir() {
		child.nlink++ // "."
		if parent != nil {
			parent.nlink++ // ".."
		} else {
			child.nlink++
		}
	}
	if parent != nil {
		child.nlink++
	}
	return child, nil
}

// findRecord returns the byte position of the record called name in dir.
func findRecord(dir *inode, name string) (int, bool) {
	content := dir.content.Bytes()
	for pos := 0; pos+DirentSize <= len(content); pos += DirentSize {
		if string(recordName(content, pos)) == name {
			return pos, true
		}
	}
	return 0, false
}

func (fs *FS) findChild(dir *inode, name string) (*inode, error) {
	pos, ok := findRecord(dir, name)
	if !ok {
		return nil, ENOENT
	}
	ino := recordIno(dir.content.Bytes(), pos)
	child, ok := fs.inodes[ino]
	if !ok {
		invariant("findChild", "entry %q in inode %d refers to missing inode %d", name, dir.ino, ino)
	}
	return child, nil
}

// releaseSubtree frees n and everything it owns, children first.
// "." and ".." are back-references and are never followed.
func (fs *FS) releaseSubtree(n *inode) {
	if n.isDir() {
		content := n.content.Bytes()
		var children []Ino
		for pos := 0; pos+DirentSize <= len(content); pos += DirentSize {
			name := recordName(content, pos)
			if string(name) == "." || string(name) == ".." {
				continue
			}
			ino := recordIno(content, pos)
			if ino == n.ino {
				continue
			}
			children = append(children, ino)
		}
		for _, ino := range children {
			if child, ok := fs.inodes[ino]; ok {
				fs.releaseSubtree(child)
			}
		}
	}
	fs.freeInode(n)
}

func (fs *FS) freeInode(n *inode) {
	n.content.release()
	delete(fs.inodes, n.ino)
}
