package ramfs

// Mkdir creates an empty directory at path.
func (fs *FS) Mkdir(path string, mode uint32) (err error) {
	defer fs.trace("Mkdir "+path, &err)()
	if err := fs.check(); err != nil {
		return err
	}
	fs.log.Debugf("[ramfs] Mkdir: path=%q mode=%o", path, mode)

	dirname, basename, err := splitPath(path)
	if err != nil {
		return err
	}
	if basename == "/" {
		return EEXIST
	}
	parent, err := fs.resolve(dirname)
	if err != nil {
		return err
	}
	if !parent.isDir() {
		return ENOTDIR
	}
	if _, ok := findRecord(parent, basename); ok {
		return EEXIST
	}
	_, err = fs.newInode(parent, basename, ModeDir|(mode&ModePerm))
	return err
}

// Rmdir removes the empty directory at path. If the directory is still open
// its inode survives, emptied, until the last handle is closed.
func (fs *FS) Rmdir(path string) (err error) {
	defer fs.trace("Rmdir "+path, &err)()
	if err := fs.check(); err != nil {
		return err
	}
	fs.log.Debugf("[ramfs] Rmdir: path=%q", path)

	dirname, basename, err := splitPath(path)
	if err != nil {
		return err
	}
	if basename == "/" || basename == "." || basename == ".." {
		return EINVAL
	}
	parent, err := fs.resolve(dirname)
	if err != nil {
		return err
	}
	if !parent.isDir() {
		return ENOTDIR
	}
	child, err := fs.findChild(parent, basename)
	if err != nil {
		return err
	}
	if !child.isDir() {
		return ENOTDIR
	}
	if !child.isEmptyDir() {
		return ENOTEMPTY
	}

	pos, ok := findRecord(parent, basename)
	if !ok {
		invariant("Rmdir", "entry %q vanished from inode %d", basename, parent.ino)
	}
	if err := parent.content.Remove(pos, DirentSize); err != nil {
		invariant("Rmdir", "remove record at %d from inode %d: %v", pos, parent.ino, err)
	}

	// The parent entry and "." hold the child; the child's ".." holds the parent.
	if child.nlink != 2 {
		invariant("Rmdir", "empty directory %d has link count %d", child.ino, child.nlink)
	}
	if parent.nlink < 3 {
		invariant("Rmdir", "parent %d of a subdirectory has link count %d", parent.ino, parent.nlink)
	}
	child.nlink -= 2
	parent.nlink--

	child.content.Clear()
	if child.nopens == 0 {
		fs.freeInode(child)
	} else {
		fs.log.Debugf("[ramfs] Rmdir: inode %d still open (%d), deferring free", child.ino, child.nopens)
	}
	return nil
}

// Getdents fills dirp with records starting at the handle's position and
// returns how many were filled. It returns 0 once the directory is exhausted.
func (fs *FS) Getdents(f *File, dirp []Dirent) (count int, err error) {
	defer fs.trace("Getdents", &err)()
	n, err := fs.file(f)
	if err != nil {
		return 0, err
	}
	if dirp == nil {
		return 0, EINVAL
	}
	if !n.isDir() {
		return 0, ENOTDIR
	}
	// Read on a directory handle moves the position byte-wise.
	if f.offset%DirentSize != 0 {
		return 0, EINVAL
	}

	content := n.content.Bytes()
	size := int64(len(content))
	for count < len(dirp) && f.offset < size {
		if size-f.offset < DirentSize {
			invariant("Getdents", "partial record in inode %d: %d bytes at offset %d", n.ino, size-f.offset, f.offset)
		}
		dirp[count].unmarshal(content[f.offset : f.offset+DirentSize])
		f.offset += DirentSize
		count++
	}
	return count, nil
}

// Link is not supported.
func (fs *FS) Link(oldpath, newpath string) error {
	return fs.unsupported()
}

// Unlink is not supported.
func (fs *FS) Unlink(path string) error {
	return fs.unsupported()
}

// Rename is not supported.
func (fs *FS) Rename(oldpath, newpath string) error {
	return fs.unsupported()
}

// Truncate is not supported. Open with O_TRUNC empties a file.
func (fs *FS) Truncate(path string, length int64) error {
	return fs.unsupported()
}

// Ftruncate is not supported.
func (fs *FS) Ftruncate(f *File, length int64) error {
	return fs.unsupported()
}

// Symlink is not supported.
func (fs *FS) Symlink(target, linkpath string) error {
	return fs.unsupported()
}

func (fs *FS) unsupported() error {
	if err := fs.check(); err != nil {
		return err
	}
	return ENOTSUP
}
