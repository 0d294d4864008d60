package vfs

import (
	"os"
	"time"

	"github.com/macos-fuse-t/go-smb2/vfs"

	"ramfs/internal/ramfs"
)

// Info is a transport-neutral view of one filesystem object. The NFS
// adapter consumes it so it does not have to know about SMB types.
type Info struct {
	Name    string
	Ino     uint64
	Size    int64
	Mode    os.FileMode
	Nlink   uint32
	UID     uint32
	GID     uint32
	ModTime time.Time
}

// IsDir reports whether the object is a directory.
func (i *Info) IsDir() bool {
	return i.Mode.IsDir()
}

func infoFromStat(name string, st *ramfs.Stat, mtime time.Time) Info {
	mode := os.FileMode(st.Mode & 0o777)
	if st.IsDir() {
		mode |= os.ModeDir
	}
	return Info{
		Name:    name,
		Ino:     uint64(st.Ino),
		Size:    st.Size,
		Mode:    mode,
		Nlink:   st.Nlink,
		UID:     st.Uid,
		GID:     st.Gid,
		ModTime: mtime,
	}
}

// statToAttributes converts a core stat record. mtime is supplied by the
// share because the core does not track timestamps.
func statToAttributes(st *ramfs.Stat, mtime time.Time) *vfs.Attributes {
	attrs := &vfs.Attributes{}

	attrs.SetFileHandle(vfs.VfsNode(st.Ino))
	attrs.SetInodeNumber(uint64(st.Ino))
	attrs.SetSizeBytes(uint64(st.Size))
	attrs.SetLinkCount(st.Nlink)
	attrs.SetUID(st.Uid)
	attrs.SetGID(st.Gid)
	attrs.SetPermissions(vfs.NewPermissionsFromMode(st.Mode))
	attrs.SetUnixMode(st.Mode & 0o777)
	attrs.SetLastDataModificationTime(mtime)
	attrs.SetLastStatusChangeTime(mtime)
	attrs.SetAccessTime(mtime)
	attrs.SetBirthTime(mtime)
	attrs.SetChangeID(uint64(mtime.UnixNano()))

	if st.IsDir() {
		attrs.SetFileType(vfs.FileTypeDirectory)
	} else {
		attrs.SetFileType(vfs.FileTypeRegularFile)
	}

	return attrs
}

func dirInfo(name string, attrs *vfs.Attributes) vfs.DirInfo {
	return vfs.DirInfo{
		Name:       name,
		Attributes: *attrs,
	}
}
