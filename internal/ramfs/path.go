package ramfs

import "strings"

// PathMax bounds the length of any path accepted by the filesystem,
// including the terminating byte a C caller would need.
const PathMax = 4096

// splitPath splits an absolute path into its parent directory and final
// component. "/" splits into ("/", "/").
func splitPath(path string) (dirname, basename string, err error) {
	if len(path) >= PathMax {
		return "", "", ENAMETOOLONG
	}
	if path == "" || path[0] != '/' {
		return "", "", EINVAL
	}
	if path == "/" {
		return "/", "/", nil
	}
	slash := strings.LastIndexByte(path, '/')
	if slash == len(path)-1 {
		return "", "", EINVAL
	}
	dirname = path[:slash]
	if dirname == "" {
		dirname = "/"
	}
	return dirname, path[slash+1:], nil
}

// resolve walks an absolute path from the root. Empty components are skipped,
// so "//a///b" resolves the same as "/a/b".
func (fs *FS) resolve(path string) (*inode, error) {
	if len(path) >= PathMax {
		return nil, ENAMETOOLONG
	}
	if path == "" || path[0] != '/' {
		return nil, EINVAL
	}

	cur := fs.inodes[fs.root]
	if path == "/" {
		return cur, nil
	}

	for _, name := range strings.Split(path, "/") {
		if name == "" {
			continue
		}
		if !cur.isDir() {
			return nil, ENOTDIR
		}
		child, err := fs.findChild(cur, name)
		if err != nil {
			return nil, err
		}
		cur = child
	}
	return cur, nil
}
