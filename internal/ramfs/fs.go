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

// Package ramfs implements a volatile inode filesystem. Directories are flat
// buffers of fixed-size records, including "." and ".." back-references, and
// an inode lives exactly as long as some record (or open handle) refers to it.
//
// FS performs no locking. Callers that share one instance between goroutines
// must serialise every call.
package ramfs

import (
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// FileSystem is the dispatch contract exposed to the layer that routes
// system calls to a mounted filesystem.
type FileSystem interface {
	Release() error

	Creat(path string, mode uint32) (*File, error)
	Open(path string, flags int, mode uint32) (*File, error)
	Seek(f *File, offset int64, whence int) (int64, error)
	Read(f *File, p []byte) (int, error)
	Write(f *File, p []byte) (int, error)
	Readv(f *File, iov [][]byte) (int, error)
	Writev(f *File, iov [][]byte) (int, error)
	Close(f *File) error

	Stat(path string) (*Stat, error)
	Fstat(f *File) (*Stat, error)

	Link(oldpath, newpath string) error
	Unlink(path string) error
	Rename(oldpath, newpath string) error
	Truncate(path string, length int64) error
	Ftruncate(f *File, length int64) error
	Symlink(target, linkpath string) error

	Mkdir(path string, mode uint32) error
	Rmdir(path string) error
	Getdents(f *File, dirp []Dirent) (int, error)
}

var _ FileSystem = (*FS)(nil)

// FS is one mounted ramfs instance.
type FS struct {
	id       uuid.UUID
	root     Ino
	inodes   map[Ino]*inode
	nextIno  Ino
	budget   *budget
	released bool
	log      *log.Entry
}

// Option configures Mount.
type Option func(*FS)

// WithMaxBytes limits the total bytes held by all file and directory
// buffers. Zero means unlimited.
func WithMaxBytes(n int64) Option {
	return func(fs *FS) {
		fs.budget.limit = n
	}
}

// WithLogger routes the filesystem's log output through entry.
func WithLogger(entry *log.Entry) Option {
	return func(fs *FS) {
		if entry != nil {
			fs.log = entry
		}
	}
}

// Usage is a point-in-time summary of resources held by an FS.
type Usage struct {
	Inodes      int
	Bytes       int64
	MaxBytes    int64
	OpenHandles int
}

// Mount creates a filesystem holding only an empty root directory.
func Mount(opts ...Option) (*FS, error) {
	fs := &FS{
		id:      uuid.New(),
		inodes:  make(map[Ino]*inode),
		nextIno: RootIno,
		budget:  &budget{},
	}
	fs.log = log.WithField("fs", fs.id.String())
	for _, opt := range opts {
		opt(fs)
	}

	root, err := fs.newInode(nil, "/", ModeDir|0o777)
	if err != nil {
		return nil, err
	}
	fs.root = root.ino
	fs.log.Debugf("[ramfs] Mount: root=%d maxBytes=%d", root.ino, fs.budget.limit)
	return fs, nil
}

// ID returns the identity of this instance. Handles carry it so a handle
// from one instance is rejected by another.
func (fs *FS) ID() uuid.UUID {
	return fs.id
}

// Release frees the whole tree. Every later call on fs fails with EINVAL.
func (fs *FS) Release() (err error) {
	defer fs.trace("Release", &err)()
	if err := fs.check(); err != nil {
		return err
	}

	fs.releaseSubtree(fs.inodes[fs.root])
	// Unlinked inodes still held open are not reachable from the root.
	for _, n := range fs.inodes {
		fs.freeInode(n)
	}
	fs.released = true
	fs.log.Debugf("[ramfs] Release: done")
	return nil
}

// Usage reports the inode count, buffered bytes and open handles.
func (fs *FS) Usage() Usage {
	u := Usage{
		Inodes:   len(fs.inodes),
		Bytes:    fs.budget.used,
		MaxBytes: fs.budget.limit,
	}
	for _, n := range fs.inodes {
		u.OpenHandles += int(n.nopens)
	}
	return u
}

func (fs *FS) check() error {
	if fs == nil || fs.released {
		return EINVAL
	}
	return nil
}

// trace logs the outcome of op. With trace logging enabled it also logs the
// elapsed time.
func (fs *FS) trace(op string, err *error) func() {
	if fs == nil || fs.log == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		if *err != nil {
			fs.log.Debugf("[ramfs] %s: %v", op, *err)
		}
		if fs.log.Logger.IsLevelEnabled(log.TraceLevel) {
			fs.log.Tracef("[ramfs] %s → %v (%v)", op, *err, time.Since(start))
		}
	}
}
