package vfs

import (
	"sync"

	"ramfs/internal/ramfs"
)

// HandleID is the type for VFS handles
type HandleID uint64

// openHandle represents an open file or directory
type openHandle struct {
	file        *ramfs.File
	path        string // absolute path at open time
	isDir       bool
	flags       int
	dirEnumDone bool // True if directory enumeration completed (for SMB)
}

// HandleManager manages VFS handles
type HandleManager struct {
	mu         sync.RWMutex
	handles    map[HandleID]*openHandle
	nextHandle HandleID
}

// NewHandleManager creates a new handle manager
func NewHandleManager() *HandleManager {
	return &HandleManager{
		handles:    make(map[HandleID]*openHandle),
		nextHandle: 1,
	}
}

// Allocate registers an open ramfs file and returns its handle.
// Handle 0 is never issued; clients use it to mean the root.
func (hm *HandleManager) Allocate(file *ramfs.File, path string, isDir bool, flags int) HandleID {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	handle := hm.nextHandle
	hm.nextHandle++

	hm.handles[handle] = &openHandle{
		file:  file,
		path:  path,
		isDir: isDir,
		flags: flags,
	}

	return handle
}

// Get retrieves a handle's info
func (hm *HandleManager) Get(h HandleID) (*openHandle, bool) {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	info, ok := hm.handles[h]
	return info, ok
}

// Release frees a handle
func (hm *HandleManager) Release(h HandleID) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	delete(hm.handles, h)
}

// SetDirEnumDone marks directory enumeration as complete
func (hm *HandleManager) SetDirEnumDone(h HandleID, done bool) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	if info, ok := hm.handles[h]; ok {
		info.dirEnumDone = done
	}
}

// IsDirEnumDone checks if directory enumeration is complete
func (hm *HandleManager) IsDirEnumDone(h HandleID) bool {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	if info, ok := hm.handles[h]; ok {
		return info.dirEnumDone
	}
	return false
}

// Count returns the number of open handles
func (hm *HandleManager) Count() int {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	return len(hm.handles)
}

// Drain removes every handle and returns the files they held so the caller
// can close them.
func (hm *HandleManager) Drain() []*ramfs.File {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	files := make([]*ramfs.File, 0, len(hm.handles))
	for _, info := range hm.handles {
		files = append(files, info.file)
	}
	hm.handles = make(map[HandleID]*openHandle)
	return files
}
