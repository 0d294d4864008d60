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

package ramfs

import (
	"errors"
	"fmt"
	"syscall"
)

// Error codes returned by the filesystem. All of them are syscall.Errno so
// callers can compare with == or errors.Is.
var (
	EINVAL       = syscall.EINVAL       // Invalid argument
	ENOENT       = syscall.ENOENT       // No such file or directory
	EEXIST       = syscall.EEXIST       // File exists
	ENOTDIR      = syscall.ENOTDIR      // Not a directory
	EISDIR       = syscall.EISDIR       // Is a directory
	ENOTEMPTY    = syscall.ENOTEMPTY    // Directory not empty
	ENAMETOOLONG = syscall.ENAMETOOLONG // File name too long
	ENOMEM       = syscall.ENOMEM       // Out of memory
	ENOTSUP      = syscall.ENOTSUP      // Operation not supported
	EBADF        = syscall.EBADF        // Bad file descriptor
	EIO          = syscall.EIO          // I/O error
)

// Code converts an error returned by the filesystem into the negative
// integer convention of a C dispatch table: 0 on success, -errno on failure.
// Errors that carry no errno map to -EIO.
func Code(err error) int {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return -int(errno)
	}
	return -int(EIO)
}

// InvariantError is the panic value raised when the inode graph is found in
// a state that the filesystem itself can never produce.
type InvariantError struct {
	Op  string
	Msg string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("ramfs: invariant violated in %s: %s", e.Op, e.Msg)
}

func invariant(op, format string, args ...any) {
	panic(&InvariantError{Op: op, Msg: fmt.Sprintf(format, args...)})
}
