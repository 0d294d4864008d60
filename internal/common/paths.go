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

package common

import (
	"path"
	"strings"
)

// NormalizePath cleans a client path into relative form without leading or
// trailing slashes. The root becomes "".
func NormalizePath(p string) string {
	p = path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
	return strings.TrimPrefix(p, "/")
}

// AbsPath turns any client path (SMB and NFS clients send relative ones)
// into the absolute form the filesystem expects.
func AbsPath(p string) string {
	return "/" + NormalizePath(p)
}

// SplitPath splits a path into its components
func SplitPath(p string) []string {
	p = NormalizePath(p)
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// JoinPath joins components into an absolute path.
func JoinPath(parts ...string) string {
	return AbsPath(strings.Join(parts, "/"))
}

// ParentPath returns the absolute parent of p. The parent of the root is the root.
func ParentPath(p string) string {
	return path.Dir(AbsPath(p))
}

// BaseName returns the final component of p, or "/" for the root.
func BaseName(p string) string {
	return path.Base(AbsPath(p))
}
