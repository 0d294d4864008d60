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

package daemon

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"ramfs/internal/util"
)

// CleanupResult contains the result of a cleanup operation
type CleanupResult struct {
	StaleMounts    []string // Mount points that were unmounted
	CleanedPidFile bool     // Whether PID file was cleaned
	CleanedSocket  bool     // Whether socket file was cleaned
	Errors         []error  // Any errors encountered
}

// CleanupStale removes what a crashed daemon left behind: kernel mounts of
// its address, the pid file and the control socket. It does nothing while a
// daemon is answering.
func CleanupStale(listen string) *CleanupResult {
	result := &CleanupResult{}
	if IsDaemonRunning() {
		return result
	}

	if host, port, err := splitHostPort(listen); err == nil {
		if output, err := exec.Command("mount").Output(); err == nil {
			for _, mountPoint := range staleMountPoints(string(output), host, port) {
				if err := Unmount(mountPoint); err != nil {
					result.Errors = append(result.Errors, fmt.Errorf("failed to unmount %s: %w", mountPoint, err))
				} else {
					result.StaleMounts = append(result.StaleMounts, mountPoint)
				}
			}
		}
	}

	result.CleanedPidFile = cleanupStalePidFile()
	result.CleanedSocket = cleanupStaleSocket()
	return result
}

// staleMountPoints picks the mount table lines that point at host:port.
// Linux lists NFS mounts as "host:/ on /mnt type nfs (...,port=N,...)";
// SMB mounts carry the port in the source URL on every platform.
func staleMountPoints(mountOutput, host string, port int) []string {
	nfsSource := host + ":/ on "
	nfsPort := "port=" + strconv.Itoa(port)
	smbSource := fmt.Sprintf("@%s:%d/", host, port)

	var mounts []string
	scanner := bufio.NewScanner(strings.NewReader(mountOutput))
	for scanner.Scan() {
		line := scanner.Text()
		nfs := strings.HasPrefix(line, nfsSource) && containsOption(line, nfsPort)
		smb := strings.Contains(strings.ToLower(line), strings.ToLower(smbSource))
		if !nfs && !smb {
			continue
		}
		parts := strings.SplitN(line, " on ", 2)
		if len(parts) != 2 {
			continue
		}
		mountPart := parts[1]
		for _, sep := range []string{" type ", " ("} {
			if idx := strings.Index(mountPart, sep); idx != -1 {
				mountPart = mountPart[:idx]
			}
		}
		mounts = append(mounts, mountPart)
	}
	return mounts
}

// containsOption matches opt as a whole comma-separated mount option.
func containsOption(line, opt string) bool {
	start := strings.LastIndex(line, "(")
	if start == -1 {
		return false
	}
	for _, o := range strings.Split(strings.Trim(line[start:], "()"), ",") {
		if strings.TrimSpace(o) == opt {
			return true
		}
	}
	return false
}

// cleanupStalePidFile removes PID file if the process is not running
func cleanupStalePidFile() bool {
	pid, err := GetPID()
	if err != nil {
		return false
	}
	if util.IsProcessRunning(pid) {
		return false
	}
	os.Remove(PidPath())
	return true
}

// cleanupStaleSocket removes socket file if daemon isn't running
func cleanupStaleSocket() bool {
	socketPath := SocketPath()
	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		return false
	}
	if !IsDaemonRunning() {
		os.Remove(socketPath)
		return true
	}
	return false
}

// FormatCleanupResult formats a cleanup result for display
func FormatCleanupResult(result *CleanupResult) string {
	var parts []string

	if len(result.StaleMounts) > 0 {
		parts = append(parts, fmt.Sprintf("Unmounted %d stale mount(s):", len(result.StaleMounts)))
		for _, m := range result.StaleMounts {
			parts = append(parts, fmt.Sprintf("  - %s", m))
		}
	}

	if result.CleanedPidFile {
		parts = append(parts, "Cleaned up stale PID file")
	}

	if result.CleanedSocket {
		parts = append(parts, "Cleaned up stale socket file")
	}

	if len(result.Errors) > 0 {
		parts = append(parts, fmt.Sprintf("Encountered %d error(s):", len(result.Errors)))
		for _, e := range result.Errors {
			parts = append(parts, fmt.Sprintf("  - %s", e.Error()))
		}
	}

	if len(parts) == 0 {
		return "No cleanup needed"
	}

	return strings.Join(parts, "\n")
}
