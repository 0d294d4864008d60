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
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// unmountTimeout is the maximum time to wait for each unmount attempt.
// Once the server is gone the kernel client can block unmount until its soft
// timeout expires; force unmount always returns quickly.
const unmountTimeout = 3 * time.Second

func hostOS() string {
	return runtime.GOOS
}

func runMountCommand(name string, args []string) error {
	log.Debugf("Mount: running %s %s", name, strings.Join(args, " "))
	output, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// unmountCommands lists the attempts Unmount makes, gentlest first.
func unmountCommands(goos, mountPoint string) [][]string {
	var cmds [][]string
	if goos == "darwin" {
		cmds = append(cmds, []string{"diskutil", "unmount", mountPoint})
	}
	cmds = append(cmds, []string{"umount", mountPoint})
	if goos == "linux" {
		cmds = append(cmds, []string{"umount", "-l", mountPoint})
	} else {
		cmds = append(cmds, []string{"umount", "-f", mountPoint})
	}
	return cmds
}

// Unmount unmounts a filesystem
func Unmount(mountPoint string) error {
	if !IsMounted(mountPoint) {
		log.Debugf("Unmount: %s is not mounted, nothing to do", mountPoint)
		return nil
	}

	var lastErr error
	for _, argv := range unmountCommands(hostOS(), mountPoint) {
		ctx, cancel := context.WithTimeout(context.Background(), unmountTimeout)
		output, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
		cancel()
		if err == nil {
			log.Debugf("Unmount: %s succeeded for %s", strings.Join(argv[:len(argv)-1], " "), mountPoint)
			return nil
		}
		log.Debugf("Unmount: %s failed: %v, output: %s", argv[0], err, string(output))
		lastErr = err
	}
	return fmt.Errorf("all unmount attempts failed for %s: %w", mountPoint, lastErr)
}

// IsMounted checks if a path is a mount point by checking the mount table
func IsMounted(mountPoint string) bool {
	output, err := exec.Command("mount").Output()
	if err != nil {
		return false
	}

	// On macOS, /tmp -> /private/tmp and /var -> /private/var, so paths like
	// /tmp/foo appear as /private/tmp/foo in the mount table.
	realPath, err := filepath.EvalSymlinks(mountPoint)
	if err != nil {
		realPath = mountPoint
	}
	return containsMount(string(output), realPath)
}

// containsMount checks if a mount point is in the mount output.
// Lines look like "localhost:/ on /mount/point (nfs, ...)" on macOS and
// "127.0.0.1:/ on /mount/point type nfs (...)" on Linux.
func containsMount(mountOutput, mountPoint string) bool {
	for _, line := range strings.Split(mountOutput, "\n") {
		if strings.Contains(line, " on "+mountPoint+" ") || strings.HasSuffix(line, " on "+mountPoint) {
			return true
		}
	}
	return false
}
