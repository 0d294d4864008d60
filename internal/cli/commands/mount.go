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

package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/spf13/cobra"

	"ramfs/internal/daemon"
	"ramfs/internal/util"
)

var mountCmd = &cobra.Command{
	Use:   "mount <mount-point>",
	Short: "Mount the filesystem",
	Long: `Mounts the daemon's filesystem at the specified mount point. Mounting
needs the privileges your OS requires for NFS (or SMB) mounts.

The daemon will be started automatically if not running.

Examples:
  ramfs mount ./scratch
  sudo ramfs mount /mnt/ram`,
	Args: cobra.ExactArgs(1),
	RunE: runMount,
}

func init() {
	rootCmd.AddCommand(mountCmd)
}

func runMount(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	absMountPoint, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("failed to resolve mount point: %w", err)
	}
	if err := checkMountTarget(absMountPoint); err != nil {
		return err
	}

	if err := StartDaemonIfNeeded(ctx, cmd.ErrOrStderr()); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	status, err := daemonStatus()
	if err != nil {
		return fmt.Errorf("failed to query daemon: %w", err)
	}
	if err := util.WaitForTCP(ctx, util.DefaultPollConfig(), status.Listen); err != nil {
		return fmt.Errorf("daemon is not serving on %s: %w", status.Listen, err)
	}

	settings, err := daemon.LoadSettings()
	if err != nil {
		return err
	}

	// A just-started server can refuse the first MOUNT call.
	err = util.Retry(ctx, func() error {
		return daemon.MountNetFS(status.Listen, settings.ShareName, absMountPoint)
	},
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Mounted %s at %s\n", status.Listen, absMountPoint)
	return nil
}

// checkMountTarget requires the target to be missing or an empty directory.
func checkMountTarget(target string) error {
	if daemon.IsMounted(target) {
		return fmt.Errorf("already mounted: %s", target)
	}
	info, err := os.Lstat(target)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("target exists and is not a directory: %s", target)
	}
	entries, err := os.ReadDir(target)
	if err != nil {
		return fmt.Errorf("failed to read target directory: %w", err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("target directory is not empty: %s", target)
	}
	return nil
}
