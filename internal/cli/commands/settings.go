package commands

import (
	"github.com/spf13/cobra"

	"ramfs/internal/daemon"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Print the effective settings",
	Long: `Prints the settings the daemon would start with: settings.yaml in the
config directory with RAMFS_* environment variables applied on top.

Fields:
  listen           address to serve on (RAMFS_LISTEN)
  share_name       SMB share name (RAMFS_SHARE_NAME)
  log_level        trace, debug, info, warn, error, off (RAMFS_LOG_LEVEL)
  log_max_size_mb  rotate the daemon log at this size (RAMFS_LOG_MAX_SIZE_MB)
  log_max_backups  rotated logs to keep (RAMFS_LOG_MAX_BACKUPS)
  max_bytes        memory budget, 0 = unlimited (RAMFS_MAX_BYTES)
  seed_dir         host directory copied in at start (RAMFS_SEED_DIR)
  seed_gitignore   skip paths matched by .gitignore (RAMFS_SEED_GITIGNORE)
  metrics_listen   Prometheus endpoint, empty = off (RAMFS_METRICS_LISTEN)
  transport        nfs or smb, must match the build (RAMFS_TRANSPORT)`,
	Args: cobra.NoArgs,
	RunE: runSettings,
}

func init() {
	rootCmd.AddCommand(settingsCmd)
}

func runSettings(cmd *cobra.Command, args []string) error {
	settings, err := daemon.LoadSettings()
	if err != nil {
		return err
	}
	data, err := daemon.MarshalSettings(settings)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
