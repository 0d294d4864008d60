package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"ramfs/internal/daemon"
	"ramfs/internal/util"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the daemon",
	Long: `Starts the ramfs daemon. Flags override settings.yaml and RAMFS_* variables
for this run only.

Examples:
  ramfs serve
  ramfs serve --seed ./project --max-bytes 268435456
  ramfs serve --foreground --log-level debug`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveForeground bool
	serveListen     string
	serveSeed       string
	serveMaxBytes   int64
	serveLogLevel   string
	serveLogStderr  bool
)

func init() {
	serveCmd.Flags().BoolVarP(&serveForeground, "foreground", "f", false, "Run in foreground")
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Address to serve on (host:port)")
	serveCmd.Flags().StringVar(&serveSeed, "seed", "", "Host directory copied into the filesystem at start")
	serveCmd.Flags().Int64Var(&serveMaxBytes, "max-bytes", 0, "Memory budget in bytes (0 = unlimited)")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "", "Log level: trace, debug, info, warn, error, off")
	serveCmd.Flags().BoolVar(&serveLogStderr, "log-stderr", false, "Log to stderr instead of the log file (foreground only)")
	rootCmd.AddCommand(serveCmd)
}

// serveSettings merges the changed flags over the loaded settings.
func serveSettings(cmd *cobra.Command) (*daemon.Settings, error) {
	settings, err := daemon.LoadSettings()
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("listen") {
		settings.Listen = serveListen
	}
	if flags.Changed("seed") {
		abs, err := filepath.Abs(serveSeed)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve seed directory: %w", err)
		}
		settings.SeedDir = abs
	}
	if flags.Changed("max-bytes") {
		settings.MaxBytes = serveMaxBytes
	}
	if flags.Changed("log-level") {
		settings.LogLevel = serveLogLevel
	}
	settings.ApplyDefaults()
	return settings, settings.Validate()
}

// serveArgs rebuilds the changed flags for the detached foreground process.
func serveArgs(cmd *cobra.Command, settings *daemon.Settings) []string {
	args := []string{"serve", "--foreground"}
	flags := cmd.Flags()
	if flags.Changed("listen") {
		args = append(args, "--listen", settings.Listen)
	}
	if flags.Changed("seed") {
		args = append(args, "--seed", settings.SeedDir)
	}
	if flags.Changed("max-bytes") {
		args = append(args, "--max-bytes", strconv.FormatInt(settings.MaxBytes, 10))
	}
	if flags.Changed("log-level") {
		args = append(args, "--log-level", settings.LogLevel)
	}
	return args
}

func runServe(cmd *cobra.Command, args []string) error {
	settings, err := serveSettings(cmd)
	if err != nil {
		return err
	}

	if daemon.IsDaemonRunning() {
		pid, _ := daemon.GetPID()
		fmt.Fprintf(cmd.OutOrStdout(), "Daemon already running (PID %d)\n", pid)
		return nil
	}

	if serveForeground {
		d := daemon.New(*settings)
		d.LogToStderr = serveLogStderr
		return d.Run(cmd.Context())
	}

	exe, err := util.GetExecutablePath()
	if err != nil {
		return err
	}
	if _, err := util.StartBackgroundProcess(exe, serveArgs(cmd, settings), nil); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Seeding a large tree happens before the daemon answers, so allow
	// the full 10 seconds.
	if util.WaitFixed(400, 25*time.Millisecond, daemon.IsDaemonRunning) {
		pid, _ := daemon.GetPID()
		fmt.Fprintf(cmd.OutOrStdout(), "Daemon started (PID %d) serving %s on %s\n", pid, daemon.NetFSType(), settings.Listen)
		return nil
	}
	return fmt.Errorf("daemon did not start, see %s", daemon.LogPath())
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	Long: `Stops the running daemon. The filesystem and everything in it is discarded.
Unmount any mount points first.`,
	Args: cobra.NoArgs,
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if !daemon.IsDaemonRunning() {
		fmt.Fprintln(out, "Daemon not running")
		if settings, err := daemon.LoadSettings(); err == nil {
			daemon.CleanupStale(settings.Listen)
		}
		return nil
	}
	if err := stopDaemonAndWait(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(out, "Daemon stopped")
	return nil
}

// stopDaemonAndWait asks the daemon to stop and waits for it to go away,
// falling back to signals when it does not answer or does not exit.
func stopDaemonAndWait(ctx context.Context) error {
	pid, _ := daemon.GetPID()

	client, err := daemon.Connect()
	if err == nil {
		resp, serr := client.Stop()
		client.Close()
		if serr != nil {
			return fmt.Errorf("stop request failed: %w", serr)
		}
		if !resp.Success {
			return fmt.Errorf("%s", resp.Error)
		}
		if util.WaitFixed(400, 25*time.Millisecond, func() bool { return !daemon.IsDaemonRunning() }) {
			return nil
		}
	}

	if pid <= 0 {
		return fmt.Errorf("daemon did not stop and has no pid file")
	}
	return util.StopProcess(ctx, pid, util.ProcessConfig{GracefulTimeout: 3 * time.Second})
}
