package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"ramfs/internal/daemon"
	"ramfs/internal/util"
)

var (
	fgreen  = color.New(color.FgHiGreen).SprintFunc()
	fred    = color.New(color.FgHiRed).SprintFunc()
	fyellow = color.New(color.FgYellow).SprintFunc()
	fcyan   = color.New(color.FgHiCyan).SprintFunc()
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long:  `Shows whether the daemon is running, where it serves, and how much the filesystem holds.`,
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	resp, err := daemonStatus()
	if err != nil || !resp.Success {
		printStopped(out)
		return nil
	}
	printStatus(out, resp, time.Now())
	return nil
}

// printStopped reports a daemon that does not answer, telling a clean stop
// apart from a hung or crashed one.
func printStopped(out io.Writer) {
	pid, pidErr := daemon.GetPID()
	lock := flock.New(daemon.LockPath())
	locked, lockErr := lock.TryLock()
	if locked {
		lock.Unlock()
	}

	switch {
	case lockErr == nil && !locked:
		fmt.Fprintf(out, "Daemon: %s (holds the lock but does not answer", fyellow("unresponsive"))
		if pidErr == nil {
			fmt.Fprintf(out, ", PID %d", pid)
		}
		fmt.Fprintln(out, ")")
	case pidErr == nil && !util.IsProcessRunning(pid):
		fmt.Fprintf(out, "Daemon: %s (stale pid file for PID %d; run 'ramfs stop' to clean up)\n", fred("not running"), pid)
	default:
		fmt.Fprintf(out, "Daemon: %s\n", fred("not running"))
	}
}

func printStatus(out io.Writer, resp *daemon.Response, now time.Time) {
	fmt.Fprintf(out, "Daemon: %s (PID %d)\n", fgreen("running"), resp.PID)
	fmt.Fprintf(out, "Session: %s\n", resp.SessionID)
	fmt.Fprintf(out, "Serving: %s on %s\n", resp.Transport, fcyan(resp.Listen))
	if resp.StartedAt > 0 {
		uptime := now.Sub(time.Unix(resp.StartedAt, 0)).Round(time.Second)
		fmt.Fprintf(out, "Uptime: %s\n", uptime)
	}
	if resp.Metrics != "" {
		fmt.Fprintf(out, "Metrics: http://%s/metrics\n", resp.Metrics)
	}
	if u := resp.Usage; u != nil {
		limit := "unlimited"
		if u.MaxBytes > 0 {
			limit = formatBytes(u.MaxBytes)
			if u.Bytes*10 >= u.MaxBytes*9 {
				limit = fyellow(limit)
			}
		}
		fmt.Fprintf(out, "Usage: %d inodes, %s of %s, %d open handles\n",
			u.Inodes, formatBytes(u.Bytes), limit, u.OpenHandles)
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
