package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"ramfs/internal/common"
	"ramfs/internal/daemon"
	"ramfs/internal/util"
)

// StartDaemonIfNeeded starts the daemon in the background if not running,
// reporting progress to notify when it is non-nil.
func StartDaemonIfNeeded(ctx context.Context, notify io.Writer) error {
	poll := util.FastPollConfig()
	poll.Timeout = 10 * time.Second
	cfg := util.DaemonStartConfig{Notify: notify, PollConfig: poll}

	return util.StartDaemonIfNeeded(ctx, cfg, daemon.IsDaemonRunning, []string{"serve", "--foreground"})
}

// daemonStatus asks the running daemon for its status.
func daemonStatus() (*daemon.Response, error) {
	client, err := daemon.Connect()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDaemonNotRunning, err)
	}
	defer client.Close()
	return client.Status()
}
