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

package util

import (
	"context"
	"fmt"
	"io"
)

// DaemonStartConfig configures daemon start behavior.
type DaemonStartConfig struct {
	Notify     io.Writer  // Receives status messages; nil keeps quiet
	PollConfig PollConfig // Polling config for waiting
}

// StartDaemonIfNeeded starts the daemon in the background if not running.
// startArgs are the arguments that run the daemon in the foreground of the
// detached process (e.g. []string{"serve", "--foreground"}).
// Returns nil if daemon is already running or successfully started.
func StartDaemonIfNeeded(ctx context.Context, cfg DaemonStartConfig, isRunning func() bool, startArgs []string) error {
	if isRunning() {
		return nil
	}

	notify := func(format string, args ...any) {
		if cfg.Notify != nil {
			fmt.Fprintf(cfg.Notify, format, args...)
		}
	}

	notify("Starting daemon...")

	exe, err := GetExecutablePath()
	if err != nil {
		notify(" failed\n")
		return err
	}

	if _, err := StartBackgroundProcess(exe, startArgs, nil); err != nil {
		notify(" failed\n")
		return err
	}

	if err := PollUntil(ctx, cfg.PollConfig, isRunning); err != nil {
		notify(" timeout\n")
		return fmt.Errorf("daemon did not start in time: %w", err)
	}

	notify(" done\n")
	return nil
}
