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

// Package integration drives the ramfs binary end to end.
//
// TestMain builds bin/ramfs once. Every TestEnv gets its own config
// directory (RAMFS_CONFIG_DIR) and its own loopback port, so tests can run
// in parallel with isolated daemons. Mount tests need root and an NFS
// client; they only run with RAMFS_MOUNT_TESTS=1.
package integration

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	. "github.com/onsi/gomega"
)

var (
	cliBinary   string
	projectRoot string
)

// TestMain builds the CLI binary once before running all tests
func TestMain(m *testing.M) {
	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get working directory: %v\n", err)
		os.Exit(1)
	}

	projectRoot = filepath.Join(wd, "..", "..")
	cliBinary = filepath.Join(projectRoot, "bin", "ramfs")

	if err := os.MkdirAll(filepath.Join(projectRoot, "bin"), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create bin directory: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Building ramfs binary with NFS support...")
	cmd := exec.Command("go", "build", "-o", cliBinary, "./cmd/ramfs")
	cmd.Dir = projectRoot
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build binary: %v\n", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

// CLIResult holds the outcome of one CLI invocation
type CLIResult struct {
	Stdout   string
	Stderr   string
	Combined string
	ExitCode int
}

// Contains reports whether stdout or stderr contains s
func (r CLIResult) Contains(s string) bool {
	return strings.Contains(r.Combined, s)
}

// TestEnv is an isolated daemon environment
type TestEnv struct {
	t         *testing.T
	g         Gomega
	configDir string
	listen    string
}

// NewTestEnv creates an environment with its own config dir and port.
// Unix socket paths are limited to ~104 bytes, so the config dir lives
// directly under the system temp dir rather than in t.TempDir().
func NewTestEnv(t *testing.T, name string) *TestEnv {
	t.Helper()
	configDir, err := os.MkdirTemp("", "rfs-"+name)
	if err != nil {
		t.Fatalf("create config dir: %v", err)
	}

	env := &TestEnv{
		t:         t,
		g:         NewWithT(t),
		configDir: configDir,
		listen:    freeLoopbackAddr(t),
	}
	t.Cleanup(env.Cleanup)
	return env
}

// Cleanup stops the daemon if one is left and removes the config dir
func (e *TestEnv) Cleanup() {
	if e.RunCLI("status").Contains("running (PID") {
		e.RunCLI("stop")
	}
	if pid := e.daemonPID(); pid > 0 {
		if proc, err := os.FindProcess(pid); err == nil {
			proc.Kill()
		}
	}
	os.RemoveAll(e.configDir)
}

// RunCLI runs the binary with this environment's config dir and port
func (e *TestEnv) RunCLI(args ...string) CLIResult {
	return RunCLIWithEnv([]string{
		"RAMFS_CONFIG_DIR=" + e.configDir,
		"RAMFS_LISTEN=" + e.listen,
	}, "", args...)
}

// RunCLIWithStdin runs the binary feeding stdin
func (e *TestEnv) RunCLIWithStdin(stdin string, args ...string) CLIResult {
	return RunCLIWithEnv([]string{"RAMFS_CONFIG_DIR=" + e.configDir}, stdin, args...)
}

// StartDaemon starts a background daemon and waits until it answers
func (e *TestEnv) StartDaemon(extraArgs ...string) {
	e.t.Helper()
	result := e.RunCLI(append([]string{"serve"}, extraArgs...)...)
	e.g.Expect(result.ExitCode).To(Equal(0), "serve failed: %s", result.Combined)
	e.g.Expect(waitForCondition(e.t, "daemon running", 10*time.Second, func() bool {
		return e.RunCLI("status").Contains("running (PID")
	})).To(BeTrue())
}

// StopDaemon stops the daemon and waits until the pid file is gone
func (e *TestEnv) StopDaemon() {
	e.t.Helper()
	result := e.RunCLI("stop")
	e.g.Expect(result.ExitCode).To(Equal(0), "stop failed: %s", result.Combined)
	e.g.Expect(waitForCondition(e.t, "daemon stopped", 10*time.Second, func() bool {
		return e.daemonPID() == 0
	})).To(BeTrue())
}

func (e *TestEnv) daemonPID() int {
	data, err := os.ReadFile(filepath.Join(e.configDir, "daemon.pid"))
	if err != nil {
		return 0
	}
	pid, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	return pid
}

// CLITimeout is the maximum time a CLI command can run before being killed.
// This prevents tests from hanging indefinitely on stale NFS mounts.
const CLITimeout = 15 * time.Second

// RunCLIWithEnv executes the CLI with extra environment variables. The
// RAMFS_* variables of the test process are not inherited.
func RunCLIWithEnv(extraEnv []string, stdin string, args ...string) CLIResult {
	ctx, cancel := context.WithTimeout(context.Background(), CLITimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, cliBinary, args...)
	// The background daemon inherits nothing from these pipes, but give
	// them a bounded drain anyway.
	cmd.WaitDelay = 2 * time.Second

	env := make([]string, 0, len(os.Environ())+len(extraEnv))
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, "RAMFS_") {
			env = append(env, kv)
		}
	}
	cmd.Env = append(env, extraEnv...)
	cmd.Stdin = strings.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	exitCode := 0
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			exitCode = 124
			stderr.WriteString(fmt.Sprintf("\n[CLI TIMEOUT] Command timed out after %v: %v\n", CLITimeout, args))
		} else if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = 1
		}
	}

	return CLIResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Combined: stdout.String() + stderr.String(),
		ExitCode: exitCode,
	}
}

// freeLoopbackAddr reserves a port long enough to learn its number.
func freeLoopbackAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().String()
}

// waitForCondition polls condition every 50ms until it holds or timeout
// passes, logging once a second so a hang shows what it was waiting for.
func waitForCondition(t *testing.T, name string, timeout time.Duration, condition func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	lastLog := time.Now()
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		if time.Since(lastLog) >= time.Second {
			t.Logf("[waitFor:%s] still waiting...", name)
			lastLog = time.Now()
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Logf("[waitFor:%s] TIMEOUT after %v", name, timeout)
	return condition()
}
