package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"ramfs/internal/common"
	"ramfs/internal/metrics"
	"ramfs/internal/ramfs"
	"ramfs/internal/seed"
	"ramfs/internal/util"
	ramvfs "ramfs/internal/vfs"
)

func init() {
	// Default logging to discard until Run configures a level
	log.SetOutput(io.Discard)
}

// shutdownTimeout bounds the metrics server drain at exit.
const shutdownTimeout = 2 * time.Second

// Daemon owns one ramfs instance and exports it over the network.
type Daemon struct {
	Settings Settings

	// LogToStderr sends the log to stderr instead of the rotated log file.
	// Used by serve --foreground.
	LogToStderr bool

	lock      *flock.Flock
	logWriter *lumberjack.Logger
	sessionID uuid.UUID
	startedAt time.Time

	mu          sync.Mutex
	share       *ramvfs.RamShare
	server      NetFSServer
	ipcServer   *Server
	metricsAddr net.Addr
	listenAddr  string

	stopCh   chan struct{}
	stopOnce sync.Once
	ready    chan struct{}
}

// New creates a new daemon instance
func New(settings Settings) *Daemon {
	settings.ApplyDefaults()
	return &Daemon{
		Settings:  settings,
		sessionID: uuid.New(),
		stopCh:    make(chan struct{}),
		ready:     make(chan struct{}),
	}
}

// Ready is closed once the daemon serves the filesystem and answers on the
// control socket.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// Stop asks Run to shut down. It is safe to call more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

// Run starts the daemon and blocks until stopped by a signal, ctx, Stop,
// a stop request on the control socket, or a server failure.
func (d *Daemon) Run(ctx context.Context) error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	if err := d.Settings.Validate(); err != nil {
		return err
	}

	// Acquire exclusive lock
	d.lock = flock.New(LockPath())
	locked, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return common.ErrDaemonRunning
	}
	defer d.lock.Unlock()

	if err := d.setupLogging(); err != nil {
		return err
	}
	defer d.closeLogging()

	if result := CleanupStale(d.Settings.Listen); len(result.StaleMounts) > 0 || len(result.Errors) > 0 {
		log.Infof("Startup cleanup: %s", FormatCleanupResult(result))
	}

	logger := log.WithField("session", d.sessionID.String())
	logger.Infof("Daemon starting (PID %d, transport %s)", os.Getpid(), NetFSType())
	d.startedAt = time.Now()

	fs, err := ramfs.Mount(ramfs.WithMaxBytes(d.Settings.MaxBytes), ramfs.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to mount ramfs: %w", err)
	}

	if d.Settings.SeedDir != "" {
		filter := seed.BuildFilter(d.Settings.SeedDir, d.Settings.SeedGitignore, nil)
		if _, err := seed.Seed(ctx, fs, d.Settings.SeedDir, seed.Options{Filter: filter}); err != nil {
			fs.Release()
			return fmt.Errorf("failed to seed from %s: %w", d.Settings.SeedDir, err)
		}
	}

	share := ramvfs.NewRamShare(fs)
	defer func() {
		if err := share.Shutdown(); err != nil {
			log.Warnf("Share shutdown: %v", err)
		}
	}()

	var stopMetrics func(context.Context) error
	if d.Settings.MetricsListen != "" {
		m := metrics.New(share, prometheus.Labels{"share": d.Settings.ShareName})
		share.SetObserver(m)
		addr, stop, err := m.Serve(d.Settings.MetricsListen)
		if err != nil {
			return fmt.Errorf("failed to start metrics endpoint: %w", err)
		}
		stopMetrics = stop
		d.mu.Lock()
		d.metricsAddr = addr
		d.mu.Unlock()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			stopMetrics(sctx)
		}()
	}

	server := newNetFSServer(share, d.Settings.ShareName)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(d.Settings.Listen)
	}()
	defer server.Shutdown()

	listen, err := d.waitListening(ctx, server, serveErr)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.share = share
	d.server = server
	d.listenAddr = listen
	d.mu.Unlock()

	// Start IPC server (after the export is reachable)
	d.ipcServer = NewServer(SocketPath(), d.handleRequest)
	if err := d.ipcServer.Start(); err != nil {
		return fmt.Errorf("IPC server failed to start: %w", err)
	}
	defer d.ipcServer.Stop()

	if err := util.WritePIDFile(PidPath()); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	defer os.Remove(PidPath())

	logger.Infof("Daemon ready: serving %s on %s", NetFSType(), listen)
	close(d.ready)

	sigCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var runErr error
	select {
	case <-sigCtx.Done():
		if ctx.Err() != nil {
			log.Infof("Context done, shutting down...")
		} else {
			log.Infof("Received signal, shutting down...")
		}
	case <-d.stopCh:
		log.Infof("Stop requested, shutting down...")
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("%s server stopped: %w", NetFSType(), err)
			log.Errorf("%v", runErr)
		}
	}

	d.mu.Lock()
	d.share = nil
	d.mu.Unlock()

	logger.Infof("Daemon stopped after %v", time.Since(d.startedAt).Round(time.Millisecond))
	return runErr
}

// waitListening blocks until the server accepts TCP connections and returns
// the address clients should use.
func (d *Daemon) waitListening(ctx context.Context, server NetFSServer, serveErr <-chan error) (string, error) {
	addr := d.Settings.Listen
	cfg := util.DefaultPollConfig()

	// Port 0 asks the kernel for one; the NFS server reports what it bound.
	if bound, ok := server.(interface{ Addr() net.Addr }); ok {
		err := util.PollUntil(ctx, cfg, func() bool { return bound.Addr() != nil })
		if err != nil {
			select {
			case serr := <-serveErr:
				return "", fmt.Errorf("failed to serve on %s: %w", addr, serr)
			default:
			}
			return "", fmt.Errorf("server did not bind %s: %w", addr, err)
		}
		addr = bound.Addr().String()
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	waitErr := make(chan error, 1)
	go func() { waitErr <- util.WaitForTCP(waitCtx, cfg, addr) }()

	select {
	case err := <-waitErr:
		if err != nil {
			return "", fmt.Errorf("server not reachable on %s: %w", addr, err)
		}
		return addr, nil
	case err := <-serveErr:
		if err == nil {
			err = errors.New("server exited")
		}
		return "", fmt.Errorf("failed to serve on %s: %w", addr, err)
	}
}

func (d *Daemon) setupLogging() error {
	level, err := ParseLogLevel(d.Settings.LogLevel)
	if err != nil {
		return err
	}
	if !d.Settings.LogLevelEnabled() {
		log.SetOutput(io.Discard)
		return nil
	}

	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if d.LogToStderr {
		log.SetOutput(os.Stderr)
		return nil
	}

	d.logWriter = &lumberjack.Logger{
		Filename:   LogPath(),
		MaxSize:    d.Settings.LogMaxSizeMB,
		MaxBackups: d.Settings.LogMaxBackups,
	}
	log.SetOutput(d.logWriter)
	return nil
}

func (d *Daemon) closeLogging() {
	if d.logWriter != nil {
		log.SetOutput(io.Discard)
		d.logWriter.Close()
		d.logWriter = nil
	}
}

// handleRequest processes an IPC request
func (d *Daemon) handleRequest(req *Request) *Response {
	switch req.Type {
	case RequestStatus:
		return d.handleStatus()
	case RequestStop:
		return d.handleStop()
	default:
		return &Response{Success: false, Error: fmt.Sprintf("%v: %q", common.ErrUnknownCommand, req.Type)}
	}
}

func (d *Daemon) handleStatus() *Response {
	d.mu.Lock()
	defer d.mu.Unlock()

	resp := &Response{
		Success:   true,
		PID:       os.Getpid(),
		SessionID: d.sessionID.String(),
		Transport: NetFSType(),
		Listen:    d.listenAddr,
		StartedAt: d.startedAt.Unix(),
	}
	if d.metricsAddr != nil {
		resp.Metrics = d.metricsAddr.String()
	}
	if d.share != nil {
		u := d.share.Usage()
		resp.Usage = &UsageStatus{
			Inodes:      u.Inodes,
			Bytes:       u.Bytes,
			MaxBytes:    u.MaxBytes,
			OpenHandles: d.share.OpenHandles(),
		}
	}
	return resp
}

func (d *Daemon) handleStop() *Response {
	d.Stop()
	return &Response{Success: true, Message: "Daemon stopping"}
}

// GetPID reads the daemon PID from file
func GetPID() (int, error) {
	return util.ReadPIDFile(PidPath())
}
