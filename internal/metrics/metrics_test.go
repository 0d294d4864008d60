package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ramfs/internal/ramfs"
)

type fakeSource struct {
	usage   ramfs.Usage
	handles int
}

func (f *fakeSource) Usage() ramfs.Usage { return f.usage }
func (f *fakeSource) OpenHandles() int   { return f.handles }

func TestObserveOpCountsByResult(t *testing.T) {
	m := New(&fakeSource{}, nil)

	m.ObserveOp("open", nil, time.Millisecond)
	m.ObserveOp("open", nil, time.Millisecond)
	m.ObserveOp("open", syscall.ENOENT, time.Millisecond)
	m.ObserveOp("write", syscall.ENOSPC, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ops.WithLabelValues("open", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ops.WithLabelValues("open", "ENOENT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ops.WithLabelValues("write", "ENOSPC")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.latency))
}

func TestResultLabel(t *testing.T) {
	assert.Equal(t, "ok", resultLabel(nil))
	assert.Equal(t, "ENOTSUP", resultLabel(syscall.ENOTSUP))
	assert.Equal(t, "other", resultLabel(io.EOF))
	assert.Equal(t, "canceled", resultLabel(context.Canceled))
	assert.Equal(t, "other", resultLabel(syscall.EPIPE))
}

func TestUsageCollector(t *testing.T) {
	src := &fakeSource{
		usage:   ramfs.Usage{Inodes: 3, Bytes: 1024, MaxBytes: 4096},
		handles: 2,
	}
	c := newUsageCollector(src, prometheus.Labels{"share": "test"})

	expected := `
# HELP ramfs_bytes Bytes charged against the memory budget.
# TYPE ramfs_bytes gauge
ramfs_bytes{share="test"} 1024
# HELP ramfs_inodes Live inodes, including the root directory.
# TYPE ramfs_inodes gauge
ramfs_inodes{share="test"} 3
# HELP ramfs_max_bytes Memory budget in bytes; 0 means unlimited.
# TYPE ramfs_max_bytes gauge
ramfs_max_bytes{share="test"} 4096
# HELP ramfs_open_handles Open descriptors held by network clients.
# TYPE ramfs_open_handles gauge
ramfs_open_handles{share="test"} 2
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected)))

	// Values are read at scrape time.
	src.usage.Bytes = 2048
	rescrape := `
# HELP ramfs_bytes Bytes charged against the memory budget.
# TYPE ramfs_bytes gauge
ramfs_bytes{share="test"} 2048
`
	assert.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(rescrape), "ramfs_bytes"))
}

func TestServe(t *testing.T) {
	m := New(&fakeSource{usage: ramfs.Usage{Inodes: 1}}, nil)
	m.ObserveOp("mkdir", nil, time.Microsecond)

	addr, stop, err := m.Serve("127.0.0.1:0")
	require.NoError(t, err)
	defer stop(context.Background())

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `ramfs_ops_total{op="mkdir",result="ok"} 1`)
	assert.Contains(t, string(body), "ramfs_inodes 1")
	assert.Contains(t, string(body), "go_goroutines")
}
