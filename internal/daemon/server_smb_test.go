//go:build smb

package daemon

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSMBMountCommand(t *testing.T) {
	name, args := smbMountCommand("darwin", "127.0.0.1", 1445, "ramfs", "/tmp/m")
	assert.Equal(t, "mount_smbfs", name)
	assert.Equal(t, []string{"-N", "-o", "nobrowse,nostreams", "//Guest@127.0.0.1:1445/ramfs", "/tmp/m"}, args)

	name, args = smbMountCommand("linux", "127.0.0.1", 1445, "ramfs", "/tmp/m")
	assert.Equal(t, "mount", name)
	assert.Equal(t, []string{"-t", "cifs", "-o", "port=1445,guest,vers=3.0,noserverino", "//127.0.0.1/ramfs", "/tmp/m"}, args)
}

func TestNetFSTypeSMB(t *testing.T) {
	assert.Equal(t, "smb", NetFSType())
}
