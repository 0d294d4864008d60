//go:build smb

package daemon

import (
	"fmt"
	"os"

	smb2 "github.com/macos-fuse-t/go-smb2/server"
	"github.com/macos-fuse-t/go-smb2/vfs"
	log "github.com/sirupsen/logrus"

	ramvfs "ramfs/internal/vfs"
)

func init() {
	netFSTypeName = "smb"
}

// SMBServer wraps the go-smb2 server
type SMBServer struct {
	server *smb2.Server
}

// newNetFSServer creates the server for this build's transport.
func newNetFSServer(share *ramvfs.RamShare, shareName string) NetFSServer {
	return NewSMBServer(share, shareName)
}

// NewSMBServer creates a new SMB server exporting share under shareName
func NewSMBServer(share *ramvfs.RamShare, shareName string) *SMBServer {
	smbCfg := &smb2.ServerConfig{
		AllowGuest:  true,
		MaxIOReads:  4,
		MaxIOWrites: 4,
	}

	shares := map[string]vfs.VFSFileSystem{
		shareName: share,
	}

	auth := &smb2.NTLMAuthenticator{
		NbDomain:   "WORKGROUP",
		NbName:     "RAMFS",
		DnsName:    "ramfs.local",
		DnsDomain:  ".local",
		AllowGuest: true,
	}

	return &SMBServer{
		server: smb2.NewServer(smbCfg, auth, shares),
	}
}

// Serve starts the SMB server
func (s *SMBServer) Serve(addr string) error {
	log.Infof("[SMB] Serving on %s", addr)
	return s.server.Serve(addr)
}

// Shutdown stops the SMB server
func (s *SMBServer) Shutdown() {
	s.server.Shutdown()
}

// MountNetFS mounts the daemon's SMB share at mountPath as a guest.
func MountNetFS(addr, shareName, mountPath string) error {
	host, port, err := splitHostPort(addr)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(mountPath, 0755); err != nil {
		return fmt.Errorf("failed to create mount point: %w", err)
	}
	name, args := smbMountCommand(hostOS(), host, port, shareName, mountPath)
	return runMountCommand(name, args)
}

func smbMountCommand(goos, host string, port int, shareName, mountPath string) (string, []string) {
	if goos == "darwin" {
		// -N skips the password prompt; nostreams because the share has no
		// named streams.
		url := fmt.Sprintf("//Guest@%s:%d/%s", host, port, shareName)
		return "mount_smbfs", []string{"-N", "-o", "nobrowse,nostreams", url, mountPath}
	}
	opts := fmt.Sprintf("port=%d,guest,vers=3.0,noserverino", port)
	return "mount", []string{"-t", "cifs", "-o", opts, fmt.Sprintf("//%s/%s", host, shareName), mountPath}
}
