package daemon

import (
	"fmt"
	"net"
	"strconv"
)

// NetFSServer abstracts the network filesystem server (SMB or NFS)
type NetFSServer interface {
	// Serve starts the server on the given address (e.g., "127.0.0.1:12345")
	// and blocks until it stops.
	Serve(addr string) error

	// Shutdown stops the server
	Shutdown()
}

// NetFSType returns the type of network filesystem in use ("smb" or "nfs")
// Implemented via build tags in server_smb.go or server_nfs.go
func NetFSType() string {
	return netFSTypeName
}

// netFSTypeName is set by build-tagged files
var netFSTypeName string

// splitHostPort parses a listen address into the host and port a mount
// command needs. An empty or wildcard host means the local machine.
func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port in address %q", addr)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return host, port, nil
}
