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

package daemon

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

// ipcTimeout bounds one request/response exchange on the control socket.
const ipcTimeout = 5 * time.Second

// Request types
const (
	RequestStatus = "status"
	RequestStop   = "stop"
)

// Request represents an IPC request
type Request struct {
	Type string `json:"type"`
}

// UsageStatus reports what the mounted filesystem currently holds.
type UsageStatus struct {
	Inodes      int   `json:"inodes"`
	Bytes       int64 `json:"bytes"`
	MaxBytes    int64 `json:"max_bytes"`
	OpenHandles int   `json:"open_handles"`
}

// Response represents an IPC response
type Response struct {
	Success   bool         `json:"success"`
	Message   string       `json:"message,omitempty"`
	Error     string       `json:"error,omitempty"`
	PID       int          `json:"pid,omitempty"`
	SessionID string       `json:"session_id,omitempty"`
	Transport string       `json:"transport,omitempty"`
	Listen    string       `json:"listen,omitempty"`
	Metrics   string       `json:"metrics,omitempty"`
	StartedAt int64        `json:"started_at,omitempty"` // Unix timestamp
	Usage     *UsageStatus `json:"usage,omitempty"`
}

// Server is the IPC server
type Server struct {
	path     string
	listener net.Listener
	handler  func(*Request) *Response
}

// NewServer creates a new IPC server listening on path
func NewServer(path string, handler func(*Request) *Response) *Server {
	return &Server{path: path, handler: handler}
}

// Start starts the IPC server
func (s *Server) Start() error {
	// Remove a socket left behind by a crashed daemon
	os.Remove(s.path)

	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("failed to create socket: %w", err)
	}
	s.listener = listener

	if err := os.Chmod(s.path, 0600); err != nil {
		log.Warnf("[IPC] chmod %s: %v", s.path, err)
	}

	go s.accept()
	return nil
}

// Stop stops the IPC server
func (s *Server) Stop() {
	if s.listener != nil {
		s.listener.Close()
		os.Remove(s.path)
	}
}

func (s *Server) accept() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return // Server stopped
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(ipcTimeout))

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		log.Debugf("[IPC] bad request: %v", err)
		return
	}

	resp := s.handler(&req)
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		log.Debugf("[IPC] write response: %v", err)
	}
}

// Client is the IPC client
type Client struct {
	conn net.Conn
}

// Connect connects to the daemon
func Connect() (*Client, error) {
	conn, err := net.DialTimeout("unix", SocketPath(), ipcTimeout)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Send sends a request and returns the response
func (c *Client) Send(req *Request) (*Response, error) {
	c.conn.SetDeadline(time.Now().Add(ipcTimeout))

	if err := json.NewEncoder(c.conn).Encode(req); err != nil {
		return nil, err
	}

	var resp Response
	if err := json.NewDecoder(c.conn).Decode(&resp); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("daemon closed connection")
		}
		return nil, err
	}
	return &resp, nil
}

// Status sends a status request
func (c *Client) Status() (*Response, error) {
	return c.Send(&Request{Type: RequestStatus})
}

// Stop sends a stop request
func (c *Client) Stop() (*Response, error) {
	return c.Send(&Request{Type: RequestStop})
}

// IsDaemonRunning reports whether a daemon answers on the control socket.
func IsDaemonRunning() bool {
	client, err := Connect()
	if err != nil {
		return false
	}
	client.Close()
	return true
}
