// Package sshtest provides an in-process SSH server for tests. It supports
// exec (with or without a pty) and the sftp subsystem, which is all the
// deployment pipeline uses.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/pkg/sftp"
	xssh "golang.org/x/crypto/ssh"
)

// ExecFunc handles one exec request and returns the exit status.
type ExecFunc func(command string, stdout, stderr io.Writer) int

// Server is a loopback SSH server.
type Server struct {
	// Addr is host:port of the listener.
	Addr string
	// KeyPath is a private key file accepted by the server.
	KeyPath string

	mu       sync.Mutex
	handler  ExecFunc
	commands []string
	ptys     int

	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer starts a server that runs every exec request through handler.
// It is shut down by t.Cleanup.
func NewServer(t testing.TB, handler ExecFunc) *Server {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("host key: %v", err)
	}
	hostSigner, err := xssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	_, clientPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("client key: %v", err)
	}
	block, err := xssh.MarshalPrivateKey(clientPriv, "sshtest")
	if err != nil {
		t.Fatalf("marshal client key: %v", err)
	}
	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatalf("write client key: %v", err)
	}
	clientSigner, err := xssh.NewSignerFromKey(clientPriv)
	if err != nil {
		t.Fatalf("client signer: %v", err)
	}
	authorized := string(clientSigner.PublicKey().Marshal())

	cfg := &xssh.ServerConfig{
		PublicKeyCallback: func(_ xssh.ConnMetadata, key xssh.PublicKey) (*xssh.Permissions, error) {
			if string(key.Marshal()) == authorized {
				return &xssh.Permissions{}, nil
			}
			return nil, errUnauthorized
		},
	}
	cfg.AddHostKey(hostSigner)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &Server{Addr: l.Addr().String(), KeyPath: keyPath, handler: handler, listener: l}
	s.wg.Add(1)
	go s.serve(cfg)
	t.Cleanup(s.Close)
	return s
}

// Host and Port split Addr for building connection targets.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr)
	return host
}

func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr)
	n, _ := strconv.Atoi(port)
	return n
}

// Commands returns every exec command received so far, in order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// PTYRequests counts pty-req requests received.
func (s *Server) PTYRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ptys
}

// Close stops accepting connections.
func (s *Server) Close() {
	_ = s.listener.Close()
	s.wg.Wait()
}

func (s *Server) serve(cfg *xssh.ServerConfig) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn, cfg)
	}
}

func (s *Server) handleConn(nConn net.Conn, cfg *xssh.ServerConfig) {
	conn, chans, reqs, err := xssh.NewServerConn(nConn, cfg)
	if err != nil {
		_ = nConn.Close()
		return
	}
	defer conn.Close()
	go xssh.DiscardRequests(reqs)
	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(xssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, requests)
	}
}

func (s *Server) handleSession(ch xssh.Channel, requests <-chan *xssh.Request) {
	for req := range requests {
		switch req.Type {
		case "pty-req":
			s.mu.Lock()
			s.ptys++
			s.mu.Unlock()
			_ = req.Reply(true, nil)
		case "env":
			_ = req.Reply(true, nil)
		case "exec":
			var payload struct{ Command string }
			if err := xssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			s.mu.Lock()
			s.commands = append(s.commands, payload.Command)
			handler := s.handler
			s.mu.Unlock()
			go func() {
				status := handler(payload.Command, ch, ch.Stderr())
				_ = ch.CloseWrite()
				_, _ = ch.SendRequest("exit-status", false, xssh.Marshal(struct{ Status uint32 }{uint32(status)}))
				_ = ch.Close()
			}()
		case "subsystem":
			var payload struct{ Name string }
			if err := xssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			go func() {
				defer ch.Close()
				srv, err := sftp.NewServer(ch)
				if err != nil {
					return
				}
				_ = srv.Serve()
			}()
		default:
			_ = req.Reply(false, nil)
		}
	}
}

type sshtestError string

func (e sshtestError) Error() string { return string(e) }

const errUnauthorized = sshtestError("sshtest: unauthorized key")
