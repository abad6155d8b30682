package sshutil

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// execResult is what the test server does for one exec request.
type execResult struct {
	stdout string
	status uint32
	delay  time.Duration
}

// testServer is a minimal in-process sshd that only understands "exec".
type testServer struct {
	ln      net.Listener
	hostKey ssh.PublicKey
	keyPath string

	mu       sync.Mutex
	handlers map[string]execResult
}

// startTestServer starts a server that accepts the generated client key and
// isolates the test from the user's ssh config and agent.
func startTestServer(t *testing.T) *testServer {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("SSH_AUTH_SOCK", "")

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	clientPub, clientPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	sshClientPub, err := ssh.NewPublicKey(clientPub)
	require.NoError(t, err)

	block, err := ssh.MarshalPrivateKey(clientPriv, "")
	require.NoError(t, err)
	keyPath := filepath.Join(home, "id_test")
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600))

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), sshClientPub.Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("unknown key")
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &testServer{
		ln:       ln,
		hostKey:  hostSigner.PublicKey(),
		keyPath:  keyPath,
		handlers: make(map[string]execResult),
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(nc, cfg)
		}
	}()
	return s
}

func (s *testServer) addr() string { return s.ln.Addr().String() }

func (s *testServer) handle(cmd string, r execResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[cmd] = r
}

func (s *testServer) options() Options {
	return Options{User: "tester", KeyPath: s.keyPath, Timeout: 2 * time.Second}
}

func (s *testServer) serve(nc net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		nc.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		go func() {
			defer ch.Close()
			for req := range chReqs {
				if req.Type != "exec" {
					_ = req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				_ = ssh.Unmarshal(req.Payload, &payload)
				_ = req.Reply(true, nil)

				s.mu.Lock()
				r := s.handlers[payload.Command]
				s.mu.Unlock()

				time.Sleep(r.delay)
				_, _ = ch.Write([]byte(r.stdout))
				_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{r.status}))
				return
			}
		}()
	}
}
