package transport

import (
	"net"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/cortex-mind/cortex/internal/cortexerr"
)

// EmbeddedServer is the in-process NATS server Cortex runs its own bus on,
// so a deployment needs no external broker.
type EmbeddedServer struct {
	srv *server.Server
}

// StartEmbedded starts an in-process NATS server on port (-1 picks a free
// port; 0 means the NATS default port) and blocks until it is ready for
// connections or readyTimeout elapses.
func StartEmbedded(port int, readyTimeout time.Duration) (*EmbeddedServer, error) {
	opts := &server.Options{
		Port:     port,
		HTTPPort: -1,
		NoLog:    true,
		NoSigs:   true,
	}
	srv, err := server.NewServer(opts)
	if err != nil {
		return nil, cortexerr.IO(err, "failed to create embedded transport bus")
	}

	go srv.Start()

	if !srv.ReadyForConnections(readyTimeout) {
		srv.Shutdown()
		return nil, cortexerr.Timeout("embedded transport bus did not become ready within %s", readyTimeout)
	}
	return &EmbeddedServer{srv: srv}, nil
}

// URL returns the client connection URL for this embedded server.
func (s *EmbeddedServer) URL() string { return s.srv.ClientURL() }

// Port returns the port the embedded server bound to (useful when
// StartEmbedded was called with port -1).
func (s *EmbeddedServer) Port() int {
	if addr, ok := s.srv.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Shutdown stops the embedded server.
func (s *EmbeddedServer) Shutdown() { s.srv.Shutdown() }
