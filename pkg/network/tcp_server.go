package network

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/PailletJuanPablo/hyperiondb/pkg/protocol"
)

// maxLineBytes bounds a single command line; batch payloads can be large.
const maxLineBytes = 16 << 20

type TCPServer struct {
	handler     *protocol.Handler
	idleTimeout time.Duration
	maxLine     int

	mu       sync.Mutex
	listener net.Listener
	closing  bool
}

func NewTCPServer(handler *protocol.Handler, idleTimeout time.Duration) *TCPServer {
	return &TCPServer{handler: handler, idleTimeout: idleTimeout, maxLine: maxLineBytes}
}

// Start listens on addr and serves until Stop.
func (s *TCPServer) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Serve accepts connections on an existing listener. One goroutine per
// connection; the protocol is strictly request/response so there is no
// per-connection pipelining to manage.
func (s *TCPServer) Serve(listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	log.Printf("[TCP] Listening on %s", listener.Addr())

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return nil
			}
			log.Printf("[TCP] Accept error: %v", err)
			continue
		}
		go s.handleConn(conn)
	}
}

// Stop closes the listener; in-flight connections finish their current
// command and then fail on the next read.
func (s *TCPServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = true
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// Addr reports the bound address, useful when listening on :0.
func (s *TCPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *TCPServer) handleConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), s.maxLine)

	for {
		// A connection may not sit idle between commands forever.
		if s.idleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		}
		if !scanner.Scan() {
			err := scanner.Err()
			if errors.Is(err, bufio.ErrTooLong) {
				// The scanner cannot resync past the oversized line, so
				// answer with failure text and drop the connection.
				conn.Write([]byte(fmt.Sprintf("ERR command line exceeds %d bytes\n", s.maxLine)))
				return
			}
			if err != nil && !isClosedErr(err) {
				log.Printf("[TCP] %s read: %v", conn.RemoteAddr(), err)
			}
			return
		}

		response, closeConn := s.handler.Execute(scanner.Text())
		if _, err := conn.Write([]byte(response + "\n")); err != nil {
			log.Printf("[TCP] %s write: %v", conn.RemoteAddr(), err)
			return
		}
		if closeConn {
			return
		}
	}
}

func isClosedErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}
