package econ

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeServer is a loopback ECON console. It accepts the password on every
// connection unless reject returns true for that attempt number.
type fakeServer struct {
	t        *testing.T
	listener net.Listener
	password string
	reject   func(attempt int) bool

	mu       sync.Mutex
	attempts int
	conns    []net.Conn
	closed   int
	authed   chan net.Conn
	lines    chan string
	wg       sync.WaitGroup
}

func startFakeServer(t *testing.T, password string) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	s := &fakeServer{
		t:        t,
		listener: ln,
		password: password,
		authed:   make(chan net.Conn, 16),
		lines:    make(chan string, 256),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.stop)
	return s
}

func (s *fakeServer) endpoint() Endpoint {
	host, port, _ := net.SplitHostPort(s.listener.Addr().String())
	p, _ := strconv.Atoi(port)
	return Endpoint{Host: host, Port: p, Password: s.password}
}

func (s *fakeServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.attempts++
		attempt := s.attempts
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn, attempt)
	}
}

func (s *fakeServer) serve(conn net.Conn, attempt int) {
	defer s.wg.Done()
	reader := bufio.NewReader(conn)

	password, err := reader.ReadString('\n')
	if err != nil {
		conn.Close()
		return
	}
	conn.Write([]byte("Enter password:\n"))

	if strings.TrimSpace(password) != s.password || (s.reject != nil && s.reject(attempt)) {
		conn.Write([]byte("Wrong password 1/3.\n"))
		conn.Close()
		return
	}
	conn.Write([]byte("Authentication successful. External console access granted.\n"))

	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()
	s.authed <- conn

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			s.mu.Lock()
			s.closed++
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.lines <- strings.TrimRight(line, "\n")
	}
}

// waitAuthed returns the next connection that passed authentication.
func (s *fakeServer) waitAuthed() net.Conn {
	s.t.Helper()
	select {
	case conn := <-s.authed:
		return conn
	case <-time.After(2 * time.Second):
		s.t.Fatal("Timed out waiting for an authenticated connection")
		return nil
	}
}

// nextLine returns the next command line written by a client.
func (s *fakeServer) nextLine() string {
	s.t.Helper()
	select {
	case line := <-s.lines:
		return line
	case <-time.After(2 * time.Second):
		s.t.Fatal("Timed out waiting for a command line")
		return ""
	}
}

func (s *fakeServer) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *fakeServer) closedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeServer) stop() {
	s.listener.Close()
	s.mu.Lock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// testOptions keeps reconnect delays short.
func testOptions() Options {
	return Options{
		Name:             "test",
		Backoff:          20 * time.Millisecond,
		DialTimeout:      time.Second,
		HandshakeTimeout: time.Second,
	}
}
