package econ

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lawnchairsociety/twbridge/internal/logger"
)

// AuthSuccessMarker is the substring the server sends once the password
// has been accepted.
const AuthSuccessMarker = "Authentication successful"

// Endpoint identifies one game server console.
type Endpoint struct {
	Host     string
	Port     int
	Password string
}

// Addr returns the host:port dial address.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Options tune the connection behaviour of a Client.
type Options struct {
	// Name labels log lines for this client (usually the binding name).
	Name string

	// Backoff is the fixed delay between failed connection attempts.
	Backoff time.Duration

	// DialTimeout bounds a single TCP connect. Zero means no timeout.
	DialTimeout time.Duration

	// HandshakeTimeout bounds the password exchange. Zero means no timeout.
	HandshakeTimeout time.Duration
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		Backoff:          5 * time.Second,
		DialTimeout:      10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
	}
}

// Client is an authenticated ECON session that reconnects on its own.
//
// Send and Receive may be called concurrently with each other. Concurrent
// Sends are serialized, as are concurrent Receives. Neither ever reports a
// transient network failure: they block through the outage while the
// client reconnects, so callers only observe added latency.
//
// The password handshake runs on a socket that is not yet visible to Send
// or Receive and holds both the write and read locks, so user traffic can
// never interleave with it.
type Client struct {
	endpoint Endpoint
	opts     Options

	// Lock order: connectMu, writeMu, readMu, mu.
	connectMu sync.Mutex
	writeMu   sync.Mutex
	readMu    sync.Mutex

	mu            sync.Mutex
	conn          net.Conn
	reader        *lineReader
	writer        *bufio.Writer
	authenticated bool
	generation    uint64
	ready         chan struct{} // closed while authenticated
	closed        bool
	done          chan struct{}
}

// session is a snapshot of one authenticated connection.
type session struct {
	generation uint64
	reader     *lineReader
	writer     *bufio.Writer
}

// NewClient creates a disconnected client. Call Connect, or just start
// calling Send and Receive after some goroutine has called Connect.
func NewClient(endpoint Endpoint, opts Options) *Client {
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultOptions().Backoff
	}
	if opts.Name == "" {
		opts.Name = endpoint.Addr()
	}
	return &Client{
		endpoint: endpoint,
		opts:     opts,
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Endpoint returns the console endpoint this client talks to.
func (c *Client) Endpoint() Endpoint {
	return c.endpoint
}

// Authenticated reports whether the client currently holds an
// authenticated connection.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// Connect replaces the current connection, if any, with a freshly dialed
// and authenticated one. The old socket is closed before the new one is
// dialed. Failed attempts are retried after the backoff without limit;
// only context cancellation or Close end the loop early.
func (c *Client) Connect(ctx context.Context) error {
	return c.reconnect(ctx, 0, true)
}

// Send posts text to the game chat as a say command. The text is
// truncated and stripped of line breaks before it reaches the wire.
func (c *Client) Send(ctx context.Context, text string) error {
	return c.writeCommand(ctx, SayCommand(text))
}

// Receive returns the next console line. It must not be called again
// before a previous call has returned on the same goroutine's behalf;
// concurrent callers are serialized. A read in progress is interrupted
// by Close, not by ctx.
func (c *Client) Receive(ctx context.Context) (string, error) {
	for {
		s, err := c.waitReady(ctx)
		if err != nil {
			return "", err
		}

		c.readMu.Lock()
		if !c.isCurrent(s.generation) {
			c.readMu.Unlock()
			continue
		}
		line, err := s.reader.ReadLine()
		c.readMu.Unlock()
		if err == nil {
			return line, nil
		}

		if c.isClosed() {
			return "", ErrClosed
		}
		logger.Warning("ECON read failed, reconnecting", "server", c.opts.Name, "error", err)
		if err := c.reconnect(ctx, s.generation, false); err != nil {
			return "", err
		}
	}
}

// Close shuts the connection down for good. Blocked and future calls
// return ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	c.dropLocked()
	return nil
}

func (c *Client) writeCommand(ctx context.Context, line string) error {
	for {
		s, err := c.waitReady(ctx)
		if err != nil {
			return err
		}

		c.writeMu.Lock()
		if !c.isCurrent(s.generation) {
			c.writeMu.Unlock()
			continue
		}
		err = writeLine(s.writer, line)
		c.writeMu.Unlock()
		if err == nil {
			return nil
		}

		if c.isClosed() {
			return ErrClosed
		}
		logger.Warning("ECON write failed, reconnecting", "server", c.opts.Name, "error", err)
		if err := c.reconnect(ctx, s.generation, false); err != nil {
			return err
		}
	}
}

// waitReady blocks until the client is authenticated and returns the
// current session.
func (c *Client) waitReady(ctx context.Context) (session, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return session{}, ErrClosed
		}
		if c.authenticated {
			s := session{generation: c.generation, reader: c.reader, writer: c.writer}
			c.mu.Unlock()
			return s, nil
		}
		ready := c.ready
		c.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return session{}, ctx.Err()
		case <-c.done:
			return session{}, ErrClosed
		}
	}
}

func (c *Client) isCurrent(generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated && !c.closed && c.generation == generation
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// reconnect replaces the session that failed at generation failed. When
// force is false and a newer session already exists, it returns at once,
// so a reader and a writer failing together cause a single reconnect.
func (c *Client) reconnect(ctx context.Context, failed uint64, force bool) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !force && c.generation != failed {
		c.mu.Unlock()
		return nil
	}
	c.dropLocked()
	c.mu.Unlock()

	for attempt := 1; ; attempt++ {
		err := c.dial(ctx)
		if err == nil {
			logger.Info("ECON authenticated", "server", c.opts.Name, "addr", c.endpoint.Addr(), "attempts", attempt)
			return nil
		}
		if errors.Is(err, ErrClosed) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warning("ECON connection attempt failed", "server", c.opts.Name, "attempt", attempt, "retry_in", c.opts.Backoff, "error", err)

		timer := time.NewTimer(c.opts.Backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-c.done:
			timer.Stop()
			return ErrClosed
		}
	}
}

// dial opens a socket, authenticates on it and publishes it as the current
// session. Cancelling ctx or closing the client aborts a dial or handshake
// in progress.
func (c *Client) dial(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	addr := c.endpoint.Addr()
	d := net.Dialer{Timeout: c.opts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		if c.isClosed() {
			return ErrClosed
		}
		return &HandshakeError{Addr: addr, Stage: "dial", Cause: err}
	}
	abort := context.AfterFunc(ctx, func() { conn.Close() })

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.readMu.Lock()
	defer c.readMu.Unlock()

	reader := newLineReader(conn)
	writer := bufio.NewWriter(conn)
	err = c.handshake(conn, reader, writer)
	if !abort() && err == nil {
		// ctx ended right after the handshake and the socket is gone.
		err = ctx.Err()
	}
	if err != nil {
		conn.Close()
		if c.isClosed() {
			return ErrClosed
		}
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.reader = reader
	c.writer = writer
	c.generation++
	c.authenticated = true
	close(c.ready)
	return nil
}

func (c *Client) handshake(conn net.Conn, reader *lineReader, writer *bufio.Writer) error {
	addr := c.endpoint.Addr()
	if c.opts.HandshakeTimeout > 0 {
		conn.SetDeadline(time.Now().Add(c.opts.HandshakeTimeout))
	}

	if err := writeLine(writer, c.endpoint.Password); err != nil {
		return &HandshakeError{Addr: addr, Stage: "send password", Cause: err}
	}
	// The first line echoes the password prompt.
	if _, err := reader.ReadLine(); err != nil {
		return &HandshakeError{Addr: addr, Stage: "read prompt", Cause: err}
	}
	result, err := reader.ReadLine()
	if err != nil {
		return &HandshakeError{Addr: addr, Stage: "read auth result", Cause: err}
	}
	if !strings.Contains(result, AuthSuccessMarker) {
		return &HandshakeError{Addr: addr, Stage: "authenticate", Cause: ErrAuthFailed}
	}

	return conn.SetDeadline(time.Time{})
}

// dropLocked closes the current socket and marks the client
// unauthenticated. c.mu must be held.
func (c *Client) dropLocked() {
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = nil
	c.reader = nil
	c.writer = nil
	if c.authenticated {
		c.authenticated = false
		c.ready = make(chan struct{})
	}
}
