// Package transport provides the abstract byte-oriented duplex that drives
// an smtpconn.Client, plus a concrete TCP/TLS implementation.
//
// The contract is deliberately narrow: Send, Close, Suspend, Resume, and a
// ReadyState query, paired with five callback slots (OnOpen, OnData,
// OnDrain, OnError, OnClose) set once before the transport is driven. A
// transport owns exactly one background goroutine — the socket read pump —
// which never touches caller state directly; it only posts events that
// Serve drains and dispatches on the caller's goroutine.
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ReadyState mirrors the three states a duplex transport can be in.
type ReadyState int32

const (
	StateConnecting ReadyState = iota
	StateOpen
	StateClosed
)

func (s ReadyState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport is the abstract duplex the client core consumes. Implementations
// must guarantee that OnData callbacks are only ever invoked from Serve, on
// the goroutine that called it, never concurrently with each other.
type Transport interface {
	Send(data []byte) error
	Close() error
	Suspend()
	Resume()
	ReadyState() ReadyState

	OnOpen(func())
	OnData(func([]byte))
	OnDrain(func())
	OnError(func(error))
	OnClose(func())

	// Serve drains transport events and invokes the registered callbacks on
	// the calling goroutine until the transport closes or ctx is done.
	Serve(ctx context.Context) error
}

type eventKind int

const (
	eventData eventKind = iota
	eventError
)

type event struct {
	kind eventKind
	data []byte
	err  error
}

// Conn is a Transport backed by a net.Conn (optionally TLS-wrapped).
type Conn struct {
	netConn net.Conn

	state atomic.Int32

	onOpen  func()
	onData  func([]byte)
	onDrain func()
	onError func(error)
	onClose func()

	events chan event

	paused    atomic.Bool
	resumeSig chan struct{}

	closeOnce sync.Once
	closed    chan struct{}

	writeMu sync.Mutex
}

// dialOptions configure Dial.
type dialOptions struct {
	useTLS      bool
	tlsConfig   *tls.Config
	caPEM       []byte
	dialTimeout time.Duration
}

// Option configures a Dial call.
type Option func(*dialOptions)

// WithTLS enables an immediate TLS handshake after the TCP connection opens,
// corresponding to the caller's useSSL option.
func WithTLS(enabled bool) Option {
	return func(o *dialOptions) { o.useTLS = enabled }
}

// WithCA supplies a PEM-encoded CA certificate used to verify the server,
// corresponding to the caller's ca option. Only meaningful with WithTLS(true).
func WithCA(pem []byte) Option {
	return func(o *dialOptions) { o.caPEM = pem }
}

// WithTLSConfig overrides the TLS configuration entirely; takes precedence
// over WithCA.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(o *dialOptions) { o.tlsConfig = cfg }
}

// WithDialTimeout bounds how long the initial TCP connect may take.
func WithDialTimeout(d time.Duration) Option {
	return func(o *dialOptions) { o.dialTimeout = d }
}

// Dial opens a TCP connection to addr (optionally TLS-wrapped) and returns a
// Transport. The connection's read pump starts immediately; callers must
// register callbacks and call Serve before assuming any are invoked.
func Dial(ctx context.Context, network, addr string, opts ...Option) (*Conn, error) {
	o := dialOptions{dialTimeout: 30 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	dialer := &net.Dialer{Timeout: o.dialTimeout}
	nc, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	if o.useTLS {
		tlsConfig := o.tlsConfig
		if tlsConfig == nil {
			host, _, splitErr := net.SplitHostPort(addr)
			if splitErr != nil {
				host = addr
			}
			tlsConfig = &tls.Config{ServerName: host}
			if len(o.caPEM) > 0 {
				pool := x509.NewCertPool()
				if !pool.AppendCertsFromPEM(o.caPEM) {
					nc.Close()
					return nil, errors.New("transport: failed to parse CA certificate")
				}
				tlsConfig.RootCAs = pool
			}
		}
		tlsConn := tls.Client(nc, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			nc.Close()
			return nil, fmt.Errorf("transport: tls handshake: %w", err)
		}
		nc = tlsConn
	}

	c := &Conn{
		netConn:   nc,
		events:    make(chan event, 16),
		resumeSig: make(chan struct{}, 1),
		closed:    make(chan struct{}),
	}
	c.state.Store(int32(StateOpen))
	go c.pump()
	return c, nil
}

func (c *Conn) OnOpen(f func())        { c.onOpen = f }
func (c *Conn) OnData(f func([]byte))  { c.onData = f }
func (c *Conn) OnDrain(f func())       { c.onDrain = f }
func (c *Conn) OnError(f func(error))  { c.onError = f }
func (c *Conn) OnClose(f func())       { c.onClose = f }

// ReadyState reports the transport's current lifecycle state.
func (c *Conn) ReadyState() ReadyState {
	return ReadyState(c.state.Load())
}

// Send writes data to the socket. Since net.Conn.Write blocks until the
// entire buffer is written (Go has no non-blocking partial-write socket
// mode), every successful Send is immediately followed by an ondrain
// signal: there is never a pending write to wait out.
func (c *Conn) Send(data []byte) error {
	if c.ReadyState() != StateOpen {
		return errors.New("transport: send on non-open connection")
	}
	c.writeMu.Lock()
	_, err := c.netConn.Write(data)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	if c.onDrain != nil {
		c.onDrain()
	}
	return nil
}

// Suspend stops the read pump from issuing further Reads. It does not touch
// the socket itself — bytes the peer sends remain unread until Resume.
func (c *Conn) Suspend() {
	c.paused.Store(true)
}

// Resume wakes a suspended read pump.
func (c *Conn) Resume() {
	c.paused.Store(false)
	select {
	case c.resumeSig <- struct{}{}:
	default:
	}
}

// Close closes the underlying socket and stops the read pump. Idempotent.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		err = c.netConn.Close()
		close(c.closed)
	})
	return err
}

// Serve drains transport events, invoking the registered callbacks on the
// calling goroutine, until the transport closes or ctx is done. It calls
// OnOpen once at the start (the transport is already connected by the time
// Dial returns) and OnClose exactly once before returning.
func (c *Conn) Serve(ctx context.Context) error {
	if c.onOpen != nil {
		c.onOpen()
	}

	closedNotified := false
	notifyClose := func() {
		if !closedNotified && c.onClose != nil {
			c.onClose()
		}
		closedNotified = true
	}

	for {
		select {
		case ev := <-c.events:
			switch ev.kind {
			case eventData:
				if c.onData != nil {
					c.onData(ev.data)
				}
			case eventError:
				if c.onError != nil {
					c.onError(ev.err)
				}
				c.Close()
			}
		case <-c.closed:
			notifyClose()
			return nil
		case <-ctx.Done():
			c.Close()
			notifyClose()
			return ctx.Err()
		}
	}
}

// pump blocks on net.Conn.Read and posts data/error events for Serve to
// dispatch. It owns no state but c.netConn and the channels it reads or
// writes, so it never races with the Serve goroutine's callback dispatch.
func (c *Conn) pump() {
	buf := make([]byte, 4096)
	for {
		for c.paused.Load() {
			select {
			case <-c.resumeSig:
			case <-c.closed:
				return
			}
		}

		n, err := c.netConn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case c.events <- event{kind: eventData, data: chunk}:
			case <-c.closed:
				return
			}
		}
		if err != nil {
			select {
			case c.events <- event{kind: eventError, err: err}:
			case <-c.closed:
			}
			return
		}
	}
}
