// Package smtpconn implements a client for submitting a single message per
// session over an abstract byte-duplex transport (RFC 5321). It drives the
// full conversation from server greeting through capability negotiation,
// authentication, envelope establishment, message body transfer, and
// orderly shutdown, exposing a streaming interface so the caller can push
// message bytes incrementally with backpressure.
package smtpconn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/mailstream/smtpsubmit"
	"github.com/mailstream/smtpsubmit/internal/wire"
	"github.com/mailstream/smtpsubmit/transport"
)

// Client is the caller-facing facade: it wires transport events to a
// ReplyParser and a stateMachine, and exposes the operations and callback
// slots documented in the package's external interface.
//
// A Client exclusively owns its Envelope, SessionState, Options,
// ReplyParser, DotStuffer, and Log for its lifetime; the transport is
// shared with the caller only via Suspend/Resume/Close.
type Client struct {
	host string
	port int
	opts Options

	transport transport.Transport
	parser    wire.ReplyParser
	stuffer   wire.DotStuffer
	log       *logRing
	logger    *slog.Logger

	sm *stateMachine

	destroyed bool

	onIdle  func()
	onReady func(failed []smtp.Mailbox)
	onDone  func(success bool)
	onDrain func()
	onError func(error)
	onClose func()
}

// NewClient constructs a Client for host:port. It does not dial; call
// Connect to open the transport and Serve to begin processing replies.
func NewClient(host string, port int, opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	c := &Client{
		host:   host,
		port:   port,
		opts:   o,
		log:    newLogRing(o.logLength),
		logger: o.logger,
	}
	c.stuffer.DisableEscaping = o.disableEscaping
	c.sm = &stateMachine{client: c}
	return c
}

// Connect dials the transport. Callers must still call Serve to begin
// dispatching transport events into the state machine.
func (c *Client) Connect(ctx context.Context) error {
	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))

	var topts []transport.Option
	topts = append(topts, transport.WithTLS(c.opts.useSSL))
	if len(c.opts.ca) > 0 {
		topts = append(topts, transport.WithCA(c.opts.ca))
	}
	if c.opts.tlsConfig != nil {
		topts = append(topts, transport.WithTLSConfig(c.opts.tlsConfig))
	}

	t, err := transport.Dial(ctx, "tcp", addr, topts...)
	if err != nil {
		return fmt.Errorf("smtpconn: connect: %w", err)
	}
	c.transport = t
	c.wireTransport()
	return nil
}

// Serve drains transport events and drives the session until the transport
// closes or ctx is done. It blocks; callers typically run it in its own
// goroutine after Connect.
func (c *Client) Serve(ctx context.Context) error {
	if c.transport == nil {
		return errors.New("smtpconn: Serve called before Connect")
	}
	return c.transport.Serve(ctx)
}

// wireTransport binds transport lifecycle events to the state machine, per
// the facade wiring rules: onopen sets the Greeting handler, ondata feeds
// the parser and dispatches each completed reply, onerror/onclose collapse
// the session exactly once.
func (c *Client) wireTransport() {
	c.transport.OnOpen(func() {
		c.logger.Debug("smtp: transport open", "host", c.host, "port", c.port)
		c.sm.state = StateGreeting
		c.sm.currentHandler = (*stateMachine).onGreeting
	})

	c.transport.OnData(func(data []byte) {
		c.log.record(DirectionServer, data)
		for _, reply := range c.parser.Feed(data) {
			if c.destroyed {
				return
			}
			handler := c.sm.currentHandler
			if handler == nil {
				continue
			}
			c.logger.Debug("smtp: reply", "state", c.sm.state, "code", reply.StatusCode, "success", reply.Success)
			handler(c.sm, reply)
		}
	})

	c.transport.OnDrain(func() {
		if c.onDrain != nil {
			c.onDrain()
		}
	})

	c.transport.OnError(func(err error) {
		c.logger.Debug("smtp: transport error", "err", err)
		if c.onError != nil {
			c.onError(err)
		}
		c.Close()
	})

	c.transport.OnClose(func() {
		c.destroy()
	})
}

// sendLine appends the CRLF line terminator, records the frame in the log
// ring, and writes it to the transport.
func (c *Client) sendLine(line string) error {
	return c.sendRaw([]byte(line + "\r\n"))
}

func (c *Client) sendRaw(data []byte) error {
	c.log.record(DirectionClient, data)
	if c.transport == nil {
		return errors.New("smtpconn: not connected")
	}
	return c.transport.Send(data)
}

// fail collapses the session on a protocol/auth/envelope error: it notifies
// the caller's onerror hook, then closes. Used by the stateMachine.
func (c *Client) fail(err error) {
	c.logger.Debug("smtp: session error", "err", err)
	if c.onError != nil {
		c.onError(err)
	}
	c.Close()
}

// fail1 forwards a non-nil error (typically from sendLine/sendRaw failing
// mid-transition) into fail, and is a no-op for nil.
func (c *Client) fail1(err error) {
	if err != nil {
		c.fail(err)
	}
}

func (c *Client) emitIdle() {
	if c.onIdle != nil {
		c.onIdle()
	}
}

func (c *Client) emitReady(failed []smtp.Mailbox) {
	if c.onReady != nil {
		c.onReady(failed)
	}
}

func (c *Client) emitDone(success bool) {
	if c.onDone != nil {
		c.onDone(success)
	}
}

// UseEnvelope begins a mail transaction: valid only while the session is
// Idle. It sends MAIL FROM immediately; recipients are submitted one at a
// time as RCPT TO replies arrive.
func (c *Client) UseEnvelope(from smtp.Mailbox, to []smtp.Mailbox) error {
	if c.sm.currentHandler == nil {
		return errors.New("smtpconn: not connected")
	}
	if c.sm.state != StateIdle {
		return fmt.Errorf("smtpconn: useEnvelope invalid in state %s", c.sm.state)
	}

	env := NewEnvelope(from, to)
	env.Started = true
	c.sm.envelope = env
	c.sm.state = StateMail
	c.sm.currentHandler = (*stateMachine).onMail
	return c.sendLine("MAIL FROM:<" + from.String() + ">")
}

// Send forwards body bytes through the DotStuffer to the transport. It is a
// no-op outside DATA mode, including after End but before the server's DATA
// reply arrives (Open Question 2, resolved as a no-op per DESIGN.md).
func (c *Client) Send(body []byte) error {
	if !c.sm.dataMode {
		return nil
	}
	out := c.stuffer.Write(body)
	if len(out) == 0 {
		return nil
	}
	return c.sendRaw(out)
}

// End writes the DATA terminator and waits for the server's post-DATA
// reply. A no-op outside DATA mode.
func (c *Client) End() error {
	if !c.sm.dataMode {
		return nil
	}
	c.sm.dataMode = false
	out := c.stuffer.End()
	c.sm.state = StateStreaming
	c.sm.currentHandler = (*stateMachine).onStreaming
	return c.sendRaw(out)
}

// Reset overwrites the auth credentials if newAuth is non-nil, then sends
// RSET and re-authenticates on success.
func (c *Client) Reset(newAuth *AuthCredentials) error {
	if newAuth != nil {
		c.opts.auth = newAuth
	}
	c.sm.state = StateRset
	c.sm.currentHandler = (*stateMachine).onRset
	return c.sendLine("RSET")
}

// Suspend pauses the transport's read pump if the transport is open.
func (c *Client) Suspend() {
	if c.transport != nil && c.transport.ReadyState() == transport.StateOpen {
		c.transport.Suspend()
	}
}

// Resume resumes a suspended transport's read pump if the transport is open.
func (c *Client) Resume() {
	if c.transport != nil && c.transport.ReadyState() == transport.StateOpen {
		c.transport.Resume()
	}
}

// Quit sends QUIT; any reply (or transport error) then closes the session.
func (c *Client) Quit() error {
	c.sm.state = StateQuit
	c.sm.currentHandler = (*stateMachine).onQuit
	return c.sendLine("QUIT")
}

// Close closes the transport if open, or destroys the session immediately
// if it never reached the open state.
func (c *Client) Close() error {
	if c.transport == nil {
		c.destroy()
		return nil
	}
	if c.transport.ReadyState() == transport.StateOpen {
		return c.transport.Close()
	}
	c.destroy()
	return nil
}

// destroy is idempotent and emits onclose exactly once.
func (c *Client) destroy() {
	if c.destroyed {
		return
	}
	c.destroyed = true
	c.sm.state = StateClosed
	c.sm.currentHandler = nil
	if c.onClose != nil {
		c.onClose()
	}
}

// OnIdle registers the callback invoked once the session is ready to accept
// UseEnvelope or Quit (after connect+auth, and after each completed send).
func (c *Client) OnIdle(f func()) { c.onIdle = f }

// OnReady registers the callback invoked once DATA is accepted, reporting
// any recipients the server already rejected during RCPT TO.
func (c *Client) OnReady(f func(failed []smtp.Mailbox)) { c.onReady = f }

// OnDone registers the callback invoked once the server replies to the DATA
// terminator, reporting whether the message was accepted.
func (c *Client) OnDone(f func(success bool)) { c.onDone = f }

// OnDrain registers the callback invoked after a Send call completes,
// signaling that additional Send calls are welcome.
func (c *Client) OnDrain(f func()) { c.onDrain = f }

// OnError registers the callback invoked when any error collapses the
// session, immediately before Close.
func (c *Client) OnError(f func(error)) { c.onError = f }

// OnClose registers the callback invoked exactly once per session, when the
// transport (and thus the client) has fully shut down.
func (c *Client) OnClose(f func()) { c.onClose = f }

// AuthenticatedAs returns the username the session authenticated as, or ""
// if unauthenticated.
func (c *Client) AuthenticatedAs() string { return c.sm.authenticatedAs }

// State returns the session's current state.
func (c *Client) State() SessionState { return c.sm.state }

// LogEntries returns a snapshot of the debug log ring's current contents.
func (c *Client) LogEntries() []LogEntry { return c.log.Entries() }
