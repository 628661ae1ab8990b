// Package fakeserver implements a minimal, scripted SMTP server (RFC 5321)
// used as a test fixture for smtpconn.Client. It speaks exactly the command
// subset the client drives — EHLO/HELO, AUTH PLAIN/LOGIN/XOAUTH2, MAIL FROM,
// RCPT TO, DATA, RSET, QUIT — and nothing else.
package fakeserver

import (
	"context"
	"io"
	"net"

	"github.com/mailstream/smtpsubmit"
)

// ConnectionHandler is called when a new client connects. Return a non-nil
// error to reject the connection.
type ConnectionHandler interface {
	OnConnect(ctx context.Context, conn net.Addr) error
}

// HeloHandler is called when the client sends EHLO or HELO.
type HeloHandler interface {
	OnHelo(ctx context.Context, hostname string) error
}

// MailHandler is called for MAIL FROM commands.
type MailHandler interface {
	OnMail(ctx context.Context, from smtp.ReversePath) error
}

// RcptHandler is called for RCPT TO commands.
type RcptHandler interface {
	OnRcpt(ctx context.Context, to smtp.ForwardPath) error
}

// DataHandler is called when the DATA body has been fully received. The
// reader provides the de-stuffed message body.
type DataHandler interface {
	OnData(ctx context.Context, from smtp.ReversePath, to []smtp.ForwardPath, r io.Reader) error
}

// ResetHandler is called when the transaction state is reset: on RSET, on
// every accepted EHLO/HELO, and at the end of each DATA transaction.
type ResetHandler interface {
	OnReset(ctx context.Context)
}

// AuthHandler authenticates a client. mechanism is "PLAIN", "LOGIN", or
// "XOAUTH2"; secret is the password for PLAIN/LOGIN or the bearer token for
// XOAUTH2.
type AuthHandler interface {
	Authenticate(ctx context.Context, mechanism string, username string, secret string) error
}
