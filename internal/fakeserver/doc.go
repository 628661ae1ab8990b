// Package fakeserver implements a minimal, scripted SMTP server (RFC 5321)
// used only as a test fixture for smtpconn.Client.
//
// # Quick Start
//
// Create a server with [NewServer] and functional options, then call
// [Server.ListenAndServe]:
//
//	srv := fakeserver.NewServer(
//	    fakeserver.WithAddr(":0"),
//	    fakeserver.WithHostname("mail.example.com"),
//	    fakeserver.WithDataHandler(myHandler),
//	)
//	log.Fatal(srv.ListenAndServe())
//
// # Handler Interfaces
//
// The server calls handler interfaces at each stage of the SMTP
// conversation:
//
//   - [ConnectionHandler] — new TCP connections
//   - [HeloHandler] — EHLO/HELO commands
//   - [MailHandler] — MAIL FROM commands
//   - [RcptHandler] — RCPT TO commands (recipient validation)
//   - [DataHandler] — message body delivery
//   - [ResetHandler] — RSET or implicit transaction reset
//   - [AuthHandler] — SASL authentication
//
// All handlers are optional. Return an [smtp.SMTPError] from any handler
// to send a custom reply code and message to the client.
//
// # Command Set
//
// The server speaks exactly the commands smtpconn.Client drives: EHLO,
// HELO, MAIL, RCPT, DATA, RSET, QUIT, and AUTH PLAIN/LOGIN/XOAUTH2. It
// advertises AUTH when an [AuthHandler] is set and nothing else — no
// STARTTLS, BDAT/CHUNKING, SIZE, or PIPELINING, since no client path
// exercises them.
//
// # Shutdown
//
// Call [Server.Shutdown] with a context deadline to stop accepting
// new connections, close the open ones, and wait for their session
// goroutines to return.
package fakeserver
