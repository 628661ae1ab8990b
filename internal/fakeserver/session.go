package fakeserver

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/mailstream/smtpsubmit"
)

var base64Encoding = base64.StdEncoding

// sessionState tracks where the session is in the SMTP conversation.
type sessionState int

const (
	stateNew     sessionState = iota // Connected, waiting for EHLO/HELO.
	stateGreeted                     // EHLO/HELO received.
	stateMail                        // MAIL FROM received.
	stateRcpt                        // At least one RCPT TO received.
)

// session represents a single SMTP client connection.
type session struct {
	server *Server
	r      *bufio.Reader
	w      *bufio.Writer
	nc     net.Conn
	state  sessionState

	authenticated bool

	reversePath  smtp.ReversePath
	forwardPaths []smtp.ForwardPath
}

// handleConn is the entry point for a new client connection.
func (s *Server) handleConn(nc net.Conn) {
	defer nc.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-s.quit:
			nc.Close()
		case <-stop:
		}
	}()

	sess := &session{
		server: s,
		r:      bufio.NewReader(nc),
		w:      bufio.NewWriter(nc),
		nc:     nc,
		state:  stateNew,
	}

	if s.connHandler != nil {
		if err := s.connHandler.OnConnect(context.Background(), nc.RemoteAddr()); err != nil {
			sess.replyErr(err, smtp.ReplyServiceNotAvailable, "Connection refused")
			sess.w.Flush()
			return
		}
	}

	if err := writeReply(sess.w, int(smtp.ReplyServiceReady), fmt.Sprintf("%s ESMTP ready", s.hostname)); err != nil {
		return
	}

	for {
		nc.SetReadDeadline(time.Now().Add(s.readTimeout))
		line, err := readLine(sess.r)
		if err != nil {
			return
		}

		verb, args, _ := strings.Cut(line, " ")
		verb = strings.ToUpper(verb)

		switch verb {
		case "EHLO":
			sess.handleEHLO(args)
		case "HELO":
			sess.handleHELO(args)
		case "MAIL":
			sess.handleMAIL(args)
		case "RCPT":
			sess.handleRCPT(args)
		case "DATA":
			sess.handleDATA()
		case "RSET":
			sess.handleRSET()
		case "AUTH":
			sess.handleAUTH(args)
		case "QUIT":
			sess.reply(smtp.ReplyServiceClosing, fmt.Sprintf("%s closing connection", s.hostname))
			return
		default:
			sess.reply(smtp.ReplySyntaxError, "Command not recognized")
		}
	}
}

func (s *session) reply(code smtp.ReplyCode, line string) {
	writeReply(s.w, int(code), line)
}

func (s *session) replyMulti(code smtp.ReplyCode, lines ...string) {
	writeReply(s.w, int(code), lines...)
}

// replyErr writes err's SMTPError reply if it carries one, or fallback
// otherwise.
func (s *session) replyErr(err error, fallback smtp.ReplyCode, fallbackMsg string) {
	if smtpErr, ok := err.(*smtp.SMTPError); ok {
		s.reply(smtpErr.Code, smtpErr.Message)
		return
	}
	s.reply(fallback, fallbackMsg)
}

// handleEHLO processes the EHLO command (RFC 5321 §4.1.1.1).
func (s *session) handleEHLO(args string) {
	if args == "" {
		s.reply(smtp.ReplySyntaxParamError, "EHLO requires a hostname")
		return
	}
	if s.server.heloHandler != nil {
		if err := s.server.heloHandler.OnHelo(context.Background(), args); err != nil {
			s.replyErr(err, smtp.ReplyLocalError, "Internal error")
			return
		}
	}

	s.resetTransaction()
	s.state = stateGreeted

	lines := []string{fmt.Sprintf("%s Hello %s", s.server.hostname, args)}
	if s.server.authHandler != nil && !s.authenticated {
		lines = append(lines, "AUTH PLAIN LOGIN XOAUTH2")
	}
	s.replyMulti(smtp.ReplyOK, lines...)
}

// handleHELO processes the HELO command (RFC 5321 §4.1.1.1).
func (s *session) handleHELO(args string) {
	if args == "" {
		s.reply(smtp.ReplySyntaxParamError, "HELO requires a hostname")
		return
	}
	if s.server.heloHandler != nil {
		if err := s.server.heloHandler.OnHelo(context.Background(), args); err != nil {
			s.replyErr(err, smtp.ReplyLocalError, "Internal error")
			return
		}
	}

	s.resetTransaction()
	s.state = stateGreeted
	s.reply(smtp.ReplyOK, fmt.Sprintf("%s Hello %s", s.server.hostname, args))
}

// handleMAIL processes the MAIL FROM command (RFC 5321 §4.1.1.2).
func (s *session) handleMAIL(args string) {
	if s.state < stateGreeted {
		s.reply(smtp.ReplyBadSequence, "Send EHLO/HELO first")
		return
	}
	if s.state >= stateMail {
		s.reply(smtp.ReplyBadSequence, "MAIL already specified")
		return
	}

	upper := strings.ToUpper(args)
	if !strings.HasPrefix(upper, "FROM:") {
		s.reply(smtp.ReplySyntaxParamError, "Syntax: MAIL FROM:<address>")
		return
	}
	pathStr, _, _ := strings.Cut(args[len("FROM:"):], " ")
	reversePath, err := smtp.ParseReversePath(strings.TrimSpace(pathStr))
	if err != nil {
		s.reply(smtp.ReplySyntaxParamError, "Invalid sender address")
		return
	}

	if s.server.mailHandler != nil {
		if err := s.server.mailHandler.OnMail(context.Background(), reversePath); err != nil {
			s.replyErr(err, smtp.ReplyLocalError, "Internal error")
			return
		}
	}

	s.reversePath = reversePath
	s.forwardPaths = nil
	s.state = stateMail
	s.reply(smtp.ReplyOK, "Originator ok")
}

// handleRCPT processes the RCPT TO command (RFC 5321 §4.1.1.3).
func (s *session) handleRCPT(args string) {
	if s.state < stateMail {
		s.reply(smtp.ReplyBadSequence, "Send MAIL first")
		return
	}
	if len(s.forwardPaths) >= s.server.maxRecipients {
		s.reply(smtp.ReplyInsufficientStorage, "Too many recipients")
		return
	}

	upper := strings.ToUpper(args)
	if !strings.HasPrefix(upper, "TO:") {
		s.reply(smtp.ReplySyntaxParamError, "Syntax: RCPT TO:<address>")
		return
	}
	pathStr, _, _ := strings.Cut(args[len("TO:"):], " ")
	forwardPath, err := smtp.ParseForwardPath(strings.TrimSpace(pathStr))
	if err != nil {
		s.reply(smtp.ReplySyntaxParamError, "Invalid recipient address")
		return
	}

	if s.server.rcptHandler != nil {
		if err := s.server.rcptHandler.OnRcpt(context.Background(), forwardPath); err != nil {
			s.replyErr(err, smtp.ReplyLocalError, "Internal error")
			return
		}
	}

	s.forwardPaths = append(s.forwardPaths, forwardPath)
	if s.state < stateRcpt {
		s.state = stateRcpt
	}
	s.reply(smtp.ReplyOK, "Recipient ok")
}

// handleDATA processes the DATA command (RFC 5321 §4.1.1.4), de-stuffing
// the body through dotReader before handing it to dataHandler.
func (s *session) handleDATA() {
	if s.state < stateRcpt {
		s.reply(smtp.ReplyBadSequence, "Send RCPT first")
		return
	}

	s.reply(smtp.ReplyStartMailInput, "Start mail input; end with <CRLF>.<CRLF>")
	reader := newDotReader(s.r)

	if s.server.dataHandler != nil {
		err := s.server.dataHandler.OnData(context.Background(), s.reversePath, s.forwardPaths, reader)
		io.Copy(io.Discard, reader)
		if err != nil {
			s.replyErr(err, smtp.ReplyLocalError, "Internal error")
			s.resetTransaction()
			s.state = stateGreeted
			return
		}
	} else {
		io.Copy(io.Discard, reader)
	}

	s.reply(smtp.ReplyOK, "Message accepted")
	s.resetTransaction()
	s.state = stateGreeted
}

// handleRSET processes the RSET command (RFC 5321 §4.1.1.5). It also clears
// the session's authentication, so the client may run AUTH again.
func (s *session) handleRSET() {
	s.resetTransaction()
	s.authenticated = false
	if s.state > stateGreeted {
		s.state = stateGreeted
	}
	s.reply(smtp.ReplyOK, "Reset ok")
}

// handleAUTH processes the AUTH command (RFC 4954) for PLAIN, LOGIN, and
// XOAUTH2 — the only mechanisms smtpconn.Client ever sends.
func (s *session) handleAUTH(args string) {
	if s.server.authHandler == nil {
		s.reply(smtp.ReplyCommandNotImpl, "AUTH not available")
		return
	}
	if s.state < stateGreeted {
		s.reply(smtp.ReplyBadSequence, "Send EHLO/HELO first")
		return
	}
	if s.state >= stateMail {
		s.reply(smtp.ReplyBadSequence, "AUTH not allowed during mail transaction")
		return
	}
	if s.authenticated {
		s.reply(smtp.ReplyBadSequence, "Already authenticated")
		return
	}

	mechanism, initialResp, _ := strings.Cut(args, " ")
	mechanism = strings.ToUpper(mechanism)

	switch mechanism {
	case "PLAIN":
		s.authPLAIN(initialResp)
	case "LOGIN":
		s.authLOGIN()
	case "XOAUTH2":
		s.authXOAUTH2(initialResp)
	default:
		s.reply(smtp.ReplySyntaxParamError, "Unrecognized authentication mechanism")
	}
}

// authPLAIN handles SASL PLAIN authentication (RFC 4616).
func (s *session) authPLAIN(initialResp string) {
	decoded, ok := s.readChallengeResponse(initialResp)
	if !ok {
		return
	}

	parts := strings.SplitN(string(decoded), "\x00", 3)
	if len(parts) != 3 {
		s.reply(smtp.ReplySyntaxParamError, "Invalid PLAIN data")
		return
	}
	username, password := parts[1], parts[2]
	s.finishAuth("PLAIN", username, password)
}

// authLOGIN handles SASL LOGIN authentication.
func (s *session) authLOGIN() {
	s.reply(smtp.ReplyAuthContinue, base64Encoding.EncodeToString([]byte("Username:")))
	userLine, err := readLine(s.r)
	if err != nil {
		return
	}
	userBytes, err := base64Encoding.DecodeString(userLine)
	if err != nil {
		s.reply(smtp.ReplySyntaxParamError, "Invalid base64")
		return
	}

	s.reply(smtp.ReplyAuthContinue, base64Encoding.EncodeToString([]byte("Password:")))
	passLine, err := readLine(s.r)
	if err != nil {
		return
	}
	passBytes, err := base64Encoding.DecodeString(passLine)
	if err != nil {
		s.reply(smtp.ReplySyntaxParamError, "Invalid base64")
		return
	}

	s.finishAuth("LOGIN", string(userBytes), string(passBytes))
}

// authXOAUTH2 handles the single-exchange SASL XOAUTH2 mechanism: the
// client's initial response encodes
// "user=<user>\x01auth=Bearer <token>\x01\x01".
func (s *session) authXOAUTH2(initialResp string) {
	decoded, ok := s.readChallengeResponse(initialResp)
	if !ok {
		return
	}

	username, token, ok := parseXOAUTH2(decoded)
	if !ok {
		s.reply(smtp.ReplySyntaxParamError, "Invalid XOAUTH2 data")
		return
	}
	s.finishAuth("XOAUTH2", username, token)
}

// readChallengeResponse returns initialResp's decoded bytes, prompting with
// an empty 334 continuation and reading one more line if the client sent no
// initial response.
func (s *session) readChallengeResponse(initialResp string) ([]byte, bool) {
	if initialResp == "" {
		s.reply(smtp.ReplyAuthContinue, "")
		line, err := readLine(s.r)
		if err != nil {
			return nil, false
		}
		initialResp = line
	}
	decoded, err := base64Encoding.DecodeString(initialResp)
	if err != nil {
		s.reply(smtp.ReplySyntaxParamError, "Invalid base64")
		return nil, false
	}
	return decoded, true
}

func (s *session) finishAuth(mechanism, username, secret string) {
	if err := s.server.authHandler.Authenticate(context.Background(), mechanism, username, secret); err != nil {
		s.replyErr(err, smtp.ReplyAuthFailed, "Authentication failed")
		return
	}
	s.authenticated = true
	s.reply(smtp.ReplyAuthOK, "Authentication successful")
}

// parseXOAUTH2 extracts the username and bearer token from a decoded
// XOAUTH2 initial response.
func parseXOAUTH2(data []byte) (username, token string, ok bool) {
	for _, f := range strings.Split(string(data), "\x01") {
		if rest, found := strings.CutPrefix(f, "user="); found {
			username = rest
		}
		if rest, found := strings.CutPrefix(f, "auth=Bearer "); found {
			token = rest
		}
	}
	return username, token, username != "" && token != ""
}

// resetTransaction clears the current mail transaction state.
func (s *session) resetTransaction() {
	s.reversePath = smtp.ReversePath{}
	s.forwardPaths = nil
	if s.server.resetHandler != nil {
		s.server.resetHandler.OnReset(context.Background())
	}
}
