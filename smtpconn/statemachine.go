package smtpconn

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mailstream/smtpsubmit"
	"github.com/mailstream/smtpsubmit/internal/wire"
	"golang.org/x/text/secure/precis"
)

// stateMachine is single-threaded and reply-driven: every method here runs
// synchronously from Client's transport OnData callback, in reply arrival
// order. currentHandler is the tagged function pointer named in the design
// notes — set exactly once per transition, never dispatched by name.
type stateMachine struct {
	client *Client

	currentHandler func(*stateMachine, wire.Reply)
	state          SessionState

	supportedAuth   map[string]bool
	authenticatedAs string
	auth            *AuthCredentials // normalized credentials for the in-progress AUTH exchange

	envelope    *Envelope
	pendingRcpt smtp.Mailbox
	dataMode    bool
}

var authCapabilityRe = regexp.MustCompile(`(?i)^AUTH\s+(.+)$`)

// onGreeting handles the server's unsolicited connection banner.
func (sm *stateMachine) onGreeting(reply wire.Reply) {
	if reply.StatusCode != 220 {
		sm.client.fail(&ProtocolError{
			Message: "Invalid greeting: " + reply.StatusLine,
			Reply:   replyError(reply.StatusCode, reply.StatusLine),
		})
		return
	}

	verb := "EHLO"
	if sm.client.opts.lmtp {
		verb = "LHLO"
	}
	sm.state = StateEHLO
	sm.currentHandler = (*stateMachine).onEHLO
	sm.client.fail1(sm.client.sendLine(verb + " " + sm.client.opts.name))
}

// onEHLO handles the reply to EHLO/LHLO, parsing AUTH capability lines on
// success and falling back to HELO on failure.
func (sm *stateMachine) onEHLO(reply wire.Reply) {
	if !reply.Success {
		sm.state = StateHELO
		sm.currentHandler = (*stateMachine).onHELO
		sm.client.fail1(sm.client.sendLine("HELO " + sm.client.opts.name))
		return
	}

	sm.supportedAuth = map[string]bool{}
	for _, line := range reply.Lines {
		m := authCapabilityRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		for _, mech := range strings.Fields(m[1]) {
			sm.supportedAuth[strings.ToUpper(mech)] = true
		}
	}
	sm.authenticate()
}

// onHELO handles the reply to a fallback HELO.
func (sm *stateMachine) onHELO(reply wire.Reply) {
	if !reply.Success {
		sm.client.fail(&ProtocolError{
			Message: reply.StatusLine,
			Reply:   replyError(reply.StatusCode, reply.StatusLine),
		})
		return
	}
	sm.authenticate()
}

// authenticate selects and begins an AUTH mechanism, or goes straight to
// Idle when no credentials were configured.
func (sm *stateMachine) authenticate() {
	auth := sm.client.opts.auth
	if auth == nil {
		sm.state = StateIdle
		sm.currentHandler = (*stateMachine).onIdle
		sm.client.emitIdle()
		return
	}

	normalized, err := normalizeAuthCredentials(auth)
	if err != nil {
		sm.client.fail(&AuthError{Message: err.Error()})
		return
	}
	sm.auth = normalized

	switch sm.selectAuthMethod() {
	case AuthLogin:
		sm.state = StateAuthLoginUser
		sm.currentHandler = (*stateMachine).onAuthLoginUser
		sm.client.fail1(sm.client.sendLine("AUTH LOGIN"))
	case AuthXOAuth2:
		sm.state = StateAuthXOAuth2
		sm.currentHandler = (*stateMachine).onAuthXOAuth2
		sm.client.fail1(sm.client.sendLine("AUTH XOAUTH2 " + smtp.EncodeXOAUTH2(sm.auth.User, sm.auth.Token)))
	default:
		sm.state = StateAuthComplete
		sm.currentHandler = (*stateMachine).onAuthComplete
		sm.client.fail1(sm.client.sendLine("AUTH PLAIN " + smtp.EncodePlain([]byte(sm.auth.User), []byte(sm.auth.Pass))))
	}
}

// selectAuthMethod implements the mechanism-selection order: explicit
// override, then PLAIN, then LOGIN, defaulting to PLAIN.
func (sm *stateMachine) selectAuthMethod() AuthMethod {
	o := sm.client.opts
	if o.authMethod != "" {
		return o.authMethod
	}
	if sm.supportedAuth["PLAIN"] {
		return AuthPlain
	}
	if sm.supportedAuth["LOGIN"] {
		return AuthLogin
	}
	return AuthPlain
}

// onAuthLoginUser handles the "Username:" challenge of AUTH LOGIN.
func (sm *stateMachine) onAuthLoginUser(reply wire.Reply) {
	decoded, err := sm.decodeLoginChallenge(reply, "Username:")
	if err != nil {
		return
	}
	_ = decoded
	sm.state = StateAuthLoginPass
	sm.currentHandler = (*stateMachine).onAuthLoginPass
	sm.client.fail1(sm.client.sendLine(smtp.LoginUsername([]byte(sm.auth.User))))
}

// onAuthLoginPass handles the "Password:" challenge of AUTH LOGIN.
func (sm *stateMachine) onAuthLoginPass(reply wire.Reply) {
	decoded, err := sm.decodeLoginChallenge(reply, "Password:")
	if err != nil {
		return
	}
	_ = decoded
	sm.state = StateAuthComplete
	sm.currentHandler = (*stateMachine).onAuthComplete
	sm.client.fail1(sm.client.sendLine(smtp.LoginPassword([]byte(sm.auth.Pass))))
}

// decodeLoginChallenge validates a 334 challenge's Base64-decoded text
// against want, failing the session (and returning a non-nil error) on any
// mismatch. The source validates these exactly; see DESIGN.md for the
// decision not to relax this to "any 334 is acceptable".
func (sm *stateMachine) decodeLoginChallenge(reply wire.Reply, want string) ([]byte, error) {
	if reply.StatusCode != 334 {
		err := &AuthError{Message: reply.StatusLine, Reply: replyError(reply.StatusCode, reply.StatusLine)}
		sm.client.fail(err)
		return nil, err
	}
	decoded, err := smtp.DecodeChallenge(reply.StatusLine)
	if err != nil {
		wrapped := &ProtocolError{Message: err.Error()}
		sm.client.fail(wrapped)
		return nil, wrapped
	}
	if string(decoded) != want {
		wrapped := &ProtocolError{Message: fmt.Sprintf("unexpected LOGIN challenge %q, want %q", decoded, want)}
		sm.client.fail(wrapped)
		return nil, wrapped
	}
	return decoded, nil
}

// onAuthXOAuth2 handles the single reply to AUTH XOAUTH2. A failure arrives
// as a 334 carrying a Base64 JSON error payload; RFC practice requires an
// empty line in response before the server sends the real failure code.
func (sm *stateMachine) onAuthXOAuth2(reply wire.Reply) {
	if reply.Success {
		sm.onAuthComplete(reply)
		return
	}
	if reply.StatusCode == 334 {
		sm.state = StateAuthComplete
		sm.currentHandler = (*stateMachine).onAuthComplete
		sm.client.fail1(sm.client.sendLine(""))
		return
	}
	sm.client.fail(&AuthError{Message: reply.StatusLine, Reply: replyError(reply.StatusCode, reply.StatusLine)})
}

// onAuthComplete handles the final reply of any auth mechanism.
func (sm *stateMachine) onAuthComplete(reply wire.Reply) {
	if !reply.Success {
		sm.client.fail(&AuthError{Message: reply.StatusLine, Reply: replyError(reply.StatusCode, reply.StatusLine)})
		return
	}
	sm.authenticatedAs = sm.auth.User
	sm.state = StateIdle
	sm.currentHandler = (*stateMachine).onIdle
	sm.client.emitIdle()
}

// onIdle runs if a reply arrives while no command is outstanding, which is
// always a protocol violation by the server.
func (sm *stateMachine) onIdle(reply wire.Reply) {
	sm.client.fail(&ProtocolError{
		Message: "unexpected reply while idle: " + reply.StatusLine,
		Reply:   replyError(reply.StatusCode, reply.StatusLine),
	})
}

// onMail handles the reply to MAIL FROM.
func (sm *stateMachine) onMail(reply wire.Reply) {
	if !reply.Success {
		sm.client.fail(&EnvelopeError{
			Message: "MAIL FROM rejected: " + reply.StatusLine,
			Reply:   replyError(reply.StatusCode, reply.StatusLine),
		})
		return
	}
	if len(sm.envelope.RcptQueue) == 0 {
		sm.client.fail(&EnvelopeError{Message: "Can't send mail - no recipients defined"})
		return
	}
	sm.sendNextRcpt()
}

// sendNextRcpt pops the next queued recipient and sends RCPT TO for it.
func (sm *stateMachine) sendNextRcpt() {
	head, _ := sm.envelope.popRecipient()
	sm.pendingRcpt = head
	sm.state = StateRcpt
	sm.currentHandler = (*stateMachine).onRcpt
	sm.client.fail1(sm.client.sendLine("RCPT TO:<" + head.String() + ">"))
}

// onRcpt handles the reply to a single RCPT TO, recording the result against
// the pending recipient and either continuing the queue, failing the whole
// envelope, or moving on to DATA.
func (sm *stateMachine) onRcpt(reply wire.Reply) {
	env := sm.envelope
	if reply.Success {
		env.RcptSent = append(env.RcptSent, sm.pendingRcpt)
	} else {
		env.RcptFailed = append(env.RcptFailed, sm.pendingRcpt)
	}

	if len(env.RcptQueue) > 0 {
		sm.sendNextRcpt()
		return
	}
	if len(env.RcptFailed) == len(env.To) {
		sm.client.fail(&EnvelopeError{Message: "Can't send mail - all recipients were rejected"})
		return
	}

	sm.state = StateData
	sm.currentHandler = (*stateMachine).onData
	sm.client.fail1(sm.client.sendLine("DATA"))
}

// onData handles the reply to the DATA command itself (not the body). On
// acceptance (354, or some servers' 250) the session drops to Idle — no
// reply is pending again until the caller calls End(), which is what moves
// currentHandler to Streaming.
func (sm *stateMachine) onData(reply wire.Reply) {
	accepted := reply.StatusCode == 354 || reply.StatusCode == 250
	if !accepted {
		sm.client.fail(&ProtocolError{
			Message: reply.StatusLine,
			Reply:   replyError(reply.StatusCode, reply.StatusLine),
		})
		return
	}

	sm.dataMode = true
	sm.state = StateIdle
	sm.currentHandler = (*stateMachine).onIdle
	failed := append([]smtp.Mailbox(nil), sm.envelope.RcptFailed...)
	sm.client.emitReady(failed)
}

// onStreaming handles the single reply that arrives after the DATA
// terminator is sent. The state is optimistically advanced to Idle before
// emitting ondone so that a caller who re-enters synchronously from within
// ondone (e.g. submits another envelope) is not clobbered afterward.
func (sm *stateMachine) onStreaming(reply wire.Reply) {
	sm.state = StateIdle
	sm.currentHandler = (*stateMachine).onIdle
	sm.client.emitDone(reply.Success)
	if sm.state == StateIdle {
		sm.client.emitIdle()
	}
}

// onRset handles the reply to RSET, re-running authentication on success.
func (sm *stateMachine) onRset(reply wire.Reply) {
	if !reply.Success {
		sm.client.fail(&ProtocolError{
			Message: reply.StatusLine,
			Reply:   replyError(reply.StatusCode, reply.StatusLine),
		})
		return
	}
	sm.authenticatedAs = ""
	sm.envelope = nil
	sm.authenticate()
}

// onQuit handles the reply to QUIT: any reply at all closes the session.
func (sm *stateMachine) onQuit(wire.Reply) {
	sm.client.Close()
}

// normalizeAuthCredentials applies RFC 8265/8266 PRECIS profiles to the
// username and password before they reach the AuthEncoder, so non-ASCII or
// case-folding-sensitive credentials round-trip the way PRECIS-aware
// servers expect.
func normalizeAuthCredentials(auth *AuthCredentials) (*AuthCredentials, error) {
	user, err := precis.UsernameCaseMapped.String(auth.User)
	if err != nil {
		return nil, fmt.Errorf("smtpconn: normalizing auth username: %w", err)
	}
	out := &AuthCredentials{User: user, Token: auth.Token}
	if auth.Pass != "" {
		pass, err := precis.OpaqueString.String(auth.Pass)
		if err != nil {
			return nil, fmt.Errorf("smtpconn: normalizing auth password: %w", err)
		}
		out.Pass = pass
	}
	return out, nil
}
