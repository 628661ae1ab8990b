package smtpconn

import "github.com/mailstream/smtpsubmit"

// ProtocolError reports a malformed greeting, unexpected status code,
// invalid Base64 challenge content, or malformed multi-line reply.
type ProtocolError struct {
	Message string
	Reply   *smtp.SMTPError // nil when the error has no associated server reply
}

func (e *ProtocolError) Error() string {
	return "smtpconn: protocol error: " + e.Message
}

func (e *ProtocolError) Unwrap() error {
	if e.Reply == nil {
		return nil
	}
	return e.Reply
}

// AuthError reports a server rejection after an AUTH exchange completes.
type AuthError struct {
	Message string
	Reply   *smtp.SMTPError
}

func (e *AuthError) Error() string {
	return "smtpconn: auth error: " + e.Message
}

func (e *AuthError) Unwrap() error {
	if e.Reply == nil {
		return nil
	}
	return e.Reply
}

// EnvelopeError reports an empty recipient list, a MAIL FROM rejection, or
// every recipient in a transaction being rejected.
type EnvelopeError struct {
	Message string
	Reply   *smtp.SMTPError
}

func (e *EnvelopeError) Error() string {
	return "smtpconn: envelope error: " + e.Message
}

func (e *EnvelopeError) Unwrap() error {
	if e.Reply == nil {
		return nil
	}
	return e.Reply
}

// replyError builds an *smtp.SMTPError from a wire reply's status code and
// text, for attaching to a typed error above.
func replyError(code int, text string) *smtp.SMTPError {
	return &smtp.SMTPError{Code: smtp.ReplyCode(code), Message: text}
}
