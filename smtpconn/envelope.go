package smtpconn

import "github.com/mailstream/smtpsubmit"

// Envelope is the SMTP-level sender/recipient set for one message
// submission, distinct from the message's own headers.
//
// Invariant: len(RcptQueue)+len(RcptFailed)+len(RcptSent) == len(To),
// except while a RCPT TO is outstanding: the recipient it names has been
// popped from RcptQueue and is held by the state machine until its reply
// arrives, so during that window the sum is len(To)-1.
type Envelope struct {
	From smtp.Mailbox
	To   []smtp.Mailbox

	RcptQueue  []smtp.Mailbox
	RcptFailed []smtp.Mailbox
	RcptSent   []smtp.Mailbox

	Started bool
}

// NewEnvelope creates an Envelope with RcptQueue initialized to a copy of to.
func NewEnvelope(from smtp.Mailbox, to []smtp.Mailbox) *Envelope {
	queue := make([]smtp.Mailbox, len(to))
	copy(queue, to)
	return &Envelope{
		From:      from,
		To:        to,
		RcptQueue: queue,
	}
}

// popRecipient removes and returns the head of RcptQueue.
func (e *Envelope) popRecipient() (smtp.Mailbox, bool) {
	if len(e.RcptQueue) == 0 {
		return smtp.Mailbox{}, false
	}
	m := e.RcptQueue[0]
	e.RcptQueue = e.RcptQueue[1:]
	return m, true
}
