package smtpconn

// SessionState names the single active state of a Client's session. The
// active state also determines which stateMachine handler method runs next,
// realized as the currentHandler function pointer (see statemachine.go).
type SessionState int

const (
	StateConnecting SessionState = iota
	StateGreeting
	StateEHLO
	StateHELO
	StateAuthLoginUser
	StateAuthLoginPass
	StateAuthXOAuth2
	StateAuthComplete
	StateIdle
	StateMail
	StateRcpt
	StateData
	StateStreaming
	StateRset
	StateQuit
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateGreeting:
		return "greeting"
	case StateEHLO:
		return "ehlo"
	case StateHELO:
		return "helo"
	case StateAuthLoginUser:
		return "auth-login-user"
	case StateAuthLoginPass:
		return "auth-login-pass"
	case StateAuthXOAuth2:
		return "auth-xoauth2"
	case StateAuthComplete:
		return "auth-complete"
	case StateIdle:
		return "idle"
	case StateMail:
		return "mail"
	case StateRcpt:
		return "rcpt"
	case StateData:
		return "data"
	case StateStreaming:
		return "streaming"
	case StateRset:
		return "rset"
	case StateQuit:
		return "quit"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
