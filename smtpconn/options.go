package smtpconn

import (
	"crypto/tls"
	"log/slog"
)

// AuthMethod names an authentication mechanism the caller may pin via
// WithAuthMethod, overriding capability-based auto-selection.
type AuthMethod string

const (
	AuthPlain   AuthMethod = "PLAIN"
	AuthLogin   AuthMethod = "LOGIN"
	AuthXOAuth2 AuthMethod = "XOAUTH2"
)

// AuthCredentials holds the credentials used by the selected auth mechanism.
// Token is only consulted for XOAUTH2; Pass is only consulted for PLAIN and
// LOGIN.
type AuthCredentials struct {
	User  string
	Pass  string
	Token []byte
}

// Options holds the immutable-for-a-session configuration of a Client.
type Options struct {
	useSSL bool
	ca     []byte

	name string

	auth       *AuthCredentials
	authMethod AuthMethod

	disableEscaping bool
	lmtp            bool

	logLength uint32
	logger    *slog.Logger
	tlsConfig *tls.Config
}

func defaultOptions() Options {
	return Options{
		name: "localhost",
	}
}

// Option configures a Client at construction time.
type Option func(*Options)

// WithSSL dials the connection with an immediate TLS handshake.
func WithSSL(enabled bool) Option {
	return func(o *Options) { o.useSSL = enabled }
}

// WithCA supplies a PEM-encoded CA certificate used to verify the server
// when WithSSL(true) is set.
func WithCA(pem []byte) Option {
	return func(o *Options) { o.ca = pem }
}

// WithTLSConfig overrides the TLS configuration entirely; takes precedence
// over WithCA.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(o *Options) { o.tlsConfig = cfg }
}

// WithName sets the EHLO/HELO argument. Defaults to "localhost".
func WithName(name string) Option {
	return func(o *Options) { o.name = name }
}

// WithAuth enables PLAIN/LOGIN authentication with the given credentials.
func WithAuth(user, pass string) Option {
	return func(o *Options) { o.auth = &AuthCredentials{User: user, Pass: pass} }
}

// WithXOAuth2 enables XOAUTH2 authentication with an OAuth2 bearer token.
func WithXOAuth2(user string, token []byte) Option {
	return func(o *Options) {
		o.auth = &AuthCredentials{User: user, Token: token}
		o.authMethod = AuthXOAuth2
	}
}

// WithAuthMethod overrides capability-based mechanism selection.
func WithAuthMethod(m AuthMethod) Option {
	return func(o *Options) { o.authMethod = m }
}

// WithDisableEscaping disables DATA-mode dot-stuffing, passing body bytes
// through unchanged. Only useful when the caller has already stuffed the
// body itself.
func WithDisableEscaping(disabled bool) Option {
	return func(o *Options) { o.disableEscaping = disabled }
}

// WithLMTP substitutes LHLO for EHLO.
func WithLMTP(enabled bool) Option {
	return func(o *Options) { o.lmtp = enabled }
}

// WithLogLength sets the ring capacity of the debug log; 0 disables logging.
func WithLogLength(n uint32) Option {
	return func(o *Options) { o.logLength = n }
}

// WithLogger sets the structured logger used for debug records (written on
// transport open, on each server reply with the current state and reply
// code, on transport errors, and on session errors). Defaults to
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.logger = l }
}
