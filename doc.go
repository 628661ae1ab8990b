// Package smtp provides shared types for the SMTP protocol (RFC 5321).
//
// This package contains reply codes, enhanced status codes, error types,
// email address parsing, SMTP extension definitions, and the authentication
// encoders used to build AUTH command arguments. It is used by both the
// [github.com/mailstream/smtpsubmit/smtpconn] client package and the
// internal fake server used in its tests.
//
// # Reply Codes
//
// [ReplyCode] constants cover all standard SMTP reply codes. The [SMTPError]
// type carries a reply code, optional [EnhancedCode], and human-readable
// message.
//
// # Address Types
//
// [Mailbox], [ReversePath], and [ForwardPath] represent RFC 5321 email
// addresses with full parsing and validation, including support for
// internationalized domain names (RFC 6531).
//
// # Authentication
//
// [EncodePlain], [LoginUsername], [LoginPassword], and [EncodeXOAUTH2] build
// the base64 arguments and challenge responses for AUTH PLAIN, AUTH LOGIN,
// and AUTH XOAUTH2. [DecodeChallenge] decodes a server's base64 challenge
// text. These are pure functions: a caller drives the actual AUTH exchange
// and only consults them to turn credentials into wire bytes.
//
// # Extensions
//
// The [Extension] type and [Extensions] map track EHLO-advertised
// capabilities. Use [ParseEHLOResponse] to parse a server's EHLO reply.
package smtp
