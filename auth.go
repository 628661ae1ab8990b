package smtp

import (
	"encoding/base64"
	"fmt"
)

// EncodePlain builds the base64 argument of "AUTH PLAIN" (RFC 4616):
// base64("\0" + user + "\0" + pass). Operates on raw bytes so 8-bit
// passwords survive intact (RFC 4616 places no charset restriction on the
// authentication identity or password octets).
func EncodePlain(user, pass []byte) string {
	raw := make([]byte, 0, len(user)+len(pass)+2)
	raw = append(raw, 0)
	raw = append(raw, user...)
	raw = append(raw, 0)
	raw = append(raw, pass...)
	return base64.StdEncoding.EncodeToString(raw)
}

// LoginUsername builds the base64 response to the first "AUTH LOGIN"
// challenge, whose base64-decoded text must read exactly "Username:".
func LoginUsername(user []byte) string {
	return base64.StdEncoding.EncodeToString(user)
}

// LoginPassword builds the base64 response to the second "AUTH LOGIN"
// challenge, whose base64-decoded text must read exactly "Password:".
func LoginPassword(pass []byte) string {
	return base64.StdEncoding.EncodeToString(pass)
}

// EncodeXOAUTH2 builds the base64 argument of "AUTH XOAUTH2":
// base64("user=" + user + "\x01auth=Bearer " + token + "\x01\x01").
func EncodeXOAUTH2(user string, token []byte) string {
	raw := fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", user, token)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// DecodeChallenge base64-decodes a server AUTH challenge (the text portion
// of a 334 reply). An invalid-base64 challenge is a protocol error.
func DecodeChallenge(text string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("smtp: invalid base64 auth challenge %q: %w", text, err)
	}
	return decoded, nil
}
