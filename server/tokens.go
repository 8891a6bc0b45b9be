package server

import "crypto/rand"

const (
	tokenChars  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	tokenLength = 24
)

// NewToken returns a fresh cryptographically random token of 24 characters
// over a 62-character alphabet (over 140 bits of entropy). Tokens are used as
// session identifiers, SIOP state/nonce values and access tokens; possession
// of a token is the only authorization at the session-store layer.
func NewToken() string {
	r := make([]byte, tokenLength)
	_, err := rand.Read(r)
	if err != nil {
		panic(err)
	}

	b := make([]byte, tokenLength)
	for i := range b {
		b[i] = tokenChars[r[i]%byte(len(tokenChars))]
	}
	return string(b)
}
