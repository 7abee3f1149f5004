package store

import (
	crand "crypto/rand"
	"math/big"
	"math/rand/v2"
)

const (
	// CodeLength is the length of generated session codes.
	CodeLength = 6

	// CodeChars are the characters used for session codes (no 0/O, 1/I).
	CodeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// GenerateCode creates a random session code. Uniqueness is checked by the
// store against live sessions.
func GenerateCode() string {
	code := make([]byte, CodeLength)
	for i := range code {
		n, err := crand.Int(crand.Reader, big.NewInt(int64(len(CodeChars))))
		if err != nil {
			// fallback to math/rand if crypto fails
			code[i] = CodeChars[rand.IntN(len(CodeChars))]
			continue
		}
		code[i] = CodeChars[n.Int64()]
	}
	return string(code)
}
