package rooms

import (
	"crypto/rand"
	"math/big"
	"strings"

	"github.com/sirupsen/logrus"
)

// CodeAlphabet leaves out 0/O and 1/I so codes can be read aloud and typed.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeLength is the fixed length of a room code.
const CodeLength = 6

// GenerateCode returns a random room code. Uniqueness is the registry's job.
func GenerateCode() string {
	var b strings.Builder
	b.Grow(CodeLength)
	for i := 0; i < CodeLength; i++ {
		b.WriteByte(CodeAlphabet[randomIndex(len(CodeAlphabet))])
	}
	return b.String()
}

// randomIndex returns a cryptographically secure random index in [0, max).
func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		logrus.WithError(err).Panic("Failed to generate random index")
	}
	return int(n.Int64())
}

// NormalizeCode upper-cases and trims user input so "ab3k9q " matches "AB3K9Q".
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCode reports whether code has the right length and alphabet.
func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(CodeAlphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}
