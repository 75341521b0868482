package service

import (
	"crypto/rand"
	"math/big"
)

// Base62 character set for short code generation
const base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const (
	MinCodeLength     = 6
	MaxCodeLength     = 8
	DefaultCodeLength = 6
)

// ShortCodeGenerator produces random alphanumeric codes. It gives no
// uniqueness guarantee; collisions are caught by the store on insert.
type ShortCodeGenerator struct {
	codeLength int
}

// NewShortCodeGenerator creates a generator. Lengths outside
// [MinCodeLength, MaxCodeLength] are clamped.
func NewShortCodeGenerator(codeLength int) *ShortCodeGenerator {
	switch {
	case codeLength <= 0:
		codeLength = DefaultCodeLength
	case codeLength < MinCodeLength:
		codeLength = MinCodeLength
	case codeLength > MaxCodeLength:
		codeLength = MaxCodeLength
	}
	return &ShortCodeGenerator{codeLength: codeLength}
}

// Length returns the number of characters in generated codes
func (g *ShortCodeGenerator) Length() int {
	return g.codeLength
}

// Generate returns a new code drawn uniformly from the base62 alphabet
func (g *ShortCodeGenerator) Generate() (string, error) {
	code := make([]byte, g.codeLength)
	max := big.NewInt(int64(len(base62Chars)))

	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = base62Chars[n.Int64()]
	}
	return string(code), nil
}
