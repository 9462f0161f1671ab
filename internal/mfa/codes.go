package mfa

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

// Ambiguous glyphs (0/O, 1/I/L) are excluded so codes survive being
// read over the phone.
const recoveryCharset = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// GenerateRecoveryCodes returns count random codes of the given length,
// grouped with a hyphen in the middle for readability. The caller hashes
// them before storage; the plaintext leaves this function exactly once.
func GenerateRecoveryCodes(count, length int) ([]string, error) {
	if count <= 0 || count > 64 {
		return nil, errors.New("invalid recovery code count")
	}
	if length < 8 || length > 32 {
		return nil, errors.New("invalid recovery code length")
	}

	max := big.NewInt(int64(len(recoveryCharset)))
	codes := make([]string, 0, count)
	for i := 0; i < count; i++ {
		var b strings.Builder
		b.Grow(length + 1)
		for j := 0; j < length; j++ {
			if j == length/2 {
				b.WriteByte('-')
			}
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return nil, err
			}
			b.WriteByte(recoveryCharset[n.Int64()])
		}
		codes = append(codes, b.String())
	}
	return codes, nil
}

// NormalizeRecoveryCode strips separators and whitespace and uppercases
// the input so user-typed codes compare against stored digests.
func NormalizeRecoveryCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	code = strings.ReplaceAll(code, " ", "")
	return code
}
