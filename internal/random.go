package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"math/big"
	"strings"
)

const backupCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

// NewStepUpCode draws a uniform 6-digit verification code in
// [100000, 999999]. The fixed width keeps leading-zero handling out of
// the SMS template and the compare path.
func NewStepUpCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	code := n.Int64() + 100000

	digits := make([]byte, 6)
	for i := 5; i >= 0; i-- {
		digits[i] = byte('0' + code%10)
		code /= 10
	}
	return string(digits), nil
}

// NewBackupCodes generates count single-use recovery codes of the given
// length over an unambiguous uppercase alphabet (no 0/O/1/I).
func NewBackupCodes(count, length int) ([]string, error) {
	if count <= 0 || length <= 0 {
		return nil, errors.New("invalid backup code parameters")
	}

	codes := make([]string, count)
	alphabetSize := big.NewInt(int64(len(backupCodeAlphabet)))

	for i := range codes {
		var b strings.Builder
		b.Grow(length)
		for j := 0; j < length; j++ {
			n, err := rand.Int(rand.Reader, alphabetSize)
			if err != nil {
				return nil, err
			}
			b.WriteByte(backupCodeAlphabet[n.Int64()])
		}
		codes[i] = b.String()
	}
	return codes, nil
}

// NormalizeCode canonicalizes user-typed codes: uppercase, whitespace
// and dashes stripped. Applied before hashing and before comparison so
// stored hashes and submitted codes agree.
func NormalizeCode(code string) string {
	code = strings.ToUpper(code)
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '-':
			return -1
		}
		return r
	}, code)
}

// HashCode is the at-rest digest for step-up and backup codes.
func HashCode(code string) [32]byte {
	return sha256.Sum256([]byte(code))
}
