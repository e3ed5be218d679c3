package internal

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"io"
	"math/big"

	"github.com/google/uuid"
)

// ErrInvalidPasscodeLength is returned when a passcode of fewer than one digit is requested.
var ErrInvalidPasscodeLength = errors.New("passcode length must be at least 1")

// NewPasscode returns a decimal string of exactly length digits drawn uniformly
// from [10^(length-1), 10^length-1] using crypto/rand.
func NewPasscode(length int) (string, error) {
	return NewPasscodeFrom(rand.Reader, length)
}

// NewPasscodeFrom is NewPasscode with an explicit entropy source.
func NewPasscodeFrom(r io.Reader, length int) (string, error) {
	if length < 1 {
		return "", ErrInvalidPasscodeLength
	}

	ten := big.NewInt(10)
	lo := new(big.Int).Exp(ten, big.NewInt(int64(length-1)), nil)
	hi := new(big.Int).Exp(ten, big.NewInt(int64(length)), nil)
	span := new(big.Int).Sub(hi, lo)

	n, err := rand.Int(r, span)
	if err != nil {
		return "", err
	}
	n.Add(n, lo)

	code := n.String()
	if len(code) != length {
		return "", errors.New("invalid passcode generation length")
	}
	return code, nil
}

// HashPasscode returns the keyed digest stored in place of the raw code. The
// purpose and subject are bound into the MAC so a digest cannot be replayed
// against another pair.
func HashPasscode(pepper []byte, purpose, subject, code string) [32]byte {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(purpose))
	mac.Write([]byte{0})
	mac.Write([]byte(subject))
	mac.Write([]byte{0})
	mac.Write([]byte(code))

	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// EqualHash compares two digests in constant time.
func EqualHash(a, b [32]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// NewTokenID returns an unguessable identifier for a staged token (random v4 UUID).
func NewTokenID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
