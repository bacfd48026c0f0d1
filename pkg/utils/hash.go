package utils

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// HashCost is the bcrypt work factor for passwords and room passcodes.
const HashCost = 12

// ErrSecretTooLong is returned for secrets bcrypt would silently truncate.
var ErrSecretTooLong = errors.New("secret longer than 72 bytes")

const maxSecretBytes = 72

// HashSecret hashes a password or room passcode using bcrypt.
func HashSecret(secret string) (string, error) {
	if len(secret) > maxSecretBytes {
		return "", ErrSecretTooLong
	}
	b, err := bcrypt.GenerateFromPassword([]byte(secret), HashCost)
	return string(b), err
}

// CheckSecret compares a plain secret with its bcrypt hash. An empty hash never matches.
func CheckSecret(plain, hashed string) bool {
	if hashed == "" || len(plain) > maxSecretBytes {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain)) == nil
}

// NeedsRehash reports whether hashed was produced with a weaker cost than HashCost.
func NeedsRehash(hashed string) bool {
	cost, err := bcrypt.Cost([]byte(hashed))
	return err != nil || cost < HashCost
}
