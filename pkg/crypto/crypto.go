package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

// GenerateToken returns a random hex token of the requested byte length.
// A 32-byte input yields the 64-character links embedded in invitation emails.
func GenerateToken(length int) (string, error) {
	buffer := make([]byte, length)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return hex.EncodeToString(buffer), nil
}

// HashToken returns the hex-encoded SHA-256 digest of a high-entropy token.
// Only digests are stored; the raw token is shown to the recipient once.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// TokensEqual compares a raw token against a stored digest in constant time.
func TokensEqual(token, storedHash string) bool {
	digest := HashToken(token)
	return subtle.ConstantTimeCompare([]byte(digest), []byte(storedHash)) == 1
}

// GenerateNumericCode returns a random code of the given digit count,
// zero-padded, suitable for SMS delivery.
func GenerateNumericCode(digits int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

// HashCode returns a bcrypt hash of a short numeric code. Codes carry far
// less entropy than tokens, so a plain digest would be trivially reversible.
func HashCode(code string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyCode compares a stored bcrypt hash with a candidate code.
func VerifyCode(hashedCode, code string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedCode), []byte(code)) == nil
}
