package tokens

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// PrefixLength is the number of leading token characters stored in cleartext
	// so candidates can be found with an indexed lookup.
	PrefixLength = 4

	// tokenBytes is the entropy of generated tokens (256 bits).
	tokenBytes = 32

	algorithm = "pbkdf2-sha512"
)

// Hasher produces salted one-way hashes of secrets.
type Hasher struct {
	Rounds    int
	SaltBytes int
}

// TokenHasher is used for generated tokens, which already carry full entropy.
var TokenHasher = Hasher{Rounds: 1, SaltBytes: 8}

// SecretHasher is used for operator supplied secrets such as client secrets.
var SecretHasher = Hasher{Rounds: 16384, SaltBytes: 8}

// Credential is a freshly generated token together with its stored form.
type Credential struct {
	Plaintext string
	Prefix    string
	Hashed    string
}

// New returns a new random token, hex encoded.
func New() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Prefix returns the cleartext lookup prefix of a token.
func Prefix(token string) string {
	if len(token) < PrefixLength {
		return token
	}
	return token[:PrefixLength]
}

// Issue generates a token and hashes it.
func (h Hasher) Issue() (Credential, error) {
	plaintext, err := New()
	if err != nil {
		return Credential{}, err
	}
	hashed, err := h.Hash(plaintext)
	if err != nil {
		return Credential{}, err
	}
	return Credential{Plaintext: plaintext, Prefix: Prefix(plaintext), Hashed: hashed}, nil
}

// Hash returns "pbkdf2-sha512:<rounds>:<salt>:<digest>" for the given secret.
func (h Hasher) Hash(secret string) (string, error) {
	rounds := h.Rounds
	if rounds < 1 {
		rounds = 1
	}
	saltBytes := h.SaltBytes
	if saltBytes < 1 {
		saltBytes = 8
	}
	raw := make([]byte, saltBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	salt := hex.EncodeToString(raw)
	return fmt.Sprintf("%s:%d:%s:%s", algorithm, rounds, salt, digest(secret, salt, rounds)), nil
}

// Verify reports whether secret matches a value produced by Hash.
// Malformed stored values never match.
func Verify(hashed, secret string) bool {
	parts := strings.SplitN(hashed, ":", 4)
	if len(parts) != 4 || parts[0] != algorithm {
		return false
	}
	rounds, err := strconv.Atoi(parts[1])
	if err != nil || rounds < 1 {
		return false
	}
	return Compare(digest(secret, parts[2], rounds), parts[3])
}

// Compare compares two strings in constant time with respect to their content.
func Compare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func digest(secret, salt string, rounds int) string {
	return hex.EncodeToString(pbkdf2.Key([]byte(secret), []byte(salt), rounds, sha512.Size, sha512.New))
}
