package security

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidPasswordHash = errors.New("invalid password hash")

// PasswordHasher hashes new passwords with bcrypt and verifies both bcrypt and
// argon2id (PHC encoded) hashes so imported credentials keep working.
type PasswordHasher struct {
	cost           int
	maxArgonMemory uint32
	maxArgonTime   uint32
}

func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &PasswordHasher{cost: cost, maxArgonMemory: 256 * 1024, maxArgonTime: 10}
}

func (h *PasswordHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is required")
	}
	out, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(out), nil
}

// Verify reports whether plaintext matches hash. Malformed hashes never match.
func (h *PasswordHasher) Verify(plaintext, hash string) bool {
	switch {
	case strings.HasPrefix(hash, "$argon2id$"):
		ok, err := h.verifyArgon2id(plaintext, hash)
		return err == nil && ok
	case strings.HasPrefix(hash, "$2"):
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
	default:
		return false
	}
}

func (h *PasswordHasher) verifyArgon2id(plaintext, encoded string) (bool, error) {
	// $argon2id$v=19$m=65536,t=3,p=2$<salt>$<key>
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != "v=19" {
		return false, ErrInvalidPasswordHash
	}
	var mem, iterations, parallelism uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iterations, &parallelism); err != nil {
		return false, ErrInvalidPasswordHash
	}
	if mem == 0 || iterations == 0 || parallelism == 0 || parallelism > 255 {
		return false, ErrInvalidPasswordHash
	}
	if mem > h.maxArgonMemory || iterations > h.maxArgonTime {
		return false, ErrInvalidPasswordHash
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) < 8 {
		return false, ErrInvalidPasswordHash
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(expected) < 16 || len(expected) > 128 {
		return false, ErrInvalidPasswordHash
	}
	key := argon2.IDKey([]byte(plaintext), salt, iterations, mem, uint8(parallelism), uint32(len(expected)))
	return subtle.ConstantTimeCompare(key, expected) == 1, nil
}
