package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id cost for new operator hashes. Stored hashes keep the cost they
// were made with.
var defaultCost = argonCost{time: 3, memory: 64 * 1024, threads: 1}

const (
	argonKeyLen  = 32
	argonSaltLen = 16
)

type argonCost struct {
	time    uint32
	memory  uint32 // KiB
	threads uint8
}

// phcHash is a decoded $argon2id$v=19$m=..,t=..,p=..$<salt>$<key> string.
type phcHash struct {
	cost argonCost
	salt []byte
	key  []byte
}

func (h phcHash) String() string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.cost.memory, h.cost.time, h.cost.threads,
		base64.RawStdEncoding.EncodeToString(h.salt),
		base64.RawStdEncoding.EncodeToString(h.key),
	)
}

func (h phcHash) matches(password string) bool {
	candidate := argon2.IDKey([]byte(password), h.salt, h.cost.time, h.cost.memory, h.cost.threads, uint32(len(h.key))) //nolint:gosec // G115: key length is small
	return subtle.ConstantTimeCompare(h.key, candidate) == 1
}

// HashPassword hashes an operator password for security.admin.password_hash.
func HashPassword(password string) (string, error) {
	return hashWithCost(password, defaultCost)
}

func hashWithCost(password string, cost argonCost) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	h := phcHash{
		cost: cost,
		salt: salt,
		key:  argon2.IDKey([]byte(password), salt, cost.time, cost.memory, cost.threads, argonKeyLen),
	}
	return h.String(), nil
}

// VerifyPassword reports whether password matches a stored Argon2id hash.
// A malformed hash is an error, not a mismatch.
func VerifyPassword(password, encodedHash string) (bool, error) {
	h, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}
	return h.matches(password), nil
}

func parsePHC(encoded string) (phcHash, error) {
	var h phcHash

	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" { //nolint:mnd // "", algorithm, version, cost, salt, key
		return h, fmt.Errorf("%w: not a PHC string", ErrInvalidHash)
	}
	if fields[1] != "argon2id" {
		return h, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidHash, fields[1])
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil || version != argon2.Version {
		return h, fmt.Errorf("%w: unsupported version %q", ErrInvalidHash, fields[2])
	}

	c := &h.cost
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &c.memory, &c.time, &c.threads); err != nil {
		return h, fmt.Errorf("%w: cost %q: %w", ErrInvalidHash, fields[3], err)
	}
	if c.memory == 0 || c.time == 0 || c.threads == 0 {
		return h, fmt.Errorf("%w: zero cost in %q", ErrInvalidHash, fields[3])
	}

	var err error
	if h.salt, err = base64.RawStdEncoding.DecodeString(fields[4]); err != nil {
		return h, fmt.Errorf("%w: salt: %w", ErrInvalidHash, err)
	}
	if h.key, err = base64.RawStdEncoding.DecodeString(fields[5]); err != nil || len(h.key) == 0 {
		return h, fmt.Errorf("%w: key", ErrInvalidHash)
	}
	return h, nil
}
