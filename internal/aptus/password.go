package aptus

import (
	"strconv"
	"strings"
)

// DefaultPasswordSalt is used when the login page carries no usable salt.
const DefaultPasswordSalt = "611"

const defaultSaltKey = 611

// EncryptPassword obfuscates a password the way the portal's login form does
// before posting it as PwEnc: every code point is XORed with the integer
// salt. An empty or non-numeric salt falls back to 611.
func EncryptPassword(password, salt string) string {
	key, err := strconv.Atoi(strings.TrimSpace(salt))
	if err != nil {
		key = defaultSaltKey
	}

	var b strings.Builder
	b.Grow(len(password) * 2)
	for _, r := range password {
		b.WriteRune(rune(key ^ int(r)))
	}
	return b.String()
}
