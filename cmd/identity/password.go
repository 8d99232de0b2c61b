package identity

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters. These balance login latency against brute-force cost;
// verification refuses hashes with parameters far above these maxima to avoid
// turning stored hashes into a DoS vector.
const (
	argonMemoryKiB   = 64 * 1024
	argonIterations  = 2
	argonParallelism = 2
	argonSaltLen     = 16
	argonKeyLen      = 32

	argonMaxVerifyMemoryKiB  = 1 << 21 // 2 GiB
	argonMaxVerifyIterations = 16

	minPasswordLen = 8
	maxPasswordLen = 256
)

var (
	// ErrWeakPassword is returned when the password violates length policy.
	ErrWeakPassword = errors.New("identity: password violates policy")
	// ErrInvalidHash is returned when a stored hash cannot be parsed.
	ErrInvalidHash = errors.New("identity: invalid argon2id hash")
)

// HashPassword returns a PHC-style argon2id hash of the plain password.
func HashPassword(plain string) (string, error) {
	if len(plain) < minPasswordLen || len(plain) > maxPasswordLen {
		return "", ErrWeakPassword
	}

	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(plain), salt, argonIterations, argonMemoryKiB, argonParallelism, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemoryKiB, argonIterations, argonParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifyPassword checks plain against a PHC argon2id hash in constant time.
func VerifyPassword(plain, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, ErrInvalidHash
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false, ErrInvalidHash
	}
	if memory == 0 || iterations == 0 || parallelism == 0 {
		return false, ErrInvalidHash
	}
	if memory > argonMaxVerifyMemoryKiB || iterations > argonMaxVerifyIterations {
		return false, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, ErrInvalidHash
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false, ErrInvalidHash
	}

	got := argon2.IDKey([]byte(plain), salt, iterations, memory, parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
