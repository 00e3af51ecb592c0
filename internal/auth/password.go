package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id cost parameters for newly minted hashes, per the OWASP password
// storage guidance current in 2025. Verification reads the cost out of the
// stored string instead, so these can be raised later without invalidating
// existing users.
const (
	argonTime    = 3         // iterations
	argonMemory  = 64 * 1024 // KiB, i.e. 64 MiB
	argonThreads = 1
	argonKeyLen  = 32
	argonSaltLen = 16
)

// phcFieldCount is the number of $-delimited fields in a PHC string:
// $argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash> splits into an empty
// leading field plus five.
const phcFieldCount = 6

// dummyHash is a well-formed Argon2id hash that matches no password.
// Login verifies against it when the username is unknown, so the miss
// costs the same key derivation as a real account.
var dummyHash = encodePHC(make([]byte, argonSaltLen), make([]byte, argonKeyLen))

// phcHash is a decoded PHC string: the salt and derived key plus the cost
// parameters they were produced under.
type phcHash struct {
	salt    []byte
	hash    []byte
	time    uint32
	memory  uint32
	threads uint8
}

// HashPassword derives an Argon2id hash of password under the current cost
// parameters and encodes it in PHC string format.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return encodePHC(salt, key), nil
}

// VerifyPassword re-derives the hash of password under the cost parameters
// stored in encodedHash and compares in constant time.
func VerifyPassword(password, encodedHash string) (bool, error) {
	stored, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	candidate := argon2.IDKey([]byte(password), stored.salt,
		stored.time, stored.memory, stored.threads,
		uint32(len(stored.hash))) //nolint:gosec // G115: hash length always fits uint32

	return subtle.ConstantTimeCompare(stored.hash, candidate) == 1, nil
}

// encodePHC renders salt and key as $argon2id$v=19$m=...,t=...,p=...$salt$key
// with unpadded standard base64, the encoding PHC mandates.
func encodePHC(salt, key []byte) string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
}

// parsePHC decodes a PHC string, rejecting anything that is not argon2id at
// the library's version.
func parsePHC(encoded string) (phcHash, error) {
	var p phcHash

	parts := strings.Split(encoded, "$")
	if len(parts) != phcFieldCount {
		return p, fmt.Errorf("invalid PHC hash format")
	}
	if parts[1] != "argon2id" {
		return p, fmt.Errorf("unsupported algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return p, fmt.Errorf("parsing version: %w", err)
	}
	if version != argon2.Version {
		return p, fmt.Errorf("unsupported argon2 version: %d", version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return p, fmt.Errorf("parsing parameters: %w", err)
	}

	var err error
	if p.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return p, fmt.Errorf("decoding salt: %w", err)
	}
	if p.hash, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return p, fmt.Errorf("decoding hash: %w", err)
	}
	return p, nil
}
