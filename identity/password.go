package identity

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// argon2Params are the tunable Argon2id cost parameters: memory-hard,
// with a fresh random salt per user.
type argon2Params struct {
	memoryKB    uint32
	time        uint32
	parallelism uint8
	saltLen     uint32
	keyLen      uint32
}

func defaultArgon2Params() argon2Params {
	return argon2Params{
		memoryKB:    64 * 1024,
		time:        3,
		parallelism: 2,
		saltLen:     16,
		keyLen:      32,
	}
}

// hashPassword derives a fresh salted Argon2id hash and encodes it as
// a PHC-like string: argon2id$v=19$m=<kb>,t=<time>,p=<par>$<salt>$<hash>,
// both salt and hash base64-raw-encoded. Never stores the password in
// clear, never a hash without its salt.
func hashPassword(password string) (string, error) {
	p := defaultArgon2Params()
	salt := make([]byte, p.saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, p.time, p.memoryKB, p.parallelism, p.keyLen)
	return encodeHash(p, salt, hash), nil
}

// verifyPassword recomputes the hash with the stored parameters and
// compares it in constant time. It never compares plaintext passwords.
func verifyPassword(password, encoded string) (bool, error) {
	p, salt, wantHash, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}
	gotHash := argon2.IDKey([]byte(password), salt, p.time, p.memoryKB, p.parallelism, p.keyLen)
	return subtle.ConstantTimeCompare(gotHash, wantHash) == 1, nil
}

func encodeHash(p argon2Params, salt, hash []byte) string {
	return fmt.Sprintf("argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		p.memoryKB, p.time, p.parallelism,
		b64Encode(salt), b64Encode(hash))
}

func decodeHash(encoded string) (argon2Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 5 || parts[0] != "argon2id" {
		return argon2Params{}, nil, nil, fmt.Errorf("malformed password hash")
	}
	var version int
	if _, err := fmt.Sscanf(parts[1], "v=%d", &version); err != nil {
		return argon2Params{}, nil, nil, fmt.Errorf("malformed password hash version: %w", err)
	}
	var memoryKB, timeCost uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[2], "m=%d,t=%d,p=%d", &memoryKB, &timeCost, &parallelism); err != nil {
		return argon2Params{}, nil, nil, fmt.Errorf("malformed password hash params: %w", err)
	}
	salt, err := b64Decode(parts[3])
	if err != nil {
		return argon2Params{}, nil, nil, fmt.Errorf("malformed password hash salt: %w", err)
	}
	hash, err := b64Decode(parts[4])
	if err != nil {
		return argon2Params{}, nil, nil, fmt.Errorf("malformed password hash digest: %w", err)
	}
	p := argon2Params{
		memoryKB:    memoryKB,
		time:        timeCost,
		parallelism: parallelism,
		saltLen:     uint32(len(salt)),
		keyLen:      uint32(len(hash)),
	}
	return p, salt, hash, nil
}

// b64Encode/b64Decode use unpadded standard base64, matching common
// PHC-string encodings.
func b64Encode(b []byte) string          { return base64.RawStdEncoding.EncodeToString(b) }
func b64Decode(s string) ([]byte, error) { return base64.RawStdEncoding.DecodeString(s) }
