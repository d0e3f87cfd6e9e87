package auth

import (
	"errors"
	"fmt"
	"strings"
)

// Supported hash algorithms.
const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

// ErrUnknownAlgorithm is returned for an unsupported algorithm name.
var ErrUnknownAlgorithm = errors.New("unknown hash algorithm")

// Hasher produces salted, slow hashes suitable for credential storage.
// Each call to Hash uses a fresh random salt.
type Hasher interface {
	Hash(secret string) (string, error)
	Algorithm() string
}

// NewHasher returns the Hasher for algorithm.
func NewHasher(algorithm string, bcryptCost int) (Hasher, error) {
	switch algorithm {
	case AlgorithmBcrypt, "":
		return NewBcryptHasher(bcryptCost), nil
	case AlgorithmArgon2id:
		return NewArgon2Hasher(DefaultArgon2Params), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}
}

// VerifySecret reports whether secret matches encodedHash. The algorithm is
// taken from the hash itself, so keys hashed before an algorithm switch keep
// working. Malformed hashes never match.
func VerifySecret(secret, encodedHash string) bool {
	switch {
	case strings.HasPrefix(encodedHash, "$argon2id$"):
		ok, err := VerifyArgon2(secret, encodedHash)
		return err == nil && ok
	case isBcryptHash(encodedHash):
		return VerifyBcrypt(secret, encodedHash)
	default:
		return false
	}
}
