package privacy

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Hash-commitment primitives. Commitments bind an amount and owner under
// blinding randomness; nullifiers give spend uniqueness. Neither carries the
// soundness or unlinkability guarantees of a real proving system, so callers
// route everything through the pipeline's backend interface where a real
// prover can be substituted.

const (
	commitmentDomain = "commitment"
	nullifierDomain  = "nullifier"
	encryptedMarker  = "enc_"

	ownerSecretPrefixLen = 16
)

func hashHex(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return hex.EncodeToString(sum[:])
}

// Commitment is deterministic for identical inputs; callers must supply
// fresh randomness per note to avoid commitment collisions.
func Commitment(amount uint64, owner string, randomness string) string {
	return hashHex(commitmentDomain, strconv.FormatUint(amount, 10), owner, randomness)
}

// Nullifier derives the spend tag for a note commitment under the owner's
// secret. With a hash-based secret this provides uniqueness, not
// unlinkability.
func Nullifier(noteCommitment string, ownerSecret string) string {
	return hashHex(nullifierDomain, noteCommitment, ownerSecret)
}

// OwnerSpendSecret derives the spend secret for non-decoy notes from a
// fixed-length prefix of the owner's public identifier.
func OwnerSpendSecret(owner string) string {
	if len(owner) <= ownerSecretPrefixLen {
		return owner
	}
	return owner[:ownerSecretPrefixLen]
}

// Randomness returns 256 bits of CSPRNG output, hex-encoded.
func Randomness() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}

// EncryptAmount produces an opaque hiding token for the amount. This is a
// one-way commitment, not reversible encryption: there is no decrypt, and
// amount recovery depends on the caller retaining the cleartext out-of-band.
func EncryptAmount(amount uint64, ownerPublicKey string, randomness string) string {
	return encryptedMarker + hashHex("amount", ownerPublicKey, strconv.FormatUint(amount, 10), randomness)
}

// EncryptRandomness hides a note's blinding randomness the same way.
func EncryptRandomness(randomness string, ownerPublicKey string) string {
	return encryptedMarker + hashHex("randomness", ownerPublicKey, randomness)
}

// IsEncryptedToken reports whether v carries the opaque-ciphertext marker.
func IsEncryptedToken(v string) bool {
	return strings.HasPrefix(v, encryptedMarker)
}
