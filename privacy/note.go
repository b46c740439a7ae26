package privacy

import (
	"crypto/sha256"
	"encoding/binary"
)

// Note construction is pure: no I/O, no clock, no shared state. The only
// nondeterminism is the fresh blinding randomness drawn per note.

// CreateNote builds a shielded note for the wallet. Decoys commit to amount
// zero no matter what amount was passed in, so a fabricated note can never
// leak a real value, not even internally.
func CreateNote(walletAddress, tokenMint, tokenSymbol string, amount uint64, stateRoot string, isDecoy bool) (*CompressedNote, error) {
	randomness, err := Randomness()
	if err != nil {
		return nil, err
	}
	return newNote(walletAddress, tokenMint, tokenSymbol, amount, stateRoot, isDecoy, randomness), nil
}

func newNote(walletAddress, tokenMint, tokenSymbol string, amount uint64, stateRoot string, isDecoy bool, randomness string) *CompressedNote {
	committedAmount := amount
	if isDecoy {
		committedAmount = 0
	}

	commitment := Commitment(committedAmount, walletAddress, randomness)

	// Decoys use their blinding randomness as the spend secret so their
	// nullifiers cannot be tied to the displayed owner.
	spendSecret := OwnerSpendSecret(walletAddress)
	if isDecoy {
		spendSecret = randomness
	}

	return &CompressedNote{
		WalletAddress:       walletAddress,
		NoteCommitment:      commitment,
		NullifierHash:       Nullifier(commitment, spendSecret),
		TokenMint:           tokenMint,
		TokenSymbol:         tokenSymbol,
		EncryptedAmount:     EncryptAmount(committedAmount, walletAddress, randomness),
		EncryptedRandomness: EncryptRandomness(randomness, walletAddress),
		MerkleTreeRoot:      stateRoot,
		LeafIndex:           syntheticLeafIndex(randomness),
		IsDecoy:             isDecoy,
	}
}

// syntheticLeafIndex stands in until on-chain inclusion assigns the real
// index. Derived from the note's randomness, so it is unpredictable but
// stable for a given note.
func syntheticLeafIndex(randomness string) uint64 {
	sum := sha256.Sum256([]byte("leaf_index:" + randomness))
	return binary.BigEndian.Uint64(sum[:8]) % (1 << StateTreeHeight)
}
