// Package crypto provides the two primitives the chain-sync core needs:
// keccak256 (block/body/receipt/trie-node identity) and secp256k1 public-key
// recovery (transaction sender derivation).
package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/sha3"

	"github.com/coreetc/chainsync/common"
)

// Keccak256 returns the keccak256 digest of the concatenation of data.
func Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

// Keccak256Hash returns the keccak256 digest of data as a common.Hash.
func Keccak256Hash(data ...[]byte) common.Hash {
	return common.BytesToHash(Keccak256(data...))
}

// SignatureValues are the (v, r, s) components of an ECDSA signature over a
// transaction hash. V holds the plain recovery id (0 or 1); the transaction
// Sender path strips any EIP-155 chain id before filling it in.
type SignatureValues struct {
	R, S *big.Int
	V    uint64
}

var (
	secp256k1N     = btcec.S256().N
	secp256k1HalfN = new(big.Int).Rsh(secp256k1N, 1)
)

// ErrInvalidSignature is returned when r, s or the recovery id are out of the
// range a valid secp256k1 signature can take.
var ErrInvalidSignature = errors.New("invalid transaction signature")

// ValidateSignatureValues reports whether r, s, and the recovery id (0 or 1)
// could have been produced by a well-formed ECDSA signer. homestead enforces
// the low-S rule introduced to prevent signature malleability.
func ValidateSignatureValues(v byte, r, s *big.Int, homestead bool) bool {
	if r == nil || s == nil {
		return false
	}
	if v > 1 {
		return false
	}
	if r.Sign() <= 0 || s.Sign() <= 0 {
		return false
	}
	if r.Cmp(secp256k1N) >= 0 || s.Cmp(secp256k1N) >= 0 {
		return false
	}
	if homestead && s.Cmp(secp256k1HalfN) > 0 {
		return false
	}
	return true
}

// Sender recovers the address that produced sig over hash.
func Sender(hash common.Hash, sig SignatureValues, recoveryID byte) (common.Address, error) {
	if !ValidateSignatureValues(recoveryID, sig.R, sig.S, true) {
		return common.Address{}, ErrInvalidSignature
	}
	sigBytes := make([]byte, 65)
	sig.R.FillBytes(sigBytes[0:32])
	sig.S.FillBytes(sigBytes[32:64])
	sigBytes[64] = recoveryID

	pub, err := RecoverPubkey(hash.Bytes(), sigBytes)
	if err != nil {
		return common.Address{}, err
	}
	return PubkeyToAddress(pub), nil
}

// RecoverPubkey recovers the uncompressed public key that produced sig
// (64-byte r||s plus a trailing 1-byte recovery id) over digest.
func RecoverPubkey(digest, sig []byte) (*ecdsa.PublicKey, error) {
	if len(sig) != 65 {
		return nil, fmt.Errorf("%w: signature must be 65 bytes, got %d", ErrInvalidSignature, len(sig))
	}
	// btcec expects the recovery byte first.
	compact := make([]byte, 65)
	compact[0] = sig[64] + 27
	copy(compact[1:], sig[:64])

	pub, _, err := btcec.RecoverCompact(compact, digest)
	if err != nil {
		return nil, fmt.Errorf("recover pubkey: %w", err)
	}
	return pub.ToECDSA(), nil
}

// PubkeyToAddress derives the 20-byte address from an uncompressed public key
// as keccak256(pubkey.X || pubkey.Y)[12:].
func PubkeyToAddress(pub *ecdsa.PublicKey) common.Address {
	buf := make([]byte, 64)
	pub.X.FillBytes(buf[0:32])
	pub.Y.FillBytes(buf[32:64])
	return common.BytesToAddress(Keccak256(buf))
}
