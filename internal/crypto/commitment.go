package crypto

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// commitTypeHash is the pre-computed keccak256 of the canonical commitment
// type string. Binding the hash to a type string keeps commitments from one
// deployment from colliding with payloads signed for another purpose.
var commitTypeHash = ethcrypto.Keccak256(
	[]byte("OrderCommit(string tokenIn,string tokenOut,uint256 amountIn,uint256 minAmountOut,bytes32 secret)"),
)

// SecretLen is the required secret length in bytes.
const SecretLen = 32

// CommitPayload holds the order fields bound by a commitment hash. The
// priority bid is deliberately excluded — it is disclosed at reveal time and
// must not be derivable from the commitment.
type CommitPayload struct {
	TokenIn      string
	TokenOut     string
	AmountIn     uint64
	MinAmountOut uint64
}

// CommitHash computes the commitment hash for an order and secret:
//
//	keccak256(typeHash || keccak256(tokenIn) || keccak256(tokenOut) ||
//	          uint256(amountIn) || uint256(minAmountOut) || secret)
//
// The result is returned as a 0x-prefixed hex string. Any single-bit change
// to the payload or secret produces an unrelated hash.
func CommitHash(p CommitPayload, secret []byte) (string, error) {
	if len(secret) != SecretLen {
		return "", fmt.Errorf("crypto: secret must be %d bytes, got %d", SecretLen, len(secret))
	}

	digest := ethcrypto.Keccak256(
		concatBytes(
			commitTypeHash,
			ethcrypto.Keccak256([]byte(p.TokenIn)),
			ethcrypto.Keccak256([]byte(p.TokenOut)),
			bigIntTo32Bytes(new(big.Int).SetUint64(p.AmountIn)),
			bigIntTo32Bytes(new(big.Int).SetUint64(p.MinAmountOut)),
			secret,
		),
	)

	return "0x" + hex.EncodeToString(digest), nil
}

// ParseSecret decodes a 0x-prefixed hex secret and validates its length.
func ParseSecret(s string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: secret is not valid hex: %w", err)
	}
	if len(raw) != SecretLen {
		return nil, fmt.Errorf("crypto: secret must be %d bytes, got %d", SecretLen, len(raw))
	}
	return raw, nil
}

// ParseHash decodes a 0x-prefixed 32-byte hex hash.
func ParseHash(s string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: hash is not valid hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("crypto: hash must be 32 bytes, got %d", len(raw))
	}
	return raw, nil
}

// ShuffleSeed derives the batch-wide shuffle seed from the XOR of all
// revealed secrets and the batch id:
//
//	keccak256(xor(secrets...) || uint256(batchId))
//
// Because every revealer contributes an unpredictable secret, no single party
// can steer the seed without knowing every other secret in advance.
func ShuffleSeed(secrets [][]byte, batchID uint64) [32]byte {
	var acc [SecretLen]byte
	for _, s := range secrets {
		for i := 0; i < SecretLen && i < len(s); i++ {
			acc[i] ^= s[i]
		}
	}

	digest := ethcrypto.Keccak256(
		concatBytes(
			acc[:],
			bigIntTo32Bytes(new(big.Int).SetUint64(batchID)),
		),
	)

	var seed [32]byte
	copy(seed[:], digest)
	return seed
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
