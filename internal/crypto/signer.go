package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// settlementTypeHash is the pre-computed keccak256 of the canonical
// settlement report type string.
var settlementTypeHash = ethcrypto.Keccak256(
	[]byte("SettlementReport(uint256 batchId,uint256 clearingPrice,uint256 matchedVolume,uint256 totalRefunded,uint256 totalSlashed)"),
)

// ReportDigestFields are the settlement report fields covered by the
// operator signature.
type ReportDigestFields struct {
	BatchID       uint64
	ClearingPrice *big.Int
	MatchedVolume uint64
	TotalRefunded uint64
	TotalSlashed  uint64
}

// Signer signs settlement report digests with the operator's secp256k1 key
// so external observers can verify that a published report came from this
// operator.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the operator address derived from the signing key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignReport signs the report digest and returns a hex-encoded 65-byte
// signature (r || s || v).
func (s *Signer) SignReport(f ReportDigestFields) (string, error) {
	sig, err := ethcrypto.Sign(ReportDigest(f), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; external verifiers expect {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}

	return "0x" + hex.EncodeToString(sig), nil
}

// ReportDigest computes the keccak256 digest of a settlement report.
func ReportDigest(f ReportDigestFields) []byte {
	price := f.ClearingPrice
	if price == nil {
		price = new(big.Int)
	}
	return ethcrypto.Keccak256(
		concatBytes(
			settlementTypeHash,
			bigIntTo32Bytes(new(big.Int).SetUint64(f.BatchID)),
			bigIntTo32Bytes(price),
			bigIntTo32Bytes(new(big.Int).SetUint64(f.MatchedVolume)),
			bigIntTo32Bytes(new(big.Int).SetUint64(f.TotalRefunded)),
			bigIntTo32Bytes(new(big.Int).SetUint64(f.TotalSlashed)),
		),
	)
}

// VerifyReport recovers the signing address from a report signature and
// compares it to the expected operator address.
func VerifyReport(f ReportDigestFields, signature string, operator common.Address) (bool, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return false, fmt.Errorf("crypto/signer: signature is not valid hex: %w", err)
	}
	if len(raw) != 65 {
		return false, fmt.Errorf("crypto/signer: expected 65-byte signature, got %d", len(raw))
	}

	// Normalise v back to {0,1} for recovery.
	sig := make([]byte, 65)
	copy(sig, raw)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(ReportDigest(f), sig)
	if err != nil {
		return false, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub) == operator, nil
}
