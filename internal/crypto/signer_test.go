package crypto

import (
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Well-known test vector key; never used outside of tests.
const testPrivateKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func testReport() ReportDigestFields {
	return ReportDigestFields{
		BatchID:       42,
		ClearingPrice: big.NewInt(2_500_000_000_000_000_000),
		MatchedVolume: 1_000,
		TotalRefunded: 900_000,
		TotalSlashed:  100_000,
	}
}

func TestSignAndVerifyReport(t *testing.T) {
	signer, err := NewSigner(testPrivateKey)
	require.NoError(t, err)

	sig, err := signer.SignReport(testReport())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(sig, "0x"))
	require.Len(t, sig, 2+65*2)

	ok, err := VerifyReport(testReport(), sig, signer.Address())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyRejectsTamperedReport(t *testing.T) {
	signer, err := NewSigner(testPrivateKey)
	require.NoError(t, err)

	sig, err := signer.SignReport(testReport())
	require.NoError(t, err)

	tampered := testReport()
	tampered.TotalSlashed = 0

	ok, err := VerifyReport(tampered, sig, signer.Address())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyRejectsWrongOperator(t *testing.T) {
	signer, err := NewSigner(testPrivateKey)
	require.NoError(t, err)
	other, err := NewSigner("0x8da4ef21b864d2cc526dbdb2a120bd2874c36c9d0a1fb7f8c63d7f7a8b41de8f")
	require.NoError(t, err)

	sig, err := signer.SignReport(testReport())
	require.NoError(t, err)

	ok, err := VerifyReport(testReport(), sig, other.Address())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyRejectsMalformedSignature(t *testing.T) {
	signer, err := NewSigner(testPrivateKey)
	require.NoError(t, err)

	_, err = VerifyReport(testReport(), "0xdeadbeef", signer.Address())
	require.Error(t, err)
	_, err = VerifyReport(testReport(), "not-hex", signer.Address())
	require.Error(t, err)
}

func TestNewSignerRejectsInvalidKey(t *testing.T) {
	_, err := NewSigner("0xnothex")
	require.Error(t, err)
	_, err = NewSigner("")
	require.Error(t, err)
}

func TestReportDigestHandlesNilPrice(t *testing.T) {
	f := testReport()
	f.ClearingPrice = nil
	require.Len(t, ReportDigest(f), 32)
}
