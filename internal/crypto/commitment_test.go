package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func testSecret(fill byte) []byte {
	s := make([]byte, SecretLen)
	for i := range s {
		s[i] = fill
	}
	return s
}

func TestCommitHashDeterministic(t *testing.T) {
	p := CommitPayload{
		TokenIn:      "USDC",
		TokenOut:     "WETH",
		AmountIn:     1_000_000,
		MinAmountOut: 400,
	}
	secret := testSecret(0xaa)

	h1, err := CommitHash(p, secret)
	require.NoError(t, err)
	h2, err := CommitHash(p, secret)
	require.NoError(t, err)

	require.Equal(t, h1, h2)
	require.True(t, strings.HasPrefix(h1, "0x"))
	require.Len(t, h1, 2+64)
}

func TestCommitHashBindsEveryField(t *testing.T) {
	base := CommitPayload{
		TokenIn:      "USDC",
		TokenOut:     "WETH",
		AmountIn:     1_000_000,
		MinAmountOut: 400,
	}
	secret := testSecret(0xaa)

	want, err := CommitHash(base, secret)
	require.NoError(t, err)

	variants := []CommitPayload{
		{TokenIn: "WETH", TokenOut: "WETH", AmountIn: 1_000_000, MinAmountOut: 400},
		{TokenIn: "USDC", TokenOut: "USDC", AmountIn: 1_000_000, MinAmountOut: 400},
		{TokenIn: "USDC", TokenOut: "WETH", AmountIn: 1_000_001, MinAmountOut: 400},
		{TokenIn: "USDC", TokenOut: "WETH", AmountIn: 1_000_000, MinAmountOut: 401},
	}
	for _, v := range variants {
		got, err := CommitHash(v, secret)
		require.NoError(t, err)
		require.NotEqual(t, want, got, "payload %+v must not collide", v)
	}

	// A single flipped bit in the secret changes the hash.
	flipped := testSecret(0xaa)
	flipped[0] ^= 0x01
	got, err := CommitHash(base, flipped)
	require.NoError(t, err)
	require.NotEqual(t, want, got)
}

func TestCommitHashRejectsBadSecretLength(t *testing.T) {
	p := CommitPayload{TokenIn: "USDC", TokenOut: "WETH", AmountIn: 1}

	_, err := CommitHash(p, []byte{0x01, 0x02})
	require.Error(t, err)
	_, err = CommitHash(p, make([]byte, SecretLen+1))
	require.Error(t, err)
}

func TestParseSecret(t *testing.T) {
	raw := testSecret(0x42)
	hexStr := "0x" + strings.Repeat("42", SecretLen)

	got, err := ParseSecret(hexStr)
	require.NoError(t, err)
	require.Equal(t, raw, got)

	// Prefix is optional.
	got, err = ParseSecret(strings.Repeat("42", SecretLen))
	require.NoError(t, err)
	require.Equal(t, raw, got)

	_, err = ParseSecret("0xzz")
	require.Error(t, err)
	_, err = ParseSecret("0x42")
	require.Error(t, err)
}

func TestParseHash(t *testing.T) {
	_, err := ParseHash("0x" + strings.Repeat("ab", 32))
	require.NoError(t, err)

	_, err = ParseHash("0x" + strings.Repeat("ab", 31))
	require.Error(t, err)
	_, err = ParseHash("not-hex")
	require.Error(t, err)
}

func TestShuffleSeedMixesAllSecrets(t *testing.T) {
	secrets := [][]byte{testSecret(0x01), testSecret(0x02), testSecret(0x04)}

	seed := ShuffleSeed(secrets, 7)
	same := ShuffleSeed(secrets, 7)
	require.Equal(t, seed, same)

	// Changing any single secret changes the seed.
	altered := [][]byte{testSecret(0x01), testSecret(0x03), testSecret(0x04)}
	require.NotEqual(t, seed, ShuffleSeed(altered, 7))

	// The batch id is bound too, so identical reveal sets in different
	// batches produce unrelated orderings.
	require.NotEqual(t, seed, ShuffleSeed(secrets, 8))
}

func TestShuffleSeedXORIsOrderIndependent(t *testing.T) {
	a := [][]byte{testSecret(0x01), testSecret(0x02), testSecret(0x04)}
	b := [][]byte{testSecret(0x04), testSecret(0x01), testSecret(0x02)}
	require.Equal(t, ShuffleSeed(a, 3), ShuffleSeed(b, 3))
}
