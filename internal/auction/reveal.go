package auction

import (
	"fmt"

	"github.com/veilswap/veilswap/internal/crypto"
	"github.com/veilswap/veilswap/internal/domain"
)

// RevealParams carries the plaintext order a committer discloses during the
// REVEAL phase.
type RevealParams struct {
	TokenIn      string
	TokenOut     string
	AmountIn     uint64
	MinAmountOut uint64
	Secret       string
	PriorityBid  uint64
}

// validateReveal checks a reveal against its commitment: the pair must be the
// market pair, amounts must be sane, and the recomputed commitment hash must
// match what was committed. It returns the parsed secret for seed derivation.
func validateReveal(rec domain.OrderCommitment, p RevealParams, base, quote string) ([]byte, error) {
	validPair := (p.TokenIn == base && p.TokenOut == quote) ||
		(p.TokenIn == quote && p.TokenOut == base)
	if !validPair {
		return nil, fmt.Errorf("auction: pair %s/%s not traded: %w", p.TokenIn, p.TokenOut, domain.ErrInvalidReveal)
	}
	if p.AmountIn == 0 {
		return nil, fmt.Errorf("auction: zero amount in: %w", domain.ErrInvalidReveal)
	}
	secret, err := crypto.ParseSecret(p.Secret)
	if err != nil {
		return nil, fmt.Errorf("auction: parse secret: %w", domain.ErrInvalidReveal)
	}
	hash, err := crypto.CommitHash(crypto.CommitPayload{
		TokenIn:      p.TokenIn,
		TokenOut:     p.TokenOut,
		AmountIn:     p.AmountIn,
		MinAmountOut: p.MinAmountOut,
	}, secret)
	if err != nil {
		return nil, fmt.Errorf("auction: recompute hash: %w", domain.ErrInvalidReveal)
	}
	if hash != rec.CommitHash {
		return nil, fmt.Errorf("auction: commitment hash mismatch: %w", domain.ErrInvalidReveal)
	}
	return secret, nil
}
