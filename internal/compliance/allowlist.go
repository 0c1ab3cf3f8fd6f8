// Package compliance provides the optional identity gate consulted at
// commit time.
package compliance

import (
	"context"
	"strings"

	"github.com/veilswap/veilswap/internal/domain"
)

// Allowlist is a static address allowlist. Comparison is case-insensitive,
// so checksummed and lowercase hex addresses match.
type Allowlist struct {
	members map[string]bool
}

// NewAllowlist builds an Allowlist from the configured addresses.
func NewAllowlist(addrs []string) *Allowlist {
	members := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		a = strings.ToLower(strings.TrimSpace(a))
		if a != "" {
			members[a] = true
		}
	}
	return &Allowlist{members: members}
}

// IsEligible reports whether the committer is on the allowlist.
func (a *Allowlist) IsEligible(ctx context.Context, committer string) (bool, error) {
	return a.members[strings.ToLower(committer)], nil
}

var _ domain.ComplianceGate = (*Allowlist)(nil)
