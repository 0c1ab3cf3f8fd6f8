package domain

import "time"

// CommitStatus tracks the commitment lifecycle. Transitions are strictly
// forward: committed -> revealed -> settled, or committed -> slashed/expired.
type CommitStatus string

const (
	CommitStatusCommitted CommitStatus = "committed"
	CommitStatusRevealed  CommitStatus = "revealed"
	CommitStatusSettled   CommitStatus = "settled"
	CommitStatusSlashed   CommitStatus = "slashed"
	CommitStatusExpired   CommitStatus = "expired"
)

// OrderCommitment is the ledger record for one hidden order. It carries no
// knowledge of the order contents — only the hash, the escrowed collateral,
// and the lifecycle status. Records are never destroyed; they remain as an
// immutable audit trail after the batch settles.
type OrderCommitment struct {
	CommitID   uint64
	Committer  string // hex address
	CommitHash string // 0x-prefixed keccak256 hex
	Collateral uint64
	BatchID    uint64
	Status     CommitStatus
	CreatedAt  time.Time
	RevealedAt *time.Time
	ResolvedAt *time.Time // set when status reaches settled/slashed/expired
}

// RevealedOrder is the disclosed content of a commitment. Created once at
// reveal time, immutable thereafter, and discarded after its batch settles.
// PriorityBid biases intra-batch placement only; it never affects the
// clearing price.
type RevealedOrder struct {
	CommitID     uint64
	Committer    string
	TokenIn      string
	TokenOut     string
	AmountIn     uint64
	MinAmountOut uint64
	Secret       string // 0x-prefixed 32-byte hex
	PriorityBid  uint64
}
