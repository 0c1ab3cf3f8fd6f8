package auction

import (
	"encoding/binary"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/veilswap/veilswap/internal/domain"
)

// seededRNG draws uniform integers from keccak256(seed || counter) in counter
// mode. Anyone holding the revealed secrets can replay the exact stream, so
// the settlement order is publicly verifiable.
type seededRNG struct {
	seed    [32]byte
	counter uint64
	buf     []uint64
}

func newSeededRNG(seed [32]byte) *seededRNG {
	return &seededRNG{seed: seed}
}

func (r *seededRNG) next() uint64 {
	if len(r.buf) == 0 {
		block := make([]byte, 40)
		copy(block, r.seed[:])
		binary.BigEndian.PutUint64(block[32:], r.counter)
		r.counter++
		digest := ethcrypto.Keccak256(block)
		r.buf = make([]uint64, 4)
		for i := range r.buf {
			r.buf[i] = binary.BigEndian.Uint64(digest[i*8:])
		}
	}
	v := r.buf[0]
	r.buf = r.buf[1:]
	return v
}

// intn returns a uniform value in [0, n) using rejection sampling so the
// modulo bias of a raw draw never skews the shuffle.
func (r *seededRNG) intn(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	limit := (^uint64(0) / n) * n
	for {
		v := r.next()
		if v < limit {
			return v % n
		}
	}
}

// shuffleOrders produces the execution sequence for a batch. Orders are
// grouped into tiers by priority bid, highest bid first; within each tier a
// Fisher-Yates pass driven by the batch seed permutes the orders. A bid buys
// an earlier tier, never a predictable slot: with equal bids the whole batch
// is one tier and every permutation is equally likely. The clearing price is
// computed before any of this, so position never changes what anyone pays.
func shuffleOrders(seed [32]byte, orders []domain.RevealedOrder) []domain.RevealedOrder {
	out := make([]domain.RevealedOrder, len(orders))
	copy(out, orders)
	sort.Slice(out, func(i, j int) bool {
		if out[i].PriorityBid != out[j].PriorityBid {
			return out[i].PriorityBid > out[j].PriorityBid
		}
		return out[i].CommitID < out[j].CommitID
	})
	rng := newSeededRNG(seed)
	for lo := 0; lo < len(out); {
		hi := lo + 1
		for hi < len(out) && out[hi].PriorityBid == out[lo].PriorityBid {
			hi++
		}
		tier := out[lo:hi]
		for i := len(tier) - 1; i > 0; i-- {
			j := rng.intn(uint64(i + 1))
			tier[i], tier[j] = tier[j], tier[i]
		}
		lo = hi
	}
	return out
}
