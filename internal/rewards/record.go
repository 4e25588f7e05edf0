// Package rewards holds the reward record model, the local record store, the
// split policy, and the calculator that ties a reward source to the store.
package rewards

import (
	"time"
)

// SourceKind identifies which backend produced a reward record.
type SourceKind string

const (
	// SourceDirect means the total was computed by walking the ledger over RPC.
	SourceDirect SourceKind = "direct"
	// SourceDune means the total came from a Dune Analytics query.
	SourceDune SourceKind = "dune"
)

// Record is the persisted result of one reward calculation for a
// (validator identity, epoch) pair. Transfer fields are set once the
// corresponding stake pool transfer has been confirmed on chain.
type Record struct {
	ValidatorIdentity string     `json:"validator_identity"`
	Epoch             uint64     `json:"epoch"`
	TotalBlockRewards uint64     `json:"total_block_rewards"`
	Source            SourceKind `json:"source"`
	ComputedAt        time.Time  `json:"computed_at"`

	TransferredAt     *time.Time `json:"transferred_at,omitempty"`
	TransferSignature string     `json:"transfer_signature,omitempty"`
	TransferredAmount uint64     `json:"transferred_amount,omitempty"`
}

// Transferred reports whether the record's rewards have already been moved to
// a stake pool.
func (r *Record) Transferred() bool {
	return r.TransferredAt != nil
}
