package stakepool

import (
	"github.com/gagliardetto/solana-go"
)

// updateStakePoolBalanceIndex is the borsh enum discriminant of the stake
// pool program's UpdateStakePoolBalance instruction.
const updateStakePoolBalanceIndex uint8 = 7

// UpdateStakePoolBalanceKeys carries the accounts of an
// UpdateStakePoolBalance instruction, in instruction order.
type UpdateStakePoolBalanceKeys struct {
	StakePool         solana.PublicKey
	WithdrawAuthority solana.PublicKey
	ValidatorList     solana.PublicKey
	ReserveStake      solana.PublicKey
	ManagerFeeAccount solana.PublicKey
	PoolMint          solana.PublicKey
	TokenProgram      solana.PublicKey
}

// NewUpdateStakePoolBalanceInstruction builds the stake pool program's
// UpdateStakePoolBalance instruction. It recomputes the pool's total lamports
// and token supply, folding a reserve deposit made in the same transaction
// into the pool balance atomically.
func NewUpdateStakePoolBalanceInstruction(programID solana.PublicKey, keys UpdateStakePoolBalanceKeys) solana.Instruction {
	return solana.NewInstruction(
		programID,
		solana.AccountMetaSlice{
			solana.Meta(keys.StakePool).WRITE(),
			solana.Meta(keys.WithdrawAuthority),
			solana.Meta(keys.ValidatorList).WRITE(),
			solana.Meta(keys.ReserveStake),
			solana.Meta(keys.ManagerFeeAccount).WRITE(),
			solana.Meta(keys.PoolMint).WRITE(),
			solana.Meta(keys.TokenProgram),
		},
		[]byte{updateStakePoolBalanceIndex},
	)
}
