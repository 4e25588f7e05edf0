// Package stakepool builds and submits the atomic reward transfer: a system
// transfer into a stake pool's reserve plus the pool program's balance update
// instruction, in one transaction.
package stakepool

import (
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// ErrNotAStakePool is returned when the account at the stake pool address
// does not hold stake pool state.
var ErrNotAStakePool = errors.New("account is not a stake pool")

const (
	accountTypeUninitialized uint8 = iota
	accountTypeStakePool
	accountTypeValidatorList
)

// withdrawAuthoritySeed is the second PDA seed of a pool's withdraw
// authority.
const withdrawAuthoritySeed = "withdraw"

// StakePool is the leading portion of the SPL stake pool account state, up to
// the last field the transfer flow needs. Borsh decoding stops there; the
// trailing fee and preference fields stay unread.
type StakePool struct {
	AccountType           uint8
	Manager               solana.PublicKey
	Staker                solana.PublicKey
	StakeDepositAuthority solana.PublicKey
	StakeWithdrawBumpSeed uint8
	ValidatorList         solana.PublicKey
	ReserveStake          solana.PublicKey
	PoolMint              solana.PublicKey
	ManagerFeeAccount     solana.PublicKey
	TokenProgramID        solana.PublicKey
	TotalLamports         uint64
	PoolTokenSupply       uint64
	LastUpdateEpoch       uint64
}

// DecodeStakePool parses stake pool account data and checks the account type
// tag.
func DecodeStakePool(data []byte) (*StakePool, error) {
	var pool StakePool
	if err := bin.NewBorshDecoder(data).Decode(&pool); err != nil {
		return nil, fmt.Errorf("failed to decode stake pool account: %w", err)
	}
	if pool.AccountType != accountTypeStakePool {
		return nil, fmt.Errorf("account type %d: %w", pool.AccountType, ErrNotAStakePool)
	}
	return &pool, nil
}

// FindWithdrawAuthority derives the pool's withdraw authority PDA under the
// owning stake pool program.
func FindWithdrawAuthority(programID, pool solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress(
		[][]byte{pool.Bytes(), []byte(withdrawAuthoritySeed)},
		programID,
	)
}
