// Package sol implements the direct reward source: it computes a validator's
// block rewards for an epoch by walking the validator's leader slots on the
// ledger over JSON-RPC.
package sol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/validatorlabs/rewardshare/internal/retry"
	"github.com/validatorlabs/rewardshare/internal/rewards"
)

// ErrEpochNotFinalized is returned when the requested epoch has not completed
// yet. Block rewards are only summed over finalized epochs.
var ErrEpochNotFinalized = errors.New("epoch is not finalized")

const (
	// DefaultMaxConcurrency is the parallel block fetch bound applied when
	// the config leaves MaxConcurrency unset.
	DefaultMaxConcurrency = 8

	// DefaultRequestsPerSecond is the RPC rate cap applied when the config
	// leaves RequestsPerSecond unset.
	DefaultRequestsPerSecond = 10
)

// RPC wraps the Solana JSON-RPC methods used by the direct reward source.
type RPC interface {
	GetEpochInfo(ctx context.Context, commitment solanarpc.CommitmentType) (*solanarpc.GetEpochInfoResult, error)
	GetEpochSchedule(ctx context.Context) (*solanarpc.GetEpochScheduleResult, error)
	GetLeaderScheduleWithOpts(ctx context.Context, opts *solanarpc.GetLeaderScheduleOpts) (solanarpc.GetLeaderScheduleResult, error)
	GetBlockWithOpts(ctx context.Context, slot uint64, opts *solanarpc.GetBlockOpts) (*solanarpc.GetBlockResult, error)
}

type SourceConfig struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	RPC    RPC

	// MaxConcurrency bounds parallel block fetches during the scan.
	MaxConcurrency int
	// RequestsPerSecond caps the block fetch rate against the RPC node.
	RequestsPerSecond float64
	// Retry applies to each individual RPC call.
	Retry retry.Config
}

func (cfg *SourceConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPC == nil {
		return errors.New("rpc client is required")
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Source sums a validator's per-block rewards over its leader slots.
type Source struct {
	log     *slog.Logger
	cfg     SourceConfig
	limiter *rate.Limiter
}

func NewSource(cfg SourceConfig) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Source{
		log:     cfg.Logger,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.MaxConcurrency),
	}, nil
}

// Kind identifies this source in persisted records.
func (s *Source) Kind() rewards.SourceKind {
	return rewards.SourceDirect
}

// FetchEpochRewards sums the block rewards credited to the identity across
// all of its leader slots in the epoch. The epoch must be finalized. An
// identity with no leader slots yields zero, which is a result, not an error.
func (s *Source) FetchEpochRewards(ctx context.Context, identity solana.PublicKey, epoch uint64) (uint64, error) {
	epochInfo, err := s.getEpochInfo(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch epoch info: %w", err)
	}
	if epoch >= epochInfo.Epoch {
		return 0, fmt.Errorf("epoch %d has not completed (current epoch %d): %w", epoch, epochInfo.Epoch, ErrEpochNotFinalized)
	}

	schedule, err := s.getEpochSchedule(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch epoch schedule: %w", err)
	}
	firstSlot := FirstSlotOfEpoch(schedule, epoch)

	slots, err := s.leaderSlots(ctx, identity, firstSlot)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch leader schedule: %w", err)
	}
	if len(slots) == 0 {
		s.log.Info("sol: identity has no leader slots in epoch",
			"identity", identity.String(),
			"epoch", epoch,
		)
		return 0, nil
	}
	s.log.Debug("sol: scanning leader slots",
		"identity", identity.String(),
		"epoch", epoch,
		"slots", len(slots),
		"firstSlot", firstSlot,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrency)

	var (
		mu      sync.Mutex
		total   uint64
		skipped int
	)
	for _, slot := range slots {
		slot := slot
		g.Go(func() error {
			if err := s.limiter.Wait(gctx); err != nil {
				return err
			}
			amount, produced, err := s.blockRewards(gctx, identity, slot)
			if err != nil {
				return err
			}
			mu.Lock()
			if produced {
				total += amount
			} else {
				skipped++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("failed to scan leader blocks: %w", err)
	}

	s.log.Info("sol: summed epoch block rewards",
		"identity", identity.String(),
		"epoch", epoch,
		"totalBlockRewards", total,
		"leaderSlots", len(slots),
		"skippedSlots", skipped,
	)
	return total, nil
}

func (s *Source) getEpochInfo(ctx context.Context) (*solanarpc.GetEpochInfoResult, error) {
	var out *solanarpc.GetEpochInfoResult
	err := retry.Do(ctx, s.cfg.Retry, func() error {
		var err error
		out, err = s.cfg.RPC.GetEpochInfo(ctx, solanarpc.CommitmentFinalized)
		return err
	})
	return out, err
}

func (s *Source) getEpochSchedule(ctx context.Context) (*solanarpc.GetEpochScheduleResult, error) {
	var out *solanarpc.GetEpochScheduleResult
	err := retry.Do(ctx, s.cfg.Retry, func() error {
		var err error
		out, err = s.cfg.RPC.GetEpochSchedule(ctx)
		return err
	})
	return out, err
}

// leaderSlots returns the identity's absolute leader slots for the epoch that
// contains firstSlot. The RPC returns slot indexes relative to the epoch's
// first slot.
func (s *Source) leaderSlots(ctx context.Context, identity solana.PublicKey, firstSlot uint64) ([]uint64, error) {
	var schedule solanarpc.GetLeaderScheduleResult
	err := retry.Do(ctx, s.cfg.Retry, func() error {
		var err error
		// The opts epoch field takes a slot; the RPC resolves it to the
		// epoch containing it.
		schedule, err = s.cfg.RPC.GetLeaderScheduleWithOpts(ctx, &solanarpc.GetLeaderScheduleOpts{
			Epoch:    &firstSlot,
			Identity: &identity,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	relative := schedule[identity]
	slots := make([]uint64, 0, len(relative))
	for _, rel := range relative {
		slots = append(slots, firstSlot+rel)
	}
	return slots, nil
}

// blockRewards fetches one leader block and sums the reward entries credited
// to the identity. produced is false when the slot was skipped or the block
// is no longer available.
func (s *Source) blockRewards(ctx context.Context, identity solana.PublicKey, slot uint64) (amount uint64, produced bool, err error) {
	includeRewards := true
	maxTxVersion := uint64(0)

	var out *solanarpc.GetBlockResult
	err = retry.Do(ctx, s.cfg.Retry, func() error {
		var err error
		out, err = s.cfg.RPC.GetBlockWithOpts(ctx, slot, &solanarpc.GetBlockOpts{
			TransactionDetails:             solanarpc.TransactionDetailsNone,
			Rewards:                        &includeRewards,
			Commitment:                     solanarpc.CommitmentFinalized,
			MaxSupportedTransactionVersion: &maxTxVersion,
		})
		if err != nil && isSkippedSlot(err) {
			out = nil
			return nil
		}
		return err
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to fetch block %d: %w", slot, err)
	}
	if out == nil {
		s.log.Debug("sol: leader slot skipped", "slot", slot)
		return 0, false, nil
	}

	for _, reward := range out.Rewards {
		if !reward.Pubkey.Equals(identity) || reward.Lamports <= 0 {
			continue
		}
		amount += uint64(reward.Lamports)
	}
	return amount, true, nil
}

// isSkippedSlot reports whether an RPC error means the slot has no block:
// the leader skipped it, or the node pruned it.
func isSkippedSlot(err error) bool {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case -32004, -32007, -32009:
			return true
		}
	}
	return false
}
