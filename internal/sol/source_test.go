package sol

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/require"

	"github.com/validatorlabs/rewardshare/internal/retry"
	"github.com/validatorlabs/rewardshare/internal/rewards"
	"github.com/validatorlabs/rewardshare/internal/testutil"
)

type mockSolanaRPC struct {
	getEpochInfoFunc      func(context.Context, solanarpc.CommitmentType) (*solanarpc.GetEpochInfoResult, error)
	getEpochScheduleFunc  func(context.Context) (*solanarpc.GetEpochScheduleResult, error)
	getLeaderScheduleFunc func(context.Context, *solanarpc.GetLeaderScheduleOpts) (solanarpc.GetLeaderScheduleResult, error)
	getBlockFunc          func(context.Context, uint64, *solanarpc.GetBlockOpts) (*solanarpc.GetBlockResult, error)
}

func (m *mockSolanaRPC) GetEpochInfo(ctx context.Context, commitment solanarpc.CommitmentType) (*solanarpc.GetEpochInfoResult, error) {
	if m.getEpochInfoFunc != nil {
		return m.getEpochInfoFunc(ctx, commitment)
	}
	return &solanarpc.GetEpochInfoResult{Epoch: 900}, nil
}

func (m *mockSolanaRPC) GetEpochSchedule(ctx context.Context) (*solanarpc.GetEpochScheduleResult, error) {
	if m.getEpochScheduleFunc != nil {
		return m.getEpochScheduleFunc(ctx)
	}
	return &solanarpc.GetEpochScheduleResult{
		FirstNormalEpoch: 0,
		FirstNormalSlot:  0,
		SlotsPerEpoch:    100,
	}, nil
}

func (m *mockSolanaRPC) GetLeaderScheduleWithOpts(ctx context.Context, opts *solanarpc.GetLeaderScheduleOpts) (solanarpc.GetLeaderScheduleResult, error) {
	if m.getLeaderScheduleFunc != nil {
		return m.getLeaderScheduleFunc(ctx, opts)
	}
	return solanarpc.GetLeaderScheduleResult{}, nil
}

func (m *mockSolanaRPC) GetBlockWithOpts(ctx context.Context, slot uint64, opts *solanarpc.GetBlockOpts) (*solanarpc.GetBlockResult, error) {
	if m.getBlockFunc != nil {
		return m.getBlockFunc(ctx, slot, opts)
	}
	return &solanarpc.GetBlockResult{}, nil
}

func newTestSource(t *testing.T, rpc RPC) *Source {
	t.Helper()
	source, err := NewSource(SourceConfig{
		Logger:            testutil.NewLogger(),
		RPC:               rpc,
		MaxConcurrency:    4,
		RequestsPerSecond: 100_000,
		Retry:             retry.Config{MaxAttempts: 1},
	})
	require.NoError(t, err)
	return source
}

func TestRewardshare_Sol_Source_Validate(t *testing.T) {
	t.Parallel()

	t.Run("requires rpc", func(t *testing.T) {
		t.Parallel()
		_, err := NewSource(SourceConfig{Logger: testutil.NewLogger()})
		require.Error(t, err)
	})

	t.Run("requires logger", func(t *testing.T) {
		t.Parallel()
		_, err := NewSource(SourceConfig{RPC: &mockSolanaRPC{}})
		require.Error(t, err)
	})

	t.Run("applies defaults", func(t *testing.T) {
		t.Parallel()
		source, err := NewSource(SourceConfig{Logger: testutil.NewLogger(), RPC: &mockSolanaRPC{}})
		require.NoError(t, err)
		require.Equal(t, DefaultMaxConcurrency, source.cfg.MaxConcurrency)
		require.Equal(t, float64(DefaultRequestsPerSecond), source.cfg.RequestsPerSecond)
		require.Equal(t, retry.DefaultConfig().MaxAttempts, source.cfg.Retry.MaxAttempts)
		require.NotNil(t, source.cfg.Clock)
		require.Equal(t, rewards.SourceDirect, source.Kind())
	})
}

func TestRewardshare_Sol_Source_FetchEpochRewards(t *testing.T) {
	t.Parallel()

	identity := solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	other := solana.MustPublicKeyFromBase58("SysvarRent111111111111111111111111111111111")

	t.Run("rejects epochs that have not completed", func(t *testing.T) {
		t.Parallel()
		source := newTestSource(t, &mockSolanaRPC{
			getEpochInfoFunc: func(context.Context, solanarpc.CommitmentType) (*solanarpc.GetEpochInfoResult, error) {
				return &solanarpc.GetEpochInfoResult{Epoch: 810}, nil
			},
		})

		for _, epoch := range []uint64{810, 811, 9000} {
			_, err := source.FetchEpochRewards(context.Background(), identity, epoch)
			require.ErrorIs(t, err, ErrEpochNotFinalized)
		}
	})

	t.Run("no leader slots means zero rewards and no block fetches", func(t *testing.T) {
		t.Parallel()
		blockCalls := 0
		source := newTestSource(t, &mockSolanaRPC{
			getLeaderScheduleFunc: func(context.Context, *solanarpc.GetLeaderScheduleOpts) (solanarpc.GetLeaderScheduleResult, error) {
				return solanarpc.GetLeaderScheduleResult{}, nil
			},
			getBlockFunc: func(context.Context, uint64, *solanarpc.GetBlockOpts) (*solanarpc.GetBlockResult, error) {
				blockCalls++
				return &solanarpc.GetBlockResult{}, nil
			},
		})

		total, err := source.FetchEpochRewards(context.Background(), identity, 8)
		require.NoError(t, err)
		require.Equal(t, uint64(0), total)
		require.Equal(t, 0, blockCalls)
	})

	t.Run("sums identity rewards across leader slots", func(t *testing.T) {
		t.Parallel()

		var (
			mu           sync.Mutex
			fetchedSlots = map[uint64]bool{}
			leaderOpts   *solanarpc.GetLeaderScheduleOpts
		)
		rpc := &mockSolanaRPC{
			getLeaderScheduleFunc: func(_ context.Context, opts *solanarpc.GetLeaderScheduleOpts) (solanarpc.GetLeaderScheduleResult, error) {
				leaderOpts = opts
				// Relative to the epoch's first slot (epoch 8 * 100 slots = 800).
				return solanarpc.GetLeaderScheduleResult{identity: {3, 10, 42}}, nil
			},
			getBlockFunc: func(_ context.Context, slot uint64, opts *solanarpc.GetBlockOpts) (*solanarpc.GetBlockResult, error) {
				mu.Lock()
				fetchedSlots[slot] = true
				mu.Unlock()

				// Runs on scan goroutines, so report rather than assert.
				if opts.Rewards == nil || !*opts.Rewards {
					return nil, errors.New("expected rewards to be requested")
				}
				if opts.TransactionDetails != solanarpc.TransactionDetailsNone {
					return nil, errors.New("expected transaction details to be omitted")
				}

				switch slot {
				case 803:
					return &solanarpc.GetBlockResult{Rewards: []solanarpc.BlockReward{
						{Pubkey: identity, Lamports: 1_000},
						{Pubkey: other, Lamports: 999},
					}}, nil
				case 810:
					return nil, &jsonrpc.RPCError{Code: -32007, Message: "Slot 810 was skipped"}
				case 842:
					return &solanarpc.GetBlockResult{Rewards: []solanarpc.BlockReward{
						{Pubkey: identity, Lamports: 2_345},
						{Pubkey: identity, Lamports: -50},
					}}, nil
				default:
					return nil, errors.New("unexpected slot")
				}
			},
		}
		source := newTestSource(t, rpc)

		total, err := source.FetchEpochRewards(context.Background(), identity, 8)
		require.NoError(t, err)
		require.Equal(t, uint64(3_345), total)

		require.NotNil(t, leaderOpts)
		require.NotNil(t, leaderOpts.Epoch)
		require.Equal(t, uint64(800), *leaderOpts.Epoch)
		require.NotNil(t, leaderOpts.Identity)
		require.Equal(t, identity, *leaderOpts.Identity)

		require.Equal(t, map[uint64]bool{803: true, 810: true, 842: true}, fetchedSlots)
	})

	t.Run("block fetch failures abort the scan", func(t *testing.T) {
		t.Parallel()
		source := newTestSource(t, &mockSolanaRPC{
			getLeaderScheduleFunc: func(context.Context, *solanarpc.GetLeaderScheduleOpts) (solanarpc.GetLeaderScheduleResult, error) {
				return solanarpc.GetLeaderScheduleResult{identity: {0, 1, 2}}, nil
			},
			getBlockFunc: func(_ context.Context, slot uint64, _ *solanarpc.GetBlockOpts) (*solanarpc.GetBlockResult, error) {
				return nil, errors.New("block store corrupted")
			},
		})

		_, err := source.FetchEpochRewards(context.Background(), identity, 8)
		require.Error(t, err)
		require.Contains(t, err.Error(), "failed to scan leader blocks")
	})

	t.Run("bounds block fetch concurrency", func(t *testing.T) {
		t.Parallel()

		slots := make([]uint64, 40)
		for i := range slots {
			slots[i] = uint64(i)
		}

		var (
			mu          sync.Mutex
			inFlight    int
			maxInFlight int
		)
		rpc := &mockSolanaRPC{
			getLeaderScheduleFunc: func(context.Context, *solanarpc.GetLeaderScheduleOpts) (solanarpc.GetLeaderScheduleResult, error) {
				return solanarpc.GetLeaderScheduleResult{identity: slots}, nil
			},
			getBlockFunc: func(context.Context, uint64, *solanarpc.GetBlockOpts) (*solanarpc.GetBlockResult, error) {
				mu.Lock()
				inFlight++
				if inFlight > maxInFlight {
					maxInFlight = inFlight
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inFlight--
				mu.Unlock()
				return &solanarpc.GetBlockResult{}, nil
			},
		}

		source, err := NewSource(SourceConfig{
			Logger:            testutil.NewLogger(),
			RPC:               rpc,
			MaxConcurrency:    2,
			RequestsPerSecond: 100_000,
			Retry:             retry.Config{MaxAttempts: 1},
		})
		require.NoError(t, err)

		_, err = source.FetchEpochRewards(context.Background(), identity, 8)
		require.NoError(t, err)
		require.LessOrEqual(t, maxInFlight, 2)
		require.Greater(t, maxInFlight, 0)
	})

	t.Run("epoch info failure surfaces", func(t *testing.T) {
		t.Parallel()
		source := newTestSource(t, &mockSolanaRPC{
			getEpochInfoFunc: func(context.Context, solanarpc.CommitmentType) (*solanarpc.GetEpochInfoResult, error) {
				return nil, errors.New("unreachable")
			},
		})

		_, err := source.FetchEpochRewards(context.Background(), identity, 8)
		require.Error(t, err)
		require.Contains(t, err.Error(), "failed to fetch epoch info")
	})
}
