package rewards

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/validatorlabs/rewardshare/internal/testutil"
)

type mockSource struct {
	fetchEpochRewardsFunc func(ctx context.Context, identity solana.PublicKey, epoch uint64) (uint64, error)
	kind                  SourceKind
}

func (m *mockSource) FetchEpochRewards(ctx context.Context, identity solana.PublicKey, epoch uint64) (uint64, error) {
	if m.fetchEpochRewardsFunc != nil {
		return m.fetchEpochRewardsFunc(ctx, identity, epoch)
	}
	return 0, nil
}

func (m *mockSource) Kind() SourceKind {
	if m.kind != "" {
		return m.kind
	}
	return SourceDirect
}

func TestRewardshare_Rewards_Calculator_Validate(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, nil)

	t.Run("requires store", func(t *testing.T) {
		t.Parallel()
		_, err := NewCalculator(CalculatorConfig{Logger: testutil.NewLogger(), Source: &mockSource{}})
		require.Error(t, err)
	})

	t.Run("requires source", func(t *testing.T) {
		t.Parallel()
		_, err := NewCalculator(CalculatorConfig{Logger: testutil.NewLogger(), Store: store})
		require.Error(t, err)
	})

	t.Run("requires logger", func(t *testing.T) {
		t.Parallel()
		_, err := NewCalculator(CalculatorConfig{Store: store, Source: &mockSource{}})
		require.Error(t, err)
	})
}

func TestRewardshare_Rewards_Calculator_Calculate(t *testing.T) {
	t.Parallel()

	identity := solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")

	t.Run("persists the fetched total", func(t *testing.T) {
		t.Parallel()
		clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 25, 9, 30, 0, 0, time.UTC))
		store := newTestStore(t, clock)

		source := &mockSource{
			kind: SourceDune,
			fetchEpochRewardsFunc: func(ctx context.Context, id solana.PublicKey, epoch uint64) (uint64, error) {
				require.Equal(t, identity, id)
				require.Equal(t, uint64(810), epoch)
				return 42_000_000, nil
			},
		}
		calc, err := NewCalculator(CalculatorConfig{
			Logger: testutil.NewLogger(),
			Clock:  clock,
			Store:  store,
			Source: source,
		})
		require.NoError(t, err)

		record, err := calc.Calculate(context.Background(), identity, 810)
		require.NoError(t, err)
		require.Equal(t, uint64(42_000_000), record.TotalBlockRewards)
		require.Equal(t, SourceDune, record.Source)
		require.Equal(t, clock.Now().UTC(), record.ComputedAt)

		loaded, err := store.Load(identity, 810)
		require.NoError(t, err)
		require.Equal(t, record, loaded)
	})

	t.Run("zero total is a result", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t, nil)

		calc, err := NewCalculator(CalculatorConfig{
			Logger: testutil.NewLogger(),
			Store:  store,
			Source: &mockSource{},
		})
		require.NoError(t, err)

		record, err := calc.Calculate(context.Background(), identity, 810)
		require.NoError(t, err)
		require.Equal(t, uint64(0), record.TotalBlockRewards)

		_, err = store.Load(identity, 810)
		require.NoError(t, err)
	})

	t.Run("source failure persists nothing", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t, nil)

		sourceErr := errors.New("epoch 900 is not finalized")
		calc, err := NewCalculator(CalculatorConfig{
			Logger: testutil.NewLogger(),
			Store:  store,
			Source: &mockSource{
				fetchEpochRewardsFunc: func(context.Context, solana.PublicKey, uint64) (uint64, error) {
					return 0, sourceErr
				},
			},
		})
		require.NoError(t, err)

		_, err = calc.Calculate(context.Background(), identity, 900)
		require.ErrorIs(t, err, sourceErr)

		_, err = store.Load(identity, 900)
		require.ErrorIs(t, err, ErrRecordNotFound)
	})
}
