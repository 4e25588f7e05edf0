package rewards

import (
	"os"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/validatorlabs/rewardshare/internal/testutil"
)

func newTestStore(t *testing.T, clock clockwork.Clock) *Store {
	t.Helper()
	store, err := NewStore(StoreConfig{
		Logger: testutil.NewLogger(),
		Clock:  clock,
		Dir:    t.TempDir(),
	})
	require.NoError(t, err)
	return store
}

func TestRewardshare_Rewards_Store_Validate(t *testing.T) {
	t.Parallel()

	t.Run("requires logger", func(t *testing.T) {
		t.Parallel()
		_, err := NewStore(StoreConfig{Dir: t.TempDir()})
		require.Error(t, err)
	})

	t.Run("requires dir", func(t *testing.T) {
		t.Parallel()
		_, err := NewStore(StoreConfig{Logger: testutil.NewLogger()})
		require.Error(t, err)
	})

	t.Run("defaults clock", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t, nil)
		require.NotNil(t, store.cfg.Clock)
	})
}

func TestRewardshare_Rewards_Store_SaveLoad(t *testing.T) {
	t.Parallel()

	identity := solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t, nil)

		record := &Record{
			ValidatorIdentity: identity.String(),
			Epoch:             810,
			TotalBlockRewards: 123_456_789,
			Source:            SourceDirect,
			ComputedAt:        time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC),
		}
		require.NoError(t, store.Save(record))

		loaded, err := store.Load(identity, 810)
		require.NoError(t, err)
		require.Equal(t, record, loaded)
	})

	t.Run("missing record", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t, nil)

		_, err := store.Load(identity, 9999)
		require.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("recalculation overwrites", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t, nil)

		first := &Record{ValidatorIdentity: identity.String(), Epoch: 810, TotalBlockRewards: 100, Source: SourceDirect, ComputedAt: time.Now().UTC()}
		require.NoError(t, store.Save(first))

		second := &Record{ValidatorIdentity: identity.String(), Epoch: 810, TotalBlockRewards: 200, Source: SourceDune, ComputedAt: time.Now().UTC()}
		require.NoError(t, store.Save(second))

		loaded, err := store.Load(identity, 810)
		require.NoError(t, err)
		require.Equal(t, uint64(200), loaded.TotalBlockRewards)
		require.Equal(t, SourceDune, loaded.Source)
	})

	t.Run("copied file does not serve another epoch", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t, nil)

		record := &Record{ValidatorIdentity: identity.String(), Epoch: 810, TotalBlockRewards: 100, Source: SourceDirect, ComputedAt: time.Now().UTC()}
		require.NoError(t, store.Save(record))

		data, err := os.ReadFile(store.Path(identity, 810))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(store.Path(identity, 811), data, 0o600))

		_, err = store.Load(identity, 811)
		require.ErrorIs(t, err, ErrRecordMismatch)
	})

	t.Run("corrupt file", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t, nil)

		require.NoError(t, os.MkdirAll(store.cfg.Dir, 0o700))
		require.NoError(t, os.WriteFile(store.Path(identity, 810), []byte("{not json"), 0o600))

		_, err := store.Load(identity, 810)
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("rejects record with bad identity", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t, nil)

		err := store.Save(&Record{ValidatorIdentity: "not-a-pubkey", Epoch: 810})
		require.Error(t, err)
	})
}

func TestRewardshare_Rewards_Store_MarkTransferred(t *testing.T) {
	t.Parallel()

	identity := solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")

	t.Run("stamps and persists transfer fields", func(t *testing.T) {
		t.Parallel()
		clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))
		store := newTestStore(t, clock)

		record := &Record{ValidatorIdentity: identity.String(), Epoch: 810, TotalBlockRewards: 1_000_000, Source: SourceDirect, ComputedAt: clock.Now().UTC()}
		require.NoError(t, store.Save(record))

		sig := solana.Signature{}
		updated, err := store.MarkTransferred(identity, 810, sig, 100_000)
		require.NoError(t, err)
		require.True(t, updated.Transferred())
		require.Equal(t, clock.Now().UTC(), *updated.TransferredAt)
		require.Equal(t, uint64(100_000), updated.TransferredAmount)
		require.Equal(t, sig.String(), updated.TransferSignature)

		loaded, err := store.Load(identity, 810)
		require.NoError(t, err)
		require.True(t, loaded.Transferred())
		require.Equal(t, uint64(100_000), loaded.TransferredAmount)
	})

	t.Run("fails when record is missing", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t, nil)

		_, err := store.MarkTransferred(identity, 810, solana.Signature{}, 1)
		require.ErrorIs(t, err, ErrRecordNotFound)
	})
}
