package rewards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
)

// Source produces the total block rewards for a validator identity over one
// finalized epoch. Implementations exist for the ledger (direct RPC walk) and
// for Dune Analytics.
type Source interface {
	// FetchEpochRewards returns the validator's total block rewards in
	// lamports for the given epoch.
	FetchEpochRewards(ctx context.Context, identity solana.PublicKey, epoch uint64) (uint64, error)

	// Kind identifies the source in persisted records.
	Kind() SourceKind
}

type CalculatorConfig struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Store  *Store
	Source Source
}

func (cfg *CalculatorConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Source == nil {
		return errors.New("source is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Calculator fetches a validator's epoch rewards from its source and persists
// the result as a reward record.
type Calculator struct {
	log *slog.Logger
	cfg CalculatorConfig
}

func NewCalculator(cfg CalculatorConfig) (*Calculator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Calculator{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Calculate computes and persists the reward record for an identity and
// epoch. A validator that produced no blocks yields a record with a zero
// total; that is a result, not an error.
func (c *Calculator) Calculate(ctx context.Context, identity solana.PublicKey, epoch uint64) (*Record, error) {
	c.log.Debug("rewards: calculating epoch rewards",
		"identity", identity.String(),
		"epoch", epoch,
		"source", string(c.cfg.Source.Kind()),
	)

	total, err := c.cfg.Source.FetchEpochRewards(ctx, identity, epoch)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch epoch rewards: %w", err)
	}

	record := &Record{
		ValidatorIdentity: identity.String(),
		Epoch:             epoch,
		TotalBlockRewards: total,
		Source:            c.cfg.Source.Kind(),
		ComputedAt:        c.cfg.Clock.Now().UTC(),
	}
	if err := c.cfg.Store.Save(record); err != nil {
		return nil, fmt.Errorf("failed to persist reward record: %w", err)
	}

	c.log.Info("rewards: calculated epoch rewards",
		"identity", identity.String(),
		"epoch", epoch,
		"totalBlockRewards", total,
		"source", string(c.cfg.Source.Kind()),
	)
	return record, nil
}
