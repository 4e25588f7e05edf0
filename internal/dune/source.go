package dune

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"

	"github.com/validatorlabs/rewardshare/internal/rewards"
)

var (
	// ErrQueryTimeout is returned when an execution does not complete within
	// the configured deadline.
	ErrQueryTimeout = errors.New("query execution timed out")

	// ErrQueryFailed is returned when the Dune API reports the execution
	// failed, was cancelled, or expired.
	ErrQueryFailed = errors.New("query execution failed")

	// ErrAmbiguousResult is returned when the query yields zero or more than
	// one row for the requested epoch. The hosted index lags the ledger, so
	// a missing row usually means the epoch is not indexed yet.
	ErrAmbiguousResult = errors.New("query did not yield exactly one row for epoch")
)

const (
	// DefaultQueryID is the hosted query computing per-epoch block rewards
	// by validator identity.
	DefaultQueryID int64 = 4745888

	DefaultTimeout      = 5 * time.Minute
	DefaultPollInterval = 5 * time.Second
)

type SourceConfig struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Client *Client

	// QueryID selects the hosted query to execute.
	QueryID int64
	// Timeout bounds the whole execute-poll-fetch cycle.
	Timeout time.Duration
	// PollInterval is the delay between execution status checks.
	PollInterval time.Duration
}

func (cfg *SourceConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("client is required")
	}
	if cfg.QueryID == 0 {
		cfg.QueryID = DefaultQueryID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Source fetches a validator's epoch block rewards from a hosted Dune query.
type Source struct {
	log *slog.Logger
	cfg SourceConfig
}

func NewSource(cfg SourceConfig) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Source{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Kind identifies this source in persisted records.
func (s *Source) Kind() rewards.SourceKind {
	return rewards.SourceDune
}

// FetchEpochRewards executes the hosted query for the identity and epoch,
// polls until it completes, and returns the single matching row's total.
// Zero or multiple matching rows fail with ErrAmbiguousResult.
func (s *Source) FetchEpochRewards(ctx context.Context, identity solana.PublicKey, epoch uint64) (uint64, error) {
	executionID, err := s.cfg.Client.ExecuteQuery(ctx, s.cfg.QueryID, map[string]any{
		"epoch":           epoch,
		"identity_pubkey": identity.String(),
	})
	if err != nil {
		return 0, err
	}
	s.log.Info("dune: awaiting query execution",
		"executionID", executionID,
		"epoch", epoch,
		"identity", identity.String(),
		"timeout", s.cfg.Timeout.String(),
	)

	if err := s.awaitCompletion(ctx, executionID); err != nil {
		return 0, err
	}

	results, err := s.cfg.Client.GetExecutionResults(ctx, executionID)
	if err != nil {
		return 0, err
	}
	return s.totalForEpoch(results, epoch)
}

// awaitCompletion polls the execution state until it completes, fails, or
// the deadline passes. The waits run on the configured clock.
func (s *Source) awaitCompletion(ctx context.Context, executionID string) error {
	timer := s.cfg.Clock.NewTimer(s.cfg.Timeout)
	defer timer.Stop()
	ticker := s.cfg.Clock.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.Chan():
			return fmt.Errorf("execution %s did not complete within %s: %w", executionID, s.cfg.Timeout, ErrQueryTimeout)
		case <-ticker.Chan():
			status, err := s.cfg.Client.GetExecutionStatus(ctx, executionID)
			if err != nil {
				return err
			}
			switch status.State {
			case StateCompleted:
				return nil
			case StateFailed, StateCancelled, StateExpired:
				return fmt.Errorf("execution %s state %s: %w", executionID, status.State, ErrQueryFailed)
			default:
				s.log.Debug("dune: execution still running",
					"executionID", executionID,
					"state", status.State,
				)
			}
		}
	}
}

// totalForEpoch extracts the reward total for the requested epoch from the
// result rows. Exactly one row must match: an absent row means the epoch is
// not indexed yet, not that the validator earned nothing.
func (s *Source) totalForEpoch(results *ExecutionResults, epoch uint64) (uint64, error) {
	var (
		total   uint64
		matches int
	)
	for _, row := range results.Result.Rows {
		if row.Epoch != epoch {
			continue
		}
		matches++
		total = row.TotalBlockRewards
	}
	switch matches {
	case 0:
		return 0, fmt.Errorf("execution returned no rows for epoch %d: %w", epoch, ErrAmbiguousResult)
	case 1:
		return total, nil
	default:
		return 0, fmt.Errorf("execution returned %d rows for epoch %d: %w", matches, epoch, ErrAmbiguousResult)
	}
}
