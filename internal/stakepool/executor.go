package stakepool

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/bits"
	"time"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/system"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/jonboulle/clockwork"

	"github.com/validatorlabs/rewardshare/internal/retry"
	"github.com/validatorlabs/rewardshare/internal/rewards"
)

var (
	// ErrAlreadyTransferred is returned when the reward record already
	// carries a transfer signature and the request did not force a re-run.
	ErrAlreadyTransferred = errors.New("rewards already transferred for epoch")

	// ErrConfirmationTimeout is returned when a submitted transaction does
	// not reach confirmed commitment within the configured window.
	ErrConfirmationTimeout = errors.New("transaction confirmation timed out")

	// ErrTransactionFailed is returned when the cluster reports an on-chain
	// error for the submitted transaction.
	ErrTransactionFailed = errors.New("transaction failed on chain")
)

const (
	// DefaultConfirmTimeout bounds signature status polling after a send.
	DefaultConfirmTimeout = 60 * time.Second

	// DefaultConfirmPollInterval is the delay between signature status
	// checks.
	DefaultConfirmPollInterval = 2 * time.Second

	// computeUnitBufferRatio pads simulated compute usage before it becomes
	// the transaction's unit limit.
	computeUnitBufferRatio = 1.1

	// computeBudgetIxCost covers the units consumed by the compute budget
	// instructions themselves, which the simulation does not include.
	computeBudgetIxCost = 300

	microLamportsPerLamport = 1_000_000
)

// SendMode selects what Execute does with the built transaction.
type SendMode string

const (
	// SendModeSend signs, submits, and confirms the transaction.
	SendModeSend SendMode = "send"

	// SendModeSimulate runs the transaction against the cluster without
	// submitting it.
	SendModeSimulate SendMode = "simulate"

	// SendModeDump prints the unsigned transaction message as base64 for
	// offline signing or inspection.
	SendModeDump SendMode = "dump"
)

// ParseSendMode converts a flag value into a SendMode.
func ParseSendMode(s string) (SendMode, error) {
	switch SendMode(s) {
	case SendModeSend, SendModeSimulate, SendModeDump:
		return SendMode(s), nil
	}
	return "", fmt.Errorf("unknown send mode %q (expected send, simulate, or dump)", s)
}

// RPC is the subset of the Solana RPC client the executor depends on.
type RPC interface {
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*solanarpc.GetAccountInfoResult, error)
	GetBalance(ctx context.Context, account solana.PublicKey, commitment solanarpc.CommitmentType) (*solanarpc.GetBalanceResult, error)
	GetLatestBlockhash(ctx context.Context, commitment solanarpc.CommitmentType) (*solanarpc.GetLatestBlockhashResult, error)
	SimulateTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts *solanarpc.SimulateTransactionOpts) (*solanarpc.SimulateTransactionResponse, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts solanarpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*solanarpc.GetSignatureStatusesResult, error)
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	RPC    RPC
	Store  *rewards.Store
	Retry  retry.Config

	ConfirmTimeout      time.Duration
	ConfirmPollInterval time.Duration
}

// Validate checks the configuration and applies defaults.
func (c *ExecutorConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.RPC == nil {
		return errors.New("rpc client is required")
	}
	if c.Store == nil {
		return errors.New("store is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.ConfirmTimeout == 0 {
		c.ConfirmTimeout = DefaultConfirmTimeout
	}
	if c.ConfirmPollInterval == 0 {
		c.ConfirmPollInterval = DefaultConfirmPollInterval
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = retry.DefaultConfig()
	}
	return nil
}

// TransferRequest describes one reward transfer.
type TransferRequest struct {
	// Payer signs the transaction and funds the transfer.
	Payer solana.PrivateKey

	// Identity selects the reward record. Zero means the payer's public
	// key.
	Identity solana.PublicKey

	// Epoch selects the reward record.
	Epoch uint64

	// StakePool is the pool whose reserve receives the transfer.
	StakePool solana.PublicKey

	// Params splits the recorded rewards into the transfer amount.
	Params rewards.SplitParams

	// FeeLimit is the maximum priority fee in lamports. Zero disables the
	// compute budget instructions.
	FeeLimit uint64

	SendMode SendMode

	// Force re-runs a transfer whose record is already marked transferred.
	Force bool
}

// TransferOutcome reports what Execute did.
type TransferOutcome struct {
	Record *rewards.Record
	Split  rewards.Split

	// NoOp is set when the computed transfer amount was zero and no
	// transaction was built.
	NoOp bool

	ReserveStake       solana.PublicKey
	PayerBalanceBefore uint64

	// PayerBalanceAfter is nil when the post-transfer balance read failed.
	// The transfer itself is confirmed and recorded regardless.
	PayerBalanceAfter *uint64

	// Signature is set in send mode once the transaction is submitted.
	Signature solana.Signature

	// DumpedTransaction holds the base64 unsigned transaction message in
	// dump mode.
	DumpedTransaction string

	// SimulatedUnits and SimulationLogs are set in simulate mode.
	SimulatedUnits uint64
	SimulationLogs []string
}

// Executor builds reward transfer transactions and drives them through the
// requested send mode.
type Executor struct {
	log *slog.Logger
	cfg ExecutorConfig
}

// NewExecutor creates an Executor from the given configuration.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Executor{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Execute loads the epoch's reward record, computes the transfer amount, and
// builds a transaction that moves it into the stake pool's reserve and
// updates the pool balance in the same slot. The send mode decides whether
// the transaction is submitted, simulated, or dumped. A successful send marks
// the record transferred so a re-run refuses to move the funds again.
func (e *Executor) Execute(ctx context.Context, req TransferRequest) (*TransferOutcome, error) {
	if len(req.Payer) != ed25519.PrivateKeySize {
		return nil, errors.New("payer keypair is required")
	}
	if req.StakePool.IsZero() {
		return nil, errors.New("stake pool address is required")
	}
	payerPub := req.Payer.PublicKey()
	identity := req.Identity
	if identity.IsZero() {
		identity = payerPub
	}
	if req.SendMode == "" {
		req.SendMode = SendModeSend
	}

	record, err := e.cfg.Store.Load(identity, req.Epoch)
	if err != nil {
		if errors.Is(err, rewards.ErrRecordNotFound) {
			return nil, fmt.Errorf("no reward record for identity %s epoch %d, run calculate first: %w", identity, req.Epoch, err)
		}
		return nil, err
	}
	if record.Transferred() {
		if !req.Force {
			return nil, fmt.Errorf("epoch %d rewards were transferred at %s (signature %s): %w",
				req.Epoch, record.TransferredAt.Format(time.RFC3339), record.TransferSignature, ErrAlreadyTransferred)
		}
		e.log.Warn("stakepool: re-running transfer for a record already marked transferred",
			"identity", identity, "epoch", req.Epoch, "signature", record.TransferSignature)
	}

	split, err := rewards.ComputeSplit(record.TotalBlockRewards, req.Params)
	if err != nil {
		if errors.Is(err, rewards.ErrZeroTransferAmount) {
			e.log.Info("stakepool: transfer amount is zero, nothing to do",
				"identity", identity, "epoch", req.Epoch, "totalRewards", split.TotalRewards)
			return &TransferOutcome{Record: record, Split: split, NoOp: true}, nil
		}
		return nil, err
	}

	balanceBefore, err := e.balance(ctx, payerPub)
	if err != nil {
		return nil, err
	}

	pool, programID, err := e.fetchStakePool(ctx, req.StakePool)
	if err != nil {
		return nil, err
	}
	withdrawAuthority, _, err := FindWithdrawAuthority(programID, req.StakePool)
	if err != nil {
		return nil, fmt.Errorf("failed to derive withdraw authority: %w", err)
	}

	blockhash, err := e.latestBlockhash(ctx)
	if err != nil {
		return nil, err
	}

	ixs := []solana.Instruction{
		system.NewTransferInstruction(split.TransferAmount, payerPub, pool.ReserveStake).Build(),
		NewUpdateStakePoolBalanceInstruction(programID, UpdateStakePoolBalanceKeys{
			StakePool:         req.StakePool,
			WithdrawAuthority: withdrawAuthority,
			ValidatorList:     pool.ValidatorList,
			ReserveStake:      pool.ReserveStake,
			ManagerFeeAccount: pool.ManagerFeeAccount,
			PoolMint:          pool.PoolMint,
			TokenProgram:      pool.TokenProgramID,
		}),
	}
	if req.SendMode != SendModeDump && req.FeeLimit > 0 {
		budgetIxs := e.computeBudgetInstructions(ctx, payerPub, blockhash, ixs, req.FeeLimit)
		ixs = append(budgetIxs, ixs...)
	}

	tx, err := solana.NewTransaction(ixs, blockhash, solana.TransactionPayer(payerPub))
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}

	outcome := &TransferOutcome{
		Record:             record,
		Split:              split,
		ReserveStake:       pool.ReserveStake,
		PayerBalanceBefore: balanceBefore,
	}

	e.log.Info("stakepool: built reward transfer transaction",
		"identity", identity,
		"epoch", req.Epoch,
		"stakePool", req.StakePool,
		"reserveStake", pool.ReserveStake,
		"transferAmount", split.TransferAmount,
		"sendMode", req.SendMode,
	)

	switch req.SendMode {
	case SendModeDump:
		msg, err := tx.Message.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("failed to serialize transaction message: %w", err)
		}
		outcome.DumpedTransaction = base64.StdEncoding.EncodeToString(msg)
		return outcome, nil

	case SendModeSimulate:
		sim, err := e.simulate(ctx, tx)
		if err != nil {
			return nil, err
		}
		if sim.Err != nil {
			return nil, fmt.Errorf("simulation returned an error: %v: %w", sim.Err, ErrTransactionFailed)
		}
		if sim.UnitsConsumed != nil {
			outcome.SimulatedUnits = *sim.UnitsConsumed
		}
		outcome.SimulationLogs = sim.Logs
		return outcome, nil
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if payerPub.Equals(key) {
			return &req.Payer
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	sig, err := e.cfg.RPC.SendTransactionWithOpts(ctx, tx, solanarpc.TransactionOpts{
		PreflightCommitment: solanarpc.CommitmentConfirmed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}
	outcome.Signature = sig
	e.log.Info("stakepool: transaction submitted", "signature", sig)

	if err := e.awaitConfirmation(ctx, sig); err != nil {
		return nil, err
	}

	updated, err := e.cfg.Store.MarkTransferred(identity, req.Epoch, sig, split.TransferAmount)
	if err != nil {
		return nil, fmt.Errorf("transfer confirmed but marking the record failed: %w", err)
	}
	outcome.Record = updated

	e.log.Info("stakepool: reward transfer confirmed",
		"identity", identity,
		"epoch", req.Epoch,
		"signature", sig,
		"transferAmount", split.TransferAmount,
		"payerBalanceBefore", balanceBefore,
	)

	// The record is marked by this point; a failed balance read must not
	// turn a confirmed transfer into a command failure.
	if balanceAfter, err := e.balance(ctx, payerPub); err != nil {
		e.log.Warn("stakepool: failed to read payer balance after transfer", "error", err)
	} else {
		outcome.PayerBalanceAfter = &balanceAfter
	}
	return outcome, nil
}

// computeBudgetInstructions simulates the transfer instructions to size a
// compute unit limit and price the priority fee so it stays at or under the
// fee limit. Simulation failures fall back to no budget instructions rather
// than blocking the transfer.
func (e *Executor) computeBudgetInstructions(ctx context.Context, payer solana.PublicKey, blockhash solana.Hash, ixs []solana.Instruction, feeLimit uint64) []solana.Instruction {
	tx, err := solana.NewTransaction(ixs, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		e.log.Warn("stakepool: skipping compute budget, failed to build simulation transaction", "error", err)
		return nil
	}
	sim, err := e.simulate(ctx, tx)
	if err != nil {
		e.log.Warn("stakepool: skipping compute budget, simulation failed", "error", err)
		return nil
	}
	if sim.Err != nil || sim.UnitsConsumed == nil {
		e.log.Warn("stakepool: skipping compute budget, simulation carried no usable unit count", "simErr", sim.Err)
		return nil
	}

	units := uint32(float64(*sim.UnitsConsumed)*computeUnitBufferRatio) + computeBudgetIxCost
	price := computeUnitPrice(units, feeLimit)
	e.log.Debug("stakepool: sized compute budget",
		"simulatedUnits", *sim.UnitsConsumed, "unitLimit", units, "microLamportsPerUnit", price)
	return []solana.Instruction{
		computebudget.NewSetComputeUnitLimitInstruction(units).Build(),
		computebudget.NewSetComputeUnitPriceInstruction(price).Build(),
	}
}

// computeUnitPrice converts a lamport fee limit into micro-lamports per
// compute unit so the whole budget costs at most the limit.
func computeUnitPrice(units uint32, feeLimit uint64) uint64 {
	if units == 0 {
		return 0
	}
	hi, lo := bits.Mul64(feeLimit, microLamportsPerLamport)
	if hi >= uint64(units) {
		return math.MaxUint64
	}
	price, _ := bits.Div64(hi, lo, uint64(units))
	return price
}

func (e *Executor) simulate(ctx context.Context, tx *solana.Transaction) (*solanarpc.SimulateTransactionResult, error) {
	var out *solanarpc.SimulateTransactionResponse
	err := retry.Do(ctx, e.cfg.Retry, func() error {
		var err error
		out, err = e.cfg.RPC.SimulateTransactionWithOpts(ctx, tx, &solanarpc.SimulateTransactionOpts{
			SigVerify:              false,
			ReplaceRecentBlockhash: true,
			Commitment:             solanarpc.CommitmentConfirmed,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to simulate transaction: %w", err)
	}
	if out == nil || out.Value == nil {
		return nil, errors.New("simulation response carried no value")
	}
	return out.Value, nil
}

func (e *Executor) fetchStakePool(ctx context.Context, address solana.PublicKey) (*StakePool, solana.PublicKey, error) {
	var out *solanarpc.GetAccountInfoResult
	err := retry.Do(ctx, e.cfg.Retry, func() error {
		var err error
		out, err = e.cfg.RPC.GetAccountInfo(ctx, address)
		return err
	})
	if err != nil {
		return nil, solana.PublicKey{}, fmt.Errorf("failed to fetch stake pool account %s: %w", address, err)
	}
	if out == nil || out.Value == nil || out.Value.Data == nil {
		return nil, solana.PublicKey{}, fmt.Errorf("stake pool account %s carried no data", address)
	}
	pool, err := DecodeStakePool(out.Value.Data.GetBinary())
	if err != nil {
		return nil, solana.PublicKey{}, fmt.Errorf("stake pool account %s: %w", address, err)
	}
	return pool, out.Value.Owner, nil
}

func (e *Executor) balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	var out *solanarpc.GetBalanceResult
	err := retry.Do(ctx, e.cfg.Retry, func() error {
		var err error
		out, err = e.cfg.RPC.GetBalance(ctx, account, solanarpc.CommitmentConfirmed)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to fetch balance of %s: %w", account, err)
	}
	if out == nil {
		return 0, fmt.Errorf("balance response for %s carried no value", account)
	}
	return out.Value, nil
}

func (e *Executor) latestBlockhash(ctx context.Context) (solana.Hash, error) {
	var out *solanarpc.GetLatestBlockhashResult
	err := retry.Do(ctx, e.cfg.Retry, func() error {
		var err error
		out, err = e.cfg.RPC.GetLatestBlockhash(ctx, solanarpc.CommitmentConfirmed)
		return err
	})
	if err != nil {
		return solana.Hash{}, fmt.Errorf("failed to fetch latest blockhash: %w", err)
	}
	if out == nil || out.Value == nil {
		return solana.Hash{}, errors.New("latest blockhash response carried no value")
	}
	return out.Value.Blockhash, nil
}

// awaitConfirmation polls signature statuses until the transaction reaches
// confirmed or finalized commitment. Transient poll failures are logged and
// retried on the next tick; the timeout bounds the whole wait.
func (e *Executor) awaitConfirmation(ctx context.Context, sig solana.Signature) error {
	timer := e.cfg.Clock.NewTimer(e.cfg.ConfirmTimeout)
	defer timer.Stop()
	ticker := e.cfg.Clock.NewTicker(e.cfg.ConfirmPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.Chan():
			return fmt.Errorf("transaction %s did not confirm within %s: %w", sig, e.cfg.ConfirmTimeout, ErrConfirmationTimeout)
		case <-ticker.Chan():
			out, err := e.cfg.RPC.GetSignatureStatuses(ctx, false, sig)
			if err != nil {
				e.log.Warn("stakepool: signature status poll failed", "signature", sig, "error", err)
				continue
			}
			if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
				e.log.Debug("stakepool: transaction not yet observed", "signature", sig)
				continue
			}
			status := out.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction %s: %v: %w", sig, status.Err, ErrTransactionFailed)
			}
			switch status.ConfirmationStatus {
			case solanarpc.ConfirmationStatusConfirmed, solanarpc.ConfirmationStatusFinalized:
				return nil
			default:
				e.log.Debug("stakepool: transaction not yet confirmed",
					"signature", sig, "status", status.ConfirmationStatus)
			}
		}
	}
}
