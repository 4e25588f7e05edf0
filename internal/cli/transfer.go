package cli

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/spf13/cobra"

	"github.com/validatorlabs/rewardshare/internal/rewards"
	"github.com/validatorlabs/rewardshare/internal/signer"
	"github.com/validatorlabs/rewardshare/internal/stakepool"
)

func newTransferCommand(opts *globalOptions) *cobra.Command {
	var (
		payerPath      string
		identityStr    string
		epoch          uint64
		stakePoolStr   string
		totalPct       float64
		lstPct         float64
		feeLimit       uint64
		confirmTimeout time.Duration
		sendModeStr    string
		force          bool
	)

	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Move the epoch's reward share into a stake pool reserve, updating the pool balance atomically",
		RunE: func(cmd *cobra.Command, args []string) error {
			payer, err := signer.LoadKeypair(payerPath)
			if err != nil {
				return err
			}
			var identity solana.PublicKey
			if identityStr != "" {
				identity, err = parsePubkey("identity", identityStr)
				if err != nil {
					return err
				}
			}
			stakePool, err := parsePubkey("stake pool", stakePoolStr)
			if err != nil {
				return err
			}
			mode, err := stakepool.ParseSendMode(sendModeStr)
			if err != nil {
				return err
			}

			store, err := opts.newStore()
			if err != nil {
				return err
			}
			executor, err := stakepool.NewExecutor(stakepool.ExecutorConfig{
				Logger:         opts.log,
				RPC:            solanarpc.New(opts.rpcURL),
				Store:          store,
				ConfirmTimeout: confirmTimeout,
			})
			if err != nil {
				return err
			}

			outcome, err := executor.Execute(cmd.Context(), stakepool.TransferRequest{
				Payer:     payer,
				Identity:  identity,
				Epoch:     epoch,
				StakePool: stakePool,
				Params: rewards.SplitParams{
					TotalRewardsPct: totalPct,
					LSTRewardsPct:   lstPct,
				},
				FeeLimit: feeLimit,
				SendMode: mode,
				Force:    force,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch {
			case outcome.NoOp:
				fmt.Fprintf(out, "Nothing to transfer for epoch %d: total rewards %d lamports, transfer amount is zero\n",
					epoch, outcome.Split.TotalRewards)
			case mode == stakepool.SendModeDump:
				fmt.Fprintln(out, outcome.DumpedTransaction)
			case mode == stakepool.SendModeSimulate:
				fmt.Fprintf(out, "Simulated transfer of %d lamports to %s: %d compute units consumed\n",
					outcome.Split.TransferAmount, outcome.ReserveStake, outcome.SimulatedUnits)
			default:
				fmt.Fprintf(out, "Transferred %d lamports (%s SOL) to stake pool reserve %s\n",
					outcome.Split.TransferAmount, lamportsToSol(outcome.Split.TransferAmount), outcome.ReserveStake)
				fmt.Fprintf(out, "Signature: %s\n", outcome.Signature)
				fmt.Fprintf(out, "Total rewards %d lamports, considered %d, transferred %d\n",
					outcome.Split.TotalRewards, outcome.Split.ConsideredRewards, outcome.Split.TransferAmount)
				if outcome.PayerBalanceAfter != nil {
					fmt.Fprintf(out, "Payer balance: %s SOL -> %s SOL\n",
						lamportsToSol(outcome.PayerBalanceBefore), lamportsToSol(*outcome.PayerBalanceAfter))
				} else {
					fmt.Fprintf(out, "Payer balance before transfer: %s SOL\n",
						lamportsToSol(outcome.PayerBalanceBefore))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&payerPath, "payer", "", "payer keypair file (validator identity keygen JSON)")
	cmd.Flags().StringVar(&identityStr, "identity", "", "validator identity pubkey if it differs from the payer")
	cmd.Flags().Uint64Var(&epoch, "epoch", 0, "epoch whose calculated rewards to transfer")
	cmd.Flags().StringVar(&stakePoolStr, "stake-pool", "", "stake pool address (base58)")
	cmd.Flags().Float64Var(&totalPct, "total-rewards-pct", 0, "percentage of block rewards under consideration [0,100]")
	cmd.Flags().Float64Var(&lstPct, "lst-rewards-pct", 0, "percentage of the considered rewards to transfer [0,100]")
	cmd.Flags().Uint64Var(&feeLimit, "fee-limit", 1, "maximum priority fee in lamports (0 disables the compute budget)")
	cmd.Flags().DurationVar(&confirmTimeout, "confirm-timeout", stakepool.DefaultConfirmTimeout, "how long to wait for transaction confirmation")
	cmd.Flags().StringVar(&sendModeStr, "send-mode", string(stakepool.SendModeSend), "send, simulate, or dump")
	cmd.Flags().BoolVar(&force, "force", false, "transfer even if the record is already marked transferred")
	_ = cmd.MarkFlagRequired("payer")
	_ = cmd.MarkFlagRequired("epoch")
	_ = cmd.MarkFlagRequired("stake-pool")
	_ = cmd.MarkFlagRequired("total-rewards-pct")
	_ = cmd.MarkFlagRequired("lst-rewards-pct")

	return cmd
}
