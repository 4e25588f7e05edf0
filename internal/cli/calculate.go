package cli

import (
	"fmt"

	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/spf13/cobra"

	"github.com/validatorlabs/rewardshare/internal/rewards"
	"github.com/validatorlabs/rewardshare/internal/sol"
)

func newCalculateCommand(opts *globalOptions) *cobra.Command {
	var (
		identityStr    string
		epoch          uint64
		maxConcurrency int
		rateLimit      float64
	)

	cmd := &cobra.Command{
		Use:   "calculate",
		Short: "Sum a validator's block rewards for a completed epoch by scanning its leader slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, err := parsePubkey("identity", identityStr)
			if err != nil {
				return err
			}

			store, err := opts.newStore()
			if err != nil {
				return err
			}
			source, err := sol.NewSource(sol.SourceConfig{
				Logger:            opts.log,
				RPC:               solanarpc.New(opts.rpcURL),
				MaxConcurrency:    maxConcurrency,
				RequestsPerSecond: rateLimit,
			})
			if err != nil {
				return err
			}
			calculator, err := rewards.NewCalculator(rewards.CalculatorConfig{
				Logger: opts.log,
				Store:  store,
				Source: source,
			})
			if err != nil {
				return err
			}

			record, err := calculator.Calculate(cmd.Context(), identity, epoch)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Epoch %d block rewards for %s: %d lamports (%s SOL)\n",
				record.Epoch, record.ValidatorIdentity, record.TotalBlockRewards, lamportsToSol(record.TotalBlockRewards))
			fmt.Fprintf(cmd.OutOrStdout(), "Record: %s\n", store.Path(identity, epoch))
			return nil
		},
	}

	cmd.Flags().StringVar(&identityStr, "identity", "", "validator identity pubkey (base58)")
	cmd.Flags().Uint64Var(&epoch, "epoch", 0, "completed epoch to sum rewards for")
	cmd.Flags().IntVar(&maxConcurrency, "max-concurrency", sol.DefaultMaxConcurrency, "maximum concurrent block fetches")
	cmd.Flags().Float64Var(&rateLimit, "rate-limit", sol.DefaultRequestsPerSecond, "maximum RPC requests per second")
	_ = cmd.MarkFlagRequired("identity")
	_ = cmd.MarkFlagRequired("epoch")

	return cmd
}
