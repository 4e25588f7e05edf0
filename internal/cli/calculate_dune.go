package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/validatorlabs/rewardshare/internal/dune"
	"github.com/validatorlabs/rewardshare/internal/rewards"
)

func newCalculateWithDuneCommand(opts *globalOptions) *cobra.Command {
	var (
		identityStr  string
		epoch        uint64
		apiKey       string
		queryID      int64
		timeout      time.Duration
		pollInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "calculate-with-dune",
		Short: "Fetch a validator's epoch block rewards from a Dune Analytics query",
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, err := parsePubkey("identity", identityStr)
			if err != nil {
				return err
			}
			if apiKey == "" {
				apiKey = os.Getenv("DUNE_API_KEY")
			}
			if apiKey == "" {
				return errors.New("dune api key is required (--api-key or DUNE_API_KEY)")
			}

			store, err := opts.newStore()
			if err != nil {
				return err
			}
			client, err := dune.NewClient(dune.ClientConfig{
				Logger: opts.log,
				APIKey: apiKey,
			})
			if err != nil {
				return err
			}
			source, err := dune.NewSource(dune.SourceConfig{
				Logger:       opts.log,
				Client:       client,
				QueryID:      queryID,
				Timeout:      timeout,
				PollInterval: pollInterval,
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
	cmd.Flags().Uint64Var(&epoch, "epoch", 0, "completed epoch to fetch rewards for")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Dune API key (or set DUNE_API_KEY env var)")
	cmd.Flags().Int64Var(&queryID, "query-id", dune.DefaultQueryID, "Dune query returning per-epoch block reward totals")
	cmd.Flags().DurationVar(&timeout, "timeout", dune.DefaultTimeout, "maximum time to wait for query completion")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", dune.DefaultPollInterval, "delay between execution status checks")
	_ = cmd.MarkFlagRequired("identity")
	_ = cmd.MarkFlagRequired("epoch")

	return cmd
}
