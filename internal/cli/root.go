// Package cli wires the rewardshare command tree: reward calculation against
// the ledger or Dune Analytics, the stake pool transfer, and endorsement
// signing.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"github.com/validatorlabs/rewardshare/internal/logger"
	"github.com/validatorlabs/rewardshare/internal/rewards"
)

// DefaultRPCURL is the public mainnet endpoint used when neither --rpc-url
// nor SOLANA_RPC_URL is set.
const DefaultRPCURL = "https://api.mainnet-beta.solana.com"

type globalOptions struct {
	rpcURL  string
	dataDir string
	verbose bool

	log *slog.Logger
}

// resolve applies environment fallbacks and builds the logger. An explicit
// flag wins over the environment.
func (o *globalOptions) resolve(cmd *cobra.Command) error {
	if !cmd.Flags().Changed("rpc-url") {
		if v := os.Getenv("SOLANA_RPC_URL"); v != "" {
			o.rpcURL = v
		}
	}
	if o.dataDir == "" {
		o.dataDir = os.Getenv("REWARDSHARE_DATA_DIR")
	}
	if o.dataDir == "" {
		dir, err := rewards.DefaultDir()
		if err != nil {
			return err
		}
		o.dataDir = dir
	}
	if o.rpcURL == "" {
		return errors.New("rpc url is required")
	}
	o.log = logger.New(os.Stderr, o.verbose)
	return nil
}

func (o *globalOptions) newStore() (*rewards.Store, error) {
	return rewards.NewStore(rewards.StoreConfig{
		Logger: o.log,
		Dir:    o.dataDir,
	})
}

// New builds the root command with all subcommands attached. Logs go to
// stderr so stdout stays pipeable.
func New(version string) *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:           "rewardshare",
		Short:         "Calculate validator block rewards and share them with a stake pool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.resolve(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.rpcURL, "rpc-url", DefaultRPCURL, "Solana RPC endpoint (or set SOLANA_RPC_URL env var)")
	cmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "reward record directory (or set REWARDSHARE_DATA_DIR env var; default ~/.local/rewardshare)")
	cmd.PersistentFlags().BoolVar(&opts.verbose, "verbose", false, "enable verbose (debug) logging")

	cmd.AddCommand(
		newCalculateCommand(opts),
		newCalculateWithDuneCommand(opts),
		newTransferCommand(opts),
		newSignCommand(opts),
		newVerifyCommand(opts),
	)
	return cmd
}

func parsePubkey(name, value string) (solana.PublicKey, error) {
	key, err := solana.PublicKeyFromBase58(value)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	return key, nil
}

func lamportsToSol(lamports uint64) string {
	return fmt.Sprintf("%d.%09d", lamports/solana.LAMPORTS_PER_SOL, lamports%solana.LAMPORTS_PER_SOL)
}
