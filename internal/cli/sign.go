package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/validatorlabs/rewardshare/internal/signer"
)

func newSignCommand(opts *globalOptions) *cobra.Command {
	var (
		keypairPath string
		message     string
	)

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign the endorsement message with the validator identity keypair",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := signer.LoadKeypair(keypairPath)
			if err != nil {
				return err
			}
			sig, err := signer.Sign(key, message)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Identity: %s\n", key.PublicKey())
			fmt.Fprintf(out, "Message: %s\n", message)
			fmt.Fprintf(out, "Signature: %s\n", sig)
			return nil
		},
	}

	cmd.Flags().StringVar(&keypairPath, "identity", "", "validator identity keypair file")
	cmd.Flags().StringVar(&message, "message", signer.DefaultMessage, "message to sign")
	_ = cmd.MarkFlagRequired("identity")

	return cmd
}
