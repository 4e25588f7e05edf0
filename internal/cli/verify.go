package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/validatorlabs/rewardshare/internal/signer"
)

func newVerifyCommand(opts *globalOptions) *cobra.Command {
	var (
		identityStr  string
		signatureStr string
		message      string
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify an endorsement signature against a validator identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, err := parsePubkey("identity", identityStr)
			if err != nil {
				return err
			}
			sig, err := signer.ParseSignature(signatureStr)
			if err != nil {
				return err
			}
			if !signer.Verify(identity, message, sig) {
				return fmt.Errorf("signature does not verify for identity %s", identity)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Signature verified for %s\n", identity)
			return nil
		},
	}

	cmd.Flags().StringVar(&identityStr, "identity", "", "validator identity pubkey (base58)")
	cmd.Flags().StringVar(&signatureStr, "signature", "", "base58 endorsement signature")
	cmd.Flags().StringVar(&message, "message", signer.DefaultMessage, "message the signature covers")
	_ = cmd.MarkFlagRequired("identity")
	_ = cmd.MarkFlagRequired("signature")

	return cmd
}
