package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/multicloud-portal/portal/internal/secrets"
)

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "generates the key pair that encrypts stored cloud credentials",
		Long: `
	Prints a new age key pair as environment settings for the gateway. Keep
	the private key secret: stored credentials cannot be read without it.
	`,
		Args: cobra.NoArgs,
		// No state or login needed.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			public, private, err := secrets.GenerateKeyPair()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "CREDENTIALS_AGE_PUBLIC_KEY=%s\n", public)
			fmt.Fprintf(out, "CREDENTIALS_AGE_PRIVATE_KEY=%s\n", private)
			return nil
		},
	}
}
