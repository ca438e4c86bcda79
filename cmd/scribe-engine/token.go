package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/snarg/scribe-engine/internal/credential"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the stored access token for advanced diarization",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <token>",
			Short: "Store the token",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := credentialStore(cmd)
				if err != nil {
					return err
				}
				tok := credential.Token(strings.TrimSpace(args[0]))
				if !tok.IsSet() {
					return errors.New("token is empty")
				}
				if err := store.Save(tok); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "saved %s to %s\n", tok, store.Path())
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove the stored token",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := credentialStore(cmd)
				if err != nil {
					return err
				}
				if err := store.Clear(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", store.Path())
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show whether a token is stored",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := credentialStore(cmd)
				if err != nil {
					return err
				}
				tok, err := store.Load()
				switch {
				case errors.Is(err, credential.ErrNotFound):
					fmt.Fprintf(cmd.OutOrStdout(), "no token stored (%s)\n", store.Path())
					return nil
				case err != nil:
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "token %s stored in %s\n", tok, store.Path())
				return nil
			},
		},
	)
	return cmd
}

func credentialStore(cmd *cobra.Command) (*credential.Store, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return credential.NewStore(cfg.CredentialFile), nil
}
