package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"stackctl/internal/config"
	"stackctl/internal/secrets"

	"github.com/spf13/cobra"
)

func newSecretsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage the age-encrypted secret file",
		Long: `Secrets are looked up in the process environment, then in the
configured dotenv files, then in an age-encrypted dotenv file
(secrets.ageFile, decrypted with secrets.identityFile).`,
	}
	cmd.AddCommand(newSecretsKeygenCmd())
	cmd.AddCommand(newSecretsSealCmd())
	return cmd
}

func newSecretsKeygenCmd() *cobra.Command {
	var (
		out   string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an identity and print its recipient",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, recipient, err := secrets.GenerateIdentity()
			if err != nil {
				return err
			}

			if out == "" {
				fmt.Fprintln(cmd.OutOrStdout(), identity)
			} else {
				out = config.ExpandHome(out)
				if _, err := os.Stat(out); err == nil && !force {
					return fmt.Errorf("%s already exists, use --force to overwrite", out)
				}
				if err := os.MkdirAll(filepath.Dir(out), 0o700); err != nil {
					return err
				}
				if err := os.WriteFile(out, []byte(identity+"\n"), 0o600); err != nil {
					return fmt.Errorf("writing identity: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Identity written to %s\n", out)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Public key: %s\n", recipient)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "write the identity to this file (mode 0600) instead of stdout")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing identity file")
	return cmd
}

func newSecretsSealCmd() *cobra.Command {
	var (
		recipients []string
		in, out    string
		armor      bool
	)

	cmd := &cobra.Command{
		Use:   "seal",
		Short: "Encrypt a dotenv file to one or more recipients",
		Example: `  stackctl secrets seal -r age1... --in .env.secrets --out secrets.env.age
  cat .env.secrets | stackctl secrets seal -r age1... --armor > secrets.env.age`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				plaintext []byte
				err       error
			)
			if in == "" || in == "-" {
				plaintext, err = io.ReadAll(cmd.InOrStdin())
			} else {
				plaintext, err = os.ReadFile(in)
			}
			if err != nil {
				return fmt.Errorf("reading plaintext: %w", err)
			}

			var sealed bytes.Buffer
			if err := secrets.Seal(&sealed, plaintext, recipients, armor); err != nil {
				return err
			}

			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(sealed.Bytes())
				return err
			}
			if err := os.WriteFile(out, sealed.Bytes(), 0o600); err != nil {
				return fmt.Errorf("writing %s: %w", out, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Sealed %s to %d recipient(s)\n", out, len(recipients))
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringArrayVarP(&recipients, "recipient", "r", nil, "age1... public key (repeatable)")
	flags.StringVar(&in, "in", "", "dotenv file to encrypt (default stdin)")
	flags.StringVar(&out, "out", "", "encrypted file to write (default stdout)")
	flags.BoolVarP(&armor, "armor", "a", false, "write ASCII-armored output")
	_ = cmd.MarkFlagRequired("recipient")
	return cmd
}
