//go:build dev

package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aspect-build/veritas/internal/emulator"
)

func init() {
	devCommands = append(devCommands, newEmulatorCmd())
}

func newEmulatorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emulator",
		Short: "[dev] Run a local stand-in for the attestation authority",
		Long: `A development emulator that issues integrity tokens for a chosen device
profile and serves the decode API, so the relay and handshake can be exercised
without real devices or cloud credentials.

NOTE: This command is only available in dev builds (go build -tags dev).`,
	}
	cmd.AddCommand(newEmulatorKeygenCmd(), newEmulatorServeCmd())
	return cmd
}

func newEmulatorKeygenCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate emulator sealing and signing keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := emulator.GenerateKeys()
			if err != nil {
				return err
			}
			if err := keys.Save(output); err != nil {
				return err
			}
			pub, err := keys.SealPublicKey()
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Wrote %s\n\n", output)
			fmt.Fprintf(os.Stderr, "Seal public key : %s\n", hex.EncodeToString(pub[:]))
			fmt.Fprintf(os.Stderr, "Verify key      : %s\n", hex.EncodeToString(keys.VerifyKey()))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", ".emulator-keys.json", "Output path for the key file")
	return cmd
}

func newEmulatorServeCmd() *cobra.Command {
	var (
		keysPath    string
		listen      string
		accessToken string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve POST /token and the decode API",
		Long: `Serve the emulator. Point the relay at it with
VERITAS_PLAYINTEGRITY_ENDPOINT=http://<listen>/ and
VERITAS_STATIC_ACCESS_TOKEN=<access token>.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := emulator.LoadKeys(keysPath)
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(os.Stderr, "veritas: %s not found, using ephemeral keys\n", keysPath)
				keys, err = emulator.GenerateKeys()
			}
			if err != nil {
				return err
			}
			authority, err := emulator.NewAuthority(keys, time.Now)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "emulator listening on %s (verify key %s)\n", listen, authority.VerifyKeyBase64())
			return emulator.NewRouter(authority, accessToken).Run(listen)
		},
	}

	cmd.Flags().StringVar(&keysPath, "keys", ".emulator-keys.json", "Key file written by keygen")
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:5180", "Listen address")
	cmd.Flags().StringVar(&accessToken, "access-token", "emulator-token", "Bearer token the decode API requires")
	return cmd
}
