package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aspect-build/veritas/internal/client"
	"github.com/aspect-build/veritas/internal/handshake"
	"github.com/aspect-build/veritas/internal/integrity"
	"github.com/aspect-build/veritas/internal/logx"
	"github.com/aspect-build/veritas/internal/risk"
	"github.com/aspect-build/veritas/internal/version"
)

// devCommands is populated by dev.go (build tag "dev") with dev-only subcommands.
var devCommands []*cobra.Command

// globalOpts are the persistent flags shared by every subcommand.
type globalOpts struct {
	relayURL string
	insecure bool
	envFile  string
	logLevel string
	verbose  bool

	// redact holds credential values from the env file, hidden in helper output.
	redact []string
}

// resolveRelayURL returns the relay URL from the flag or VERITAS_RELAY_URL.
func resolveRelayURL(cmd *cobra.Command, flagValue string) (string, error) {
	if cmd.Flags().Changed("relay") {
		return strings.TrimRight(flagValue, "/"), nil
	}
	if v := os.Getenv("VERITAS_RELAY_URL"); v != "" {
		logx.Debugf("using relay URL from VERITAS_RELAY_URL")
		return strings.TrimRight(v, "/"), nil
	}
	return "", fmt.Errorf("relay URL required: use --relay flag or set VERITAS_RELAY_URL")
}

// stringFlagOrEnv prefers an explicitly set flag, then the environment.
func stringFlagOrEnv(cmd *cobra.Command, name, value, env string) string {
	if cmd.Flags().Changed(name) {
		return value
	}
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		return v
	}
	return value
}

func newRelayClient(cmd *cobra.Command, g *globalOpts) (*client.RelayClient, error) {
	url, err := resolveRelayURL(cmd, g.relayURL)
	if err != nil {
		return nil, err
	}
	return client.NewRelayClient(url, g.insecure)
}

func main() {
	g := &globalOpts{}
	rootCmd := &cobra.Command{
		Use:           "veritas",
		Short:         "Veritas - device integrity attestation client",
		Version:       version.Get().Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := logx.Configure(g.logLevel, g.verbose); err != nil {
				return err
			}
			entries, err := client.ApplyEnvFile(g.envFile)
			if err != nil {
				if cmd.Flags().Changed("env-file") || !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("load env file: %w", err)
				}
			}
			g.redact = client.CredentialValues(entries)
			return nil
		},
	}
	rootCmd.SetVersionTemplate(version.String("veritas") + "\n")

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&g.relayURL, "relay", "", "Relay URL (or set VERITAS_RELAY_URL)")
	pf.BoolVar(&g.insecure, "insecure", false, "Allow plaintext HTTP to a non-loopback relay")
	pf.StringVar(&g.envFile, "env-file", ".env", "Path to .env file (skipped if not found and not explicitly set)")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level: debug|info|warn|error (or VERITAS_LOG_LEVEL)")
	pf.BoolVar(&g.verbose, "verbose", false, "Enable verbose debug logs")

	rootCmd.AddCommand(newNonceCmd(g))
	rootCmd.AddCommand(newDecodeCmd(g))
	rootCmd.AddCommand(newHandshakeCmd(g))
	rootCmd.AddCommand(newVerifyCmd(g))
	rootCmd.AddCommand(newScoreCmd())
	rootCmd.AddCommand(newStatusCmd(g))
	for _, cmd := range devCommands {
		rootCmd.AddCommand(cmd)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "veritas: %v\n", err)
		if kind := handshake.KindOf(err); kind != "" {
			fmt.Fprintf(os.Stderr, "veritas: failure kind: %s\n", kind)
		}
		stop()
		os.Exit(1)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newNonceCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "nonce",
		Short: "Request a fresh handshake nonce from the relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := newRelayClient(cmd, g)
			if err != nil {
				return err
			}
			n, err := rc.Issue(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(n)
		},
	}
}

func newDecodeCmd(g *globalOpts) *cobra.Command {
	var (
		packageName string
		token       string
		nonceID     string
	)

	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode an integrity token through the relay and print the verdict",
		Long: `Send an integrity token to the relay's decode endpoint and print the
decoded response exactly as the relay returned it. Use --token - to read the
token from stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := newRelayClient(cmd, g)
			if err != nil {
				return err
			}
			pkg := stringFlagOrEnv(cmd, "package", packageName, client.EnvPackageName)
			tok, err := readToken(token)
			if err != nil {
				return err
			}
			raw, err := rc.DecodeRaw(cmd.Context(), handshake.DecodeRequest{
				PackageName: pkg,
				Token:       tok,
				NonceID:     nonceID,
			})
			if err != nil {
				return err
			}
			var pretty any
			if err := json.Unmarshal(raw, &pretty); err != nil {
				return fmt.Errorf("relay returned invalid JSON: %w", err)
			}
			return printJSON(pretty)
		},
	}

	cmd.Flags().StringVar(&packageName, "package", "", "Application package name (or VERITAS_PACKAGE_NAME)")
	cmd.Flags().StringVar(&token, "token", "", "Integrity token, or - for stdin")
	cmd.Flags().StringVar(&nonceID, "nonce-id", "", "Nonce ID the token was bound to")
	_ = cmd.MarkFlagRequired("token")

	return cmd
}

func newVerifyCmd(g *globalOpts) *cobra.Command {
	var (
		packageName string
		token       string
		nonceID     string
		rootPath    string
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Have the relay decode, bind and score a token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := newRelayClient(cmd, g)
			if err != nil {
				return err
			}
			tok, err := readToken(token)
			if err != nil {
				return err
			}
			req := client.VerifyRequest{
				NonceID:     nonceID,
				PackageName: stringFlagOrEnv(cmd, "package", packageName, client.EnvPackageName),
				Token:       tok,
			}
			if rootPath != "" {
				report, err := (&client.RootReportChecker{Path: rootPath}).Run(cmd.Context())
				if err != nil {
					return err
				}
				req.Root = report
			}
			resp, err := rc.Verify(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}

	cmd.Flags().StringVar(&packageName, "package", "", "Application package name (or VERITAS_PACKAGE_NAME)")
	cmd.Flags().StringVar(&token, "token", "", "Integrity token, or - for stdin")
	cmd.Flags().StringVar(&nonceID, "nonce-id", "", "Nonce ID the token was bound to")
	cmd.Flags().StringVar(&rootPath, "root-report", "", "Root report JSON file, or - for stdin")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("nonce-id")

	return cmd
}

func newScoreCmd() *cobra.Command {
	var (
		rootPath    string
		verdictPath string
	)

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a root report and a decoded verdict offline",
		Long: `Compute the risk score from saved inputs without contacting the relay.
--verdict accepts either a full decode response or a bare tokenPayloadExternal
object. Either input may be omitted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var root *integrity.RootReport
			if rootPath != "" {
				r, err := (&client.RootReportChecker{Path: rootPath}).Run(cmd.Context())
				if err != nil {
					return err
				}
				root = r
			}
			var verdict *integrity.Verdict
			if verdictPath != "" {
				v, err := loadVerdict(verdictPath)
				if err != nil {
					return err
				}
				verdict = v
			}
			signals, score := risk.Explain(root, verdict)
			return printJSON(map[string]any{"riskScore": score, "signals": signals})
		},
	}

	cmd.Flags().StringVar(&rootPath, "root-report", "", "Root report JSON file")
	cmd.Flags().StringVar(&verdictPath, "verdict", "", "Decoded verdict JSON file")

	return cmd
}

func newStatusCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check that the relay is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := resolveRelayURL(cmd, g.relayURL)
			if err != nil {
				return err
			}
			fmt.Printf("relay=%s\n", url)
			rc, err := client.NewRelayClient(url, g.insecure)
			if err != nil {
				return err
			}
			if err := rc.Health(cmd.Context()); err != nil {
				fmt.Printf("reachable=false\n")
				fmt.Printf("status_error=%v\n", err)
				return nil
			}
			fmt.Printf("reachable=true\n")
			return nil
		},
	}
}

func readToken(v string) (string, error) {
	if v != "-" {
		return v, nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read token from stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func loadVerdict(path string) (*integrity.Verdict, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read verdict: %w", err)
	}
	resp, err := integrity.ParseDecodeResponse(data)
	if err != nil {
		return nil, err
	}
	if v := resp.Verdict(); v != nil {
		return v, nil
	}
	var v integrity.Verdict
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse verdict: %w", err)
	}
	return &v, nil
}
