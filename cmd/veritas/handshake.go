package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aspect-build/veritas/internal/client"
	"github.com/aspect-build/veritas/internal/handshake"
	"github.com/aspect-build/veritas/internal/integrity"
	"github.com/aspect-build/veritas/internal/logx"
	"github.com/aspect-build/veritas/internal/risk"
)

type handshakeSummary struct {
	Phase         string                `json:"phase"`
	NonceID       string                `json:"nonceId,omitempty"`
	TokenLength   int                   `json:"tokenLength,omitempty"`
	Root          *integrity.RootReport `json:"root,omitempty"`
	Verdict       *integrity.Verdict    `json:"verdict,omitempty"`
	RiskScore     *int                  `json:"riskScore,omitempty"`
	Signals       []risk.Signal         `json:"signals,omitempty"`
	RootError     string                `json:"rootError,omitempty"`
	HandshakeErr  string                `json:"handshakeError,omitempty"`
	HandshakeKind string                `json:"handshakeErrorKind,omitempty"`
}

func summarize(st handshake.State) handshakeSummary {
	out := handshakeSummary{
		Phase:       st.Phase.String(),
		TokenLength: len(st.Token),
		Root:        st.Root,
		Verdict:     st.Verdict,
		RiskScore:   st.Score,
		Signals:     st.Signals,
	}
	if st.Nonce != nil {
		out.NonceID = st.Nonce.ID
	}
	if st.RootErr != nil {
		out.RootError = st.RootErr.Error()
	}
	if st.HandshakeErr != nil {
		out.HandshakeErr = st.HandshakeErr.Error()
		out.HandshakeKind = string(handshake.KindOf(st.HandshakeErr))
	}
	return out
}

func parseProjectNumber(v string) (int64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid cloud project number %q", v)
	}
	return n, nil
}

// newRootChecker picks the root report source. It returns a nil checker when
// neither flag is set, so root checks are skipped.
func newRootChecker(command, reportPath string, redact []string) (handshake.RootChecker, error) {
	switch {
	case command != "":
		fields := strings.Fields(command)
		if len(fields) == 0 {
			return nil, errors.New("--root-command is blank")
		}
		return &client.RootReportChecker{Command: fields[0], Args: fields[1:], Redact: redact}, nil
	case reportPath != "":
		return &client.RootReportChecker{Path: reportPath}, nil
	default:
		return nil, nil
	}
}

func newHandshakeCmd(g *globalOpts) *cobra.Command {
	var (
		packageName   string
		projectNumber string
		emulatorURL   string
		profile       string
		rootReport    string
		rootCommand   string
		timeout       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "handshake [flags] [-- <attestation command> [args...]]",
		Short: "Run root checks and an attestation handshake, then print the risk score",
		Long: `Request a nonce from the relay, obtain an integrity token bound to it, and
decode the token through the relay. Root checks run concurrently when a root
report source is given.

The token comes from the attestation command after "--", which receives
VERITAS_NONCE, VERITAS_PACKAGE_NAME and VERITAS_CLOUD_PROJECT_NUMBER in its
environment and prints the token on stdout, or from a development emulator
with --emulator.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := newRelayClient(cmd, g)
			if err != nil {
				return err
			}
			pn, err := parseProjectNumber(stringFlagOrEnv(cmd, "cloud-project-number", projectNumber, client.EnvCloudProjectNumber))
			if err != nil {
				return err
			}

			var tokens handshake.TokenProvider
			switch {
			case emulatorURL != "" && len(args) > 0:
				return errors.New("use either --emulator or an attestation command, not both")
			case emulatorURL != "":
				tokens = &client.EmulatorTokenProvider{BaseURL: emulatorURL, Profile: profile}
			case len(args) > 0:
				tokens = &client.CommandTokenProvider{Command: args[0], Args: args[1:], Redact: g.redact}
			default:
				return errors.New("no token source: pass an attestation command after -- or use --emulator")
			}

			roots, err := newRootChecker(rootCommand, rootReport, g.redact)
			if err != nil {
				return err
			}

			orch := &handshake.Orchestrator{
				Nonces:             rc,
				Tokens:             tokens,
				Decoder:            rc,
				PackageName:        stringFlagOrEnv(cmd, "package", packageName, client.EnvPackageName),
				CloudProjectNumber: pn,
			}

			last := handshake.PhaseIdle
			sess := handshake.NewSession(orch, roots, func(st handshake.State) {
				if st.Phase != last {
					logx.Infof("handshake phase: %s", st.Phase)
					last = st.Phase
				}
			})
			defer sess.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			// Plain Group: a failed root check must not cancel the handshake.
			var eg errgroup.Group
			if roots != nil {
				eg.Go(func() error { return sess.RunRootChecks(ctx) })
			}
			eg.Go(func() error { return sess.RequestIntegrity(ctx) })
			runErr := eg.Wait()

			if err := printJSON(summarize(sess.State())); err != nil {
				return err
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&packageName, "package", "", "Application package name (or VERITAS_PACKAGE_NAME)")
	cmd.Flags().StringVar(&projectNumber, "cloud-project-number", "", "Cloud project number (or VERITAS_CLOUD_PROJECT_NUMBER)")
	cmd.Flags().StringVar(&emulatorURL, "emulator", "", "Development emulator URL to obtain tokens from")
	cmd.Flags().StringVar(&profile, "profile", "genuine", "Emulator device profile: genuine|rooted|basic")
	cmd.Flags().StringVar(&rootReport, "root-report", "", "Root report JSON file, or - for stdin")
	cmd.Flags().StringVar(&rootCommand, "root-command", "", "Command that prints a root report")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Overall handshake timeout")

	return cmd
}
