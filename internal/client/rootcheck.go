package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/aspect-build/veritas/internal/integrity"
)

// RootReportChecker obtains a root report produced by the on-device
// detector, either from a JSON file ("-" for stdin) or from a command that
// prints one.
type RootReportChecker struct {
	Path    string
	Command string
	Args    []string
	Redact  []string
	Stdin   io.Reader
	Stderr  io.Writer // defaults to os.Stderr
}

func (c *RootReportChecker) Run(ctx context.Context) (*integrity.RootReport, error) {
	data, err := c.read(ctx)
	if err != nil {
		return nil, err
	}
	return integrity.ParseRootReport(data)
}

func (c *RootReportChecker) read(ctx context.Context) ([]byte, error) {
	switch {
	case c.Command != "":
		cmd := exec.CommandContext(ctx, c.Command, c.Args...)
		prepareHelper(cmd)
		stderr := c.Stderr
		if stderr == nil {
			stderr = os.Stderr
		}
		diag := NewRedactor(stderr, c.Redact)
		var stdout bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = diag
		err := cmd.Run()
		_ = diag.Close()
		if err != nil {
			return nil, fmt.Errorf("run root check command: %w", err)
		}
		return stdout.Bytes(), nil
	case c.Path == "-":
		in := c.Stdin
		if in == nil {
			in = os.Stdin
		}
		data, err := io.ReadAll(in)
		if err != nil {
			return nil, fmt.Errorf("read root report from stdin: %w", err)
		}
		return data, nil
	case c.Path != "":
		data, err := os.ReadFile(c.Path)
		if err != nil {
			return nil, fmt.Errorf("read root report: %w", err)
		}
		return data, nil
	default:
		return nil, errors.New("no root report source configured")
	}
}
