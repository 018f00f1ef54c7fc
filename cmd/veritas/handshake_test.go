package main

import (
	"strings"
	"testing"

	"github.com/aspect-build/veritas/internal/client"
)

func TestNewRootChecker(t *testing.T) {
	for _, blank := range []string{" ", "\t\n"} {
		if _, err := newRootChecker(blank, "", nil); err == nil || !strings.Contains(err.Error(), "blank") {
			t.Errorf("newRootChecker(%q) err = %v, want blank-command error", blank, err)
		}
	}

	roots, err := newRootChecker("", "", nil)
	if err != nil || roots != nil {
		t.Fatalf("no source = %v, %v; want nil checker", roots, err)
	}

	roots, err = newRootChecker("adb shell  rootcheck --json", "report.json", []string{"secret-value"})
	if err != nil {
		t.Fatal(err)
	}
	c, ok := roots.(*client.RootReportChecker)
	if !ok {
		t.Fatalf("checker type = %T", roots)
	}
	if c.Command != "adb" || strings.Join(c.Args, " ") != "shell rootcheck --json" || c.Path != "" {
		t.Errorf("command checker = %+v", c)
	}
	if len(c.Redact) != 1 {
		t.Errorf("redact values not passed: %v", c.Redact)
	}

	roots, err = newRootChecker("", "report.json", nil)
	if err != nil {
		t.Fatal(err)
	}
	if c := roots.(*client.RootReportChecker); c.Path != "report.json" {
		t.Errorf("path checker = %+v", c)
	}
}

func TestParseProjectNumber(t *testing.T) {
	if n, err := parseProjectNumber(" 123456789 "); err != nil || n != 123456789 {
		t.Errorf("parseProjectNumber = %d, %v", n, err)
	}
	if n, err := parseProjectNumber(""); err != nil || n != 0 {
		t.Errorf("empty = %d, %v", n, err)
	}
	for _, bad := range []string{"-1", "abc"} {
		if _, err := parseProjectNumber(bad); err == nil {
			t.Errorf("parseProjectNumber(%q) accepted", bad)
		}
	}
}
