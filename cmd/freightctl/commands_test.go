package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"freightflow/domain"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_ADDR", "")
	var out bytes.Buffer
	root := newRootCmd(&out)
	root.SetArgs(append(args, "--config", ""))
	err := root.Execute()
	return out.String(), err
}

func TestMigrateRequiresDSN(t *testing.T) {
	if _, err := runCLI(t, "migrate"); !errors.Is(err, errNoDSN) {
		t.Fatalf("expected errNoDSN, got %v", err)
	}
}

func TestSweepAndRelayOnEmptyStore(t *testing.T) {
	out, err := runCLI(t, "sweep-quotes")
	if err != nil || !strings.Contains(out, "expired 0 quotes") {
		t.Fatalf("sweep-quotes: %q, %v", out, err)
	}
	out, err = runCLI(t, "relay-once")
	if err != nil || !strings.Contains(out, "published 0 events") {
		t.Fatalf("relay-once: %q, %v", out, err)
	}
}

func TestVerifyAgentUnknownUser(t *testing.T) {
	if _, err := runCLI(t, "verify-agent", "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
