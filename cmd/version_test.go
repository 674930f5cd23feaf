package cmd

import (
	"bytes"
	"testing"
)

func TestVersionCommandExecution(t *testing.T) {
	originalVersion := rootCmd.Version
	defer func() { rootCmd.Version = originalVersion }()
	rootCmd.Version = "1.2.3-test"

	versionCmd := newVersionCmd()
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, []string{})

	if got, want := buf.String(), "reconcilekit version 1.2.3-test\n"; got != want {
		t.Errorf("Expected output %q, got %q", want, got)
	}
}
