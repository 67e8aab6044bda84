package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeValues(t *testing.T, lines []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "values.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

// parseField extracts "<field>: <value>" from command output.
func parseField(t *testing.T, out, field string) string {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		if rest, ok := strings.CutPrefix(line, field+": "); ok {
			return strings.TrimSpace(rest)
		}
	}
	t.Fatalf("no %q field in output:\n%s", field, out)
	return ""
}

func TestRunUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.Equal(t, 2, Run([]string{"forestry"}, &stdout, &stderr))
	require.Equal(t, 2, Run([]string{"forestry", "bogus"}, &stdout, &stderr))
	require.True(t, strings.Contains(stderr.String(), "usage:"))
}

func TestRootCommand(t *testing.T) {
	values := writeValues(t, []string{"apple", "banana", "cherry"})

	var stdout, stderr bytes.Buffer
	code := Run([]string{"forestry", "root", "-values", values}, &stdout, &stderr)
	require.Equal(t, 0, code, "stderr: %s", stderr.String())
	require.Equal(t, "3", parseField(t, stdout.String(), "size"))
	require.Len(t, parseField(t, stdout.String(), "root"), 66) // 0x + 64 hex chars
}

func TestProveAndVerify(t *testing.T) {
	values := writeValues(t, []string{"apple", "banana", "cherry"})
	proofPath := filepath.Join(t.TempDir(), "proof.json")

	var stdout, stderr bytes.Buffer
	code := Run([]string{"forestry", "root", "-values", values}, &stdout, &stderr)
	require.Equal(t, 0, code, "stderr: %s", stderr.String())
	root := parseField(t, stdout.String(), "root")

	stdout.Reset()
	stderr.Reset()
	code = Run([]string{"forestry", "prove", "-values", values, "-value", "apple", "-out", proofPath}, &stdout, &stderr)
	require.Equal(t, 0, code, "stderr: %s", stderr.String())

	stdout.Reset()
	stderr.Reset()
	code = Run([]string{"forestry", "verify", "-proof", proofPath, "-value", "apple", "-root", root}, &stdout, &stderr)
	require.Equal(t, 0, code, "stderr: %s", stderr.String())
	require.True(t, strings.Contains(stdout.String(), "matches the trusted root"))

	// A wrong trusted root is reported as a mismatch, not an error.
	stdout.Reset()
	stderr.Reset()
	code = Run([]string{"forestry", "verify", "-proof", proofPath, "-value", "apple",
		"-root", "0x" + strings.Repeat("00", 32)}, &stdout, &stderr)
	require.Equal(t, 1, code)
	require.True(t, strings.Contains(stdout.String(), "does NOT match"))
}

func TestDeletionWitnessAcrossCommands(t *testing.T) {
	all := writeValues(t, []string{"apple", "banana"})
	rest := writeValues(t, []string{"banana"})
	proofPath := filepath.Join(t.TempDir(), "proof.cbor")

	var stdout, stderr bytes.Buffer
	code := Run([]string{"forestry", "root", "-values", rest}, &stdout, &stderr)
	require.Equal(t, 0, code, "stderr: %s", stderr.String())
	reducedRoot := parseField(t, stdout.String(), "root")

	stdout.Reset()
	stderr.Reset()
	code = Run([]string{"forestry", "prove", "-values", all, "-value", "apple",
		"-out", proofPath, "-format", "cbor"}, &stdout, &stderr)
	require.Equal(t, 0, code, "stderr: %s", stderr.String())

	stdout.Reset()
	stderr.Reset()
	code = Run([]string{"forestry", "verify", "-proof", proofPath, "-value", "apple",
		"-root", reducedRoot, "-format", "cbor", "-without"}, &stdout, &stderr)
	require.Equal(t, 0, code, "stderr: %s", stderr.String())
}

func TestRootRespectsMaxValues(t *testing.T) {
	values := writeValues(t, []string{"apple", "banana", "cherry"})
	t.Setenv("FORESTRY_MAX_VALUES", "2")

	var stdout, stderr bytes.Buffer
	code := Run([]string{"forestry", "root", "-values", values}, &stdout, &stderr)
	require.Equal(t, 1, code)
}

func TestProveAbsentValue(t *testing.T) {
	values := writeValues(t, []string{"apple", "banana"})

	var stdout, stderr bytes.Buffer
	code := Run([]string{"forestry", "prove", "-values", values, "-value", "cherry"}, &stdout, &stderr)
	require.Equal(t, 1, code)
}
