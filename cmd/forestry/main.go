// Command forestry builds authenticated sets from value lists and produces
// and checks proofs of inclusion against them.
package main

import (
	"bufio"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"forestry/config"
	"forestry/forest"
	"forestry/logging"
	"forestry/metrics"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split out for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}
	switch args[1] {
	case "root":
		return runRoot(args[2:], stdout, stderr)
	case "prove":
		return runProve(args[2:], stdout, stderr)
	case "verify":
		return runVerify(args[2:], stdout, stderr)
	default:
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: forestry <root|prove|verify> [flags]")
	fmt.Fprintln(w, "  root    build a tree from a values file and print its root hash")
	fmt.Fprintln(w, "  prove   extract a proof of inclusion for one value")
	fmt.Fprintln(w, "  verify  recompute a root from a proof and compare it to a trusted one")
}

// session bundles the pieces every subcommand needs.
type session struct {
	cfg     *config.Config
	log     *slog.Logger
	counter *metrics.Metrics
}

func newSession(configPath string) (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(&cfg.Logging)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, log: log, counter: metrics.New()}, nil
}

func runRoot(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("root", flag.ContinueOnError)
	fs.SetOutput(stderr)
	valuesPath := fs.String("values", "", "file with one value per line")
	hexValues := fs.Bool("hex", false, "treat values as hex encoded")
	configPath := fs.String("config", "", "YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	s, err := newSession(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	values, err := readValues(*valuesPath, *hexValues, s.cfg.Build.MaxValues)
	if err != nil {
		s.log.Error("failed to read values", "err", err)
		return 1
	}

	start := time.Now()
	tree, err := forest.FromList(values)
	if err != nil {
		s.log.Error("failed to build tree", "err", err)
		return 1
	}
	s.counter.RecordBuild()
	s.counter.RecordLatency(time.Since(start))
	s.log.Info("built tree", "size", tree.Size(), "duration", time.Since(start))

	fmt.Fprintf(stdout, "root: %s\n", tree.Hash().Hex())
	fmt.Fprintf(stdout, "size: %d\n", tree.Size())
	return 0
}

func runProve(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("prove", flag.ContinueOnError)
	fs.SetOutput(stderr)
	valuesPath := fs.String("values", "", "file with one value per line")
	value := fs.String("value", "", "value to prove")
	hexValues := fs.Bool("hex", false, "treat values as hex encoded")
	outPath := fs.String("out", "", "proof output file (default stdout)")
	format := fs.String("format", "json", "proof format: json or cbor")
	configPath := fs.String("config", "", "YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	s, err := newSession(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	values, err := readValues(*valuesPath, *hexValues, s.cfg.Build.MaxValues)
	if err != nil {
		s.log.Error("failed to read values", "err", err)
		return 1
	}
	target, err := decodeValue(*value, *hexValues)
	if err != nil {
		s.log.Error("failed to decode value", "err", err)
		return 1
	}

	tree, err := forest.FromList(values)
	if err != nil {
		s.log.Error("failed to build tree", "err", err)
		return 1
	}
	s.counter.RecordBuild()

	s.counter.RecordProofRequest()
	proof, err := tree.Prove(target)
	if err != nil {
		s.counter.RecordProofFailure()
		s.log.Error("failed to prove value", "err", err)
		return 1
	}

	var encoded []byte
	switch *format {
	case "json":
		encoded, err = proof.Serialize()
	case "cbor":
		encoded, err = proof.SerializeCBOR()
	default:
		s.log.Error("unknown proof format", "format", *format)
		return 2
	}
	if err != nil {
		s.log.Error("failed to serialize proof", "err", err)
		return 1
	}

	if *outPath == "" {
		fmt.Fprintf(stdout, "%s\n", encoded)
	} else if err := os.WriteFile(*outPath, encoded, 0o644); err != nil {
		s.log.Error("failed to write proof", "err", err)
		return 1
	}
	s.log.Info("proof extracted", "steps", len(proof.Steps()), "root", tree.Hash().Hex())
	return 0
}

func runVerify(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	proofPath := fs.String("proof", "", "proof file")
	value := fs.String("value", "", "value the proof is about")
	hexValue := fs.Bool("hex", false, "treat the value as hex encoded")
	rootHex := fs.String("root", "", "trusted root hash, hex")
	format := fs.String("format", "json", "proof format: json or cbor")
	without := fs.Bool("without", false, "recompute the root without the element (deletion witness)")
	configPath := fs.String("config", "", "YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	s, err := newSession(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	target, err := decodeValue(*value, *hexValue)
	if err != nil {
		s.log.Error("failed to decode value", "err", err)
		return 1
	}
	data, err := os.ReadFile(*proofPath)
	if err != nil {
		s.log.Error("failed to read proof", "err", err)
		return 1
	}

	var proof *forest.Proof
	switch *format {
	case "json":
		proof, err = forest.DeserializeProof(target, data)
	case "cbor":
		proof, err = forest.DeserializeProofCBOR(target, data)
	default:
		s.log.Error("unknown proof format", "format", *format)
		return 2
	}
	if err != nil {
		s.log.Error("failed to decode proof", "err", err)
		return 1
	}

	s.counter.RecordVerification()
	candidate, err := proof.Verify(!*without)
	if err != nil {
		s.log.Error("failed to verify proof", "err", err)
		return 1
	}

	trusted := common.HexToHash(*rootHex)
	fmt.Fprintf(stdout, "candidate: %s\n", candidate.Hex())
	if candidate != trusted {
		fmt.Fprintln(stdout, "proof does NOT match the trusted root")
		return 1
	}
	fmt.Fprintln(stdout, "proof matches the trusted root")
	return 0
}

// readValues reads one value per line from path. Empty lines are skipped.
// A positive limit bounds the number of accepted values.
func readValues(path string, hexEncoded bool, limit int) ([][]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("missing -values file")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var values [][]byte
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		v, err := decodeValue(line, hexEncoded)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		if limit > 0 && len(values) > limit {
			return nil, fmt.Errorf("too many values: limit is %d", limit)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func decodeValue(s string, hexEncoded bool) ([]byte, error) {
	if !hexEncoded {
		return []byte(s), nil
	}
	return hex.DecodeString(s)
}
