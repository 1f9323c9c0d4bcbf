package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/axetrading/evm-deployer/internal/artifact"
	"github.com/axetrading/evm-deployer/internal/logging"
)

var (
	ErrVersionMismatch = errors.New("solc version mismatch")
	ErrNoContract      = errors.New("contract not in compiler output")
)

var versionPattern = regexp.MustCompile(`(\d+\.\d+\.\d+)`)

// Solc runs a solc binary found on PATH (or at an explicit path).
type Solc struct {
	Path   string
	Logger *logging.Logger
}

func (s *Solc) binary() string {
	if s.Path == "" {
		return "solc"
	}
	return s.Path
}

// Version returns the x.y.z version of the installed compiler.
func (s *Solc) Version(ctx context.Context) (string, error) {
	out, err := s.run(ctx, "--version")
	if err != nil {
		return "", err
	}
	return parseVersion(out)
}

func parseVersion(out []byte) (string, error) {
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.HasPrefix(line, "Version:") {
			continue
		}
		if m := versionPattern.FindString(line); m != "" {
			return m, nil
		}
	}
	return "", fmt.Errorf("failed to parse solc version from %q", strings.TrimSpace(string(out)))
}

// Compile builds source with the configured compiler version and returns the
// artifact of the named contract.
func (s *Solc) Compile(ctx context.Context, want, source, name string) (*artifact.Artifact, error) {
	have, err := s.Version(ctx)
	if err != nil {
		return nil, err
	}
	if want != "" && have != want {
		return nil, fmt.Errorf("%w: configured %s, installed %s", ErrVersionMismatch, want, have)
	}
	out, err := s.run(ctx, "--combined-json", "abi,bin", source)
	if err != nil {
		return nil, err
	}
	return selectContract(out, source, name)
}

type combinedOutput struct {
	Contracts map[string]struct {
		ABI json.RawMessage `json:"abi"`
		Bin string          `json:"bin"`
	} `json:"contracts"`
}

func selectContract(out []byte, source, name string) (*artifact.Artifact, error) {
	var combined combinedOutput
	if err := json.Unmarshal(out, &combined); err != nil {
		return nil, fmt.Errorf("failed to parse solc output: %w", err)
	}
	for id, c := range combined.Contracts {
		file, contract, ok := strings.Cut(id, ":")
		if !ok || contract != name {
			continue
		}
		if filepath.Clean(file) != filepath.Clean(source) && !strings.HasSuffix(file, filepath.Base(source)) {
			continue
		}
		abiJSON := []byte(c.ABI)
		// solc before 0.8.10 emits the abi as a JSON encoded string
		var encoded string
		if err := json.Unmarshal(c.ABI, &encoded); err == nil {
			abiJSON = []byte(encoded)
		}
		return artifact.New(name, abiJSON, c.Bin)
	}
	return nil, fmt.Errorf("%w: %s in %s", ErrNoContract, name, source)
}

func (s *Solc) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, s.binary(), args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.Debug("running command", "command", s.binary()+" "+strings.Join(args, " "))
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start solc: %w", err)
	}
	var diagnostics []string
	for result := range streamLineGroups(stderr) {
		if result.err != nil {
			break
		}
		for _, line := range result.lines {
			diagnostics = append(diagnostics, line)
			if s.Logger != nil {
				s.Logger.Warn("solc", "line", line)
			}
		}
	}
	if err := cmd.Wait(); err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			return nil, fmt.Errorf("solc exited with status %d: %s", exitError.ExitCode(), strings.Join(diagnostics, "\n"))
		}
		return nil, fmt.Errorf("failed to wait for solc: %w", err)
	}
	return stdout.Bytes(), nil
}
