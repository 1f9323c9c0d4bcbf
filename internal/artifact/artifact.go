package artifact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	ErrNotFound      = errors.New("artifact not found")
	ErrEmptyBytecode = errors.New("artifact has no bytecode")
)

// Artifact is a compiled contract ready to be deployed.
type Artifact struct {
	ContractName string
	ABI          abi.ABI
	Bytecode     []byte
}

// hardhatArtifact mirrors the hh-sol-artifact-1 JSON layout.
type hardhatArtifact struct {
	ContractName string          `json:"contractName"`
	SourceName   string          `json:"sourceName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     string          `json:"bytecode"`
}

// New builds an artifact from a JSON ABI and hex bytecode.
func New(name string, abiJSON []byte, bytecode string) (*Artifact, error) {
	parsed, err := abi.JSON(bytes.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse abi of %s: %w", name, err)
	}
	bytecode = strings.TrimSpace(bytecode)
	if !strings.HasPrefix(bytecode, "0x") {
		bytecode = "0x" + bytecode
	}
	if bytecode == "0x" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyBytecode, name)
	}
	code, err := hexutil.Decode(bytecode)
	if err != nil {
		// unlinked libraries leave __$...$__ placeholders in the hex
		return nil, fmt.Errorf("failed to decode bytecode of %s: %w", name, err)
	}
	return &Artifact{ContractName: name, ABI: parsed, Bytecode: code}, nil
}

// FromFile parses a hardhat artifact JSON file.
func FromFile(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw hardhatArtifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse artifact %s: %w", path, err)
	}
	if raw.ContractName == "" {
		raw.ContractName = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	return New(raw.ContractName, raw.ABI, raw.Bytecode)
}

// Find walks an artifacts directory for the artifact of the named contract.
func Find(dir, name string) (*Artifact, error) {
	var found string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "build-info" {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == name+".json" {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search artifacts in %s: %w", dir, err)
	}
	if found == "" {
		return nil, fmt.Errorf("%w: %s in %s", ErrNotFound, name, dir)
	}
	return FromFile(found)
}
