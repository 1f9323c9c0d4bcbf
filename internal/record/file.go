package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore keeps records as JSON files under Dir.
type FileStore struct {
	Dir string
}

func (s *FileStore) Put(_ context.Context, d *Deployment) error {
	name := filepath.Join(s.Dir, filepath.FromSlash(recordKey(d.Network, d.Contract)))
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return fmt.Errorf("failed to create records directory: %w", err)
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	tmp := name + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return os.Rename(tmp, name)
}

func (s *FileStore) Get(_ context.Context, network, contract string) (*Deployment, error) {
	name := filepath.Join(s.Dir, filepath.FromSlash(recordKey(network, contract)))
	data, err := os.ReadFile(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s on %s", ErrNotFound, contract, network)
	}
	if err != nil {
		return nil, err
	}
	var d Deployment
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse record %s: %w", name, err)
	}
	return &d, nil
}
