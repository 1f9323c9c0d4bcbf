package record

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var ErrNotFound = errors.New("deployment record not found")

// Deployment describes a contract published on a network.
type Deployment struct {
	Contract    string         `json:"contract"`
	Network     string         `json:"network"`
	ChainID     uint64         `json:"chain_id"`
	Address     common.Address `json:"address"`
	TxHash      common.Hash    `json:"tx_hash"`
	BlockNumber uint64         `json:"block_number"`
	Deployer    common.Address `json:"deployer"`
	DeployedAt  time.Time      `json:"deployed_at"`
}

// Store persists the latest deployment of each contract per network.
type Store interface {
	Put(ctx context.Context, d *Deployment) error
	Get(ctx context.Context, network, contract string) (*Deployment, error)
}

// OpenStore returns an S3 store for s3:// locations and a file store otherwise.
func OpenStore(ctx context.Context, location string) (Store, error) {
	if strings.HasPrefix(location, "s3://") {
		return NewS3StoreFromURL(ctx, location)
	}
	return &FileStore{Dir: location}, nil
}

func recordKey(network, contract string) string {
	return path.Join(network, contract+".json")
}
