package deployer

import (
	"context"
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/axetrading/evm-deployer/internal/artifact"
	"github.com/axetrading/evm-deployer/internal/compiler"
	"github.com/axetrading/evm-deployer/internal/logging"
)

// LoadArtifact resolves the named contract from src. solidity is the
// configured compiler version, only checked when compiling.
func LoadArtifact(ctx context.Context, src ArtifactSource, name, solidity string, logger *logging.Logger) (*artifact.Artifact, error) {
	switch {
	case src.Source != "":
		solc := &compiler.Solc{Path: src.Solc, Logger: logger}
		a, err := solc.Compile(ctx, solidity, src.Source, name)
		if err != nil {
			return nil, fmt.Errorf("failed to compile %s: %w", src.Source, err)
		}
		return a, nil
	case src.Bundle != "":
		return fetchBundle(ctx, src.Bundle, name)
	default:
		return artifact.Find(src.Dir, name)
	}
}

func fetchBundle(ctx context.Context, bundle, name string) (*artifact.Artifact, error) {
	bucket, key, err := artifact.ParseS3URL(bundle)
	if err != nil {
		return nil, err
	}
	sdkConfig, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	dir, err := os.MkdirTemp("", "artifacts-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)
	if err := artifact.Fetch(ctx, s3.NewFromConfig(sdkConfig), bucket, key, dir); err != nil {
		return nil, fmt.Errorf("failed to fetch artifact bundle: %w", err)
	}
	return artifact.Find(dir, name)
}
