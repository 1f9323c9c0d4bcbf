package deployer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/axetrading/evm-deployer/internal/artifact"
	"github.com/axetrading/evm-deployer/internal/config"
	"github.com/axetrading/evm-deployer/internal/logging"
	"github.com/axetrading/evm-deployer/internal/record"
	"github.com/axetrading/evm-deployer/internal/report"
)

// publishTimeout bounds recording and reporting once the contract is on chain.
const publishTimeout = 30 * time.Second

// DefaultReportAttempts bounds webhook retries when inputs leave it unset.
const DefaultReportAttempts = 5

var (
	ErrChainMismatch    = errors.New("chain id mismatch")
	ErrDeploymentFailed = errors.New("deployment transaction reverted")
	ErrNoCode           = errors.New("no code at deployed address")
)

// Backend is what a deployment needs from a node. Both *ethclient.Client and
// the simulated backend's client satisfy it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
}

// Result is the outcome of a mined deployment transaction.
type Result struct {
	Address common.Address
	From    common.Address
	ChainID *big.Int
	Tx      *types.Transaction
	Receipt *types.Receipt
}

type deployer struct {
	inputs  *Inputs
	cfg     *config.Config
	logger  *logging.Logger
	network config.Network
	backend Backend
	now     func() time.Time

	publishTimeout time.Duration
}

func createDeployer(inputs *Inputs, cfg *config.Config, logger *logging.Logger) *deployer {
	return &deployer{
		inputs: inputs,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,

		publishTimeout: publishTimeout,
	}
}

// Main deploys the contract described by inputs and writes its address to out.
func Main(ctx context.Context, inputs *Inputs, cfg *config.Config, logger *logging.Logger, out io.Writer) error {
	if err := inputs.Validate(); err != nil {
		return err
	}
	d := createDeployer(inputs, cfg, logger)

	network, err := cfg.Network(inputs.Network)
	if err != nil {
		return err
	}
	d.network = network

	if inputs.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inputs.Timeout)
		defer cancel()
	}

	client, err := ethclient.DialContext(ctx, network.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", network.Name, err)
	}
	defer client.Close()
	d.backend = client

	return d.execute(ctx, out)
}

// execute deploys, prints the address and only then records and reports, so
// a slow record store or webhook never holds back the address.
func (d *deployer) execute(ctx context.Context, out io.Writer) error {
	deployment, err := d.run(ctx)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(out, deployment.Address.Hex()); err != nil {
		return err
	}
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.publishTimeout)
	defer cancel()
	d.publish(publishCtx, deployment)
	return nil
}

func (d *deployer) run(ctx context.Context) (*record.Deployment, error) {
	key, err := d.network.PrivateKey()
	if err != nil {
		return nil, err
	}
	a, err := LoadArtifact(ctx, d.inputs.ArtifactSource, d.inputs.Contract, d.cfg.Solidity, d.logger)
	if err != nil {
		return nil, err
	}
	args, err := ParseArgs(a.ABI.Constructor.Inputs, d.inputs.Args)
	if err != nil {
		return nil, fmt.Errorf("invalid constructor arguments: %w", err)
	}
	if err := d.checkChain(ctx); err != nil {
		return nil, err
	}

	d.logger.Info("deploying contract",
		"contract", a.ContractName,
		"network", d.network.Name,
		"deployer", crypto.PubkeyToAddress(key.PublicKey).Hex(),
	)
	result, err := Deploy(ctx, d.backend, key, a, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to deploy %s: %w", a.ContractName, err)
	}
	deployment := &record.Deployment{
		Contract:    a.ContractName,
		Network:     d.network.Name,
		ChainID:     result.ChainID.Uint64(),
		Address:     result.Address,
		TxHash:      result.Tx.Hash(),
		BlockNumber: result.Receipt.BlockNumber.Uint64(),
		Deployer:    result.From,
		DeployedAt:  d.now().UTC(),
	}
	d.logger.Info("contract deployed",
		"contract", deployment.Contract,
		"address", deployment.Address.Hex(),
		"tx", deployment.TxHash.Hex(),
		"block", deployment.BlockNumber,
		"gas_used", result.Receipt.GasUsed,
	)
	return deployment, nil
}

// checkChain guards against an RPC url pointing at a different chain than
// the network it is configured under.
func (d *deployer) checkChain(ctx context.Context) error {
	if d.network.ChainID == 0 {
		return nil
	}
	chainID, err := d.backend.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to query chain id: %w", err)
	}
	if !chainID.IsUint64() || chainID.Uint64() != d.network.ChainID {
		return fmt.Errorf("%w: network %s expects %d, node reports %s", ErrChainMismatch, d.network.Name, d.network.ChainID, chainID)
	}
	return nil
}

// publish records and reports a completed deployment. The contract already
// exists on chain at this point so failures are only logged.
func (d *deployer) publish(ctx context.Context, deployment *record.Deployment) {
	if d.inputs.Records != "" {
		store, err := record.OpenStore(ctx, d.inputs.Records)
		if err == nil {
			err = store.Put(ctx, deployment)
		}
		if err != nil {
			d.logger.Warn("failed to record deployment", "location", d.inputs.Records, "error", err)
		}
	}
	if d.inputs.ReportURL != "" {
		attempts := d.inputs.ReportAttempts
		if attempts <= 0 {
			attempts = DefaultReportAttempts
		}
		reporter := &report.Reporter{URL: d.inputs.ReportURL, Logger: d.logger, MaxAttempts: attempts}
		if err := reporter.Send(ctx, deployment); err != nil {
			d.logger.Warn("failed to report deployment", "url", d.inputs.ReportURL, "error", err)
		}
	}
}

// Deploy signs and sends the creation transaction for a, waits until it is
// mined and verifies that code landed at the new address.
func Deploy(ctx context.Context, backend Backend, key *ecdsa.PrivateKey, a *artifact.Artifact, args ...interface{}) (*Result, error) {
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query chain id: %w", err)
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, err
	}
	auth.Context = ctx

	address, tx, _, err := bind.DeployContract(auth, a.ABI, a.Bytecode, backend, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to send deployment transaction: %w", err)
	}
	receipt, err := bind.WaitMined(ctx, backend, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for transaction %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: %s", ErrDeploymentFailed, tx.Hash().Hex())
	}
	code, err := backend.CodeAt(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read deployed code: %w", err)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoCode, address.Hex())
	}
	return &Result{
		Address: address,
		From:    auth.From,
		ChainID: chainID,
		Tx:      tx,
		Receipt: receipt,
	}, nil
}
