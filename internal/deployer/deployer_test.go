package deployer

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axetrading/evm-deployer/internal/artifact"
	"github.com/axetrading/evm-deployer/internal/config"
	"github.com/axetrading/evm-deployer/internal/logging"
	"github.com/axetrading/evm-deployer/internal/record"
)

const artifactsDir = "testdata/artifacts"

// simulatedChainID is the chain id of the go-ethereum simulated backend.
const simulatedChainID = 1337

func newSimulated(t *testing.T) (*simulated.Backend, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	funds := new(big.Int).Mul(big.NewInt(100), big.NewInt(params.Ether))
	sim := simulated.NewBackend(types.GenesisAlloc{
		crypto.PubkeyToAddress(key.PublicKey): {Balance: funds},
	})
	t.Cleanup(func() { _ = sim.Close() })
	return sim, key
}

// autoCommit mines a block every few milliseconds until the test ends.
func autoCommit(t *testing.T, sim *simulated.Backend) {
	t.Helper()
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				sim.Commit()
			}
		}
	}()
	t.Cleanup(func() {
		close(stop)
		wg.Wait()
	})
}

func loadTestArtifact(t *testing.T) *artifact.Artifact {
	t.Helper()
	a, err := artifact.Find(artifactsDir, DefaultContract)
	require.NoError(t, err)
	return a
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestDeploy(t *testing.T) {
	sim, key := newSimulated(t)
	autoCommit(t, sim)
	ctx := testContext(t)

	result, err := Deploy(ctx, sim.Client(), key, loadTestArtifact(t))
	require.NoError(t, err)

	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), result.From)
	assert.Equal(t, crypto.CreateAddress(result.From, 0), result.Address)
	assert.Equal(t, int64(simulatedChainID), result.ChainID.Int64())
	assert.Equal(t, types.ReceiptStatusSuccessful, result.Receipt.Status)

	code, err := sim.Client().CodeAt(ctx, result.Address, nil)
	require.NoError(t, err)
	assert.Equal(t, "0x602a60005260206000f3", hexutil.Encode(code))
}

func TestDeploy_RevertingConstructor(t *testing.T) {
	sim, key := newSimulated(t)
	autoCommit(t, sim)

	// PUSH1 0 PUSH1 0 REVERT
	reverting, err := artifact.New("Reverting", []byte("[]"), "0x60006000fd")
	require.NoError(t, err)

	_, err = Deploy(testContext(t), sim.Client(), key, reverting)
	require.Error(t, err)
}

func TestDeploy_EmptyRuntimeCode(t *testing.T) {
	sim, key := newSimulated(t)
	autoCommit(t, sim)

	// STOP: the creation succeeds but leaves no code behind
	empty, err := artifact.New("Empty", []byte("[]"), "0x00")
	require.NoError(t, err)

	_, err = Deploy(testContext(t), sim.Client(), key, empty)
	assert.True(t, errors.Is(err, ErrNoCode))
}

func TestCall(t *testing.T) {
	sim, key := newSimulated(t)
	autoCommit(t, sim)
	ctx := testContext(t)
	a := loadTestArtifact(t)

	result, err := Deploy(ctx, sim.Client(), key, a)
	require.NoError(t, err)

	out, err := Call(ctx, sim.Client(), a, result.Address, "answer", nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "42", FormatValue(out[0]))

	out, err = Call(ctx, sim.Client(), a, result.Address, "secret", []string{"7"})
	require.NoError(t, err)
	assert.Equal(t, "42", FormatValue(out[0]))

	_, err = Call(ctx, sim.Client(), a, result.Address, "ownerOf", []string{"7"})
	assert.True(t, errors.Is(err, ErrUnknownMethod))

	_, err = Call(ctx, sim.Client(), a, result.Address, "secret", nil)
	require.Error(t, err)

	_, err = Call(ctx, sim.Client(), a, common.HexToAddress("0x000000000000000000000000000000000000dEaD"), "answer", nil)
	require.Error(t, err)
}

func testDeployer(t *testing.T, sim *simulated.Backend, key *ecdsa.PrivateKey, chainID uint64, inputs *Inputs) *deployer {
	t.Helper()
	cfg := &config.Config{Solidity: config.DefaultSolidity, DefaultNetwork: "hardhat"}
	d := createDeployer(inputs, cfg, logging.Nop())
	d.network = config.Network{
		Name:     "hardhat",
		ChainID:  chainID,
		Accounts: []string{hexutil.Encode(crypto.FromECDSA(key))},
	}
	d.backend = sim.Client()
	d.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return d
}

func TestExecute_RecordsAndReports(t *testing.T) {
	sim, key := newSimulated(t)
	autoCommit(t, sim)
	ctx := testContext(t)

	reported := make(chan record.Deployment, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var d record.Deployment
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		reported <- d
	}))
	defer srv.Close()

	records := t.TempDir()
	d := testDeployer(t, sim, key, simulatedChainID, &Inputs{
		ArtifactSource: ArtifactSource{Dir: artifactsDir},
		Contract:       DefaultContract,
		Records:        records,
		ReportURL:      srv.URL,
	})

	var out bytes.Buffer
	require.NoError(t, d.execute(ctx, &out))

	stored, err := (&record.FileStore{Dir: records}).Get(ctx, "hardhat", DefaultContract)
	require.NoError(t, err)
	assert.Equal(t, stored.Address.Hex()+"\n", out.String())

	deployment := stored
	assert.Equal(t, "hardhat", deployment.Network)
	assert.Equal(t, uint64(simulatedChainID), deployment.ChainID)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), deployment.Deployer)
	assert.NotZero(t, deployment.BlockNumber)
	assert.NotEqual(t, common.Hash{}, deployment.TxHash)

	select {
	case got := <-reported:
		assert.Equal(t, deployment.Address, got.Address)
	default:
		t.Fatal("deployment was not reported")
	}
}

// signalWriter reports the first write on a channel.
type signalWriter struct {
	written chan string
}

func (w *signalWriter) Write(p []byte) (int, error) {
	select {
	case w.written <- string(p):
	default:
	}
	return len(p), nil
}

func TestExecute_FailingWebhookDoesNotHoldBackAddress(t *testing.T) {
	sim, key := newSimulated(t)
	autoCommit(t, sim)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := testDeployer(t, sim, key, simulatedChainID, &Inputs{
		ArtifactSource: ArtifactSource{Dir: artifactsDir},
		Contract:       DefaultContract,
		ReportURL:      srv.URL,
		ReportAttempts: 1000,
	})
	d.publishTimeout = time.Second

	// the deployment context outlives the publish deadline by far
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	out := &signalWriter{written: make(chan string, 1)}
	done := make(chan error, 1)
	start := time.Now()
	go func() { done <- d.execute(ctx, out) }()

	select {
	case addr := <-out.written:
		assert.True(t, common.IsHexAddress(strings.TrimSpace(addr)))
	case <-time.After(20 * time.Second):
		t.Fatal("address was not printed")
	}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(20 * time.Second):
		t.Fatal("execute did not return after the publish deadline")
	}
	assert.Less(t, time.Since(start), 20*time.Second)
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}

func TestExecute_ReportAttemptsDefaultBoundsRetries(t *testing.T) {
	sim, key := newSimulated(t)
	autoCommit(t, sim)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := testDeployer(t, sim, key, simulatedChainID, &Inputs{
		ArtifactSource: ArtifactSource{Dir: artifactsDir},
		Contract:       DefaultContract,
		ReportURL:      srv.URL,
	})

	var out bytes.Buffer
	require.NoError(t, d.execute(testContext(t), &out))
	assert.NotEmpty(t, out.String())
	assert.Equal(t, int32(DefaultReportAttempts), calls.Load())
}

func TestRun_ChainMismatch(t *testing.T) {
	sim, key := newSimulated(t)
	d := testDeployer(t, sim, key, 31337, &Inputs{
		ArtifactSource: ArtifactSource{Dir: artifactsDir},
		Contract:       DefaultContract,
	})
	_, err := d.run(testContext(t))
	assert.True(t, errors.Is(err, ErrChainMismatch))
}

func TestRun_ConstructorArgumentsChecked(t *testing.T) {
	sim, key := newSimulated(t)
	d := testDeployer(t, sim, key, simulatedChainID, &Inputs{
		ArtifactSource: ArtifactSource{Dir: artifactsDir},
		Contract:       DefaultContract,
		Args:           []string{"unexpected"},
	})
	_, err := d.run(testContext(t))
	require.Error(t, err)
}

func TestRun_MissingArtifact(t *testing.T) {
	sim, key := newSimulated(t)
	d := testDeployer(t, sim, key, simulatedChainID, &Inputs{
		ArtifactSource: ArtifactSource{Dir: artifactsDir},
		Contract:       "Nope",
	})
	_, err := d.run(testContext(t))
	assert.True(t, errors.Is(err, artifact.ErrNotFound))
}

func TestMain_MalformedKeyPrintsNothing(t *testing.T) {
	cfg := &config.Config{
		Solidity:       config.DefaultSolidity,
		DefaultNetwork: "sepolia",
		Networks: map[string]config.Network{
			"sepolia": {URL: "http://127.0.0.1:1", ChainID: 11155111, Accounts: []string{"0xnot-a-key"}},
		},
	}
	var out bytes.Buffer
	err := Main(testContext(t), &Inputs{
		ArtifactSource: ArtifactSource{Dir: artifactsDir},
		Contract:       DefaultContract,
	}, cfg, logging.Nop(), &out)
	require.Error(t, err)
	assert.Empty(t, out.String())
}

func TestMain_RejectsInvalidInputs(t *testing.T) {
	cfg := &config.Config{DefaultNetwork: "sepolia", Networks: map[string]config.Network{}}
	var out bytes.Buffer

	err := Main(context.Background(), &Inputs{ArtifactSource: ArtifactSource{Dir: artifactsDir}}, cfg, logging.Nop(), &out)
	require.Error(t, err)

	err = Main(context.Background(), &Inputs{
		ArtifactSource: ArtifactSource{Dir: artifactsDir},
		Contract:       DefaultContract,
		Network:        "mainnet",
	}, cfg, logging.Nop(), &out)
	assert.True(t, errors.Is(err, config.ErrUnknownNetwork))
	assert.Empty(t, out.String())
}
