package deployer

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/axetrading/evm-deployer/internal/artifact"
)

var ErrUnknownMethod = errors.New("unknown method")

// Call invokes a read-only method of a deployed contract and returns the
// decoded outputs.
func Call(ctx context.Context, backend bind.ContractCaller, a *artifact.Artifact, address common.Address, method string, raw []string) ([]interface{}, error) {
	m, ok := a.ABI.Methods[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownMethod, a.ContractName, method)
	}
	args, err := ParseArgs(m.Inputs, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid arguments for %s: %w", method, err)
	}
	contract := bind.NewBoundContract(address, a.ABI, backend, nil, nil)
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("failed to call %s.%s at %s: %w", a.ContractName, method, address.Hex(), err)
	}
	return out, nil
}
