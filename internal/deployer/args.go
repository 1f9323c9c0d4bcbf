package deployer

import (
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var bigIntType = reflect.TypeOf(&big.Int{})

// ParseArgs converts command line strings into the Go values the ABI packer
// expects for inputs.
func ParseArgs(inputs abi.Arguments, raw []string) ([]interface{}, error) {
	if len(inputs) != len(raw) {
		return nil, fmt.Errorf("expected %d arguments, got %d", len(inputs), len(raw))
	}
	values := make([]interface{}, len(raw))
	for i, input := range inputs {
		v, err := parseArg(input.Type, raw[i])
		if err != nil {
			name := input.Name
			if name == "" {
				name = strconv.Itoa(i)
			}
			return nil, fmt.Errorf("argument %s (%s): %w", name, input.Type.String(), err)
		}
		values[i] = v
	}
	return values, nil
}

func parseArg(t abi.Type, s string) (interface{}, error) {
	s = strings.TrimSpace(s)
	switch t.T {
	case abi.AddressTy:
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid address %q", s)
		}
		return common.HexToAddress(s), nil
	case abi.BoolTy:
		return strconv.ParseBool(s)
	case abi.StringTy:
		return s, nil
	case abi.BytesTy:
		return hexutil.Decode(s)
	case abi.FixedBytesTy:
		b, err := hexutil.Decode(s)
		if err != nil {
			return nil, err
		}
		if len(b) != t.Size {
			return nil, fmt.Errorf("expected %d bytes, got %d", t.Size, len(b))
		}
		arr := reflect.New(t.GetType()).Elem()
		reflect.Copy(arr, reflect.ValueOf(b))
		return arr.Interface(), nil
	case abi.IntTy, abi.UintTy:
		return parseInteger(t, s)
	default:
		return nil, fmt.Errorf("unsupported argument type")
	}
}

func parseInteger(t abi.Type, s string) (interface{}, error) {
	n, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	if t.T == abi.UintTy {
		if n.Sign() < 0 || n.BitLen() > t.Size {
			return nil, fmt.Errorf("%s out of range", s)
		}
	} else {
		limit := new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1))
		if n.Cmp(limit) >= 0 || n.Cmp(new(big.Int).Neg(limit)) < 0 {
			return nil, fmt.Errorf("%s out of range", s)
		}
	}
	goType := t.GetType()
	if goType == bigIntType {
		return n, nil
	}
	if t.T == abi.UintTy {
		return reflect.ValueOf(n.Uint64()).Convert(goType).Interface(), nil
	}
	return reflect.ValueOf(n.Int64()).Convert(goType).Interface(), nil
}

// FormatValue renders a decoded ABI value for display.
func FormatValue(v interface{}) string {
	switch x := v.(type) {
	case []byte:
		return hexutil.Encode(x)
	case common.Address:
		return x.Hex()
	case *big.Int:
		return x.String()
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Array && rv.Type().Elem().Kind() == reflect.Uint8 {
		b := make([]byte, rv.Len())
		reflect.Copy(reflect.ValueOf(b), rv)
		return hexutil.Encode(b)
	}
	return fmt.Sprint(v)
}
