package framework

import (
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
)

var (
	errArgumentCount   = errors.New("constructor argument count mismatch")
	errInvalidAddress  = errors.New("invalid address")
	errUnsupportedType = errors.New("unsupported constructor argument type")
)

// ParseAddress accepts a 20 byte hex address with or without the 0x prefix.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.Wrapf(errInvalidAddress, "%q", s)
	}
	return common.HexToAddress(s), nil
}

// ConstructorArgs converts textual arguments into the go values the
// constructor of contractAbi expects, in declaration order.
func ConstructorArgs(contractAbi *abi.ABI, args []string) ([]interface{}, error) {
	inputs := contractAbi.Constructor.Inputs
	if len(inputs) != len(args) {
		return nil, errors.Wrapf(errArgumentCount, "got %d, constructor takes %d", len(args), len(inputs))
	}

	values := make([]interface{}, len(args))
	for i, input := range inputs {
		v, err := convertArg(input.Type, args[i])
		if err != nil {
			name := input.Name
			if name == "" {
				name = strconv.Itoa(i)
			}
			return nil, errors.Wrapf(err, "argument %s (%s)", name, input.Type.String())
		}
		values[i] = v
	}
	return values, nil
}

func convertArg(t abi.Type, s string) (interface{}, error) {
	s = strings.TrimSpace(s)

	switch t.T {
	case abi.AddressTy:
		return ParseAddress(s)

	case abi.BoolTy:
		return strconv.ParseBool(s)

	case abi.StringTy:
		return s, nil

	case abi.UintTy, abi.IntTy:
		n, ok := new(big.Int).SetString(s, 0)
		if !ok {
			return nil, errors.Errorf("invalid integer %q", s)
		}
		if t.T == abi.UintTy && n.Sign() < 0 {
			return nil, errors.Errorf("negative value %q for unsigned type", s)
		}
		if !fitsSize(n, t) {
			return nil, errors.Errorf("value %q overflows %s", s, t.String())
		}
		// go-ethereum only maps 8, 16, 32 and 64 bit integers to native types,
		// every other size is packed from *big.Int
		goType := t.GetType()
		if goType.Kind() == reflect.Ptr {
			return n, nil
		}
		if t.T == abi.UintTy {
			return reflect.ValueOf(n.Uint64()).Convert(goType).Interface(), nil
		}
		return reflect.ValueOf(n.Int64()).Convert(goType).Interface(), nil

	case abi.BytesTy:
		return hexutil.Decode(s)

	case abi.FixedBytesTy:
		b, err := hexutil.Decode(s)
		if err != nil {
			return nil, err
		}
		if len(b) != t.Size {
			return nil, errors.Errorf("expected %d bytes, got %d", t.Size, len(b))
		}
		arr := reflect.New(t.GetType()).Elem()
		reflect.Copy(arr, reflect.ValueOf(b))
		return arr.Interface(), nil
	}

	return nil, errors.Wrap(errUnsupportedType, t.String())
}

// fitsSize reports whether n is within the range of the sized integer type t.
func fitsSize(n *big.Int, t abi.Type) bool {
	if t.T == abi.UintTy {
		return n.BitLen() <= t.Size
	}
	if n.Sign() >= 0 {
		return n.BitLen() < t.Size
	}
	min := new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1))
	return n.Cmp(min.Neg(min)) >= 0
}
