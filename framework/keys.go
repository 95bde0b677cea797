package framework

import (
	"crypto/ecdsa"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

var errInvalidPrivKey = errors.New("invalid private key")

type PrivKey struct {
	Priv *ecdsa.PrivateKey
}

func (p *PrivKey) Address() common.Address {
	return crypto.PubkeyToAddress(p.Priv.PublicKey)
}

func (p *PrivKey) MarshalPrivKey() []byte {
	return crypto.FromECDSA(p.Priv)
}

// NewPrivKeyFromHex parses a secp256k1 key, the 0x prefix is optional.
func NewPrivKeyFromHex(hex string) (*PrivKey, error) {
	hex = strings.TrimPrefix(strings.TrimSpace(hex), "0x")
	key, err := crypto.HexToECDSA(hex)
	if err != nil {
		return nil, errors.Wrap(errInvalidPrivKey, err.Error())
	}
	return &PrivKey{Priv: key}, nil
}

func GeneratePrivKey() *PrivKey {
	key, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}
	return &PrivKey{Priv: key}
}
