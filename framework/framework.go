// Package framework deploys compiled contracts to an EVM network and keeps a
// record of where they ended up.
package framework

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	errTxReverted = errors.New("deployment transaction reverted")
	errNoCode     = errors.New("no contract code at deployed address")
	errNoChainID  = errors.New("chain id unknown and backend cannot report it")
)

// Stages of a deployment, reported in DeploymentError.
const (
	StageConnect   = "connect"
	StageArtifact  = "artifact"
	StageArguments = "arguments"
	StageSubmit    = "submit"
	StageConfirm   = "confirm"
	StageRecord    = "record"
)

// DeploymentError is returned for any failure of Deploy. Stage tells how far
// the deployment got. Only submit and later stages may have touched the chain.
type DeploymentError struct {
	Contract string
	Stage    string
	Err      error
}

func (e *DeploymentError) Error() string {
	return fmt.Sprintf("deploy %s: %s: %v", e.Contract, e.Stage, e.Err)
}

func (e *DeploymentError) Unwrap() error {
	return e.Err
}

// Backend is what a deployment needs from a node. *ethclient.Client and the
// simulated backend both satisfy it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

type chainIDReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

type Framework struct {
	log       *logrus.Entry
	backend   Backend
	key       *PrivKey
	chainID   *big.Int
	network   string
	artifacts *ArtifactStore
	records   *DeploymentStore

	// Value is sent along with the creation transaction, nil for none.
	Value *big.Int
	// GasLimit of the creation transaction, 0 to estimate.
	GasLimit uint64
}

type Option func(*Framework)

// WithRecords stores every confirmed deployment in records.
func WithRecords(records *DeploymentStore) Option {
	return func(f *Framework) {
		f.records = records
	}
}

func WithValue(value *big.Int) Option {
	return func(f *Framework) {
		f.Value = value
	}
}

func WithGasLimit(gas uint64) Option {
	return func(f *Framework) {
		f.GasLimit = gas
	}
}

// New builds a Framework on an existing backend. A nil chainID is resolved
// from the backend on first use.
func New(log *logrus.Entry, backend Backend, key *PrivKey, chainID *big.Int, network string, artifacts *ArtifactStore, opts ...Option) *Framework {
	f := &Framework{
		log:       log.WithField("network", network),
		backend:   backend,
		key:       key,
		chainID:   chainID,
		network:   network,
		artifacts: artifacts,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Dial connects to the node of the given network.
func Dial(ctx context.Context, log *logrus.Entry, network *NetworkConfig, key *PrivKey, artifacts *ArtifactStore, opts ...Option) (*Framework, *ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, network.URL)
	if err != nil {
		return nil, nil, &DeploymentError{Stage: StageConnect, Err: errors.Wrapf(err, "dial %s", network.URL)}
	}

	var chainID *big.Int
	if network.ChainID != 0 {
		chainID = new(big.Int).SetUint64(network.ChainID)
	}
	return New(log, client, key, chainID, network.Name, artifacts, opts...), client, nil
}

func (f *Framework) Deployer() *PrivKey {
	return f.key
}

// Deploy creates a new instance of contractName with the given constructor
// arguments and blocks until it is mined. Every call deploys a new contract.
func (f *Framework) Deploy(ctx context.Context, contractName string, args []string) (*Deployment, error) {
	fail := func(stage string, err error) (*Deployment, error) {
		return nil, &DeploymentError{Contract: contractName, Stage: stage, Err: err}
	}
	log := f.log.WithField("contract", contractName)

	artifact, err := f.artifacts.Find(contractName)
	if err != nil {
		return fail(StageArtifact, err)
	}
	log.WithField("artifact", artifact.Path).Debug("Artifact loaded")

	params, err := ConstructorArgs(artifact.Abi, args)
	if err != nil {
		return fail(StageArguments, err)
	}

	chainID, err := f.resolveChainID(ctx)
	if err != nil {
		return fail(StageConnect, err)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(f.key.Priv, chainID)
	if err != nil {
		return fail(StageSubmit, err)
	}
	auth.Context = ctx
	auth.Value = f.Value
	auth.GasLimit = f.GasLimit

	addr, tx, _, err := bind.DeployContract(auth, *artifact.Abi, artifact.Code, f.backend, params...)
	if err != nil {
		return fail(StageSubmit, err)
	}
	log.WithField("tx", tx.Hash().Hex()).WithField("address", addr.Hex()).Info("Deployment transaction sent")

	receipt, err := bind.WaitMined(ctx, f.backend, tx)
	if err != nil {
		return fail(StageConfirm, errors.Wrapf(err, "wait for %s", tx.Hash().Hex()))
	}
	if receipt.Status == 0 {
		return fail(StageConfirm, errors.Wrapf(errTxReverted, "tx %s", tx.Hash().Hex()))
	}
	code, err := f.backend.CodeAt(ctx, receipt.ContractAddress, nil)
	if err != nil {
		return fail(StageConfirm, err)
	}
	if len(code) == 0 {
		return fail(StageConfirm, errors.Wrap(errNoCode, receipt.ContractAddress.Hex()))
	}

	d := &Deployment{
		Contract:    artifact.Name,
		Network:     f.network,
		ChainID:     chainID.Uint64(),
		Address:     receipt.ContractAddress,
		TxHash:      tx.Hash(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
		Deployer:    f.key.Address(),
		Args:        append([]string{}, args...),
		DeployedAt:  time.Now().UTC(),
	}
	log.WithField("address", d.Address.Hex()).WithField("block", d.BlockNumber).Info("Contract deployed")

	// The contract exists on chain at this point, so d is returned with the error.
	if f.records != nil {
		if err := f.records.Save(d); err != nil {
			return d, &DeploymentError{Contract: contractName, Stage: StageRecord, Err: err}
		}
	}
	return d, nil
}

func (f *Framework) resolveChainID(ctx context.Context) (*big.Int, error) {
	if f.chainID != nil {
		return f.chainID, nil
	}
	r, ok := f.backend.(chainIDReader)
	if !ok {
		return nil, errNoChainID
	}
	chainID, err := r.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "fetch chain id")
	}
	f.chainID = chainID
	return chainID, nil
}
