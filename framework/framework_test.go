package framework

import (
	"context"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// simulated chain id, see params.AllEthashProtocolChanges
var simChainID = big.NewInt(1337)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// autoCommitBackend mines a block for every transaction so WaitMined returns.
type autoCommitBackend struct {
	*backends.SimulatedBackend
}

func (b *autoCommitBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := b.SimulatedBackend.SendTransaction(ctx, tx); err != nil {
		return err
	}
	b.Commit()
	return nil
}

type DeploySuite struct {
	suite.Suite
	ctx     context.Context
	sim     *backends.SimulatedBackend
	key     *PrivKey
	records *DeploymentStore
	fr      *Framework
	token   common.Address
}

func (s *DeploySuite) SetupTest() {
	s.ctx = context.Background()
	s.key = GeneratePrivKey()

	balance := new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18))
	s.sim = backends.NewSimulatedBackend(core.GenesisAlloc{
		s.key.Address(): {Balance: balance},
	}, 10_000_000)

	s.records = NewDeploymentStore(s.T().TempDir())
	s.fr = New(testLogger(), &autoCommitBackend{s.sim}, s.key, simChainID, "simulated",
		NewArtifactStore("testdata/out"), WithRecords(s.records))
	s.token = GeneratePrivKey().Address()
}

func (s *DeploySuite) TearDownTest() {
	s.sim.Close()
}

func (s *DeploySuite) requireStage(err error, stage string, cause error) {
	s.Require().Error(err)
	var derr *DeploymentError
	s.Require().True(errors.As(err, &derr), "not a DeploymentError: %v", err)
	s.Require().Equal(stage, derr.Stage)
	if cause != nil {
		s.Require().True(errors.Is(err, cause), "unexpected cause: %v", err)
	}
}

func (s *DeploySuite) nonce() uint64 {
	nonce, err := s.sim.PendingNonceAt(s.ctx, s.key.Address())
	s.Require().NoError(err)
	return nonce
}

func (s *DeploySuite) TestDeployExchange() {
	d, err := s.fr.Deploy(s.ctx, "Exchange", []string{s.token.Hex()})
	s.Require().NoError(err)

	s.Require().NotEqual(common.Address{}, d.Address)
	s.Require().NotEqual(s.token, d.Address)
	s.Require().Equal("Exchange", d.Contract)
	s.Require().Equal(s.key.Address(), d.Deployer)
	s.Require().Equal(uint64(1337), d.ChainID)
	s.Require().Equal([]string{s.token.Hex()}, d.Args)
	s.Require().NotZero(d.GasUsed)

	code, err := s.sim.CodeAt(s.ctx, d.Address, nil)
	s.Require().NoError(err)
	s.Require().NotEmpty(code)

	artifact, err := ReadArtifact("testdata/out/Exchange.sol/Exchange.json")
	s.Require().NoError(err)
	contract := bind.NewBoundContract(d.Address, *artifact.Abi, s.sim, s.sim, s.sim)
	var out []interface{}
	s.Require().NoError(contract.Call(nil, &out, "cryptoDevTokenAddress"))
	s.Require().Len(out, 1)
	s.Require().Equal(s.token, out[0].(common.Address))

	recorded, err := s.records.Load("simulated", "Exchange")
	s.Require().NoError(err)
	s.Require().Equal(d.Address, recorded.Address)
	s.Require().Equal(d.TxHash, recorded.TxHash)
}

func (s *DeploySuite) TestDeployIsNotIdempotent() {
	first, err := s.fr.Deploy(s.ctx, "Exchange", []string{s.token.Hex()})
	s.Require().NoError(err)
	second, err := s.fr.Deploy(s.ctx, "Exchange", []string{s.token.Hex()})
	s.Require().NoError(err)

	s.Require().NotEqual(first.Address, second.Address)
	s.Require().NotEqual(first.TxHash, second.TxHash)
	s.Require().Equal(uint64(2), s.nonce())

	recorded, err := s.records.Load("simulated", "Exchange")
	s.Require().NoError(err)
	s.Require().Equal(second.Address, recorded.Address)
}

func (s *DeploySuite) TestQualifiedName() {
	d, err := s.fr.Deploy(s.ctx, "src/Exchange.sol:Exchange", []string{s.token.Hex()})
	s.Require().NoError(err)
	s.Require().Equal("Exchange", d.Contract)
}

func (s *DeploySuite) TestMalformedAddressFailsBeforeBroadcast() {
	for _, arg := range []string{"0x1234", "0xZZZZ0000000000000000000000000000000000ZZ", ""} {
		_, err := s.fr.Deploy(s.ctx, "Exchange", []string{arg})
		s.requireStage(err, StageArguments, errInvalidAddress)
	}
	s.Require().Zero(s.nonce())
}

func (s *DeploySuite) TestArgumentCountMismatch() {
	_, err := s.fr.Deploy(s.ctx, "Exchange", nil)
	s.requireStage(err, StageArguments, errArgumentCount)

	_, err = s.fr.Deploy(s.ctx, "Exchange", []string{s.token.Hex(), s.token.Hex()})
	s.requireStage(err, StageArguments, errArgumentCount)
	s.Require().Zero(s.nonce())
}

func (s *DeploySuite) TestUnknownArtifact() {
	_, err := s.fr.Deploy(s.ctx, "Missing", []string{s.token.Hex()})
	s.requireStage(err, StageArtifact, errArtifactNotFound)
	s.Require().Zero(s.nonce())
}

func (s *DeploySuite) TestRevertedDeployment() {
	s.fr.GasLimit = 200_000
	_, err := s.fr.Deploy(s.ctx, "Reverter", nil)
	s.requireStage(err, StageConfirm, errTxReverted)

	_, err = s.records.Load("simulated", "Reverter")
	s.Require().True(IsNotFound(err))
}

func (s *DeploySuite) TestEmptyRuntimeCode() {
	_, err := s.fr.Deploy(s.ctx, "Empty", nil)
	s.requireStage(err, StageConfirm, errNoCode)
}

func (s *DeploySuite) TestValueIsTransferred() {
	// the test bytecode has no callvalue check, so it accepts ether
	s.fr.Value = big.NewInt(12345)
	d, err := s.fr.Deploy(s.ctx, "Exchange", []string{s.token.Hex()})
	s.Require().NoError(err)

	balance, err := s.sim.BalanceAt(s.ctx, d.Address, nil)
	s.Require().NoError(err)
	s.Require().Equal(int64(12345), balance.Int64())
}

func (s *DeploySuite) TestRecordFailureKeepsDeployment() {
	// a regular file where the records directory should be
	blocked := filepath.Join(s.T().TempDir(), "deployments")
	s.Require().NoError(os.WriteFile(blocked, []byte("not a directory"), 0o600))
	WithRecords(NewDeploymentStore(blocked))(s.fr)

	d, err := s.fr.Deploy(s.ctx, "Exchange", []string{s.token.Hex()})
	s.requireStage(err, StageRecord, nil)
	s.Require().NotNil(d)
	s.Require().NotEqual(common.Address{}, d.Address)

	// the contract is live even though the record was lost
	code, err := s.sim.CodeAt(s.ctx, d.Address, nil)
	s.Require().NoError(err)
	s.Require().NotEmpty(code)
}

func TestDeploySuite(t *testing.T) {
	suite.Run(t, new(DeploySuite))
}

func TestDeployUnreachableNode(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	network := &NetworkConfig{Name: "broken", URL: "http://127.0.0.1:1"}
	fr, client, err := Dial(ctx, testLogger(), network, GeneratePrivKey(), NewArtifactStore("testdata/out"))
	require.NoError(t, err)
	defer client.Close()

	d, err := fr.Deploy(ctx, "Exchange", []string{"0xABCDabcdABCDabcdABCDabcdABCDabcdABCDabcd"})
	require.Error(t, err)
	require.Nil(t, d)

	var derr *DeploymentError
	require.True(t, errors.As(err, &derr))
	require.Equal(t, StageConnect, derr.Stage)
	require.Contains(t, err.Error(), "deploy Exchange")
}

func TestDeployUnreachableNodeWithChainID(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	network := &NetworkConfig{Name: "broken", URL: "http://127.0.0.1:1", ChainID: 31337}
	fr, client, err := Dial(ctx, testLogger(), network, GeneratePrivKey(), NewArtifactStore("testdata/out"))
	require.NoError(t, err)
	defer client.Close()

	_, err = fr.Deploy(ctx, "Exchange", []string{"0xABCDabcdABCDabcdABCDabcdABCDabcdABCDabcd"})
	var derr *DeploymentError
	require.True(t, errors.As(err, &derr))
	require.Equal(t, StageSubmit, derr.Stage)
}
