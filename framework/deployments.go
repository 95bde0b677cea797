package framework

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

var (
	errDeploymentNotFound = errors.New("deployment not found")
	errInvalidName        = errors.New("invalid name")
)

// Deployment describes one confirmed contract creation.
type Deployment struct {
	Contract    string         `json:"contractName"`
	Network     string         `json:"network"`
	ChainID     uint64         `json:"chainId"`
	Address     common.Address `json:"address"`
	TxHash      common.Hash    `json:"transactionHash"`
	BlockNumber uint64         `json:"blockNumber"`
	GasUsed     uint64         `json:"gasUsed"`
	Deployer    common.Address `json:"deployer"`
	Args        []string       `json:"args"`
	DeployedAt  time.Time      `json:"deployedAt"`
}

// DeploymentStore keeps the latest deployment of each contract per network
// as <dir>/<network>/<contract>.json.
type DeploymentStore struct {
	dir string
}

func NewDeploymentStore(dir string) *DeploymentStore {
	return &DeploymentStore{dir: dir}
}

func (s *DeploymentStore) Dir() string {
	return s.dir
}

func (s *DeploymentStore) Save(d *Deployment) error {
	if err := checkName(d.Network); err != nil {
		return err
	}
	if err := checkName(d.Contract); err != nil {
		return err
	}

	netDir := filepath.Join(s.dir, d.Network)
	if err := os.MkdirAll(netDir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", netDir)
	}

	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode deployment")
	}

	path := filepath.Join(netDir, d.Contract+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return errors.Wrapf(err, "write %s", tmp)
	}
	return errors.Wrapf(os.Rename(tmp, path), "rename %s", tmp)
}

func (s *DeploymentStore) Load(network, contract string) (*Deployment, error) {
	if err := checkName(network); err != nil {
		return nil, err
	}
	if err := checkName(contract); err != nil {
		return nil, err
	}
	return readDeployment(filepath.Join(s.dir, network, contract+".json"))
}

// List returns the deployments recorded for network sorted by contract name.
func (s *DeploymentStore) List(network string) ([]*Deployment, error) {
	if err := checkName(network); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(filepath.Join(s.dir, network))
	if os.IsNotExist(err) {
		return nil, errors.Wrap(errDeploymentNotFound, network)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", network)
	}

	deployments := make([]*Deployment, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		d, err := readDeployment(filepath.Join(s.dir, network, e.Name()))
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	sort.Slice(deployments, func(i, j int) bool {
		return deployments[i].Contract < deployments[j].Contract
	})
	return deployments, nil
}

// Networks returns the networks that have at least one record directory.
func (s *DeploymentStore) Networks() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", s.dir)
	}

	networks := []string{}
	for _, e := range entries {
		if e.IsDir() {
			networks = append(networks, e.Name())
		}
	}
	sort.Strings(networks)
	return networks, nil
}

func readDeployment(path string) (*Deployment, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.Wrap(errDeploymentNotFound, path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}

	d := new(Deployment)
	if err := json.Unmarshal(data, d); err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return d, nil
}

// checkName keeps record paths inside the store directory.
func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return errors.Wrapf(errInvalidName, "%q", name)
	}
	return nil
}

func IsNotFound(err error) bool {
	return errors.Is(err, errDeploymentNotFound)
}
