package framework

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	DefaultNetwork = "localhost"

	// DevPrivKeyHex is the first pre-funded account of anvil and hardhat node,
	// address 0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266
	DevPrivKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
)

var (
	errUnknownNetwork = errors.New("unknown network")
	errNoAccount      = errors.New("network has no deployer account")
)

type NetworkConfig struct {
	Name     string   `mapstructure:"-"`
	URL      string   `mapstructure:"url"`
	ChainID  uint64   `mapstructure:"chainId"`
	Accounts []string `mapstructure:"accounts"`
}

// PrivKey returns the first configured account, which signs deployments.
func (n *NetworkConfig) PrivKey() (*PrivKey, error) {
	if len(n.Accounts) == 0 {
		return nil, errors.Wrap(errNoAccount, n.Name)
	}
	return NewPrivKeyFromHex(n.Accounts[0])
}

type NetworksConfig struct {
	DefaultNetwork string                    `mapstructure:"defaultNetwork"`
	Networks       map[string]*NetworkConfig `mapstructure:"networks"`
}

func localhostNetwork() *NetworkConfig {
	return &NetworkConfig{
		Name:     DefaultNetwork,
		URL:      "http://127.0.0.1:8545",
		ChainID:  31337,
		Accounts: []string{DevPrivKeyHex},
	}
}

// LoadNetworks reads the networks file at path. A missing file is not an
// error, the built-in localhost network is always available.
func LoadNetworks(path string) (*NetworksConfig, error) {
	cfg := &NetworksConfig{
		DefaultNetwork: DefaultNetwork,
		Networks:       map[string]*NetworkConfig{},
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v := viper.New()
			v.SetConfigFile(path)
			v.SetDefault("defaultNetwork", DefaultNetwork)
			if err := v.ReadInConfig(); err != nil {
				return nil, errors.Wrapf(err, "read networks config %s", path)
			}
			if err := v.Unmarshal(cfg); err != nil {
				return nil, errors.Wrapf(err, "decode networks config %s", path)
			}
		} else if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "stat networks config %s", path)
		}
	}

	if cfg.Networks == nil {
		cfg.Networks = map[string]*NetworkConfig{}
	}
	for name, n := range cfg.Networks {
		if n == nil {
			n = &NetworkConfig{}
			cfg.Networks[name] = n
		}
		n.Name = name
	}
	if _, ok := cfg.Networks[DefaultNetwork]; !ok {
		cfg.Networks[DefaultNetwork] = localhostNetwork()
	}
	return cfg, nil
}

// Network returns a copy of the named network, or the default one when name
// is empty.
func (c *NetworksConfig) Network(name string) (*NetworkConfig, error) {
	if name == "" {
		name = c.DefaultNetwork
	}
	n, ok := c.Networks[strings.ToLower(name)]
	if !ok {
		return nil, errors.Wrap(errUnknownNetwork, name)
	}
	cp := *n
	cp.Accounts = append([]string(nil), n.Accounts...)
	return &cp, nil
}
