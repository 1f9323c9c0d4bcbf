package config

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	DefaultSolidity = "0.8.22"
	DefaultNetwork  = "sepolia"

	// HardhatDevKey is the first funded account of a local hardhat node. It is
	// public and only ever defaulted for the hardhat network.
	HardhatDevKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
)

var (
	ErrUnknownNetwork = errors.New("unknown network")
	ErrNoAccounts     = errors.New("network has no accounts")
)

// Network is a named RPC endpoint plus the accounts used to sign on it.
type Network struct {
	Name     string   `mapstructure:"-"`
	URL      string   `mapstructure:"url"`
	ChainID  uint64   `mapstructure:"chainId"`
	Accounts []string `mapstructure:"accounts"`
}

type Config struct {
	Solidity       string             `mapstructure:"solidity"`
	DefaultNetwork string             `mapstructure:"defaultNetwork"`
	Networks       map[string]Network `mapstructure:"networks"`
}

// Every key has a default so DEPLOYER_* variables can override it; viper only
// consults the environment for keys it already knows.
var defaults = map[string]any{
	"solidity":                  DefaultSolidity,
	"defaultNetwork":            DefaultNetwork,
	"networks.hardhat.url":      "http://127.0.0.1:8545",
	"networks.hardhat.chainId":  31337,
	"networks.hardhat.accounts": []string{HardhatDevKey},
	"networks.sepolia.url":      "",
	"networks.sepolia.chainId":  11155111,
	"networks.sepolia.accounts": []string{},
}

// Load builds the configuration from defaults, an optional deployer.yaml,
// DEPLOYER_* environment variables, the flags of cmd, and finally the
// API_URL / PRIVATE_KEY pair which always targets the sepolia network.
func Load(cmd *cobra.Command, file string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("deployer")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		// a missing default file is fine, an explicitly named one is not
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || file != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix("deployer")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		if flag := cmd.Flags().Lookup("network"); flag != nil && flag.Changed {
			v.Set("defaultNetwork", flag.Value.String())
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	envs := viper.New()
	_ = envs.BindEnv("api_url", "API_URL")
	_ = envs.BindEnv("private_key", "PRIVATE_KEY")
	applyCredentials(&c, envs.GetString("api_url"), envs.GetString("private_key"))

	for name, n := range c.Networks {
		n.Name = name
		c.Networks[name] = n
	}
	return &c, nil
}

func applyCredentials(c *Config, apiURL, privateKey string) {
	if c.Networks == nil {
		c.Networks = map[string]Network{}
	}
	sepolia := c.Networks["sepolia"]
	if apiURL != "" {
		sepolia.URL = apiURL
	}
	if privateKey != "" {
		sepolia.Accounts = []string{"0x" + strings.TrimPrefix(privateKey, "0x")}
	}
	c.Networks["sepolia"] = sepolia
}

// Network returns the named network, or the default one when name is empty.
func (c *Config) Network(name string) (Network, error) {
	if name == "" {
		name = c.DefaultNetwork
	}
	n, ok := c.Networks[name]
	if !ok {
		return Network{}, fmt.Errorf("%w: %q", ErrUnknownNetwork, name)
	}
	if n.URL == "" {
		return Network{}, fmt.Errorf("network %q has no url (set API_URL or networks.%s.url)", name, name)
	}
	n.Name = name
	return n, nil
}

// NetworkNames lists configured networks in a stable order.
func (c *Config) NetworkNames() []string {
	names := make([]string, 0, len(c.Networks))
	for name := range c.Networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PrivateKey parses the first configured account.
func (n Network) PrivateKey() (*ecdsa.PrivateKey, error) {
	if len(n.Accounts) == 0 || n.Accounts[0] == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoAccounts, n.Name)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(n.Accounts[0], "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key for network %s: %w", n.Name, err)
	}
	return key, nil
}
