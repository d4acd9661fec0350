package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	GatewayAddress string `toml:"GatewayAddress"`
	DataDir        string `toml:"DataDir"`

	// OwnerAddress is the hex address allowed to resolve disputes, update
	// the fallback price and flip the pause switches.
	OwnerAddress string `toml:"OwnerAddress"`
	// VaultAddress is the module account escrowing settlement tokens. A
	// deterministic default is derived when left empty.
	VaultAddress string `toml:"VaultAddress"`

	FeedEndpoint string `toml:"FeedEndpoint"`
	FeedAPIKey   string `toml:"FeedAPIKey"`

	KeeperIntervalSeconds int64 `toml:"KeeperIntervalSeconds"`
	SubscriptionBatchSize int   `toml:"SubscriptionBatchSize"`
	SwapFeeBps            int64 `toml:"SwapFeeBps"`

	RPCToken string `toml:"RPCToken"`

	LogFile       string `toml:"LogFile"`
	LogMaxSizeMB  int    `toml:"LogMaxSizeMB"`
	LogMaxBackups int    `toml:"LogMaxBackups"`
	LogMaxAgeDays int    `toml:"LogMaxAgeDays"`

	// GenesisAllocations seed balances on first start, typically the swap
	// pool's liquidity. They are applied exactly once.
	GenesisAllocations []GenesisAllocation `toml:"GenesisAllocations"`
}

type GenesisAllocation struct {
	Address       string `toml:"Address"`
	TokenBalance  string `toml:"TokenBalance"`
	NativeBalance string `toml:"NativeBalance"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if _, err := createDefault(path); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("config: wrote default %s; set OwnerAddress and restart", path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields that cannot be defaulted into a usable value.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.OwnerAddress) == "" {
		return fmt.Errorf("config: OwnerAddress is required")
	}
	if !common.IsHexAddress(c.OwnerAddress) {
		return fmt.Errorf("config: OwnerAddress %q is not a valid hex address", c.OwnerAddress)
	}
	if c.VaultAddress != "" && !common.IsHexAddress(c.VaultAddress) {
		return fmt.Errorf("config: VaultAddress %q is not a valid hex address", c.VaultAddress)
	}
	if c.SubscriptionBatchSize <= 0 {
		return fmt.Errorf("config: SubscriptionBatchSize must be positive")
	}
	if c.KeeperIntervalSeconds <= 0 {
		return fmt.Errorf("config: KeeperIntervalSeconds must be positive")
	}
	if c.SwapFeeBps < 0 || c.SwapFeeBps >= 10_000 {
		return fmt.Errorf("config: SwapFeeBps must be in [0, 10000)")
	}
	for i, alloc := range c.GenesisAllocations {
		if !common.IsHexAddress(alloc.Address) {
			return fmt.Errorf("config: GenesisAllocations[%d] address %q is not a valid hex address", i, alloc.Address)
		}
		for _, raw := range []string{alloc.TokenBalance, alloc.NativeBalance} {
			if strings.TrimSpace(raw) == "" {
				continue
			}
			value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
			if !ok || value.Sign() < 0 {
				return fmt.Errorf("config: GenesisAllocations[%d] balance %q must be a non-negative integer", i, raw)
			}
		}
	}
	return nil
}

// Owner returns the configured owner address as raw bytes.
func (c *Config) Owner() [20]byte {
	return common.HexToAddress(c.OwnerAddress)
}

// Vault returns the configured vault address, or a fixed module account when
// the field is empty.
func (c *Config) Vault() [20]byte {
	if strings.TrimSpace(c.VaultAddress) == "" {
		return common.HexToAddress("0x5C0000000000000000000000000000000000Ca1e")
	}
	return common.HexToAddress(c.VaultAddress)
}

// Addr returns the allocation's address as raw bytes. Call Validate first.
func (a GenesisAllocation) Addr() [20]byte {
	return common.HexToAddress(a.Address)
}

// Token returns the token balance to seed, zero when unset.
func (a GenesisAllocation) Token() *big.Int {
	return parseBalance(a.TokenBalance)
}

// Native returns the native balance to seed, zero when unset.
func (a GenesisAllocation) Native() *big.Int {
	return parseBalance(a.NativeBalance)
}

func parseBalance(raw string) *big.Int {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || value.Sign() < 0 {
		return big.NewInt(0)
	}
	return value
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8545"
	}
	if strings.TrimSpace(cfg.GatewayAddress) == "" {
		cfg.GatewayAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./scrollpay-data"
	}
	if cfg.KeeperIntervalSeconds == 0 {
		cfg.KeeperIntervalSeconds = 60
	}
	if cfg.SubscriptionBatchSize == 0 {
		cfg.SubscriptionBatchSize = 100
	}
	if cfg.LogMaxSizeMB == 0 {
		cfg.LogMaxSizeMB = 100
	}
	if cfg.LogMaxBackups == 0 {
		cfg.LogMaxBackups = 3
	}
	if cfg.LogMaxAgeDays == 0 {
		cfg.LogMaxAgeDays = 28
	}
}

// createDefault creates and saves a default configuration file. The owner
// address is intentionally left empty so the operator has to fill it in.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
