package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

type Config struct {
	RPCAddress   string `toml:"RPCAddress"`
	DataDir      string `toml:"DataDir"`
	ManifestFile string `toml:"ManifestFile"`
	ServiceName  string `toml:"ServiceName"`
	Environment  string `toml:"Environment"`

	// JWTSecret signs and verifies bearer tokens on the owner surface.
	JWTSecret string `toml:"JWTSecret"`

	LogFile       string `toml:"LogFile,omitempty"`
	LogMaxSizeMB  int    `toml:"LogMaxSizeMB,omitempty"`
	LogMaxBackups int    `toml:"LogMaxBackups,omitempty"`

	OTLPEndpoint string `toml:"OTLPEndpoint,omitempty"`
	OTLPInsecure bool   `toml:"OTLPInsecure,omitempty"`

	// Protocol accounts, hex encoded.
	Owner      string `toml:"Owner"`
	Operations string `toml:"Operations"`
	Investors  string `toml:"Investors"`
	Treasury   string `toml:"Treasury"`

	Global Global `toml:"Global"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ServiceName) == "" {
		cfg.ServiceName = "autovaultd"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
	if cfg.Global.Quota.MaxRequestsPerMin == 0 {
		cfg.Global.Quota.MaxRequestsPerMin = defaultRequestsPerMin
	}
	if cfg.Global.Rewards.StakingDurationSecs == 0 {
		cfg.Global.Rewards.StakingDurationSecs = defaultStakingDurationSecs
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:   ":8080",
		DataDir:      "./autovault-data",
		ManifestFile: "strategies.yaml",
	}
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

func parseAddress(label, value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("config: %s is not a hex address: %q", label, value)
	}
	return common.HexToAddress(trimmed), nil
}

// OwnerAddress parses the configured protocol owner.
func (c *Config) OwnerAddress() (common.Address, error) {
	return parseAddress("Owner", c.Owner)
}

// StakeholderAddresses parses the three vesting-cut recipients.
func (c *Config) StakeholderAddresses() (operations, investors, treasury common.Address, err error) {
	if operations, err = parseAddress("Operations", c.Operations); err != nil {
		return
	}
	if investors, err = parseAddress("Investors", c.Investors); err != nil {
		return
	}
	treasury, err = parseAddress("Treasury", c.Treasury)
	return
}
