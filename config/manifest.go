package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	nativecommon "autovault/native/common"
)

// Manifest is the declarative list of strategies the daemon registers at
// boot, before the owner surface takes over.
type Manifest struct {
	Strategies []ManifestEntry `yaml:"strategies"`
}

// ManifestEntry is one strategy as written in the YAML manifest. Amounts are
// decimal strings so token quantities survive YAML integer limits.
type ManifestEntry struct {
	Name                string `yaml:"name"`
	Address             string `yaml:"address"`
	DepositToken        string `yaml:"depositToken"`
	RewardToken         string `yaml:"rewardToken"`
	AdminFeeBps         uint64 `yaml:"adminFeeBps"`
	DevFeeBps           uint64 `yaml:"devFeeBps"`
	ReinvestFeeBps      uint64 `yaml:"reinvestFeeBps"`
	MinTokensToReinvest string `yaml:"minTokensToReinvest"`
	MinTokensToBuyBack  string `yaml:"minTokensToBuyBack"`
	Weight              uint64 `yaml:"weight"`
}

// StrategySpec is a validated, parsed manifest entry.
type StrategySpec struct {
	Name                string
	Address             common.Address
	DepositToken        common.Address
	RewardToken         common.Address
	AdminFeeBps         uint64
	DevFeeBps           uint64
	ReinvestFeeBps      uint64
	MinTokensToReinvest *big.Int
	MinTokensToBuyBack  *big.Int
	Weight              uint64
}

// LoadManifest reads and decodes the strategy manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m := &Manifest{}
	if err := yaml.Unmarshal(raw, m); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

// Specs validates every entry and returns the parsed strategy specifications
// in manifest order.
func (m *Manifest) Specs() ([]StrategySpec, error) {
	specs := make([]StrategySpec, 0, len(m.Strategies))
	seen := make(map[common.Address]bool)
	for i, entry := range m.Strategies {
		spec, err := entry.parse()
		if err != nil {
			return nil, fmt.Errorf("manifest strategy %d (%s): %w", i, entry.Name, err)
		}
		if seen[spec.Address] {
			return nil, fmt.Errorf("manifest strategy %d (%s): duplicate address %s", i, entry.Name, spec.Address.Hex())
		}
		seen[spec.Address] = true
		specs = append(specs, spec)
	}
	return specs, nil
}

func (e ManifestEntry) parse() (StrategySpec, error) {
	spec := StrategySpec{
		Name:           e.Name,
		AdminFeeBps:    e.AdminFeeBps,
		DevFeeBps:      e.DevFeeBps,
		ReinvestFeeBps: e.ReinvestFeeBps,
		Weight:         e.Weight,
	}
	if strings.TrimSpace(e.Name) == "" {
		return spec, fmt.Errorf("name must be set")
	}
	var err error
	if spec.Address, err = parseAddress("address", e.Address); err != nil {
		return spec, err
	}
	if spec.DepositToken, err = parseAddress("depositToken", e.DepositToken); err != nil {
		return spec, err
	}
	if spec.RewardToken, err = parseAddress("rewardToken", e.RewardToken); err != nil {
		return spec, err
	}
	if e.AdminFeeBps+e.DevFeeBps+e.ReinvestFeeBps > nativecommon.MaxTotalFeeBps {
		return spec, fmt.Errorf("fees exceed the %d bps cap", nativecommon.MaxTotalFeeBps)
	}
	if spec.MinTokensToReinvest, err = parseAmount("minTokensToReinvest", e.MinTokensToReinvest); err != nil {
		return spec, err
	}
	if spec.MinTokensToBuyBack, err = parseAmount("minTokensToBuyBack", e.MinTokensToBuyBack); err != nil {
		return spec, err
	}
	if spec.Weight == 0 {
		spec.Weight = 1
	}
	return spec, nil
}

func parseAmount(label, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("%s is not a non-negative decimal amount: %q", label, value)
	}
	return amount, nil
}
