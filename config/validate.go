package config

import (
	"fmt"
	"strings"
)

const (
	defaultRequestsPerMin      = uint32(120)
	defaultStakingDurationSecs = uint64(7 * 24 * 3600)

	// MinJWTSecretLength keeps HS256 keys out of brute-force range.
	MinJWTSecretLength = 32
)

// ValidateConfig checks a loaded configuration before the daemon boots on it.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil configuration")
	}
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress must be set")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("config: DataDir must be set")
	}
	if len(cfg.JWTSecret) > 0 && len(cfg.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("config: JWTSecret shorter than %d bytes", MinJWTSecretLength)
	}
	if cfg.Global.Quota.MaxRequestsPerMin == 0 {
		return fmt.Errorf("config: quota MaxRequestsPerMin must be positive")
	}
	if cfg.Global.Rewards.StakingDurationSecs == 0 {
		return fmt.Errorf("config: rewards StakingDurationSecs must be positive")
	}
	if _, err := cfg.OwnerAddress(); err != nil {
		return err
	}
	if _, _, _, err := cfg.StakeholderAddresses(); err != nil {
		return err
	}
	return nil
}
