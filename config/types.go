package config

// Pauses is the module pause switchboard; a paused module rejects its
// state-mutating entry points until resumed.
type Pauses struct {
	Vault   bool
	Rewards bool
}

// IsPaused reports whether the named module is paused.
func (p Pauses) IsPaused(module string) bool {
	switch module {
	case "vault":
		return p.Vault
	case "rewards":
		return p.Rewards
	}
	return false
}

// Quota defines the per-client rate limit on the public query surface.
type Quota struct {
	MaxRequestsPerMin uint32
	Burst             uint32
}

// Rewards holds the distribution schedule knobs.
type Rewards struct {
	// StakingDurationSecs is the linear payout window each staking ledger
	// spreads a notified reward tranche over.
	StakingDurationSecs uint64
	// VestingTranche is the fixed per-interval amount the simulated vesting
	// source releases, as a decimal string.
	VestingTranche string
}

// Global bundles the runtime configuration values enforced by ValidateConfig.
type Global struct {
	Pauses  Pauses
	Quota   Quota
	Rewards Rewards
}
