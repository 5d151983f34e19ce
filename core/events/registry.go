package events

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

const (
	TypeRegistryStrategyAdded    = "registry.strategy.added"
	TypeRegistryStrategyRemoved  = "registry.strategy.removed"
	TypeRegistryStrategyPaused   = "registry.strategy.paused"
	TypeRegistryStrategyResumed  = "registry.strategy.resumed"
	TypeRegistryStrategyDisabled = "registry.strategy.disabled"
)

// RegistryChange is emitted for every registry lifecycle transition.
type RegistryChange struct {
	Type       string
	Strategy   common.Address
	Slot       uint64
	Generation uint64
}

func (e RegistryChange) EventType() string { return e.Type }

func (e RegistryChange) Record() *Record {
	return &Record{
		Type: e.Type,
		Attributes: map[string]string{
			"strategy":   e.Strategy.Hex(),
			"slot":       strconv.FormatUint(e.Slot, 10),
			"generation": strconv.FormatUint(e.Generation, 10),
		},
	}
}
