package registry

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"autovault/core/events"
	nativecommon "autovault/native/common"
)

// ErrAlreadyRegistered is exported so boot code can fall back to Attach when
// the persisted state already carries the strategy.
var ErrAlreadyRegistered = errors.New("registry engine: strategy already registered")

var (
	errNilState         = errors.New("registry engine: state not configured")
	errNilStrategy      = errors.New("registry engine: strategy not configured")
	errUnknownStrategy  = errors.New("registry engine: unknown strategy")
	errStrategyHalted   = errors.New("registry engine: strategy paused or disabled")
	errFeeCapExceeded   = errors.New("registry engine: strategy fees exceed global cap")
	errSnapshotMismatch = errors.New("registry engine: strategy does not match persisted record")
)

// MaxTotalFeeBps mirrors the global cap enforced by every strategy's fee
// setters; registration re-checks it so a mis-built strategy cannot slip in.
const MaxTotalFeeBps = nativecommon.MaxTotalFeeBps

// StrategyID is a generational identifier: a slot in the registry arena plus
// the generation the slot carried when the strategy was inserted. Removing a
// strategy bumps the slot generation, so a retained ID from a removed entry
// never resolves to a later occupant.
type StrategyID struct {
	Slot       uint64
	Generation uint64
}

// StrategyInfo is the metadata surface a strategy must expose to register.
// DepositsEnabled is read live; everything else is snapshotted at add time.
type StrategyInfo interface {
	Address() common.Address
	DepositTokenAddress() common.Address
	RewardTokenAddress() common.Address
	FeeBps() (admin, dev, reinvest uint64)
	MinTokensToReinvest() *big.Int
	MinTokensToBuyBack() *big.Int
	DepositsEnabled() bool
}

// Record is the persisted registry entry for one strategy.
type Record struct {
	ID                  StrategyID
	Strategy            common.Address
	DepositToken        common.Address
	RewardToken         common.Address
	AdminFeeBps         uint64
	DevFeeBps           uint64
	ReinvestFeeBps      uint64
	MinTokensToReinvest *big.Int
	MinTokensToBuyBack  *big.Int
	Paused              bool
	Disabled            bool
}

// Clone returns a deep copy so callers cannot mutate shared pointers.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	if r.MinTokensToReinvest != nil {
		clone.MinTokensToReinvest = new(big.Int).Set(r.MinTokensToReinvest)
	}
	if r.MinTokensToBuyBack != nil {
		clone.MinTokensToBuyBack = new(big.Int).Set(r.MinTokensToBuyBack)
	}
	return &clone
}

// SlotEntry is one arena slot. Generation increments when the occupant is
// removed; Live distinguishes an occupied slot from a free one.
type SlotEntry struct {
	Generation uint64
	Strategy   common.Address
	Live       bool
}

// SlotArena holds the generational slot table plus the free list feeding
// slot reuse.
type SlotArena struct {
	Entries  []SlotEntry
	FreeList []uint64
}

type engineState interface {
	GetStrategy(addr common.Address) (*Record, error)
	PutStrategy(rec *Record) error
	DeleteStrategy(addr common.Address) error
	StrategiesByToken(token common.Address) ([]common.Address, error)
	PutTokenIndex(token common.Address, addrs []common.Address) error
	Slots() (*SlotArena, error)
	PutSlots(arena *SlotArena) error
}

// Engine is the authoritative catalog of approved strategies and their
// lifecycle state. Vaults consult it, never mutate it.
type Engine struct {
	state     engineState
	ownership *nativecommon.Ownership
	emitter   events.Emitter
	handles   map[common.Address]StrategyInfo
}

// NewEngine constructs a registry engine owned by owner. Time is injected for
// the ownership timelock.
func NewEngine(owner common.Address, nowFn func() int64) *Engine {
	return &Engine{
		ownership: nativecommon.NewOwnership(owner, nowFn),
		emitter:   events.NoopEmitter{},
		handles:   make(map[common.Address]StrategyInfo),
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter overrides the event sink.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// Ownership exposes the two-step owner handover state machine.
func (e *Engine) Ownership() *nativecommon.Ownership { return e.ownership }

// Add registers a strategy, snapshots its metadata and assigns a generational
// id. Fails when the strategy is already present or its fee parameters breach
// the global cap.
func (e *Engine) Add(caller common.Address, strategy StrategyInfo) (StrategyID, error) {
	if e == nil || e.state == nil {
		return StrategyID{}, errNilState
	}
	if err := e.ownership.RequireOwner(caller); err != nil {
		return StrategyID{}, err
	}
	if strategy == nil {
		return StrategyID{}, errNilStrategy
	}
	addr := strategy.Address()
	existing, err := e.state.GetStrategy(addr)
	if err != nil {
		return StrategyID{}, err
	}
	if existing != nil {
		return StrategyID{}, ErrAlreadyRegistered
	}

	admin, dev, reinvest := strategy.FeeBps()
	if admin+dev+reinvest > MaxTotalFeeBps {
		return StrategyID{}, errFeeCapExceeded
	}

	arena, err := e.loadArena()
	if err != nil {
		return StrategyID{}, err
	}
	id := arena.allocate(addr)
	if err := e.state.PutSlots(arena); err != nil {
		return StrategyID{}, err
	}

	rec := &Record{
		ID:             id,
		Strategy:       addr,
		DepositToken:   strategy.DepositTokenAddress(),
		RewardToken:    strategy.RewardTokenAddress(),
		AdminFeeBps:    admin,
		DevFeeBps:      dev,
		ReinvestFeeBps: reinvest,
	}
	if min := strategy.MinTokensToReinvest(); min != nil {
		rec.MinTokensToReinvest = new(big.Int).Set(min)
	}
	if min := strategy.MinTokensToBuyBack(); min != nil {
		rec.MinTokensToBuyBack = new(big.Int).Set(min)
	}
	if err := e.state.PutStrategy(rec); err != nil {
		return StrategyID{}, err
	}

	index, err := e.state.StrategiesByToken(rec.DepositToken)
	if err != nil {
		return StrategyID{}, err
	}
	if err := e.state.PutTokenIndex(rec.DepositToken, append(index, addr)); err != nil {
		return StrategyID{}, err
	}

	e.handles[addr] = strategy
	e.emitter.Emit(events.RegistryChange{
		Type:       events.TypeRegistryStrategyAdded,
		Strategy:   addr,
		Slot:       id.Slot,
		Generation: id.Generation,
	})
	return id, nil
}

// Attach re-binds the live handle for a strategy that is already persisted,
// restoring the engine's in-memory view after a restart. The handle must
// agree with the persisted record on its identity tokens; lifecycle flags and
// the generational id stay exactly as persisted.
func (e *Engine) Attach(caller common.Address, strategy StrategyInfo) (StrategyID, error) {
	if e == nil || e.state == nil {
		return StrategyID{}, errNilState
	}
	if err := e.ownership.RequireOwner(caller); err != nil {
		return StrategyID{}, err
	}
	if strategy == nil {
		return StrategyID{}, errNilStrategy
	}
	addr := strategy.Address()
	rec, err := e.state.GetStrategy(addr)
	if err != nil {
		return StrategyID{}, err
	}
	if rec == nil {
		return StrategyID{}, errUnknownStrategy
	}
	if rec.DepositToken != strategy.DepositTokenAddress() ||
		rec.RewardToken != strategy.RewardTokenAddress() {
		return StrategyID{}, errSnapshotMismatch
	}
	e.handles[addr] = strategy
	return rec.ID, nil
}

// Get returns a copy of the record for addr, or an error when unknown.
func (e *Engine) Get(addr common.Address) (*Record, error) {
	rec, err := e.requireRecord(addr)
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Lookup resolves a generational id. A stale id (slot reused or freed after
// removal) reports unknown rather than resolving to the new occupant.
func (e *Engine) Lookup(id StrategyID) (*Record, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	arena, err := e.loadArena()
	if err != nil {
		return nil, err
	}
	if id.Slot >= uint64(len(arena.Entries)) {
		return nil, errUnknownStrategy
	}
	entry := arena.Entries[id.Slot]
	if !entry.Live || entry.Generation != id.Generation {
		return nil, errUnknownStrategy
	}
	return e.Get(entry.Strategy)
}

// StrategiesForToken returns the insertion-ordered strategies accepting the
// given deposit token.
func (e *Engine) StrategiesForToken(token common.Address) ([]common.Address, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.StrategiesByToken(token)
}

// IsActive reports whether addr is registered, has deposits enabled on the
// live strategy, and is neither paused nor disabled.
func (e *Engine) IsActive(addr common.Address) bool {
	if e == nil || e.state == nil {
		return false
	}
	rec, err := e.state.GetStrategy(addr)
	if err != nil || rec == nil {
		return false
	}
	if rec.Paused || rec.Disabled {
		return false
	}
	handle, ok := e.handles[addr]
	if !ok {
		return false
	}
	return handle.DepositsEnabled()
}

// IsHalted reports whether addr is flagged paused or disabled. Unknown
// strategies are not halted; the vault-side membership checks catch those.
func (e *Engine) IsHalted(addr common.Address) bool {
	if e == nil || e.state == nil {
		return false
	}
	rec, err := e.state.GetStrategy(addr)
	if err != nil || rec == nil {
		return false
	}
	return rec.Paused || rec.Disabled
}

// IsDisabled reports whether addr carries the terminal disabled flag.
func (e *Engine) IsDisabled(addr common.Address) bool {
	if e == nil || e.state == nil {
		return false
	}
	rec, err := e.state.GetStrategy(addr)
	if err != nil || rec == nil {
		return false
	}
	return rec.Disabled
}

// Pause flags the strategy as paused.
func (e *Engine) Pause(caller, addr common.Address) error {
	return e.transition(caller, addr, events.TypeRegistryStrategyPaused, func(rec *Record) bool {
		if rec.Paused {
			return false
		}
		rec.Paused = true
		return true
	})
}

// Resume clears both the paused and disabled flags. Resuming a clean strategy
// is a no-op.
func (e *Engine) Resume(caller, addr common.Address) error {
	return e.transition(caller, addr, events.TypeRegistryStrategyResumed, func(rec *Record) bool {
		if !rec.Paused && !rec.Disabled {
			return false
		}
		rec.Paused = false
		rec.Disabled = false
		return true
	})
}

// Disable marks the strategy disabled and clears any pause flag.
func (e *Engine) Disable(caller, addr common.Address) error {
	return e.transition(caller, addr, events.TypeRegistryStrategyDisabled, func(rec *Record) bool {
		if rec.Disabled && !rec.Paused {
			return false
		}
		rec.Paused = false
		rec.Disabled = true
		return true
	})
}

// Remove deletes a fully-healthy strategy from the catalog. Paused or
// disabled strategies cannot be removed; resume or keep them flagged instead.
// The slot generation bumps so outstanding ids go stale.
func (e *Engine) Remove(caller, addr common.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.ownership.RequireOwner(caller); err != nil {
		return err
	}
	rec, err := e.requireRecord(addr)
	if err != nil {
		return err
	}
	if rec.Paused || rec.Disabled {
		return errStrategyHalted
	}

	arena, err := e.loadArena()
	if err != nil {
		return err
	}
	arena.release(rec.ID)
	if err := e.state.PutSlots(arena); err != nil {
		return err
	}

	index, err := e.state.StrategiesByToken(rec.DepositToken)
	if err != nil {
		return err
	}
	filtered := index[:0]
	for _, a := range index {
		if a != addr {
			filtered = append(filtered, a)
		}
	}
	if err := e.state.PutTokenIndex(rec.DepositToken, filtered); err != nil {
		return err
	}
	if err := e.state.DeleteStrategy(addr); err != nil {
		return err
	}

	delete(e.handles, addr)
	e.emitter.Emit(events.RegistryChange{
		Type:       events.TypeRegistryStrategyRemoved,
		Strategy:   addr,
		Slot:       rec.ID.Slot,
		Generation: rec.ID.Generation,
	})
	return nil
}

func (e *Engine) transition(caller, addr common.Address, eventType string, apply func(*Record) bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.ownership.RequireOwner(caller); err != nil {
		return err
	}
	rec, err := e.requireRecord(addr)
	if err != nil {
		return err
	}
	if !apply(rec) {
		return nil
	}
	if err := e.state.PutStrategy(rec); err != nil {
		return err
	}
	e.emitter.Emit(events.RegistryChange{
		Type:       eventType,
		Strategy:   addr,
		Slot:       rec.ID.Slot,
		Generation: rec.ID.Generation,
	})
	return nil
}

func (e *Engine) requireRecord(addr common.Address) (*Record, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	rec, err := e.state.GetStrategy(addr)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errUnknownStrategy
	}
	return rec, nil
}

func (e *Engine) loadArena() (*SlotArena, error) {
	arena, err := e.state.Slots()
	if err != nil {
		return nil, err
	}
	if arena == nil {
		arena = &SlotArena{}
	}
	return arena, nil
}

func (a *SlotArena) allocate(strategy common.Address) StrategyID {
	if n := len(a.FreeList); n > 0 {
		slot := a.FreeList[n-1]
		a.FreeList = a.FreeList[:n-1]
		entry := &a.Entries[slot]
		entry.Strategy = strategy
		entry.Live = true
		return StrategyID{Slot: slot, Generation: entry.Generation}
	}
	a.Entries = append(a.Entries, SlotEntry{Strategy: strategy, Live: true})
	return StrategyID{Slot: uint64(len(a.Entries) - 1)}
}

func (a *SlotArena) release(id StrategyID) {
	if id.Slot >= uint64(len(a.Entries)) {
		return
	}
	entry := &a.Entries[id.Slot]
	if !entry.Live || entry.Generation != id.Generation {
		return
	}
	entry.Live = false
	entry.Strategy = common.Address{}
	entry.Generation++
	a.FreeList = append(a.FreeList, id.Slot)
}
