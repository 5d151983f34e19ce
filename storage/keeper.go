package storage

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"autovault/native/registry"
)

var errNilRecord = errors.New("storage keeper: nil record")

// Key layout. Records are RLP-encoded under fixed prefixes; addresses are
// appended raw so range scans stay possible on the persistent backend.
var (
	prefixStrategy   = []byte("registry/strategy/")
	prefixTokenIndex = []byte("registry/token/")
	keySlots         = []byte("registry/slots")
)

// Keeper adapts a raw key-value Database into the persistence surface the
// registry engine expects. All values are RLP, matching the record shapes the
// engine hands over; nil big.Int fields are normalized to zero before
// encoding so round-trips stay canonical.
type Keeper struct {
	db Database
}

// NewKeeper wraps db. The keeper never closes the database; the owner does.
func NewKeeper(db Database) *Keeper {
	return &Keeper{db: db}
}

func strategyKey(addr common.Address) []byte {
	return append(append([]byte(nil), prefixStrategy...), addr.Bytes()...)
}

func tokenIndexKey(token common.Address) []byte {
	return append(append([]byte(nil), prefixTokenIndex...), token.Bytes()...)
}

// GetStrategy loads the record for addr, nil when absent.
func (k *Keeper) GetStrategy(addr common.Address) (*registry.Record, error) {
	raw, err := k.db.Get(strategyKey(addr))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec := new(registry.Record)
	if err := rlp.DecodeBytes(raw, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// PutStrategy stores rec under its strategy address.
func (k *Keeper) PutStrategy(rec *registry.Record) error {
	if rec == nil {
		return errNilRecord
	}
	stored := rec.Clone()
	if stored.MinTokensToReinvest == nil {
		stored.MinTokensToReinvest = big.NewInt(0)
	}
	if stored.MinTokensToBuyBack == nil {
		stored.MinTokensToBuyBack = big.NewInt(0)
	}
	raw, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return err
	}
	return k.db.Put(strategyKey(stored.Strategy), raw)
}

// DeleteStrategy removes the record for addr; deleting an absent record is a
// no-op.
func (k *Keeper) DeleteStrategy(addr common.Address) error {
	return k.db.Delete(strategyKey(addr))
}

// StrategiesByToken returns the insertion-ordered strategy addresses indexed
// under the deposit token, nil when the index is empty.
func (k *Keeper) StrategiesByToken(token common.Address) ([]common.Address, error) {
	raw, err := k.db.Get(tokenIndexKey(token))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var addrs []common.Address
	if err := rlp.DecodeBytes(raw, &addrs); err != nil {
		return nil, err
	}
	return addrs, nil
}

// PutTokenIndex replaces the token index; an empty list deletes the key.
func (k *Keeper) PutTokenIndex(token common.Address, addrs []common.Address) error {
	if len(addrs) == 0 {
		return k.db.Delete(tokenIndexKey(token))
	}
	raw, err := rlp.EncodeToBytes(addrs)
	if err != nil {
		return err
	}
	return k.db.Put(tokenIndexKey(token), raw)
}

// Slots loads the generational slot arena, nil before the first write.
func (k *Keeper) Slots() (*registry.SlotArena, error) {
	raw, err := k.db.Get(keySlots)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	arena := new(registry.SlotArena)
	if err := rlp.DecodeBytes(raw, arena); err != nil {
		return nil, err
	}
	return arena, nil
}

// PutSlots persists the slot arena.
func (k *Keeper) PutSlots(arena *registry.SlotArena) error {
	if arena == nil {
		return errNilRecord
	}
	raw, err := rlp.EncodeToBytes(arena)
	if err != nil {
		return err
	}
	return k.db.Put(keySlots, raw)
}
