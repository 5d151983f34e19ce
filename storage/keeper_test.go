package storage

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"autovault/native/registry"
)

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func TestStrategyRecordRoundTrip(t *testing.T) {
	k := NewKeeper(NewMemDB())

	missing, err := k.GetStrategy(addr(0x01))
	require.NoError(t, err)
	require.Nil(t, missing)

	rec := &registry.Record{
		ID:                  registry.StrategyID{Slot: 2, Generation: 5},
		Strategy:            addr(0x01),
		DepositToken:        addr(0x02),
		RewardToken:         addr(0x03),
		AdminFeeBps:         200,
		DevFeeBps:           300,
		ReinvestFeeBps:      100,
		MinTokensToReinvest: big.NewInt(1_000),
		Paused:              true,
	}
	require.NoError(t, k.PutStrategy(rec))

	got, err := k.GetStrategy(addr(0x01))
	require.NoError(t, err)
	require.Equal(t, rec.ID, got.ID)
	require.Equal(t, rec.Strategy, got.Strategy)
	require.Equal(t, rec.DepositToken, got.DepositToken)
	require.Equal(t, uint64(200), got.AdminFeeBps)
	require.True(t, got.Paused)
	require.False(t, got.Disabled)
	require.Zero(t, got.MinTokensToReinvest.Cmp(big.NewInt(1_000)))
	// Nil minimums are stored as zero, never nil.
	require.NotNil(t, got.MinTokensToBuyBack)
	require.Zero(t, got.MinTokensToBuyBack.Sign())

	require.NoError(t, k.DeleteStrategy(addr(0x01)))
	got, err = k.GetStrategy(addr(0x01))
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestTokenIndex(t *testing.T) {
	k := NewKeeper(NewMemDB())
	tok := addr(0x10)

	empty, err := k.StrategiesByToken(tok)
	require.NoError(t, err)
	require.Nil(t, empty)

	list := []common.Address{addr(0x01), addr(0x02), addr(0x03)}
	require.NoError(t, k.PutTokenIndex(tok, list))

	got, err := k.StrategiesByToken(tok)
	require.NoError(t, err)
	require.Equal(t, list, got)

	// Writing an empty list clears the index entirely.
	require.NoError(t, k.PutTokenIndex(tok, nil))
	got, err = k.StrategiesByToken(tok)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestSlotArenaPersistence(t *testing.T) {
	k := NewKeeper(NewMemDB())

	arena, err := k.Slots()
	require.NoError(t, err)
	require.Nil(t, arena)

	arena = &registry.SlotArena{
		Entries: []registry.SlotEntry{
			{Generation: 0, Strategy: addr(0x01), Live: true},
			{Generation: 3, Live: false},
		},
		FreeList: []uint64{1},
	}
	require.NoError(t, k.PutSlots(arena))

	got, err := k.Slots()
	require.NoError(t, err)
	require.Len(t, got.Entries, 2)
	require.Equal(t, addr(0x01), got.Entries[0].Strategy)
	require.True(t, got.Entries[0].Live)
	require.Equal(t, uint64(3), got.Entries[1].Generation)
	require.False(t, got.Entries[1].Live)
	require.Equal(t, []uint64{1}, got.FreeList)
}

func TestMemDBIsolation(t *testing.T) {
	db := NewMemDB()
	key := []byte("k")
	val := []byte{1, 2, 3}
	require.NoError(t, db.Put(key, val))
	val[0] = 9

	got, err := db.Get(key)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, got)

	require.NoError(t, db.Delete(key))
	_, err = db.Get(key)
	require.ErrorIs(t, err, ErrKeyNotFound)
}
