package main

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"autovault/native/token"
)

var errUnknownAsset = errors.New("sim: unknown asset")

// bookSet hands out one in-memory token book per asset address, so every
// component in simulation mode trades against the same balances.
type bookSet struct {
	mu    sync.Mutex
	books map[common.Address]*token.Book
}

func newBookSet() *bookSet {
	return &bookSet{books: make(map[common.Address]*token.Book)}
}

func (b *bookSet) book(addr common.Address, symbol string) *token.Book {
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.books[addr]; ok {
		return existing
	}
	created := token.NewBook(addr, symbol)
	b.books[addr] = created
	return created
}

func (b *bookSet) lookup(addr common.Address) (*token.Book, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	book, ok := b.books[addr]
	return book, ok
}

// lookupToken adapts lookup to the capability interface the rpc layer wants.
func (b *bookSet) lookupToken(addr common.Address) (token.Token, bool) {
	book, ok := b.lookup(addr)
	if !ok {
		return nil, false
	}
	return book, true
}

// simYieldSource is the in-memory stand-in for an external lending market.
// Supplied funds move onto the source's account and the position is tracked
// per asset and depositor; no yield accrues on its own.
type simYieldSource struct {
	addr  common.Address
	books *bookSet

	mu        sync.Mutex
	positions map[common.Address]map[common.Address]*big.Int
}

func newSimYieldSource(addr common.Address, books *bookSet) *simYieldSource {
	return &simYieldSource{
		addr:      addr,
		books:     books,
		positions: make(map[common.Address]map[common.Address]*big.Int),
	}
}

func (s *simYieldSource) position(asset, account common.Address) *big.Int {
	byAccount, ok := s.positions[asset]
	if !ok {
		byAccount = make(map[common.Address]*big.Int)
		s.positions[asset] = byAccount
	}
	pos, ok := byAccount[account]
	if !ok {
		pos = big.NewInt(0)
		byAccount[account] = pos
	}
	return pos
}

func (s *simYieldSource) Supply(asset common.Address, amount *big.Int, onBehalfOf common.Address) error {
	book, ok := s.books.lookup(asset)
	if !ok {
		return errUnknownAsset
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := book.Transfer(onBehalfOf, s.addr, amount); err != nil {
		return err
	}
	pos := s.position(asset, onBehalfOf)
	pos.Add(pos, amount)
	return nil
}

func (s *simYieldSource) Withdraw(asset common.Address, amount *big.Int, to common.Address) (*big.Int, error) {
	book, ok := s.books.lookup(asset)
	if !ok {
		return nil, errUnknownAsset
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pos := s.position(asset, to)
	actual := new(big.Int).Set(amount)
	if pos.Cmp(actual) < 0 {
		actual = new(big.Int).Set(pos)
	}
	if actual.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if err := book.Transfer(s.addr, to, actual); err != nil {
		return nil, err
	}
	pos.Sub(pos, actual)
	return actual, nil
}

func (s *simYieldSource) BalanceOf(asset, account common.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.position(asset, account)), nil
}

// simClaimer is an incentive source with no emissions. Reinvest pipelines run
// but find nothing to claim until a real claimer replaces it.
type simClaimer struct{}

func (simClaimer) ClaimAllRewards([]common.Address, common.Address) ([]common.Address, []*big.Int, error) {
	return nil, nil, nil
}

func (simClaimer) PendingRewards([]common.Address, common.Address) ([]common.Address, []*big.Int, error) {
	return nil, nil, nil
}

// simRouter swaps 1:1 between any pair on behalf of the single account it is
// bound to: tokenIn moves to the venue, tokenOut is minted back, which keeps
// harvest accounting exercisable without a price model.
type simRouter struct {
	venue  common.Address
	caller common.Address
	books  *bookSet
}

func (r *simRouter) Swap(amountIn *big.Int, tokenIn, tokenOut, pair common.Address) (*big.Int, error) {
	in, ok := r.books.lookup(tokenIn)
	if !ok {
		return nil, errUnknownAsset
	}
	out, ok := r.books.lookup(tokenOut)
	if !ok {
		return nil, errUnknownAsset
	}
	if err := in.Transfer(r.caller, r.venue, amountIn); err != nil {
		return nil, err
	}
	if err := out.Mint(r.caller, amountIn); err != nil {
		return nil, err
	}
	return new(big.Int).Set(amountIn), nil
}

func (r *simRouter) ContainsPair(common.Address, common.Address, common.Address) (bool, error) {
	return true, nil
}

// simVesting releases a fixed tranche to the rewards manager on every claim.
type simVesting struct {
	book    *token.Book
	to      common.Address
	tranche *big.Int
}

func (v *simVesting) Claim() (*big.Int, error) {
	if v.tranche.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	if err := v.book.Mint(v.to, v.tranche); err != nil {
		return nil, err
	}
	return new(big.Int).Set(v.tranche), nil
}
