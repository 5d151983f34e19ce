package token

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidAmount         = errors.New("token: amount must be positive")
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
)

// Token is the fungible asset capability the engines depend on. A failed
// transfer is always reported as an error, never a silent no-op.
type Token interface {
	Address() common.Address
	Transfer(from, to common.Address, amount *big.Int) error
	TransferFrom(spender, from, to common.Address, amount *big.Int) error
	Approve(owner, spender common.Address, amount *big.Int) error
	BalanceOf(owner common.Address) *big.Int
}

// Book is an in-memory Token implementation used by the simulation daemon and
// the engine tests. It carries standard approve/transferFrom semantics.
type Book struct {
	mu         sync.Mutex
	addr       common.Address
	symbol     string
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

// NewBook creates an empty token book identified by addr.
func NewBook(addr common.Address, symbol string) *Book {
	return &Book{
		addr:       addr,
		symbol:     symbol,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Address returns the token identity.
func (b *Book) Address() common.Address { return b.addr }

// Symbol returns the display symbol.
func (b *Book) Symbol() string { return b.symbol }

// Mint credits owner out of thin air. Only test fixtures and the faucet in
// the simulation daemon call this.
func (b *Book) Mint(owner common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[owner] = new(big.Int).Add(b.balance(owner), amount)
	return nil
}

// Transfer moves amount from one holder to another.
func (b *Book) Transfer(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.move(from, to, amount)
}

// TransferFrom moves amount on behalf of from, consuming spender's allowance.
// The holder spending its own balance needs no allowance.
func (b *Book) TransferFrom(spender, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if spender != from {
		allowance := b.allowance(from, spender)
		if allowance.Cmp(amount) < 0 {
			return ErrInsufficientAllowance
		}
		b.allowances[from][spender] = new(big.Int).Sub(allowance, amount)
	}
	return b.move(from, to, amount)
}

// Approve sets spender's allowance over owner's balance.
func (b *Book) Approve(owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.allowances[owner] == nil {
		b.allowances[owner] = make(map[common.Address]*big.Int)
	}
	b.allowances[owner][spender] = new(big.Int).Set(amount)
	return nil
}

// BalanceOf returns a copy of owner's balance.
func (b *Book) BalanceOf(owner common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.balance(owner))
}

func (b *Book) move(from, to common.Address, amount *big.Int) error {
	fromBalance := b.balance(from)
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	b.balances[from] = new(big.Int).Sub(fromBalance, amount)
	b.balances[to] = new(big.Int).Add(b.balance(to), amount)
	return nil
}

func (b *Book) balance(owner common.Address) *big.Int {
	if bal, ok := b.balances[owner]; ok {
		return bal
	}
	return big.NewInt(0)
}

func (b *Book) allowance(owner, spender common.Address) *big.Int {
	if byOwner, ok := b.allowances[owner]; ok {
		if a, ok := byOwner[spender]; ok {
			return a
		}
	}
	return big.NewInt(0)
}
