package ledger

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	errInvalidAmount       = errors.New("share ledger: amount must be positive")
	errInsufficientBalance = errors.New("share ledger: insufficient balance")
)

// ErrInvalidAmount is returned for zero or negative amounts.
var ErrInvalidAmount = errInvalidAmount

// ErrInsufficientBalance is returned when a burn or transfer exceeds the
// holder's balance.
var ErrInsufficientBalance = errInsufficientBalance

// ShareLedger tracks proportional ownership units backing a pooled asset
// balance. Exactly one vault or strategy owns each ledger; nothing else may
// mint or burn against it. The invariant sum(balances) == totalSupply holds
// after every operation because supply only moves in lockstep with a balance.
type ShareLedger struct {
	balances    map[common.Address]*big.Int
	totalSupply *big.Int
}

// New returns an empty ledger.
func New() *ShareLedger {
	return &ShareLedger{
		balances:    make(map[common.Address]*big.Int),
		totalSupply: big.NewInt(0),
	}
}

// Mint credits owner with amount newly-created shares.
func (l *ShareLedger) Mint(owner common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	l.balances[owner] = new(big.Int).Add(l.balanceRef(owner), amount)
	l.totalSupply = new(big.Int).Add(l.totalSupply, amount)
	return nil
}

// Burn destroys amount shares held by owner.
func (l *ShareLedger) Burn(owner common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	balance := l.balanceRef(owner)
	if balance.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	l.balances[owner] = new(big.Int).Sub(balance, amount)
	l.totalSupply = new(big.Int).Sub(l.totalSupply, amount)
	return nil
}

// Transfer moves shares between holders without touching total supply.
func (l *ShareLedger) Transfer(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	fromBalance := l.balanceRef(from)
	if fromBalance.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	l.balances[from] = new(big.Int).Sub(fromBalance, amount)
	l.balances[to] = new(big.Int).Add(l.balanceRef(to), amount)
	return nil
}

// BalanceOf returns a copy of owner's share balance.
func (l *ShareLedger) BalanceOf(owner common.Address) *big.Int {
	return new(big.Int).Set(l.balanceRef(owner))
}

// TotalSupply returns a copy of the outstanding share supply.
func (l *ShareLedger) TotalSupply() *big.Int {
	return new(big.Int).Set(l.totalSupply)
}

// Holders returns the addresses with a non-zero balance. Order is undefined.
func (l *ShareLedger) Holders() []common.Address {
	holders := make([]common.Address, 0, len(l.balances))
	for addr, bal := range l.balances {
		if bal.Sign() > 0 {
			holders = append(holders, addr)
		}
	}
	return holders
}

func (l *ShareLedger) balanceRef(owner common.Address) *big.Int {
	if bal, ok := l.balances[owner]; ok {
		return bal
	}
	return big.NewInt(0)
}
