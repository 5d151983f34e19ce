package token

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func TestTransferRequiresBalance(t *testing.T) {
	book := NewBook(addr(9), "AVT")
	a, b := addr(1), addr(2)
	if err := book.Mint(a, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := book.Transfer(a, b, big.NewInt(101)); err != ErrInsufficientBalance {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := book.Transfer(a, b, big.NewInt(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := book.BalanceOf(b); got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("balance b = %s, want 40", got)
	}
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	book := NewBook(addr(9), "AVT")
	owner, spender, sink := addr(1), addr(2), addr(3)
	if err := book.Mint(owner, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := book.TransferFrom(spender, owner, sink, big.NewInt(10)); err != ErrInsufficientAllowance {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
	if err := book.Approve(owner, spender, big.NewInt(25)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := book.TransferFrom(spender, owner, sink, big.NewInt(10)); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}
	if err := book.TransferFrom(spender, owner, sink, big.NewInt(20)); err != ErrInsufficientAllowance {
		t.Fatalf("expected allowance exhaustion, got %v", err)
	}
	// A holder spending its own balance bypasses the allowance check.
	if err := book.TransferFrom(owner, owner, sink, big.NewInt(5)); err != nil {
		t.Fatalf("self transferFrom: %v", err)
	}
}
