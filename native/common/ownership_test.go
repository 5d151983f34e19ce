package common

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func TestOwnershipTimelock(t *testing.T) {
	now := int64(1_000)
	o := NewOwnership(addr(1), func() int64 { return now })

	if err := o.Propose(addr(2), addr(3)); err != ErrNotOwner {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := o.Propose(addr(1), addr(2)); err != nil {
		t.Fatalf("propose: %v", err)
	}
	if got := o.ReadyAt(); got != now+OwnershipTimelockSeconds {
		t.Fatalf("readyAt = %d, want %d", got, now+OwnershipTimelockSeconds)
	}

	if err := o.Accept(addr(2)); err != ErrTimelockNotReady {
		t.Fatalf("expected ErrTimelockNotReady, got %v", err)
	}
	if err := o.Accept(addr(3)); err != ErrNotPendingOwner {
		t.Fatalf("expected ErrNotPendingOwner, got %v", err)
	}

	now += OwnershipTimelockSeconds
	if err := o.Accept(addr(2)); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if o.Owner() != addr(2) {
		t.Fatalf("owner = %v, want %v", o.Owner(), addr(2))
	}
	if o.PendingOwner() != (common.Address{}) {
		t.Fatalf("pending owner should be cleared")
	}
	if err := o.Accept(addr(2)); err != ErrNoPendingOwner {
		t.Fatalf("expected ErrNoPendingOwner, got %v", err)
	}
}

func TestOwnershipCancel(t *testing.T) {
	o := NewOwnership(addr(1), func() int64 { return 0 })
	if err := o.Propose(addr(1), addr(2)); err != nil {
		t.Fatalf("propose: %v", err)
	}
	if err := o.Cancel(addr(1)); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := o.Accept(addr(2)); err != ErrNoPendingOwner {
		t.Fatalf("expected ErrNoPendingOwner, got %v", err)
	}
}

func TestSetNowFuncKeepsPendingProposal(t *testing.T) {
	o := NewOwnership(addr(1), func() int64 { return 1_000 })
	if err := o.Propose(addr(1), addr(2)); err != nil {
		t.Fatalf("propose: %v", err)
	}
	readyAt := o.ReadyAt()

	o.SetNowFunc(func() int64 { return readyAt - 1 })
	if o.PendingOwner() != addr(2) {
		t.Fatalf("pending owner lost across clock swap")
	}
	if o.ReadyAt() != readyAt {
		t.Fatalf("readyAt = %d, want %d across clock swap", o.ReadyAt(), readyAt)
	}
	if err := o.Accept(addr(2)); err != ErrTimelockNotReady {
		t.Fatalf("expected ErrTimelockNotReady, got %v", err)
	}

	o.SetNowFunc(func() int64 { return readyAt })
	if err := o.Accept(addr(2)); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if o.Owner() != addr(2) {
		t.Fatalf("owner = %v, want %v", o.Owner(), addr(2))
	}
}

func TestReentrancyGuard(t *testing.T) {
	var g ReentrancyGuard
	release, err := g.Enter()
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	if _, err := g.Enter(); err != ErrReentrantCall {
		t.Fatalf("expected ErrReentrantCall, got %v", err)
	}
	release()
	release2, err := g.Enter()
	if err != nil {
		t.Fatalf("re-enter after release: %v", err)
	}
	release2()
}
