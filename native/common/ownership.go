package common

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotOwner          = errors.New("caller is not the owner")
	ErrNoPendingOwner    = errors.New("no pending ownership transfer")
	ErrNotPendingOwner   = errors.New("caller is not the pending owner")
	ErrTimelockNotReady  = errors.New("ownership timelock has not elapsed")
	ErrZeroAddressTarget = errors.New("ownership target must not be the zero address")
)

// OwnershipTimelockSeconds is the mandatory delay between proposing a new
// owner and the proposal becoming acceptable.
const OwnershipTimelockSeconds int64 = 2 * 24 * 60 * 60

// Ownership models the two-step owner handover: NoPending until a proposal is
// made, Pending{target, readyAt} afterwards, committed when the target accepts
// after the timelock elapses. Time is injected so callers control the clock.
type Ownership struct {
	owner   common.Address
	pending common.Address
	readyAt int64
	nowFn   func() int64
}

// NewOwnership seeds the state machine with the initial owner.
func NewOwnership(owner common.Address, nowFn func() int64) *Ownership {
	return &Ownership{owner: owner, nowFn: nowFn}
}

// SetNowFunc swaps the clock in place. The owner and any outstanding proposal
// survive; a pending readyAt keeps its absolute timestamp under the new clock.
func (o *Ownership) SetNowFunc(nowFn func() int64) {
	if o == nil || nowFn == nil {
		return
	}
	o.nowFn = nowFn
}

// Owner returns the current committed owner.
func (o *Ownership) Owner() common.Address {
	if o == nil {
		return common.Address{}
	}
	return o.owner
}

// PendingOwner returns the proposed owner, or the zero address when no
// proposal is outstanding.
func (o *Ownership) PendingOwner() common.Address {
	if o == nil {
		return common.Address{}
	}
	return o.pending
}

// ReadyAt returns the unix timestamp at which the pending proposal becomes
// acceptable, zero when no proposal is outstanding.
func (o *Ownership) ReadyAt() int64 {
	if o == nil {
		return 0
	}
	return o.readyAt
}

// RequireOwner rejects callers other than the committed owner.
func (o *Ownership) RequireOwner(caller common.Address) error {
	if o == nil || caller != o.owner {
		return ErrNotOwner
	}
	return nil
}

// Propose records a new ownership target. Proposing again overwrites any
// outstanding proposal and restarts the timelock.
func (o *Ownership) Propose(caller, target common.Address) error {
	if err := o.RequireOwner(caller); err != nil {
		return err
	}
	if target == (common.Address{}) {
		return ErrZeroAddressTarget
	}
	o.pending = target
	o.readyAt = o.now() + OwnershipTimelockSeconds
	return nil
}

// Accept commits the pending proposal. Only the proposed target may accept,
// and only once the timelock has elapsed.
func (o *Ownership) Accept(caller common.Address) error {
	if o == nil || o.pending == (common.Address{}) {
		return ErrNoPendingOwner
	}
	if caller != o.pending {
		return ErrNotPendingOwner
	}
	if o.now() < o.readyAt {
		return ErrTimelockNotReady
	}
	o.owner = o.pending
	o.pending = common.Address{}
	o.readyAt = 0
	return nil
}

// Cancel drops an outstanding proposal.
func (o *Ownership) Cancel(caller common.Address) error {
	if err := o.RequireOwner(caller); err != nil {
		return err
	}
	o.pending = common.Address{}
	o.readyAt = 0
	return nil
}

func (o *Ownership) now() int64 {
	if o.nowFn == nil {
		return 0
	}
	return o.nowFn()
}
