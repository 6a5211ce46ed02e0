// Package transfer provides token transfer adapters for the settlement
// engine. The in-memory adapter here backs tests and demos; production
// deployments plug in an adapter over their real value rail (on-chain
// allowance, database ledger, payment processor).
package transfer

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/x402kit/settlement"
)

// Memory is an in-memory, allowance-based value store implementing
// settlement.TransferAdapter. Transfers are pull-based: the settlement
// system spends from an owner's allowance, mirroring the pre-existing
// approval model the engine assumes.
//
// It also implements settlement.ApprovalProvisioner: EnsureApproval is the
// self-service allowance call, which can be disabled to model value sources
// without one.
type Memory struct {
	mu         sync.Mutex
	balances   map[string]map[string]*big.Int // asset -> holder -> balance
	allowances map[string]map[string]*big.Int // asset -> owner -> allowance granted to the settlement system
	txCounter  uint64

	refuseApprovals bool
	rejectNext      string // rejection reason for the next transfer, "" for none
	unknownNext     bool   // force Unknown outcome on the next transfer
}

// NewMemory creates an empty in-memory adapter.
func NewMemory() *Memory {
	return &Memory{
		balances:   make(map[string]map[string]*big.Int),
		allowances: make(map[string]map[string]*big.Int),
	}
}

// SetBalance sets a holder's balance for an asset.
func (m *Memory) SetBalance(asset, holder string, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances[asset] == nil {
		m.balances[asset] = make(map[string]*big.Int)
	}
	m.balances[asset][holder] = new(big.Int).Set(amount)
}

// Balance returns a holder's balance for an asset (zero if unset).
func (m *Memory) Balance(asset, holder string) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.balanceLocked(asset, holder))
}

func (m *Memory) balanceLocked(asset, holder string) *big.Int {
	if holders, ok := m.balances[asset]; ok {
		if b, ok := holders[holder]; ok {
			return b
		}
	}
	return new(big.Int)
}

// Approve grants the settlement system an allowance over the owner's funds.
func (m *Memory) Approve(asset, owner string, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allowances[asset] == nil {
		m.allowances[asset] = make(map[string]*big.Int)
	}
	m.allowances[asset][owner] = new(big.Int).Set(amount)
}

// Allowance returns the settlement system's allowance for an owner's funds.
func (m *Memory) Allowance(asset, owner string) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.allowanceLocked(asset, owner))
}

func (m *Memory) allowanceLocked(asset, owner string) *big.Int {
	if owners, ok := m.allowances[asset]; ok {
		if a, ok := owners[owner]; ok {
			return a
		}
	}
	return new(big.Int)
}

// RefuseApprovals makes EnsureApproval fail, modeling a value source with
// no self-service approval mechanism.
func (m *Memory) RefuseApprovals(refuse bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refuseApprovals = refuse
}

// RejectNext makes the next Transfer come back Rejected with the given reason.
func (m *Memory) RejectNext(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectNext = reason
}

// UnknownNext makes the next Transfer come back with an Unknown outcome,
// simulating a timeout against the value-movement backend. The debit still
// happens, as it would in a partition where the backend committed but the
// response was lost.
func (m *Memory) UnknownNext() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unknownNext = true
}

// Transfer moves amount from the owner to the destination, consuming
// allowance. The whole check-and-move is a single critical section.
func (m *Memory) Transfer(ctx context.Context, asset, from, to string, amount *big.Int) (settlement.TransferResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if reason := m.rejectNext; reason != "" {
		m.rejectNext = ""
		return settlement.TransferResult{Outcome: settlement.OutcomeRejected, Reason: reason}, nil
	}

	allowance := m.allowanceLocked(asset, from)
	if allowance.Cmp(amount) < 0 {
		return settlement.TransferResult{Outcome: settlement.OutcomeRejected, Reason: "insufficient allowance"}, nil
	}

	balance := m.balanceLocked(asset, from)
	if balance.Cmp(amount) < 0 {
		return settlement.TransferResult{Outcome: settlement.OutcomeRejected, Reason: "insufficient balance"}, nil
	}

	allowance.Sub(allowance, amount)
	balance.Sub(balance, amount)
	if m.balances[asset] == nil {
		m.balances[asset] = make(map[string]*big.Int)
	}
	if m.balances[asset][to] == nil {
		m.balances[asset][to] = new(big.Int)
	}
	m.balances[asset][to].Add(m.balances[asset][to], amount)

	m.txCounter++
	result := settlement.TransferResult{
		Outcome:   settlement.OutcomeConfirmed,
		Reference: fmt.Sprintf("memtx-%d", m.txCounter),
	}

	if m.unknownNext {
		m.unknownNext = false
		return settlement.TransferResult{Outcome: settlement.OutcomeUnknown}, nil
	}

	return result, nil
}

// EnsureApproval raises the owner's allowance to at least amount. With
// approvals refused it reports a reasoned failure instead; the engine
// treats that as best-effort and proceeds.
func (m *Memory) EnsureApproval(ctx context.Context, asset, owner string, amount *big.Int) settlement.ApprovalOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refuseApprovals {
		return settlement.ApprovalOutcome{
			Status: settlement.ApprovalFailedReason,
			Reason: "approval mechanism not supported by asset",
		}
	}

	if m.allowanceLocked(asset, owner).Cmp(amount) < 0 {
		if m.allowances[asset] == nil {
			m.allowances[asset] = make(map[string]*big.Int)
		}
		m.allowances[asset][owner] = new(big.Int).Set(amount)
	}
	return settlement.ApprovalOutcome{Status: settlement.ApprovalSucceeded}
}

var (
	_ settlement.TransferAdapter     = (*Memory)(nil)
	_ settlement.ApprovalProvisioner = (*Memory)(nil)
)
