package transfer

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402kit/settlement"
)

const (
	asset = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	alice = "0x1111111111111111111111111111111111111111"
	bob   = "0x2222222222222222222222222222222222222222"
)

func TestTransferMovesFundsAndConsumesAllowance(t *testing.T) {
	m := NewMemory()
	m.SetBalance(asset, alice, big.NewInt(1000))
	m.Approve(asset, alice, big.NewInt(300))

	result, err := m.Transfer(context.Background(), asset, alice, bob, big.NewInt(200))
	require.NoError(t, err)
	assert.Equal(t, settlement.OutcomeConfirmed, result.Outcome)
	assert.NotEmpty(t, result.Reference)

	assert.Equal(t, big.NewInt(800), m.Balance(asset, alice))
	assert.Equal(t, big.NewInt(200), m.Balance(asset, bob))
	assert.Equal(t, big.NewInt(100), m.Allowance(asset, alice))
}

func TestTransferRejectsInsufficientAllowance(t *testing.T) {
	m := NewMemory()
	m.SetBalance(asset, alice, big.NewInt(1000))
	m.Approve(asset, alice, big.NewInt(50))

	result, err := m.Transfer(context.Background(), asset, alice, bob, big.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, settlement.OutcomeRejected, result.Outcome)
	assert.Equal(t, "insufficient allowance", result.Reason)
	assert.Equal(t, big.NewInt(1000), m.Balance(asset, alice))
}

func TestTransferRejectsInsufficientBalance(t *testing.T) {
	m := NewMemory()
	m.SetBalance(asset, alice, big.NewInt(10))
	m.Approve(asset, alice, big.NewInt(100))

	result, err := m.Transfer(context.Background(), asset, alice, bob, big.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, settlement.OutcomeRejected, result.Outcome)
	assert.Equal(t, "insufficient balance", result.Reason)
	assert.Equal(t, big.NewInt(0), m.Balance(asset, bob))
}

func TestRejectNextOverridesOneTransfer(t *testing.T) {
	m := NewMemory()
	m.SetBalance(asset, alice, big.NewInt(1000))
	m.Approve(asset, alice, big.NewInt(1000))

	m.RejectNext("token paused")
	result, err := m.Transfer(context.Background(), asset, alice, bob, big.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, settlement.OutcomeRejected, result.Outcome)
	assert.Equal(t, "token paused", result.Reason)
	assert.Equal(t, big.NewInt(1000), m.Balance(asset, alice))

	result, err = m.Transfer(context.Background(), asset, alice, bob, big.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, settlement.OutcomeConfirmed, result.Outcome)
}

func TestUnknownNextDebitsButReportsUnknown(t *testing.T) {
	m := NewMemory()
	m.SetBalance(asset, alice, big.NewInt(1000))
	m.Approve(asset, alice, big.NewInt(1000))

	m.UnknownNext()
	result, err := m.Transfer(context.Background(), asset, alice, bob, big.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, settlement.OutcomeUnknown, result.Outcome)
	assert.Empty(t, result.Reference)

	// The backend committed even though the response was lost.
	assert.Equal(t, big.NewInt(900), m.Balance(asset, alice))
	assert.Equal(t, big.NewInt(100), m.Balance(asset, bob))
}

func TestEnsureApprovalRaisesAllowance(t *testing.T) {
	m := NewMemory()

	out := m.EnsureApproval(context.Background(), asset, alice, big.NewInt(500))
	assert.Equal(t, settlement.ApprovalSucceeded, out.Status)
	assert.Equal(t, big.NewInt(500), m.Allowance(asset, alice))

	// An already sufficient allowance is left alone.
	m.Approve(asset, alice, big.NewInt(1000))
	out = m.EnsureApproval(context.Background(), asset, alice, big.NewInt(500))
	assert.Equal(t, settlement.ApprovalSucceeded, out.Status)
	assert.Equal(t, big.NewInt(1000), m.Allowance(asset, alice))
}

func TestRefusedApprovalReportsReason(t *testing.T) {
	m := NewMemory()
	m.RefuseApprovals(true)

	out := m.EnsureApproval(context.Background(), asset, alice, big.NewInt(500))
	assert.Equal(t, settlement.ApprovalFailedReason, out.Status)
	assert.NotEmpty(t, out.Reason)
	assert.Equal(t, big.NewInt(0), m.Allowance(asset, alice))
}
