package settlement

import (
	"context"
	"math/big"
)

// SignatureVerifier validates that an owner produced a signature over a
// canonical digest. Implementations must fail closed: malformed signatures,
// wrong lengths, or non-matching recovered identities yield false, never a
// panic. Verification has no side effects and is safe to repeat.
type SignatureVerifier interface {
	Verify(ctx context.Context, owner string, digest [32]byte, signature []byte) (bool, error)
}

// NonceLedger tracks nonce consumption per owner with an explicit pending
// state so that the reservation can be linked atomically to the transfer.
//
// Reserve is the test-and-set: it returns true if the nonce is already
// pending or used, otherwise it marks the nonce pending and returns false.
// A pending reservation counts as used for replay purposes. Finalize moves
// pending to used; Release returns pending to unused. Both are no-ops for
// nonces that are not pending.
type NonceLedger interface {
	Reserve(owner string, nonce uint64) (alreadyUsed bool)
	Finalize(owner string, nonce uint64)
	Release(owner string, nonce uint64)
	Used(owner string, nonce uint64) bool
}

// Outcome classifies the result of a value transfer.
type Outcome int

const (
	// OutcomeConfirmed means the transfer definitively happened.
	OutcomeConfirmed Outcome = iota
	// OutcomeRejected means the transfer definitively did not happen.
	OutcomeRejected
	// OutcomeUnknown means the backend could not confirm either way
	// (timeout, partition). The caller must not assume success or failure.
	OutcomeUnknown
)

// TransferResult is the adapter's report of a transfer attempt.
type TransferResult struct {
	Outcome   Outcome
	Reference string // backend transaction reference, empty if none
	Reason    string // populated for OutcomeRejected
}

// TransferAdapter moves value from an owner to a destination using a
// pre-existing approval. A returned error is treated by the engine the same
// as OutcomeUnknown: the outcome cannot be confirmed.
type TransferAdapter interface {
	Transfer(ctx context.Context, asset, from, to string, amount *big.Int) (TransferResult, error)
}

// ApprovalStatus classifies the best-effort underlying-approval pre-step.
type ApprovalStatus int

const (
	ApprovalSucceeded ApprovalStatus = iota
	// ApprovalFailedReason carries a human-readable rejection reason.
	ApprovalFailedReason
	// ApprovalFailedPanic carries a numeric fault code from the backend.
	ApprovalFailedPanic
	// ApprovalFailedOpaque carries raw undecodable failure data.
	ApprovalFailedOpaque
)

// ApprovalOutcome collapses the distinct native failure shapes of the
// approval mechanism into one tagged result.
type ApprovalOutcome struct {
	Status ApprovalStatus
	Reason string
	Code   uint64
	Raw    []byte
}

// ApprovalProvisioner attempts to establish the spending right the transfer
// relies on. Failures never abort settlement; they are recorded and the
// transfer proceeds on whatever approval already exists.
type ApprovalProvisioner interface {
	EnsureApproval(ctx context.Context, asset, owner string, amount *big.Int) ApprovalOutcome
}

// SchemePolicy is the per-scheme amount predicate shared by the single
// validation pipeline. "exact" requires requested == authorized; "upto"
// requires requested <= authorized.
type SchemePolicy interface {
	Scheme() string
	CheckAmount(requested, authorized *big.Int) bool
}

type exactPolicy struct{}

func (exactPolicy) Scheme() string { return SchemeExact }
func (exactPolicy) CheckAmount(requested, authorized *big.Int) bool {
	return requested.Cmp(authorized) == 0
}

type uptoPolicy struct{}

func (uptoPolicy) Scheme() string { return SchemeUpto }
func (uptoPolicy) CheckAmount(requested, authorized *big.Int) bool {
	return requested.Cmp(authorized) <= 0
}

// ExactPolicy returns the fixed-amount scheme policy.
func ExactPolicy() SchemePolicy { return exactPolicy{} }

// UptoPolicy returns the bounded-amount scheme policy.
func UptoPolicy() SchemePolicy { return uptoPolicy{} }

// SchemeFacilitator is implemented by per-scheme settlement engines
// registered with a Facilitator.
type SchemeFacilitator interface {
	Scheme() string
	Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*VerifyResponse, error)
	Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements, requestedAmount string) (*SettleResponse, error)
}
