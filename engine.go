package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/x402kit/settlement/eip712"
	"github.com/x402kit/settlement/events"
)

// Engine is the settlement state machine: it turns an (authorization,
// requested amount, current time) tuple into either a completed transfer or
// a rejection. From the caller's point of view settlement is a single
// atomic operation; there are no retriable intermediate states, with the
// one exception of the ambiguous transfer outcome, reported as pending.
//
// The replay guard doubles as the reentrancy guard: the nonce reservation
// is the first irreversible step of the settle path, so an adapter calling
// back into Settle mid-flight observes the reservation and is rejected as a
// replay before any second transfer can start.
type Engine struct {
	policy    SchemePolicy
	verifier  SignatureVerifier
	ledger    NonceLedger
	adapter   TransferAdapter
	approver  ApprovalProvisioner
	sink      events.Sink
	settlerID string
	network   Network
	domain    eip712.Domain
	now       func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSettlerID sets the identity this engine settles as. Authorizations
// that bind a different settler are rejected.
func WithSettlerID(id string) EngineOption {
	return func(e *Engine) { e.settlerID = id }
}

// WithApprover sets the best-effort underlying-approval provisioner.
func WithApprover(a ApprovalProvisioner) EngineOption {
	return func(e *Engine) { e.approver = a }
}

// WithEventSink sets the observability sink.
func WithEventSink(s events.Sink) EngineOption {
	return func(e *Engine) { e.sink = s }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithDomain overrides the EIP-712 domain separator.
func WithDomain(d eip712.Domain) EngineOption {
	return func(e *Engine) { e.domain = d }
}

// NewEngine creates a settlement engine for one scheme on one network.
func NewEngine(
	network Network,
	policy SchemePolicy,
	verifier SignatureVerifier,
	ledger NonceLedger,
	adapter TransferAdapter,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		policy:   policy,
		verifier: verifier,
		ledger:   ledger,
		adapter:  adapter,
		network:  network,
		domain:   DefaultDomain(network),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DefaultDomain builds the EIP-712 domain for a network. The chain id is
// taken from the CAIP-2 reference for eip155 networks and left nil
// otherwise. The default domain carries no verifying contract; the digest
// is then computed over a domain without that field, which is valid
// EIP-712. Deployments with an on-chain verifier set it via WithDomain,
// changing every digest.
func DefaultDomain(network Network) eip712.Domain {
	d := eip712.Domain{
		Name:    "x402 Settlement",
		Version: "1",
	}
	namespace, reference, err := network.Parse()
	if err == nil && namespace == "eip155" {
		if chainID, ok := new(big.Int).SetString(reference, 10); ok {
			d.ChainID = chainID
		}
	}
	return d
}

// Scheme returns the scheme this engine settles.
func (e *Engine) Scheme() string { return e.policy.Scheme() }

// Network returns the network this engine settles on.
func (e *Engine) Network() Network { return e.network }

// validated carries the parsed fields of a payload that passed steps 1-7.
type validated struct {
	owner       string
	asset       string
	to          string
	requested   *big.Int
	authorized  *big.Int
	validAfter  *big.Int
	validBefore *big.Int
	nonce       uint64
	digest      [32]byte
	signature   []byte
}

// rejection is a terminal validation failure with its reason code.
type rejection struct {
	reason  string
	message string
}

func reject(reason, message string) *rejection {
	return &rejection{reason: reason, message: message}
}

// validate runs the side-effect-free validation pipeline (amount, parties,
// settler binding, time window, amount bound, requirements cross-checks,
// signature). Returns either parsed fields or a rejection. Parse failures
// of the payload itself are returned as a hard error.
func (e *Engine) validate(
	ctx context.Context,
	payload PaymentPayload,
	requirements PaymentRequirements,
	requestedAmount string,
) (*validated, *rejection, error) {
	auth := payload.Authorization

	if payload.Scheme != e.policy.Scheme() || requirements.Scheme != e.policy.Scheme() {
		return nil, reject(ErrSchemeMismatch, "scheme mismatch"), nil
	}
	if !payload.Network.Match(e.network) || !requirements.Network.Match(e.network) {
		return nil, reject(ErrNetworkMismatch, "network mismatch"), nil
	}

	authorized, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return nil, nil, NewVerifyError(ErrInvalidPayload, auth.From, fmt.Sprintf("invalid value: %s", auth.Value))
	}
	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		return nil, nil, NewVerifyError(ErrInvalidPayload, auth.From, fmt.Sprintf("invalid validAfter: %s", auth.ValidAfter))
	}
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return nil, nil, NewVerifyError(ErrInvalidPayload, auth.From, fmt.Sprintf("invalid validBefore: %s", auth.ValidBefore))
	}
	nonce, err := strconv.ParseUint(auth.Nonce, 10, 64)
	if err != nil {
		return nil, nil, NewVerifyError(ErrInvalidPayload, auth.From, fmt.Sprintf("invalid nonce: %s", auth.Nonce))
	}

	if requestedAmount == "" {
		requestedAmount = auth.Value
	}
	requested, ok := new(big.Int).SetString(requestedAmount, 10)
	if !ok {
		return nil, nil, NewVerifyError(ErrInvalidPayload, auth.From, fmt.Sprintf("invalid requested amount: %s", requestedAmount))
	}

	// 1. A zero amount is rejected up front so it can never consume a nonce.
	if requested.Sign() <= 0 {
		return nil, reject(ErrInvalidAmount, "requested amount must be positive"), nil
	}

	// 2. Null parties.
	if eip712.IsZeroAddress(auth.From) || eip712.IsZeroAddress(auth.To) {
		return nil, reject(ErrInvalidParty, "owner and destination must be set"), nil
	}

	// 3. Settler binding: who may trigger settlement is part of the signed
	// payload, never caller-supplied input.
	if !eip712.IsZeroAddress(auth.Settler) && !strings.EqualFold(auth.Settler, e.settlerID) {
		return nil, reject(ErrUnauthorizedSettler, "authorization binds a different settler"), nil
	}

	// 4-5. Time window, inclusive on both ends.
	now := big.NewInt(e.now().Unix())
	if now.Cmp(validAfter) < 0 {
		return nil, reject(ErrTooEarly, "authorization not yet valid"), nil
	}
	if now.Cmp(validBefore) > 0 {
		return nil, reject(ErrExpired, "authorization expired"), nil
	}

	// 6. Amount bound per scheme, then requirements cross-checks.
	if !e.policy.CheckAmount(requested, authorized) {
		return nil, reject(ErrAmountExceeded, "requested amount violates authorized bound"), nil
	}
	if requirements.PayTo != "" && !strings.EqualFold(auth.To, requirements.PayTo) {
		return nil, reject(ErrRecipientMismatch, "destination does not match payTo"), nil
	}
	if requirements.Asset != "" && !strings.EqualFold(auth.Asset, requirements.Asset) {
		return nil, reject(ErrAssetMismatch, "asset does not match requirements"), nil
	}
	if requirements.Amount != "" {
		required, ok := new(big.Int).SetString(requirements.Amount, 10)
		if !ok {
			return nil, nil, NewVerifyError(ErrInvalidPayload, auth.From, fmt.Sprintf("invalid required amount: %s", requirements.Amount))
		}
		if requested.Cmp(required) < 0 {
			return nil, reject(ErrInsufficientAmount, "requested amount below required amount"), nil
		}
	}

	// 7. Signature over the canonical digest. Checked after the cheap
	// predicates and before the nonce is touched: only a payload genuinely
	// signed by the claimed owner may burn a nonce.
	signature, err := eip712.HexToBytes(payload.Signature)
	if err != nil {
		return nil, reject(ErrInvalidSignature, "malformed signature encoding"), nil
	}
	digest, err := eip712.HashAuthorization(eip712.AuthorizationMessage{
		From:        auth.From,
		Asset:       auth.Asset,
		To:          auth.To,
		Settler:     auth.Settler,
		Value:       authorized,
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
		Nonce:       nonce,
	}, e.domain)
	if err != nil {
		return nil, nil, NewVerifyError(ErrInvalidPayload, auth.From, err.Error())
	}
	valid, err := e.verifier.Verify(ctx, auth.From, digest, signature)
	if err != nil || !valid {
		return nil, reject(ErrInvalidSignature, "signature does not match owner"), nil
	}

	return &validated{
		owner:       auth.From,
		asset:       auth.Asset,
		to:          auth.To,
		requested:   requested,
		authorized:  authorized,
		validAfter:  validAfter,
		validBefore: validBefore,
		nonce:       nonce,
		digest:      digest,
		signature:   signature,
	}, nil, nil
}

// Verify runs the validation pipeline without consuming anything. Safe to
// call many times for the same authorization. The replay check here is
// read-only.
func (e *Engine) Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*VerifyResponse, error) {
	v, rej, err := e.validate(ctx, payload, requirements, "")
	if err != nil {
		return nil, err
	}
	if rej != nil {
		return &VerifyResponse{
			IsValid:       false,
			InvalidReason: rej.reason,
			Payer:         payload.Authorization.From,
		}, nil
	}

	if e.ledger.Used(v.owner, v.nonce) {
		return &VerifyResponse{
			IsValid:       false,
			InvalidReason: ErrReplayedAuthorization,
			Payer:         v.owner,
		}, nil
	}

	return &VerifyResponse{IsValid: true, Payer: v.owner}, nil
}

// Settle runs the full pipeline including nonce consumption and the
// transfer. Calling it twice with the same authorization yields success at
// most once and replayed_authorization thereafter.
func (e *Engine) Settle(
	ctx context.Context,
	payload PaymentPayload,
	requirements PaymentRequirements,
	requestedAmount string,
) (*SettleResponse, error) {
	v, rej, err := e.validate(ctx, payload, requirements, requestedAmount)
	if err != nil {
		// Hard parse failures surface under the settle error type here,
		// not the verify one validate builds internally.
		var ve *VerifyError
		if errors.As(err, &ve) {
			return nil, NewSettleError(ve.InvalidReason, ve.Payer, e.network, "", ve.InvalidMessage)
		}
		return nil, err
	}
	if rej != nil {
		e.emitValidationFailed(payload, rej.reason)
		return e.fail(payload.Authorization.From, rej.reason), nil
	}

	// 8. Consume the nonce. This is the first irreversible mutation on the
	// settle path; everything after either finalizes or releases it.
	if alreadyUsed := e.ledger.Reserve(v.owner, v.nonce); alreadyUsed {
		e.emitValidationFailed(payload, ErrReplayedAuthorization)
		return e.fail(v.owner, ErrReplayedAuthorization), nil
	}

	// Best-effort approval pre-step. Failure is recorded and ignored; the
	// transfer proceeds on whatever spending right already exists.
	if e.approver != nil {
		if out := e.approver.EnsureApproval(ctx, v.asset, v.owner, v.requested); out.Status != ApprovalSucceeded {
			e.emit(events.Event{
				Type:        events.TypeUnderlyingApprovalFailed,
				Timestamp:   e.now(),
				Network:     string(e.network),
				Scheme:      e.Scheme(),
				Owner:       v.owner,
				Destination: v.to,
				Asset:       v.asset,
				Amount:      v.requested.String(),
				Nonce:       v.nonce,
				Reason:      ErrUnderlyingApprovalFailed,
				Detail:      approvalReason(out),
			})
		}
	}

	// 9. Move the funds. The destination and amount come from the signed
	// payload and the validated request, never from unsigned caller input.
	result, xferErr := e.adapter.Transfer(ctx, v.asset, v.owner, v.to, v.requested)
	if xferErr != nil || result.Outcome == OutcomeUnknown {
		// The transfer may or may not have happened. Hold the reservation:
		// finalizing could lose a legitimate payment, releasing could allow
		// a double spend. Reconcile via NonceLedger.Resolve.
		e.emit(events.Event{
			Type:        events.TypeTransferOutcomeUnknown,
			Timestamp:   e.now(),
			Network:     string(e.network),
			Scheme:      e.Scheme(),
			Owner:       v.owner,
			Destination: v.to,
			Asset:       v.asset,
			Amount:      v.requested.String(),
			Nonce:       v.nonce,
			Reason:      ErrTransferOutcomeUnknown,
		})
		resp := e.fail(v.owner, ErrTransferOutcomeUnknown)
		resp.Pending = true
		return resp, nil
	}

	if result.Outcome == OutcomeRejected {
		e.ledger.Release(v.owner, v.nonce)
		e.emitValidationFailed(payload, ErrTransferRejected)
		return e.fail(v.owner, ErrTransferRejected), nil
	}

	e.ledger.Finalize(v.owner, v.nonce)

	reference := result.Reference
	if reference == "" {
		reference = NewSettlementReference()
	}

	e.emit(events.Event{
		Type:        events.TypeSettled,
		Timestamp:   e.now(),
		Network:     string(e.network),
		Scheme:      e.Scheme(),
		Owner:       v.owner,
		Destination: v.to,
		Asset:       v.asset,
		Amount:      v.requested.String(),
		Nonce:       v.nonce,
		Reference:   reference,
	})

	return &SettleResponse{
		Success:   true,
		Payer:     v.owner,
		Amount:    v.requested.String(),
		Reference: reference,
		Network:   e.network,
	}, nil
}

func (e *Engine) fail(payer, reason string) *SettleResponse {
	return &SettleResponse{
		Success:     false,
		ErrorReason: reason,
		Payer:       payer,
		Network:     e.network,
	}
}

func (e *Engine) emit(ev events.Event) {
	if e.sink != nil {
		e.sink.Emit(ev)
	}
}

func (e *Engine) emitValidationFailed(payload PaymentPayload, reason string) {
	auth := payload.Authorization
	nonce, _ := strconv.ParseUint(auth.Nonce, 10, 64)
	e.emit(events.Event{
		Type:        events.TypeValidationFailed,
		Timestamp:   e.now(),
		Network:     string(e.network),
		Scheme:      e.Scheme(),
		Owner:       auth.From,
		Destination: auth.To,
		Asset:       auth.Asset,
		Nonce:       nonce,
		Reason:      reason,
	})
}

func approvalReason(out ApprovalOutcome) string {
	switch out.Status {
	case ApprovalFailedReason:
		return out.Reason
	case ApprovalFailedPanic:
		return fmt.Sprintf("panic code %d", out.Code)
	case ApprovalFailedOpaque:
		return fmt.Sprintf("opaque failure (%d bytes)", len(out.Raw))
	default:
		return ""
	}
}

// NewSettlementReference generates a unique settlement reference.
// Format: "settle_" + UUID v4 without hyphens.
func NewSettlementReference() string {
	return "settle_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}
