package settlement

import "fmt"

// Rejection reason codes returned in VerifyResponse.InvalidReason and
// SettleResponse.ErrorReason. Expected rejections are reported as response
// values, not errors; see VerifyError/SettleError for the hard-failure path.
const (
	ErrInvalidPayload        = "invalid_payload"
	ErrInvalidAmount         = "invalid_amount"
	ErrInvalidParty          = "invalid_party"
	ErrUnauthorizedSettler   = "unauthorized_settler"
	ErrTooEarly              = "too_early"
	ErrExpired               = "expired"
	ErrAmountExceeded        = "amount_exceeded"
	ErrInvalidSignature      = "invalid_signature"
	ErrReplayedAuthorization = "replayed_authorization"

	ErrTransferRejected       = "transfer_rejected"
	ErrTransferOutcomeUnknown = "transfer_outcome_unknown"

	// Requirements cross-checks performed during verify
	ErrSchemeMismatch     = "scheme_mismatch"
	ErrNetworkMismatch    = "network_mismatch"
	ErrRecipientMismatch  = "recipient_mismatch"
	ErrAssetMismatch      = "asset_mismatch"
	ErrInsufficientAmount = "insufficient_amount"

	ErrUnsupportedScheme  = "unsupported_scheme"
	ErrUnsupportedNetwork = "unsupported_network"

	// Non-fatal, surfaced via events only
	ErrUnderlyingApprovalFailed = "underlying_approval_failed"
)

// VerifyError is a hard failure of the verify calling convention itself,
// e.g. a payload that cannot be parsed into an Authorization. Ordinary
// rejections come back as VerifyResponse values instead.
type VerifyError struct {
	InvalidReason  string `json:"invalidReason"`
	Payer          string `json:"payer,omitempty"`
	InvalidMessage string `json:"invalidMessage,omitempty"`
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verify failed: %s: %s", e.InvalidReason, e.InvalidMessage)
}

// NewVerifyError creates a VerifyError with the given reason code
func NewVerifyError(reason, payer, message string) *VerifyError {
	return &VerifyError{
		InvalidReason:  reason,
		Payer:          payer,
		InvalidMessage: message,
	}
}

// SettleError is the settle-side analogue of VerifyError.
type SettleError struct {
	ErrorReason  string  `json:"errorReason"`
	Payer        string  `json:"payer,omitempty"`
	Network      Network `json:"network,omitempty"`
	Reference    string  `json:"reference,omitempty"`
	ErrorMessage string  `json:"errorMessage,omitempty"`
}

func (e *SettleError) Error() string {
	return fmt.Sprintf("settle failed: %s: %s", e.ErrorReason, e.ErrorMessage)
}

// NewSettleError creates a SettleError with the given reason code
func NewSettleError(reason, payer string, network Network, reference, message string) *SettleError {
	return &SettleError{
		ErrorReason:  reason,
		Payer:        payer,
		Network:      network,
		Reference:    reference,
		ErrorMessage: message,
	}
}
