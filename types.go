package settlement

import (
	"fmt"
	"strings"
)

// Network represents a blockchain network identifier in CAIP-2 format
// Format: namespace:reference (e.g., "eip155:8453" for Base mainnet)
type Network string

// Parse splits the network into namespace and reference components
func (n Network) Parse() (namespace, reference string, err error) {
	parts := strings.Split(string(n), ":")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid network format: %s", n)
	}
	return parts[0], parts[1], nil
}

// Match checks if this network matches a pattern (supports wildcards)
// e.g., "eip155:8453" matches "eip155:*" and "eip155:*" matches "eip155:8453"
func (n Network) Match(pattern Network) bool {
	if n == pattern {
		return true
	}

	nStr := string(n)
	patternStr := string(pattern)

	if strings.HasSuffix(patternStr, ":*") {
		prefix := strings.TrimSuffix(patternStr, "*")
		return strings.HasPrefix(nStr, prefix)
	}

	if strings.HasSuffix(nStr, ":*") {
		prefix := strings.TrimSuffix(nStr, "*")
		return strings.HasPrefix(patternStr, prefix)
	}

	return false
}

// Payment schemes supported by the settlement engine.
// "exact" settles the authorized value and nothing else; "upto" treats the
// authorized value as an upper bound and takes the requested amount at
// settlement time.
const (
	SchemeExact = "exact"
	SchemeUpto  = "upto"
)

// Authorization is the signed payment intent produced by the payer.
// Every field here is covered by the EIP-712 signature; anything supplied
// only at settlement time (the requested amount for "upto") is deliberately
// outside the signed payload.
type Authorization struct {
	From        string `json:"from"`        // Payer address (hex)
	Asset       string `json:"asset"`       // Token contract address (hex)
	To          string `json:"to"`          // Destination address (hex), bound into the signature
	Settler     string `json:"settler"`     // Authorized settler address (hex), zero address if unbound
	Value       string `json:"value"`       // Amount (exact) or upper bound (upto), decimal string
	ValidAfter  string `json:"validAfter"`  // Unix timestamp as decimal string
	ValidBefore string `json:"validBefore"` // Unix timestamp as decimal string
	Nonce       string `json:"nonce"`       // Owner-scoped nonce as decimal string
}

// PaymentPayload is the signed payment authorization submitted by a client.
type PaymentPayload struct {
	X402Version   int           `json:"x402Version"`
	Scheme        string        `json:"scheme"`
	Network       Network       `json:"network"`
	Signature     string        `json:"signature"` // EIP-712 signature (hex, 65 bytes for EOA)
	Authorization Authorization `json:"authorization"`
}

// PaymentRequirements defines what payment is acceptable for a resource
type PaymentRequirements struct {
	Scheme            string  `json:"scheme"`
	Network           Network `json:"network"`
	Asset             string  `json:"asset"`
	Amount            string  `json:"amount"` // Minimum acceptable amount, decimal string
	PayTo             string  `json:"payTo"`
	MaxTimeoutSeconds int     `json:"maxTimeoutSeconds,omitempty"`
}

// VerifyRequest contains the payment to verify
type VerifyRequest struct {
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// VerifyResponse contains the verification result
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleRequest contains the payment to settle.
// RequestedAmount is only meaningful for "upto"; when empty it defaults to
// the authorized value.
type SettleRequest struct {
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
	RequestedAmount     string              `json:"requestedAmount,omitempty"`
}

// SettleResponse contains the settlement result.
// Pending is set only for the ambiguous transfer outcome: the transfer may
// or may not have happened, the nonce reservation is held, and the payment
// must be reconciled out of band before being treated as failed.
type SettleResponse struct {
	Success     bool    `json:"success"`
	ErrorReason string  `json:"errorReason,omitempty"`
	Payer       string  `json:"payer,omitempty"`
	Amount      string  `json:"amount,omitempty"`
	Reference   string  `json:"reference,omitempty"`
	Network     Network `json:"network"`
	Pending     bool    `json:"pending,omitempty"`
}

// SupportedKind represents a single supported payment configuration
type SupportedKind struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     Network                `json:"network"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponse describes what payment kinds a facilitator supports
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}
