package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/x402kit/settlement"
)

// Reference wire encoding for payment data carried in HTTP headers:
// base64-encoded JSON. The facilitator contract is on the structured
// fields; this codec exists so resource servers can relay the X-PAYMENT
// and X-PAYMENT-RESPONSE headers used in the x402 ecosystem.

// EncodePayment converts a PaymentPayload to a base64 JSON header value.
func EncodePayment(payload settlement.PaymentPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePayment converts a base64 JSON header value to a PaymentPayload.
func DecodePayment(encoded string) (settlement.PaymentPayload, error) {
	var payload settlement.PaymentPayload

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return payload, fmt.Errorf("failed to decode base64: %w", err)
	}

	if err := json.Unmarshal(decoded, &payload); err != nil {
		return payload, fmt.Errorf("failed to unmarshal payment: %w", err)
	}

	return payload, nil
}

// EncodeSettlement converts a SettleResponse to a base64 JSON header value.
func EncodeSettlement(resp settlement.SettleResponse) (string, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settlement: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeSettlement converts a base64 JSON header value to a SettleResponse.
func DecodeSettlement(encoded string) (settlement.SettleResponse, error) {
	var resp settlement.SettleResponse

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return resp, fmt.Errorf("failed to decode base64: %w", err)
	}

	if err := json.Unmarshal(decoded, &resp); err != nil {
		return resp, fmt.Errorf("failed to unmarshal settlement: %w", err)
	}

	return resp, nil
}
