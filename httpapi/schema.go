package httpapi

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// JSON schemas for the request bodies. Schema validation happens before
// unmarshaling so malformed input is rejected as a calling-convention
// error, never as a settlement outcome.

const authorizationSchema = `{
	"type": "object",
	"required": ["from", "asset", "to", "value", "validAfter", "validBefore", "nonce"],
	"properties": {
		"from": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
		"asset": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
		"to": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
		"settler": {"type": "string"},
		"value": {"type": "string", "pattern": "^[0-9]+$"},
		"validAfter": {"type": "string", "pattern": "^[0-9]+$"},
		"validBefore": {"type": "string", "pattern": "^[0-9]+$"},
		"nonce": {"type": "string", "pattern": "^[0-9]+$"}
	}
}`

const paymentPayloadSchema = `{
	"type": "object",
	"required": ["x402Version", "scheme", "network", "signature", "authorization"],
	"properties": {
		"x402Version": {"type": "integer"},
		"scheme": {"type": "string", "enum": ["exact", "upto"]},
		"network": {"type": "string", "pattern": "^[a-z0-9]+:[a-zA-Z0-9*]+$"},
		"signature": {"type": "string", "pattern": "^0x[0-9a-fA-F]+$"},
		"authorization": ` + authorizationSchema + `
	}
}`

const paymentRequirementsSchema = `{
	"type": "object",
	"required": ["scheme", "network", "payTo"],
	"properties": {
		"scheme": {"type": "string"},
		"network": {"type": "string"},
		"asset": {"type": "string"},
		"amount": {"type": "string", "pattern": "^[0-9]+$"},
		"payTo": {"type": "string"},
		"maxTimeoutSeconds": {"type": "integer"}
	}
}`

const verifyRequestSchema = `{
	"type": "object",
	"required": ["paymentPayload", "paymentRequirements"],
	"properties": {
		"paymentPayload": ` + paymentPayloadSchema + `,
		"paymentRequirements": ` + paymentRequirementsSchema + `
	}
}`

const settleRequestSchema = `{
	"type": "object",
	"required": ["paymentPayload", "paymentRequirements"],
	"properties": {
		"paymentPayload": ` + paymentPayloadSchema + `,
		"paymentRequirements": ` + paymentRequirementsSchema + `,
		"requestedAmount": {"type": "string", "pattern": "^[0-9]+$"}
	}
}`

// validateAgainst validates a JSON document against a schema and returns a
// list of human-readable problems, or nil if the document is valid.
func validateAgainst(schema string, document []byte) []string {
	schemaLoader := gojsonschema.NewStringLoader(schema)
	documentLoader := gojsonschema.NewBytesLoader(document)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return []string{fmt.Sprintf("schema validation failed: %v", err)}
	}
	if result.Valid() {
		return nil
	}

	var details []string
	for _, desc := range result.Errors() {
		details = append(details, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
	}
	return details
}

func validateVerifyRequest(body []byte) []string {
	return validateAgainst(verifyRequestSchema, body)
}

func validateSettleRequest(body []byte) []string {
	return validateAgainst(settleRequestSchema, body)
}

// unmarshalStrict unmarshals JSON into v, wrapping errors with context.
func unmarshalStrict(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal request: %w", err)
	}
	return nil
}
