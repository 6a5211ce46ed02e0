// Package eip712 computes the canonical EIP-712 digest of a payment
// authorization and verifies signatures over it. The digest covers every
// semantically signed field plus a domain separator binding it to one
// deployment, so identical bytes cannot be replayed elsewhere. The
// settlement-time requested amount is never part of the digest.
package eip712

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// PrimaryType is the EIP-712 struct name signed by payers.
const PrimaryType = "PaymentAuthorization"

// Domain is the EIP-712 domain separator for one settlement deployment.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract string
}

// AuthorizationMessage is the parsed, canonical form of the signed payload.
// All address fields are hex strings; the zero address marks an unbound
// settler.
type AuthorizationMessage struct {
	From        string
	Asset       string
	To          string
	Settler     string
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       uint64
}

// Types returns the EIP-712 type definitions used to hash an authorization
// under the given domain. Per EIP-712 the EIP712Domain type lists exactly
// the fields the domain populates; apitypes omits empty fields from the
// domain map, so the type list must match or hashing fails.
// Field order is part of the canonical encoding and must match signers.
func Types(domain Domain) map[string][]apitypes.Type {
	domainFields := make([]apitypes.Type, 0, 4)
	if domain.Name != "" {
		domainFields = append(domainFields, apitypes.Type{Name: "name", Type: "string"})
	}
	if domain.Version != "" {
		domainFields = append(domainFields, apitypes.Type{Name: "version", Type: "string"})
	}
	if domain.ChainID != nil {
		domainFields = append(domainFields, apitypes.Type{Name: "chainId", Type: "uint256"})
	}
	if domain.VerifyingContract != "" {
		domainFields = append(domainFields, apitypes.Type{Name: "verifyingContract", Type: "address"})
	}
	return map[string][]apitypes.Type{
		"EIP712Domain": domainFields,
		PrimaryType: {
			{Name: "from", Type: "address"},
			{Name: "asset", Type: "address"},
			{Name: "to", Type: "address"},
			{Name: "settler", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "validAfter", Type: "uint256"},
			{Name: "validBefore", Type: "uint256"},
			{Name: "nonce", Type: "uint256"},
		},
	}
}

// HashAuthorization computes the EIP-712 digest of an authorization:
// keccak256("\x19\x01" || domainSeparator || structHash).
// Deterministic: identical field values always produce identical digests.
func HashAuthorization(msg AuthorizationMessage, domain Domain) ([32]byte, error) {
	var digest [32]byte

	if msg.Value == nil || msg.ValidAfter == nil || msg.ValidBefore == nil {
		return digest, fmt.Errorf("authorization message has nil numeric field")
	}

	typedData := apitypes.TypedData{
		Types:       Types(domain),
		PrimaryType: PrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract,
		},
		Message: apitypes.TypedDataMessage{
			"from":        common.HexToAddress(msg.From).Hex(),
			"asset":       common.HexToAddress(msg.Asset).Hex(),
			"to":          common.HexToAddress(msg.To).Hex(),
			"settler":     common.HexToAddress(msg.Settler).Hex(),
			"value":       (*math.HexOrDecimal256)(msg.Value),
			"validAfter":  (*math.HexOrDecimal256)(msg.ValidAfter),
			"validBefore": (*math.HexOrDecimal256)(msg.ValidBefore),
			"nonce":       (*math.HexOrDecimal256)(new(big.Int).SetUint64(msg.Nonce)),
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return digest, fmt.Errorf("failed to hash domain: %w", err)
	}

	structHash, err := typedData.HashStruct(PrimaryType, typedData.Message)
	if err != nil {
		return digest, fmt.Errorf("failed to hash struct: %w", err)
	}

	rawData := append([]byte{0x19, 0x01}, append(domainSeparator, structHash...)...)
	copy(digest[:], crypto.Keccak256(rawData))
	return digest, nil
}

// SignAuthorization signs the canonical digest with a secp256k1 key and
// returns the 65-byte signature as a 0x-prefixed hex string with v in
// {27, 28}. Intended for clients and tests; the facilitator never signs.
func SignAuthorization(privateKey *ecdsa.PrivateKey, msg AuthorizationMessage, domain Domain) (string, error) {
	digest, err := HashAuthorization(msg, domain)
	if err != nil {
		return "", err
	}

	signature, err := crypto.Sign(digest[:], privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign authorization: %w", err)
	}

	signature[64] += 27

	return "0x" + hex.EncodeToString(signature), nil
}

// RecoverSigner recovers the address that signed the digest. Accepts v in
// {0, 1, 27, 28}. Returns an error for any malformed signature.
func RecoverSigner(digest [32]byte, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(signature))
	}

	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return common.Address{}, fmt.Errorf("invalid recovery id: %d", signature[64])
	}

	pubKey, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}

	return crypto.PubkeyToAddress(*pubKey), nil
}

// ContractSignatureChecker answers the capability question "can this
// identity approve this digest?" for programmable accounts, independent of
// key recovery. EIP-1271 style validation is one implementation.
type ContractSignatureChecker interface {
	IsValidSignature(ctx context.Context, signer string, digest [32]byte, signature []byte) (bool, error)
}

// Verifier validates signatures for both key-pair owners and, when a
// checker is configured, contract-based owners.
type Verifier struct {
	checker ContractSignatureChecker
}

// NewVerifier creates a Verifier. The checker may be nil, in which case
// only key-recovery signatures validate.
func NewVerifier(checker ContractSignatureChecker) *Verifier {
	return &Verifier{checker: checker}
}

// Verify reports whether owner produced signature over digest. Fails
// closed: malformed input yields (false, nil), never a panic. Safe to call
// speculatively; no state is mutated.
func (v *Verifier) Verify(ctx context.Context, owner string, digest [32]byte, signature []byte) (bool, error) {
	recovered, err := RecoverSigner(digest, signature)
	if err == nil && strings.EqualFold(recovered.Hex(), common.HexToAddress(owner).Hex()) {
		return true, nil
	}

	if v.checker != nil {
		valid, checkErr := v.checker.IsValidSignature(ctx, owner, digest, signature)
		if checkErr != nil {
			return false, checkErr
		}
		return valid, nil
	}

	return false, nil
}

// HexToBytes converts a hex string (with or without 0x prefix) to bytes.
func HexToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("hex string has odd length")
	}
	return hex.DecodeString(s)
}

// IsZeroAddress reports whether the hex string parses to the zero address.
// An empty string counts as zero.
func IsZeroAddress(s string) bool {
	return common.HexToAddress(s) == (common.Address{})
}
