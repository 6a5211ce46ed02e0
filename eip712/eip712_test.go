package eip712

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDomain() Domain {
	return Domain{
		Name:    "x402 Settlement",
		Version: "1",
		ChainID: big.NewInt(8453),
	}
}

func testMessage() AuthorizationMessage {
	return AuthorizationMessage{
		From:        "0x1111111111111111111111111111111111111111",
		Asset:       "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		To:          "0x2222222222222222222222222222222222222222",
		Settler:     "0x3333333333333333333333333333333333333333",
		Value:       big.NewInt(1000),
		ValidAfter:  big.NewInt(1700000000),
		ValidBefore: big.NewInt(1700003600),
		Nonce:       42,
	}
}

func TestHashAuthorizationDeterministic(t *testing.T) {
	d1, err := HashAuthorization(testMessage(), testDomain())
	require.NoError(t, err)
	d2, err := HashAuthorization(testMessage(), testDomain())
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
	assert.NotEqual(t, [32]byte{}, d1)
}

func TestHashAuthorizationFieldSensitivity(t *testing.T) {
	base, err := HashAuthorization(testMessage(), testDomain())
	require.NoError(t, err)

	mutations := map[string]func(*AuthorizationMessage){
		"from":        func(m *AuthorizationMessage) { m.From = "0x9999999999999999999999999999999999999999" },
		"asset":       func(m *AuthorizationMessage) { m.Asset = "0x9999999999999999999999999999999999999999" },
		"to":          func(m *AuthorizationMessage) { m.To = "0x9999999999999999999999999999999999999999" },
		"settler":     func(m *AuthorizationMessage) { m.Settler = "0x9999999999999999999999999999999999999999" },
		"value":       func(m *AuthorizationMessage) { m.Value = big.NewInt(1001) },
		"validAfter":  func(m *AuthorizationMessage) { m.ValidAfter = big.NewInt(1700000001) },
		"validBefore": func(m *AuthorizationMessage) { m.ValidBefore = big.NewInt(1700003601) },
		"nonce":       func(m *AuthorizationMessage) { m.Nonce = 43 },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			msg := testMessage()
			mutate(&msg)
			digest, err := HashAuthorization(msg, testDomain())
			require.NoError(t, err)
			assert.NotEqual(t, base, digest)
		})
	}
}

func TestHashAuthorizationPartialDomains(t *testing.T) {
	// Domains routinely omit the verifying contract (no on-chain verifier)
	// or the chain id (non-eip155 networks); hashing must succeed with
	// exactly the populated fields and each variant must hash differently.
	domains := map[string]Domain{
		"name and version only": {Name: "x402 Settlement", Version: "1"},
		"with chain id":         {Name: "x402 Settlement", Version: "1", ChainID: big.NewInt(8453)},
		"with verifying contract": {
			Name:              "x402 Settlement",
			Version:           "1",
			ChainID:           big.NewInt(8453),
			VerifyingContract: "0x4444444444444444444444444444444444444444",
		},
	}

	digests := make(map[[32]byte]string)
	for name, domain := range domains {
		digest, err := HashAuthorization(testMessage(), domain)
		require.NoError(t, err, name)
		require.NotEqual(t, [32]byte{}, digest, name)
		if prev, dup := digests[digest]; dup {
			t.Fatalf("domains %q and %q produced the same digest", prev, name)
		}
		digests[digest] = name
	}
}

func TestHashAuthorizationDomainSensitivity(t *testing.T) {
	base, err := HashAuthorization(testMessage(), testDomain())
	require.NoError(t, err)

	other := testDomain()
	other.ChainID = big.NewInt(1)
	digest, err := HashAuthorization(testMessage(), other)
	require.NoError(t, err)
	assert.NotEqual(t, base, digest, "same payload on another chain must hash differently")
}

func TestHashAuthorizationNilNumericField(t *testing.T) {
	msg := testMessage()
	msg.Value = nil
	_, err := HashAuthorization(msg, testDomain())
	require.Error(t, err)
}

func TestSignAndVerifyRoundtrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(key.PublicKey).Hex()

	msg := testMessage()
	msg.From = owner

	sig, err := SignAuthorization(key, msg, testDomain())
	require.NoError(t, err)

	digest, err := HashAuthorization(msg, testDomain())
	require.NoError(t, err)

	raw, err := HexToBytes(sig)
	require.NoError(t, err)
	require.Len(t, raw, 65)

	valid, err := NewVerifier(nil).Verify(context.Background(), owner, digest, raw)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestVerifyRejectsWrongSigner(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	msg := testMessage()
	msg.From = crypto.PubkeyToAddress(key.PublicKey).Hex()

	sig, err := SignAuthorization(otherKey, msg, testDomain())
	require.NoError(t, err)
	digest, err := HashAuthorization(msg, testDomain())
	require.NoError(t, err)
	raw, err := HexToBytes(sig)
	require.NoError(t, err)

	valid, err := NewVerifier(nil).Verify(context.Background(), msg.From, digest, raw)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestVerifyFailsClosedOnMalformedSignature(t *testing.T) {
	digest, err := HashAuthorization(testMessage(), testDomain())
	require.NoError(t, err)
	verifier := NewVerifier(nil)

	for _, sig := range [][]byte{
		nil,
		{},
		make([]byte, 64),
		make([]byte, 66),
		append(make([]byte, 64), 5), // bad recovery id
	} {
		valid, err := verifier.Verify(context.Background(), testMessage().From, digest, sig)
		require.NoError(t, err)
		assert.False(t, valid)
	}
}

func TestRecoverSignerAcceptsBothRecoveryIDForms(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(key.PublicKey)

	digest, err := HashAuthorization(testMessage(), testDomain())
	require.NoError(t, err)

	raw, err := crypto.Sign(digest[:], key)
	require.NoError(t, err)

	// v in {0, 1}
	recovered, err := RecoverSigner(digest, raw)
	require.NoError(t, err)
	assert.Equal(t, owner, recovered)

	// v in {27, 28}
	shifted := make([]byte, 65)
	copy(shifted, raw)
	shifted[64] += 27
	recovered, err = RecoverSigner(digest, shifted)
	require.NoError(t, err)
	assert.Equal(t, owner, recovered)
}

type stubChecker struct {
	valid bool
	calls int
}

func (s *stubChecker) IsValidSignature(ctx context.Context, signer string, digest [32]byte, signature []byte) (bool, error) {
	s.calls++
	return s.valid, nil
}

func TestVerifyFallsBackToContractChecker(t *testing.T) {
	digest, err := HashAuthorization(testMessage(), testDomain())
	require.NoError(t, err)

	checker := &stubChecker{valid: true}
	valid, err := NewVerifier(checker).Verify(context.Background(), testMessage().From, digest, []byte("not a signature"))
	require.NoError(t, err)
	assert.True(t, valid)
	assert.Equal(t, 1, checker.calls)
}

func TestIsZeroAddress(t *testing.T) {
	assert.True(t, IsZeroAddress(""))
	assert.True(t, IsZeroAddress("0x0000000000000000000000000000000000000000"))
	assert.False(t, IsZeroAddress("0x1111111111111111111111111111111111111111"))
}

func TestHexToBytes(t *testing.T) {
	b, err := HexToBytes("0xdeadbeef")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, b)

	b, err = HexToBytes("deadbeef")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, b)

	_, err = HexToBytes("0xabc")
	require.Error(t, err)
	_, err = HexToBytes("0xzz")
	require.Error(t, err)
}
