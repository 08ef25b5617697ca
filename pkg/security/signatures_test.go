package security

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoverSigner(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey)

	sig, err := SignMessage("restricted-properties:1", key)
	require.NoError(t, err)

	signer, err := RecoverSigner("restricted-properties:1", sig)
	require.NoError(t, err)
	assert.Equal(t, address, signer)

	// a different message recovers a different address
	other, err := RecoverSigner("restricted-properties:2", sig)
	require.NoError(t, err)
	assert.NotEqual(t, address, other)
}

func TestRecoverSigner_Malformed(t *testing.T) {
	_, err := RecoverSigner("hello", "0x1234")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = RecoverSigner("hello", "not-hex")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestValidator_Verify(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()
	sig, err := SignMessage("hello", key)
	require.NoError(t, err)

	v := NewValidator()
	ok, err := v.Verify("hello", sig, address)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = v.Verify("hello", sig, "0x0000000000000000000000000000000000000001")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = v.Verify("hello", sig, "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}
