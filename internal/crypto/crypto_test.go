package crypto

import (
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerd/internal/domain"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	const keyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

	blob, err := EncryptKey("0x"+keyHex, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, keyHex, got)

	_, err = DecryptKey(blob, "wrong-password")
	assert.Error(t, err)
}

func TestEncryptKeyRejectsBadInput(t *testing.T) {
	_, err := EncryptKey("not-hex", "pw")
	assert.Error(t, err)

	_, err = EncryptKey("abcd", "pw") // too short
	assert.Error(t, err)

	_, err = EncryptKey("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318", "")
	assert.Error(t, err)
}

func TestResolutionSignatureRoundTrip(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	resolver := ethcrypto.PubkeyToAddress(key.PublicKey)

	sig, err := SignResolution(key, "mkt-1", domain.SideA)
	require.NoError(t, err)

	assert.NoError(t, VerifyResolution("mkt-1", domain.SideA, sig, resolver))

	// A signature over one outcome must not authorize the other, nor a
	// different market.
	assert.Error(t, VerifyResolution("mkt-1", domain.SideB, sig, resolver))
	assert.Error(t, VerifyResolution("mkt-2", domain.SideA, sig, resolver))
}

func TestResolutionSignatureWrongSigner(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	other, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	sig, err := SignResolution(key, "mkt-1", domain.SideA)
	require.NoError(t, err)

	err = VerifyResolution("mkt-1", domain.SideA, sig, ethcrypto.PubkeyToAddress(other.PublicKey))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}
