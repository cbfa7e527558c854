package verify

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/openpgp"
)

func generateSigner(t *testing.T) *openpgp.Entity {
	t.Helper()
	e, err := openpgp.NewEntity("Signer", "", "signer@example.com", nil)
	require.NoError(t, err)
	return e
}

func detachSign(t *testing.T, signer *openpgp.Entity, message string) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, openpgp.DetachSign(&buf, signer, strings.NewReader(message), nil))
	return buf.Bytes()
}

func detachSignArmored(t *testing.T, signer *openpgp.Entity, message string) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, openpgp.ArmoredDetachSign(&buf, signer, strings.NewReader(message), nil))
	return buf.Bytes()
}

func TestLoadSignatureBinary(t *testing.T) {
	signer := generateSigner(t)
	data := detachSign(t, signer, "hello world")

	sig, err := LoadSignature(data)
	require.NoError(t, err)
	assert.NotNil(t, sig.Hash)
}

func TestLoadSignatureArmored(t *testing.T) {
	signer := generateSigner(t)
	data := detachSignArmored(t, signer, "hello world")

	sig, err := LoadSignature(data)
	require.NoError(t, err)
	assert.NotNil(t, sig.Hash)
}

func TestLoadSignatureNotFound(t *testing.T) {
	_, err := LoadSignature([]byte{})
	require.Error(t, err)
	assert.IsType(t, ErrSignatureNotFound(""), err)
}

func TestRetrieveKeyIDResolvesIssuer(t *testing.T) {
	signer := generateSigner(t)
	data := detachSign(t, signer, "hello world")
	sig, err := LoadSignature(data)
	require.NoError(t, err)

	id, err := RetrieveKeyID(sig)
	require.NoError(t, err)
	assert.Equal(t, signer.PrimaryKey.KeyId, id.Long())
}

func TestCheckWeakHashAlgorithmDoesNotFlagSHA256(t *testing.T) {
	signer := generateSigner(t)
	data := detachSign(t, signer, "hello world")
	sig, err := LoadSignature(data)
	require.NoError(t, err)

	// The default signing config uses SHA256, which is not weak.
	_, weak := CheckWeakHashAlgorithm(sig)
	assert.False(t, weak)
}

func TestVerifyContentAcceptsMatchingSignature(t *testing.T) {
	signer := generateSigner(t)
	message := "hello world"
	data := detachSign(t, signer, message)
	sig, err := LoadSignature(data)
	require.NoError(t, err)

	err = verifyContent(signer.PrimaryKey, sig, strings.NewReader(message))
	assert.NoError(t, err)
}

func TestVerifyContentRejectsTamperedMessage(t *testing.T) {
	signer := generateSigner(t)
	data := detachSign(t, signer, "hello world")
	sig, err := LoadSignature(data)
	require.NoError(t, err)

	err = verifyContent(signer.PrimaryKey, sig, strings.NewReader("goodbye world"))
	assert.Error(t, err)
}
