package keysmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s4u/pgpverify-go/internal/keyid"
	"github.com/s4u/pgpverify-go/pgpkey"
)

func TestParseKeyItemsSpecialVerdicts(t *testing.T) {
	items, err := ParseKeyItems("noSig,noKey,badSig", "trust.map", 1)
	require.NoError(t, err)
	assert.True(t, items.IsNoSignature())
	assert.True(t, items.IsKeyMissing())
	assert.True(t, items.IsBrokenSignature())
}

func TestParseKeyItemsRejectsNull(t *testing.T) {
	_, err := ParseKeyItems("null", "trust.map", 1)
	require.Error(t, err)
	assert.IsType(t, ErrNullKeyItem(""), err)
}

func TestParseKeyItemsRejectsGarbage(t *testing.T) {
	_, err := ParseKeyItems("notAKeyword", "trust.map", 1)
	require.Error(t, err)
	assert.IsType(t, ErrInvalidKeyItem(""), err)
}

func TestParseKeyItemsFingerprintAndNegation(t *testing.T) {
	fp, err := keyid.ParseFingerprint("0xABCDEF0123456789")
	require.NoError(t, err)
	items, err := ParseKeyItems("0xABCDEF0123456789,!0xABCDEF0123456789", "trust.map", 1)
	require.NoError(t, err)
	assert.True(t, items.HasConcreteFingerprint())

	info := pgpkey.KeyInfo{Fingerprint: fp}
	assert.False(t, items.IsKeyMatch(info), "negated fingerprint must short-circuit to false")
}

func TestIsKeyMatchAnyKey(t *testing.T) {
	items, err := ParseKeyItems("any", "trust.map", 1)
	require.NoError(t, err)
	fp, err := keyid.ParseFingerprint("0x1122334455667788")
	require.NoError(t, err)
	assert.True(t, items.IsKeyMatch(pgpkey.KeyInfo{Fingerprint: fp}))
}

func TestIsKeyMatchesMasterFingerprint(t *testing.T) {
	subFp, err := keyid.ParseFingerprint("0x1122334455667788")
	require.NoError(t, err)
	masterFp, err := keyid.ParseFingerprint("0x99AABBCCDDEEFF00")
	require.NoError(t, err)

	items, err := ParseKeyItems(masterFp.String(), "trust.map", 1)
	require.NoError(t, err)

	info := pgpkey.KeyInfo{Fingerprint: subFp, Master: &masterFp}
	assert.True(t, items.IsKeyMatch(info))
}

func TestMergeDedupesAndWarnsOnDuplicate(t *testing.T) {
	a, err := ParseKeyItems("noSig,noKey", "a.map", 1)
	require.NoError(t, err)
	b, err := ParseKeyItems("noKey,badSig", "b.map", 1)
	require.NoError(t, err)

	merged := a.Merge(b, "test merge")
	assert.True(t, merged.IsNoSignature())
	assert.True(t, merged.IsKeyMissing())
	assert.True(t, merged.IsBrokenSignature())
	assert.Len(t, merged.items, 3)
}

func TestParseKeyItemEmptyTokenDeprecatedAsNoSig(t *testing.T) {
	items, err := ParseKeyItems("", "trust.map", 1)
	require.NoError(t, err)
	assert.True(t, items.IsNoSignature())
}
