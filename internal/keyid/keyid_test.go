package keyid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromHexLongID(t *testing.T) {
	k, err := FromHex("0xEFE8086F9E93774E")
	require.NoError(t, err)
	assert.False(t, k.IsFingerprint())
	assert.Equal(t, "0xEFE8086F9E93774E", k.String())
	assert.Equal(t, "efe8086f9e93774e", k.HexLongID())
}

func TestFromHexFingerprint(t *testing.T) {
	fp := "58E79B6ABC762159DC0B1591164BD22 47B936711"
	k, err := FromHex(fp)
	require.NoError(t, err)
	assert.True(t, k.IsFingerprint())
	assert.Equal(t, "0x58E79B6ABC762159DC0B1591164BD2247B936711", k.String())
}

func TestFromHexRejectsOddLength(t *testing.T) {
	_, err := FromHex("0xABC")
	require.Error(t, err)
}

func TestFromHexRejectsShortKey(t *testing.T) {
	_, err := FromHex("0xAABB")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "should be between 64 and 160 bits")
}

func TestEqualLongIDMatchesFingerprintSuffix(t *testing.T) {
	fp, err := FromHex("58E79B6ABC762159DC0B1591164BD2247B936711")
	require.NoError(t, err)

	// A long id matching the low 8 bytes of fp must compare equal to it.
	matching := FromLongID(longIDOf(fp.Fingerprint()))
	assert.True(t, fp.Equal(matching))
	assert.True(t, matching.Equal(fp))
}

func TestEqualFingerprintMismatch(t *testing.T) {
	a, err := FromHex("58E79B6ABC762159DC0B1591164BD2247B936711")
	require.NoError(t, err)
	b, err := FromHex("EFE8086F9E93774EEFE8086F9E93774EEFE8086F")
	require.NoError(t, err)
	assert.False(t, a.Equal(b))
}
