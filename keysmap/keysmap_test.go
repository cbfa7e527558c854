package keysmap

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s4u/pgpverify-go/artifact"
	"github.com/s4u/pgpverify-go/internal/keyid"
	"github.com/s4u/pgpverify-go/pgpkey"
)

func coord(group, name string) artifact.Coordinate {
	return artifact.Coordinate{Group: group, Name: name, Type: "jar", Version: "1.0"}
}

func TestKeysMapEmptyTrustsEverything(t *testing.T) {
	m := New()
	assert.True(t, m.IsValidKey(coord("org.example", "foo"), pgpkey.KeyInfo{}))
}

func TestKeysMapLoadBasicEntry(t *testing.T) {
	m := New()
	err := m.Load(strings.NewReader("org.example:foo=0xABCDEF0123456789\n"), "trust.map", nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, m.Len())

	fp, err := keyid.ParseFingerprint("0xABCDEF0123456789")
	require.NoError(t, err)
	assert.True(t, m.IsValidKey(coord("org.example", "foo"), pgpkey.KeyInfo{Fingerprint: fp}))

	otherFp, err := keyid.ParseFingerprint("0x0000000000000001")
	require.NoError(t, err)
	assert.False(t, m.IsValidKey(coord("org.example", "foo"), pgpkey.KeyInfo{Fingerprint: otherFp}))
}

func TestKeysMapNoMatchingEntryIsNotValid(t *testing.T) {
	m := New()
	err := m.Load(strings.NewReader("org.example:foo=any\n"), "trust.map", nil, nil)
	require.NoError(t, err)
	assert.False(t, m.IsValidKey(coord("org.other", "bar"), pgpkey.KeyInfo{}))
}

func TestKeysMapCommentsAndBlankLinesIgnored(t *testing.T) {
	m := New()
	content := "# a comment\n\norg.example:foo=any # trailing comment\n"
	require.NoError(t, m.Load(strings.NewReader(content), "trust.map", nil, nil))
	require.Equal(t, 1, m.Len())
	assert.True(t, m.IsValidKey(coord("org.example", "foo"), pgpkey.KeyInfo{}))
}

func TestKeysMapLineContinuation(t *testing.T) {
	m := New()
	content := "org.example:foo=0xABCDEF0123456789,\\\n  noSig\n"
	require.NoError(t, m.Load(strings.NewReader(content), "trust.map", nil, nil))
	require.Equal(t, 1, m.Len())
	assert.True(t, m.IsNoSignature(coord("org.example", "foo")))
}

func TestKeysMapMergesIdenticalPatterns(t *testing.T) {
	m := New()
	require.NoError(t, m.Load(strings.NewReader("org.example:foo=noSig\n"), "a.map", nil, nil))
	require.NoError(t, m.Load(strings.NewReader("org.example:foo=noKey\n"), "b.map", nil, nil))
	require.Equal(t, 1, m.Len())
	assert.True(t, m.IsNoSignature(coord("org.example", "foo")))
	assert.True(t, m.IsKeyMissing(coord("org.example", "foo")))
}

func TestKeysMapMalformedLine(t *testing.T) {
	m := New()
	err := m.Load(strings.NewReader("this line has no equals sign\n"), "trust.map", nil, nil)
	require.Error(t, err)
	assert.IsType(t, ErrMalformedLine(""), err)
}

func TestKeysMapIsWithKey(t *testing.T) {
	m := New()
	require.NoError(t, m.Load(strings.NewReader("org.example:foo=0xABCDEF0123456789\norg.example:bar=noSig\n"), "trust.map", nil, nil))
	assert.True(t, m.IsWithKey(coord("org.example", "foo")))
	assert.False(t, m.IsWithKey(coord("org.example", "bar")))
}

func TestKeysMapLoadAfterQueryPanics(t *testing.T) {
	m := New()
	require.NoError(t, m.Load(strings.NewReader("org.example:foo=any\n"), "trust.map", nil, nil))
	m.IsValidKey(coord("org.example", "foo"), pgpkey.KeyInfo{})

	assert.Panics(t, func() {
		_ = m.Load(strings.NewReader("org.example:bar=any\n"), "trust.map", nil, nil)
	})
}
