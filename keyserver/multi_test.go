package keyserver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s4u/pgpverify-go/internal/keyid"
)

type stubClient struct {
	data  []byte
	err   error
	calls int
}

func (s *stubClient) GetKeyRing(_ context.Context, _ keyid.KeyID) ([]byte, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.data, nil
}

func TestMultiClientFallsBackOnFailure(t *testing.T) {
	primary := &stubClient{err: assertErr("connection refused")}
	fallback := &stubClient{data: []byte("key")}

	m, err := NewMultiClient([]Client{primary, fallback}, false)
	require.NoError(t, err)

	data, err := m.GetKeyRing(context.Background(), keyid.FromLongID(1))
	require.NoError(t, err)
	assert.Equal(t, "key", string(data))
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
}

func TestMultiClientStopsOnNotFound(t *testing.T) {
	primary := &stubClient{err: ErrNotFound("not found")}
	fallback := &stubClient{data: []byte("key")}

	m, err := NewMultiClient([]Client{primary, fallback}, false)
	require.NoError(t, err)

	_, err = m.GetKeyRing(context.Background(), keyid.FromLongID(1))
	require.Error(t, err)
	assert.IsType(t, ErrNotFound(""), err)
	assert.Equal(t, 0, fallback.calls)
}

func TestMultiClientLoadBalanceRotates(t *testing.T) {
	a := &stubClient{data: []byte("a")}
	b := &stubClient{data: []byte("b")}

	m, err := NewMultiClient([]Client{a, b}, true)
	require.NoError(t, err)

	_, _ = m.GetKeyRing(context.Background(), keyid.FromLongID(1))
	_, _ = m.GetKeyRing(context.Background(), keyid.FromLongID(1))
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestNewMultiClientRequiresServers(t *testing.T) {
	_, err := NewMultiClient(nil, false)
	require.Error(t, err)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
