package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(b byte) string {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = b
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func TestSealUnsealRoundTrip(t *testing.T) {
	s, err := NewSealer(testKey(0x42))
	require.NoError(t, err)

	sealed, err := s.Seal("sw0rdf1sh")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "sw0rdf1sh")

	plain, err := s.Unseal(sealed)
	require.NoError(t, err)
	assert.Equal(t, "sw0rdf1sh", plain)
}

func TestSealProducesDistinctEnvelopes(t *testing.T) {
	s, err := NewSealer(testKey(0x42))
	require.NoError(t, err)

	a, err := s.Seal("same-secret")
	require.NoError(t, err)
	b, err := s.Seal("same-secret")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "nonce must randomize the envelope")
}

func TestUnsealWrongKey(t *testing.T) {
	s1, err := NewSealer(testKey(0x01))
	require.NoError(t, err)
	s2, err := NewSealer(testKey(0x02))
	require.NoError(t, err)

	sealed, err := s1.Seal("secret")
	require.NoError(t, err)

	_, err = s2.Unseal(sealed)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestUnsealCorruptInput(t *testing.T) {
	s, err := NewSealer(testKey(0x42))
	require.NoError(t, err)

	for _, in := range []string{"", "not base64 !!!", base64.StdEncoding.EncodeToString([]byte("short"))} {
		_, err := s.Unseal(in)
		assert.ErrorIs(t, err, ErrDecrypt, "input %q", in)
	}
}

func TestNewSealerRejectsBadKeys(t *testing.T) {
	_, err := NewSealer("definitely-not-base64!!!")
	assert.Error(t, err)

	short := base64.StdEncoding.EncodeToString([]byte("too short"))
	_, err = NewSealer(short)
	assert.Error(t, err)
}
