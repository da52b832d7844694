package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestSealOpenRoundTrip(t *testing.T) {
	box, err := NewBox(testKey)
	require.NoError(t, err)

	sealed, err := box.Seal("client-secret-value")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "client-secret-value")

	opened, err := box.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "client-secret-value", opened)
}

func TestSealProducesUniqueCiphertexts(t *testing.T) {
	box, err := NewBox(testKey)
	require.NoError(t, err)

	a, err := box.Seal("same")
	require.NoError(t, err)
	b, err := box.Seal("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestOpenRejectsTampering(t *testing.T) {
	box, err := NewBox(testKey)
	require.NoError(t, err)

	sealed, err := box.Seal("payload")
	require.NoError(t, err)

	_, err = box.Open("x" + sealed[1:])
	assert.ErrorIs(t, err, ErrMalformedCiphertext)

	_, err = box.Open("not base64!!")
	assert.ErrorIs(t, err, ErrMalformedCiphertext)
}

func TestOpenRejectsWrongKey(t *testing.T) {
	box, err := NewBox(testKey)
	require.NoError(t, err)
	other, err := NewBox([]byte("ffffffffffffffffffffffffffffffff"))
	require.NoError(t, err)

	sealed, err := box.Seal("payload")
	require.NoError(t, err)

	_, err = other.Open(sealed)
	assert.ErrorIs(t, err, ErrMalformedCiphertext)
}

func TestNewBoxRejectsShortKey(t *testing.T) {
	_, err := NewBox([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}
