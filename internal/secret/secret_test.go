package secret

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = strings.Repeat("ab", 32)

func TestSealOpen(t *testing.T) {
	box, err := NewBoxFromHex(testKey)
	require.NoError(t, err)

	sealed, err := box.Seal([]byte("hunter2"))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "hunter2")

	plain, err := box.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", string(plain))

	assert.NoError(t, box.Verify(sealed, "hunter2"))
	assert.ErrorIs(t, box.Verify(sealed, "hunter3"), ErrMismatch)
}

func TestOpenRejectsTampering(t *testing.T) {
	box, err := NewBoxFromHex(testKey)
	require.NoError(t, err)

	sealed, err := box.Seal([]byte("pw"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xff

	_, err = box.Open(sealed)
	assert.ErrorIs(t, err, ErrTampered)

	_, err = box.Open([]byte("short"))
	assert.ErrorIs(t, err, ErrTooShort)
}

func TestBadKey(t *testing.T) {
	_, err := NewBoxFromHex("zz")
	assert.ErrorIs(t, err, ErrBadKey)
	_, err = NewBox([]byte("short"))
	assert.ErrorIs(t, err, ErrBadKey)
}
