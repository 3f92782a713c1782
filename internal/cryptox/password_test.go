package cryptox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword_RoundTrip(t *testing.T) {
	hash, err := HashPassword([]byte("correct horse"))
	require.NoError(t, err)

	assert.True(t, ComparePassword(hash, []byte("correct horse")))
	assert.False(t, ComparePassword(hash, []byte("battery staple")))
}

func TestComparePassword_NilHashFails(t *testing.T) {
	assert.False(t, ComparePassword(nil, []byte("anything")))
}

func TestWipeByteArray(t *testing.T) {
	buf := []byte{1, 2, 3}
	WipeByteArray(buf)
	assert.Equal(t, []byte{0, 0, 0}, buf)

	WipeByteArray(nil)
}
