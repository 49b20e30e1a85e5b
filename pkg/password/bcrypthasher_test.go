package password

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBcryptHasher(t *testing.T) {
	hasher := NewBcryptHasher(4) // min cost, tests only

	hash, err := hasher.Hash("secret123")
	require.NoError(t, err)
	assert.NotEqual(t, "secret123", hash)

	t.Run("Match", func(t *testing.T) {
		match, err := hasher.Verify("secret123", hash)
		require.NoError(t, err)
		assert.True(t, match)
	})

	t.Run("Mismatch", func(t *testing.T) {
		match, err := hasher.Verify("wrong", hash)
		require.NoError(t, err)
		assert.False(t, match)
	})

	t.Run("MalformedHash", func(t *testing.T) {
		_, err := hasher.Verify("secret123", "not-a-bcrypt-hash")
		assert.Error(t, err)
	})

	t.Run("HashesAreSalted", func(t *testing.T) {
		other, err := hasher.Hash("secret123")
		require.NoError(t, err)
		assert.NotEqual(t, hash, other)
	})
}
