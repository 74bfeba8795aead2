package mining

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultAlgorithms(t *testing.T) {
	algos := DefaultAlgorithms()

	for _, name := range []string{"sha256d", "scrypt", "ethash", "randomx"} {
		algo, ok := algos[name]
		require.True(t, ok, name)
		assert.Equal(t, name, algo.Name)
		assert.NotEmpty(t, algo.Coin)
		assert.NotNil(t, algo.HashFunc)
	}
}

func TestLookupAlgorithm(t *testing.T) {
	algo, err := LookupAlgorithm("sha256d")
	require.NoError(t, err)
	assert.Equal(t, "BTC", algo.Coin)

	_, err = LookupAlgorithm("kawpow")
	assert.Error(t, err)
}

func TestHashFuncsDeterministic(t *testing.T) {
	input := []byte("block header")

	for name, algo := range DefaultAlgorithms() {
		t.Run(name, func(t *testing.T) {
			first := algo.HashFunc(input, 1)
			second := algo.HashFunc(input, 1)
			assert.Equal(t, first, second)
			assert.Len(t, first, 32)

			// A different nonce must move the digest
			other := algo.HashFunc(input, 2)
			assert.NotEqual(t, first, other)
		})
	}
}
