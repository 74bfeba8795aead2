// Package mining runs the placeholder proof-of-work workers. The hash
// routines stand in for real algorithm implementations: they give the
// decision engines a live workload to steer without claiming any
// cryptographic fidelity.
package mining

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/scrypt"
	"golang.org/x/crypto/sha3"
)

// HashFunc computes one candidate hash for the given work data and nonce
type HashFunc func(input []byte, nonce uint64) []byte

// Algorithm pairs a name with its placeholder hash routine
type Algorithm struct {
	Name     string
	Coin     string
	HashFunc HashFunc
}

// DefaultAlgorithms returns the built-in placeholder algorithm set
func DefaultAlgorithms() map[string]*Algorithm {
	return map[string]*Algorithm{
		"sha256d": {Name: "sha256d", Coin: "BTC", HashFunc: hashSHA256D},
		"scrypt":  {Name: "scrypt", Coin: "LTC", HashFunc: hashScrypt},
		"ethash":  {Name: "ethash", Coin: "ETC", HashFunc: hashKeccak},
		"randomx": {Name: "randomx", Coin: "XMR", HashFunc: hashBlake2b},
	}
}

// LookupAlgorithm resolves a named algorithm from the built-in set
func LookupAlgorithm(name string) (*Algorithm, error) {
	algo, ok := DefaultAlgorithms()[name]
	if !ok {
		return nil, fmt.Errorf("unknown algorithm: %s", name)
	}
	return algo, nil
}

func withNonce(input []byte, nonce uint64) []byte {
	data := make([]byte, len(input)+8)
	copy(data, input)
	binary.LittleEndian.PutUint64(data[len(input):], nonce)
	return data
}

func hashSHA256D(input []byte, nonce uint64) []byte {
	first := sha256.Sum256(withNonce(input, nonce))
	second := sha256.Sum256(first[:])
	return second[:]
}

func hashScrypt(input []byte, nonce uint64) []byte {
	// Litecoin-style parameters, cheap enough for a stand-in workload
	out, err := scrypt.Key(withNonce(input, nonce), input, 1024, 1, 1, 32)
	if err != nil {
		sum := sha256.Sum256(withNonce(input, nonce))
		return sum[:]
	}
	return out
}

func hashKeccak(input []byte, nonce uint64) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(withNonce(input, nonce))
	return h.Sum(nil)
}

func hashBlake2b(input []byte, nonce uint64) []byte {
	sum := blake2b.Sum256(withNonce(input, nonce))
	return sum[:]
}
