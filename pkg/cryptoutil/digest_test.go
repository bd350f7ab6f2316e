package cryptoutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSHA1KnownVector(t *testing.T) {
	sum := SHA1([]byte("abc"))
	assert.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", hexString(sum))
}

func TestSHA256KnownVector(t *testing.T) {
	sum := SHA256([]byte("abc"))
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", hexString(sum))
}

func TestHMACSHA1DiffersByKey(t *testing.T) {
	data := []byte("<fulfill></fulfill>")
	mac1 := HMACSHA1([]byte("key-one"), data)
	mac2 := HMACSHA1([]byte("key-two"), data)
	assert.NotEqual(t, mac1, mac2)
	assert.Len(t, mac1, 20)
}

func TestHMACSHA1Deterministic(t *testing.T) {
	key := []byte("device-key-bytes")
	data := []byte("request body")
	assert.Equal(t, HMACSHA1(key, data), HMACSHA1(key, data))
}

func TestRandomBytesLengthAndUniqueness(t *testing.T) {
	a, err := RandomBytes(16)
	require.NoError(t, err)
	b, err := RandomBytes(16)
	require.NoError(t, err)

	assert.Len(t, a, 16)
	assert.Len(t, b, 16)
	assert.NotEqual(t, a, b)
}

func hexString(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexDigits[v>>4]
		out[i*2+1] = hexDigits[v&0x0f]
	}
	return string(out)
}
