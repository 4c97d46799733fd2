package common

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrefix(t *testing.T) {
	assert.Equal(t, "abcd", Trim0xPrefix("0xabcd"))
	assert.Equal(t, "abcd", Trim0xPrefix("0Xabcd"))
	assert.Equal(t, "0xabcd", Prepend0xPrefix("abcd"))
	assert.Equal(t, "0Xabcd", Prepend0xPrefix("0Xabcd"))
}

func TestDecodeFixedHex(t *testing.T) {
	secret := strings.Repeat("ab", 32)

	b, err := DecodeFixedHex(secret, 32)
	assert.NoError(t, err)
	assert.Len(t, b, 32)

	b, err = DecodeFixedHex("0x"+strings.ToUpper(secret), 32)
	assert.NoError(t, err)
	assert.Equal(t, secret, ByteSliceToPureHexStr(b))

	_, err = DecodeFixedHex(secret[:62], 32)
	assert.True(t, errors.Is(err, ErrHexLength))

	_, err = DecodeFixedHex("zz"+secret[2:], 32)
	assert.Error(t, err)

	_, err = DecodeFixedHex(secret[:63], 32)
	assert.Error(t, err)
}

func TestShorten(t *testing.T) {
	assert.Equal(t, "0x1234", Shorten("1234", 2))
	assert.Equal(t, "0x12...ef", Shorten("0x1234abcdef", 2))
}

func TestRandBytes(t *testing.T) {
	a := RandBytes32()
	b := RandBytes32()
	assert.NotEqual(t, a, b)
	assert.Len(t, RandBytes(16), 16)
}
