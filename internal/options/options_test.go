package options

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseKeyHex(t *testing.T) {
	key, err := ParseKeyHex("42 55 79 4D 3D CC FD 46 95 31 46 E7 01 B7 DB 68")
	require.NoError(t, err)
	require.Len(t, key, KeySize)
	require.Equal(t, byte(0x42), key[0])
	require.Equal(t, byte(0x68), key[15])

	key, err = ParseKeyHex("0x4255794D3DCCFD46953146E701B7DB68")
	require.NoError(t, err)
	require.Len(t, key, KeySize)
}

func TestParseKeyHexEmpty(t *testing.T) {
	key, err := ParseKeyHex("   ")
	require.NoError(t, err)
	require.Nil(t, key)
}

func TestParseKeyHexErrors(t *testing.T) {
	_, err := ParseKeyHex("4255794D")
	require.ErrorContains(t, err, "32 hex digits")

	_, err = ParseKeyHex("ZZ55794D3DCCFD46953146E701B7DB68")
	require.ErrorContains(t, err, "invalid AES key hex")
}

func TestCleanHex(t *testing.T) {
	require.Equal(t, "A144C514", CleanHex(" |A1_44 C5:14| "))
	require.Equal(t, "A144", CleanHex("0XA144"))
}

func TestSecurityKeyContext(t *testing.T) {
	ctx := context.Background()
	require.Nil(t, SecurityKey(ctx))
	require.Equal(t, ctx, WithSecurityKey(ctx, nil))

	key := []byte{1, 2, 3}
	ctx = WithSecurityKey(ctx, key)
	key[0] = 9
	require.Equal(t, []byte{1, 2, 3}, SecurityKey(ctx))
}
