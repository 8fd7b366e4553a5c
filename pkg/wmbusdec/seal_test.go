package wmbusdec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sweaterweather2003/W-MBus-Telegram-Decryption-Tool/internal/testutil"
)

func TestSealRoundTrip(t *testing.T) {
	fx := loadFixture(t)
	header := bytes.Clone(fx.raw[:18])
	header[16] = 0x00

	raw, err := Seal(header, fx.payload, fx.key)
	require.NoError(t, err)
	require.Equal(t, byte(0x00), header[16])
	require.Equal(t, fx.raw, raw)

	result, err := Decode(raw, fx.key)
	require.NoError(t, err)
	require.Equal(t, fx.payload, result.Payload)
}

func TestSealKeepsConfigLowNibble(t *testing.T) {
	header, err := decodeHex("A144C514278589507007 7A0100F505")
	require.NoError(t, err)
	raw, err := Seal(header, []byte{0x01}, bytes.Repeat([]byte{0x44}, 16))
	require.NoError(t, err)
	require.Equal(t, byte(0x15), raw[13])
	require.Len(t, raw, 15+16)
}

func TestSealErrors(t *testing.T) {
	key := bytes.Repeat([]byte{0x44}, 16)
	header := testutil.LoadBytes(t, "oms/engelmann_mode5.hex")

	_, err := Seal(header, nil, key)
	require.ErrorContains(t, err, "after the TPL")

	_, err = Seal(header[:18], make([]byte, 240), key)
	require.ErrorContains(t, err, "at most 15")

	_, err = Seal(header[:18], nil, key[:3])
	require.ErrorIs(t, err, ErrCipherFailure)

	_, err = Seal(header[:18], []byte{0x04, 0x13, 0x2F}, key)
	require.ErrorIs(t, err, ErrTrailingFill)

	_, err = Seal(header[:5], nil, key)
	require.ErrorIs(t, err, ErrTruncatedFrame)
}
