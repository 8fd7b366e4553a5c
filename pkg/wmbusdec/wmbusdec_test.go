package wmbusdec

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sweaterweather2003/W-MBus-Telegram-Decryption-Tool/internal/crypto"
	"github.com/sweaterweather2003/W-MBus-Telegram-Decryption-Tool/internal/frame"
	internalopts "github.com/sweaterweather2003/W-MBus-Telegram-Decryption-Tool/internal/options"
	"github.com/sweaterweather2003/W-MBus-Telegram-Decryption-Tool/internal/testutil"
)

type fixture struct {
	raw     []byte
	key     []byte
	payload []byte
}

func loadFixture(t *testing.T) fixture {
	t.Helper()
	return fixture{
		raw:     testutil.LoadBytes(t, "oms/engelmann_mode5.hex"),
		key:     testutil.LoadBytes(t, "oms/engelmann_mode5.key"),
		payload: testutil.LoadBytes(t, "oms/engelmann_mode5_payload.hex"),
	}
}

type countingCipher struct {
	calls int
}

func (c *countingCipher) DecryptCBC(key, iv, ciphertext []byte) ([]byte, error) {
	c.calls++
	return crypto.AESCBC{}.DecryptCBC(key, iv, ciphertext)
}

// inPlaceCipher decrypts into the ciphertext it is handed.
type inPlaceCipher struct{}

func (inPlaceCipher) DecryptCBC(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(ciphertext, ciphertext)
	return ciphertext, nil
}

type keyMap map[string][]byte

func (m keyMap) KeyFor(id string) ([]byte, bool) {
	k, ok := m[id]
	return k, ok
}

// sealFrame builds a mode 5 telegram around payload.
func sealFrame(t *testing.T, header string, key, payload, trailing []byte) []byte {
	t.Helper()
	raw, err := decodeHex(header)
	require.NoError(t, err)
	tg, err := frame.Parse(raw)
	require.NoError(t, err)
	ciphertext, err := crypto.EncryptPayload(crypto.AESCBC{}, key, crypto.BuildIV(tg), payload)
	require.NoError(t, err)
	raw = append(raw, ciphertext...)
	return append(raw, trailing...)
}

func TestDecodeHex(t *testing.T) {
	raw := " |A144_C514 27858950| "
	data, err := decodeHex(raw)
	require.NoError(t, err)
	require.Len(t, data, 8)
}

func TestDecodeHexOddLength(t *testing.T) {
	_, err := decodeHex("ABC")
	require.Error(t, err)
}

func TestDecodeGolden(t *testing.T) {
	fx := loadFixture(t)
	result, err := Decode(fx.raw, fx.key)
	require.NoError(t, err)
	require.Equal(t, StatePayloadReady, result.State)
	require.Equal(t, 9, result.Blocks)
	require.Equal(t, fx.payload, result.Payload)
	require.Empty(t, result.Trailing)
	require.NotNil(t, result.Telegram)
	require.Equal(t, "50898527", result.Telegram.MeterIDString())
	require.Equal(t, byte(0x9D), result.IV[15])
}

func TestDecodeIsIdempotent(t *testing.T) {
	fx := loadFixture(t)
	orig := bytes.Clone(fx.raw)

	first, err := Decode(fx.raw, fx.key)
	require.NoError(t, err)
	second, err := Decode(fx.raw, fx.key)
	require.NoError(t, err)

	require.Equal(t, first.Payload, second.Payload)
	require.Equal(t, first.IV, second.IV)
	require.Equal(t, *first.Telegram, *second.Telegram)
	require.Equal(t, orig, fx.raw)
}

func TestDecodeInPlaceCipherLeavesInputIntact(t *testing.T) {
	fx := loadFixture(t)
	raw := append(bytes.Clone(fx.raw), 0xAA)
	orig := bytes.Clone(raw)

	result, err := DecodeWithCipher(inPlaceCipher{}, raw, fx.key)
	require.NoError(t, err)
	require.Equal(t, fx.payload, result.Payload)
	require.Equal(t, orig, raw)

	result.Payload[0] ^= 0xFF
	result.Trailing[0] ^= 0xFF
	require.Equal(t, orig, raw)
}

func TestDecodeParallel(t *testing.T) {
	fx := loadFixture(t)
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := Decode(fx.raw, fx.key)
			if err == nil && !bytes.Equal(result.Payload, fx.payload) {
				err = errors.New("payload mismatch")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestDecodeTrailingBytes(t *testing.T) {
	fx := loadFixture(t)
	raw := append(bytes.Clone(fx.raw), 0xAA, 0xBB)
	result, err := Decode(raw, fx.key)
	require.NoError(t, err)
	require.Equal(t, fx.payload, result.Payload)
	require.Equal(t, []byte{0xAA, 0xBB}, result.Trailing)

	raw[len(raw)-1] = 0x00
	require.Equal(t, []byte{0xAA, 0xBB}, result.Trailing)
}

func TestDecodeNoEncryption(t *testing.T) {
	raw, err := decodeHex("A144C514278589507007 7A11000005 2F2F0413AABBCCDD")
	require.NoError(t, err)
	c := &countingCipher{}
	result, err := DecodeWithCipher(c, raw, nil)
	require.NoError(t, err)
	require.Equal(t, StateNoEncryption, result.State)
	require.Zero(t, c.calls)
	require.Zero(t, result.Blocks)
	require.Equal(t, raw[15:], result.Payload)
	require.Empty(t, result.Trailing)
}

func TestDecodeWithoutELL(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 16)
	payload := []byte{0x04, 0x13, 0x10, 0x27, 0x00, 0x00}
	raw := sealFrame(t, "A144C514278589507007 7A42001005", key, payload, nil)
	require.Len(t, raw, 15+16)

	result, err := Decode(raw, key)
	require.NoError(t, err)
	require.False(t, result.Telegram.ELL.Present)
	require.Equal(t, 15, result.Telegram.PayloadOffset)
	require.Equal(t, payload, result.Payload)
}

func TestDecodeTwoBlocksWithELL(t *testing.T) {
	key := bytes.Repeat([]byte{0x22}, 16)
	payload := bytes.Repeat([]byte{0x0C, 0x13}, 10)
	raw := sealFrame(t, "A144C514278589507007 8C2001 7A07002005", key, payload, []byte{0x01})

	result, err := Decode(raw, key)
	require.NoError(t, err)
	require.Equal(t, 2, result.Blocks)
	require.Equal(t, 18, result.Telegram.PayloadOffset)
	require.Equal(t, payload, result.Payload)
	require.Equal(t, []byte{0x01}, result.Trailing)
}

func TestDecodeAllPadding(t *testing.T) {
	key := bytes.Repeat([]byte{0x33}, 16)
	raw := sealFrame(t, "A144C514278589507007 7A01001005", key, nil, nil)
	result, err := Decode(raw, key)
	require.NoError(t, err)
	require.Equal(t, StatePayloadReady, result.State)
	require.Len(t, result.Payload, 0)
}

func TestDecodeErrors(t *testing.T) {
	fx := loadFixture(t)

	t.Run("overrun by one byte", func(t *testing.T) {
		result, err := Decode(fx.raw[:len(fx.raw)-1], fx.key)
		require.ErrorIs(t, err, ErrCiphertextOverrun)
		require.NotNil(t, result.Telegram)
		var fe *FieldError
		require.True(t, errors.As(err, &fe))
		require.Equal(t, 18, fe.Offset)
	})
	t.Run("wrong key", func(t *testing.T) {
		result, err := Decode(fx.raw, make([]byte, 16))
		require.ErrorIs(t, err, ErrIntegrityMarker)
		require.False(t, errors.Is(err, ErrCipherFailure))
		require.Nil(t, result.Payload)
	})
	t.Run("bad key length", func(t *testing.T) {
		_, err := Decode(fx.raw, fx.key[:15])
		require.ErrorIs(t, err, ErrCipherFailure)
	})
	t.Run("missing key", func(t *testing.T) {
		c := &countingCipher{}
		_, err := DecodeWithCipher(c, fx.raw, nil)
		require.ErrorIs(t, err, ErrKeyRequired)
		require.Zero(t, c.calls)
	})
	t.Run("truncated", func(t *testing.T) {
		result, err := Decode(fx.raw[:9], fx.key)
		require.ErrorIs(t, err, ErrTruncatedFrame)
		require.Nil(t, result.Telegram)
	})
	t.Run("dll marker", func(t *testing.T) {
		raw := bytes.Clone(fx.raw)
		raw[1] = 0x46
		_, err := Decode(raw, fx.key)
		require.ErrorIs(t, err, ErrInvalidDLLMarker)
		require.Contains(t, err.Error(), "dll.C at offset 1")
	})
	t.Run("tpl marker", func(t *testing.T) {
		raw := bytes.Clone(fx.raw)
		raw[13] = 0x72
		_, err := Decode(raw, fx.key)
		require.ErrorIs(t, err, ErrInvalidTPLMarker)
	})
}

func TestDecodeHexOptions(t *testing.T) {
	fx := loadFixture(t)
	hexStr := testutil.LoadHex(t, "oms/engelmann_mode5.hex")
	keyHex := testutil.LoadHex(t, "oms/engelmann_mode5.key")
	ctx := context.Background()

	result, err := DecodeHex(ctx, hexStr, Options{KeyHex: keyHex})
	require.NoError(t, err)
	require.Equal(t, fx.payload, result.Payload)

	result, err = DecodeHex(internalopts.WithSecurityKey(ctx, fx.key), hexStr, Options{})
	require.NoError(t, err)
	require.Equal(t, fx.payload, result.Payload)

	result, err = DecodeHex(ctx, hexStr, Options{Keys: keyMap{"50898527": fx.key}})
	require.NoError(t, err)
	require.Equal(t, fx.payload, result.Payload)

	_, err = DecodeHex(ctx, hexStr, Options{Keys: keyMap{"00000000": fx.key}})
	require.ErrorIs(t, err, ErrKeyRequired)

	_, err = DecodeHex(ctx, hexStr, Options{KeyHex: "1234"})
	require.ErrorContains(t, err, "32 hex digits")

	c := &countingCipher{}
	_, err = DecodeHex(ctx, hexStr, Options{KeyHex: keyHex, Cipher: c})
	require.NoError(t, err)
	require.Equal(t, 1, c.calls)
}

func TestResultString(t *testing.T) {
	fx := loadFixture(t)
	result, err := Decode(fx.raw, fx.key)
	require.NoError(t, err)
	out := result.String()
	require.Contains(t, out, `"state": "payload_ready"`)
	require.Contains(t, out, `"meter_id": "50898527"`)
	require.Contains(t, out, `"iv": "c5142785895070079d9d9d9d9d9d9d9d"`)
	require.True(t, strings.HasPrefix(out, "{"))
}
