package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"

	"github.com/sweaterweather2003/W-MBus-Telegram-Decryption-Tool/internal/frame"
)

var (
	ErrKeyRequired       = errors.New("encrypted telegram: AES key required (use --key)")
	ErrCiphertextOverrun = errors.New("declared ciphertext exceeds telegram")
	ErrCipherFailure     = errors.New("cipher failure")
	ErrIntegrityMarker   = errors.New("decrypted payload lacks 2F2F marker (wrong key or corrupted frame)")
	ErrTrailingFill      = errors.New("payload ends with 2F fill byte")
)

const (
	// IVSize is the AES block size and the length of the derived IV.
	IVSize = aes.BlockSize

	fillByte = 0x2F
)

// BlockConfig is the encryption extent declared by the TPL config field.
type BlockConfig struct {
	Blocks int
	Length int
}

// Encrypted reports whether any ciphertext is declared.
func (c BlockConfig) Encrypted() bool { return c.Blocks > 0 }

// InterpretConfig reads the block count from bits 7-4 of the config low
// byte. The config high byte (security mode) is not consulted; every frame
// with a non-zero count is treated as mode 5.
func InterpretConfig(cfgLow byte, telegramLen, offset int) (BlockConfig, error) {
	blocks := int((cfgLow >> 4) & 0x0F)
	if blocks == 0 {
		return BlockConfig{}, nil
	}
	length := blocks * aes.BlockSize
	if offset+length > telegramLen {
		return BlockConfig{}, &frame.FieldError{
			Stage:  "config",
			Field:  "blocks",
			Offset: offset,
			Detail: fmt.Sprintf("%d blocks need %d bytes, %d available", blocks, length, telegramLen-offset),
			Err:    ErrCiphertextOverrun,
		}
	}
	return BlockConfig{Blocks: blocks, Length: length}, nil
}

// BuildIV derives the mode 5 IV: M(2) ID(4) V T followed by the TPL access
// number repeated eight times.
func BuildIV(t frame.Telegram) [IVSize]byte {
	var iv [IVSize]byte
	iv[0] = byte(t.Manufacturer)
	iv[1] = byte(t.Manufacturer >> 8)
	copy(iv[2:6], t.MeterID[:])
	iv[6] = t.Version
	iv[7] = t.DeviceType
	for i := 8; i < IVSize; i++ {
		iv[i] = t.TPL.AccessNumber
	}
	return iv
}

// Cipher is the block cipher collaborator. Implementations may overwrite
// the iv and ciphertext slices they receive, and may return plaintext that
// aliases ciphertext.
type Cipher interface {
	DecryptCBC(key, iv, ciphertext []byte) ([]byte, error)
}

// Sealer is the encrypting counterpart of Cipher.
type Sealer interface {
	EncryptCBC(key, iv, plaintext []byte) ([]byte, error)
}

// AESCBC implements Cipher and Sealer with crypto/aes.
type AESCBC struct{}

var (
	_ Cipher = AESCBC{}
	_ Sealer = AESCBC{}
)

func (AESCBC) DecryptCBC(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := newBlock(key, iv, ciphertext)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return out, nil
}

func (AESCBC) EncryptCBC(key, iv, plaintext []byte) ([]byte, error) {
	block, err := newBlock(key, iv, plaintext)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plaintext)
	return out, nil
}

func newBlock(key, iv, data []byte) (cipher.Block, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("invalid AES key: %w", err)
	}
	if len(iv) != block.BlockSize() {
		return nil, fmt.Errorf("IV must be %d bytes, got %d", block.BlockSize(), len(iv))
	}
	if len(data)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("data length %d is not a multiple of %d", len(data), block.BlockSize())
	}
	return block, nil
}

// DecryptPayload decrypts the ciphertext, checks the leading 2F2F marker and
// strips it together with all trailing 2F fill bytes. The cipher receives
// private copies of iv and ciphertext, so the caller's buffer is never
// written and the result never aliases it.
func DecryptPayload(c Cipher, key []byte, iv [IVSize]byte, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d is not a positive multiple of %d",
			ErrCipherFailure, len(ciphertext), aes.BlockSize)
	}
	ivCopy := iv
	buf := make([]byte, len(ciphertext))
	copy(buf, ciphertext)
	plaintext, err := c.DecryptCBC(key, ivCopy[:], buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCipherFailure, err)
	}
	if len(plaintext) != len(ciphertext) {
		return nil, fmt.Errorf("%w: plaintext length %d, want %d", ErrCipherFailure, len(plaintext), len(ciphertext))
	}
	if plaintext[0] != fillByte || plaintext[1] != fillByte {
		return nil, &frame.FieldError{
			Stage:  "decrypt",
			Field:  "marker",
			Offset: 0,
			Detail: fmt.Sprintf("got %02X%02X", plaintext[0], plaintext[1]),
			Err:    ErrIntegrityMarker,
		}
	}
	return trimFill(plaintext[2:]), nil
}

func trimFill(b []byte) []byte {
	n := len(b)
	for n > 0 && b[n-1] == fillByte {
		n--
	}
	return b[:n]
}

// EncryptPayload reverses DecryptPayload: it prefixes the 2F2F marker, pads
// with 2F to a block multiple and encrypts. A payload ending in 2F is
// rejected since decryption would strip those bytes.
func EncryptPayload(s Sealer, key []byte, iv [IVSize]byte, payload []byte) ([]byte, error) {
	if n := len(payload); n > 0 && payload[n-1] == fillByte {
		return nil, ErrTrailingFill
	}
	size := len(payload) + 2
	if rem := size % aes.BlockSize; rem != 0 {
		size += aes.BlockSize - rem
	}
	plaintext := make([]byte, size)
	for i := range plaintext {
		plaintext[i] = fillByte
	}
	copy(plaintext[2:], payload)
	ivCopy := iv
	out, err := s.EncryptCBC(key, ivCopy[:], plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCipherFailure, err)
	}
	return out, nil
}
