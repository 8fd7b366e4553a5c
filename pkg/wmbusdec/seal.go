package wmbusdec

import (
	"fmt"

	"github.com/sweaterweather2003/W-MBus-Telegram-Decryption-Tool/internal/crypto"
	"github.com/sweaterweather2003/W-MBus-Telegram-Decryption-Tool/internal/frame"
)

const maxBlocks = 0x0F

// Seal builds a mode 5 telegram: header (DLL, optional ELL and short TPL)
// followed by the encrypted payload. The block count nibble of the config
// field is rewritten to match the ciphertext; the header slice is not
// modified.
func Seal(header, payload, key []byte) ([]byte, error) {
	t, err := frame.Parse(header)
	if err != nil {
		return nil, err
	}
	if len(t.Payload) != 0 {
		return nil, fmt.Errorf("header has %d bytes after the TPL", len(t.Payload))
	}
	ciphertext, err := crypto.EncryptPayload(crypto.AESCBC{}, key, crypto.BuildIV(t), payload)
	if err != nil {
		return nil, err
	}
	blocks := len(ciphertext) / crypto.IVSize
	if blocks > maxBlocks {
		return nil, fmt.Errorf("payload needs %d blocks, at most %d fit the config field", blocks, maxBlocks)
	}
	out := make([]byte, 0, len(header)+len(ciphertext))
	out = append(out, header...)
	cfgLow := t.PayloadOffset - 2
	out[cfgLow] = out[cfgLow]&0x0F | byte(blocks)<<4
	return append(out, ciphertext...), nil
}
