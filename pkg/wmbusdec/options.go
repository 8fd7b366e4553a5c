package wmbusdec

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/sweaterweather2003/W-MBus-Telegram-Decryption-Tool/internal/crypto"
	"github.com/sweaterweather2003/W-MBus-Telegram-Decryption-Tool/internal/frame"
	internalopts "github.com/sweaterweather2003/W-MBus-Telegram-Decryption-Tool/internal/options"
)

// KeyLookup resolves a key by meter id in display order (e.g. "50898527").
type KeyLookup interface {
	KeyFor(meterID string) ([]byte, bool)
}

// Options configures DecodeHex. KeyHex wins over a key stored in the
// context, which wins over Keys.
type Options struct {
	KeyHex string
	Keys   KeyLookup
	Cipher Cipher
}

// DecodeHex decodes a hex telegram. Whitespace, '|', '_' and ':' separators
// and a 0x prefix are ignored.
func DecodeHex(ctx context.Context, raw string, opts Options) (Result, error) {
	key, err := internalopts.ParseKeyHex(opts.KeyHex)
	if err != nil {
		return Result{}, err
	}
	if key == nil {
		key = internalopts.SecurityKey(ctx)
	}
	data, err := decodeHex(raw)
	if err != nil {
		return Result{}, err
	}
	c := opts.Cipher
	if c == nil {
		c = crypto.AESCBC{}
	}
	return decode(c, data, func(t frame.Telegram) []byte {
		if key != nil {
			return key
		}
		if opts.Keys != nil {
			if k, ok := opts.Keys.KeyFor(t.MeterIDString()); ok {
				return k
			}
		}
		return nil
	})
}

func decodeHex(input string) ([]byte, error) {
	clean := internalopts.CleanHex(input)
	if len(clean)%2 != 0 {
		return nil, fmt.Errorf("hex telegram must contain an even number of digits, got %d", len(clean))
	}
	decoded := make([]byte, len(clean)/2)
	if _, err := hex.Decode(decoded, []byte(clean)); err != nil {
		return nil, fmt.Errorf("decode hex: %w", err)
	}
	return decoded, nil
}
