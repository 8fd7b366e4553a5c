// Package wmbusdec decrypts OMS mode 5 Wireless M-Bus telegrams.
package wmbusdec

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/sweaterweather2003/W-MBus-Telegram-Decryption-Tool/internal/crypto"
	"github.com/sweaterweather2003/W-MBus-Telegram-Decryption-Tool/internal/frame"
)

// Cipher is the AES-CBC collaborator used for decryption.
type Cipher = crypto.Cipher

// Error sentinels re-exported for errors.Is checks by callers.
var (
	ErrTruncatedFrame    = frame.ErrTruncatedFrame
	ErrInvalidDLLMarker  = frame.ErrInvalidDLLMarker
	ErrInvalidTPLMarker  = frame.ErrInvalidTPLMarker
	ErrCiphertextOverrun = crypto.ErrCiphertextOverrun
	ErrCipherFailure     = crypto.ErrCipherFailure
	ErrIntegrityMarker   = crypto.ErrIntegrityMarker
	ErrKeyRequired       = crypto.ErrKeyRequired
	ErrTrailingFill      = crypto.ErrTrailingFill
)

// FieldError locates a failure by stage, field and offset.
type FieldError = frame.FieldError

// State is the successful terminal state of a decode.
type State int

const (
	// StateNoEncryption means the config field declares zero blocks; Payload
	// holds the unencrypted remainder.
	StateNoEncryption State = iota + 1
	// StatePayloadReady means the payload was decrypted and validated.
	StatePayloadReady
)

func (s State) String() string {
	switch s {
	case StateNoEncryption:
		return "no_encryption"
	case StatePayloadReady:
		return "payload_ready"
	default:
		return "unknown"
	}
}

// Result captures the outcome of a decode. Payload and Trailing never alias
// the input buffer.
type Result struct {
	Telegram *frame.Telegram
	State    State
	Blocks   int
	IV       [crypto.IVSize]byte
	Payload  []byte
	Trailing []byte
}

// String renders a human-readable representation of the result.
func (r Result) String() string {
	summary := map[string]any{
		"state":    r.State.String(),
		"blocks":   r.Blocks,
		"payload":  fmt.Sprintf("%X", r.Payload),
		"trailing": fmt.Sprintf("%X", r.Trailing),
	}
	if r.State == StatePayloadReady {
		summary["iv"] = hex.EncodeToString(r.IV[:])
	}
	if t := r.Telegram; t != nil {
		summary["meter_id"] = t.MeterIDString()
		summary["manufacturer"] = fmt.Sprintf("0x%04X (%s)", t.Manufacturer, t.ManufacturerCode())
		summary["version"] = fmt.Sprintf("0x%02X", t.Version)
		summary["device_type"] = fmt.Sprintf("0x%02X", t.DeviceType)
		summary["access_number"] = fmt.Sprintf("0x%02X", t.TPL.AccessNumber)
		summary["status"] = fmt.Sprintf("0x%02X", t.TPL.Status)
		summary["config"] = fmt.Sprintf("0x%04X", t.TPL.Config())
		summary["byte_count"] = len(t.Raw)
		if t.ELL.Present {
			summary["ell"] = map[string]string{
				"control":       fmt.Sprintf("0x%02X", t.ELL.Control),
				"access_number": fmt.Sprintf("0x%02X", t.ELL.AccessNumber),
			}
		}
		for k, v := range t.StatusFlags() {
			summary[k] = v
		}
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Sprintf("state: %s payload:%X (marshal error: %v)", r.State, r.Payload, err)
	}
	return string(data)
}

// Decode runs the pipeline with the stdlib AES implementation.
func Decode(raw, key []byte) (Result, error) {
	return DecodeWithCipher(crypto.AESCBC{}, raw, key)
}

// DecodeWithCipher parses raw and decrypts it with c. On failure after the
// header was parsed, the returned Result still carries the Telegram.
func DecodeWithCipher(c Cipher, raw, key []byte) (Result, error) {
	return decode(c, raw, func(frame.Telegram) []byte { return key })
}

func decode(c Cipher, raw []byte, keyFor func(frame.Telegram) []byte) (Result, error) {
	t, err := frame.Parse(raw)
	if err != nil {
		return Result{}, err
	}
	result := Result{Telegram: &t}

	cfg, err := crypto.InterpretConfig(t.TPL.ConfigLow, len(raw), t.PayloadOffset)
	if err != nil {
		return result, err
	}
	if !cfg.Encrypted() {
		result.State = StateNoEncryption
		result.Payload = clone(raw[t.PayloadOffset:])
		result.Trailing = []byte{}
		return result, nil
	}
	result.Blocks = cfg.Blocks

	key := keyFor(t)
	if len(key) == 0 {
		return result, ErrKeyRequired
	}
	iv := crypto.BuildIV(t)
	end := t.PayloadOffset + cfg.Length
	payload, err := crypto.DecryptPayload(c, key, iv, raw[t.PayloadOffset:end])
	if err != nil {
		return result, err
	}
	result.State = StatePayloadReady
	result.IV = iv
	result.Payload = payload
	result.Trailing = clone(raw[end:])
	return result, nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
