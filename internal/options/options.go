package options

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
)

// KeySize is the AES-128 key length in bytes.
const KeySize = 16

type contextKey struct{}

// WithSecurityKey stores a copy of the key inside the context.
func WithSecurityKey(ctx context.Context, key []byte) context.Context {
	if len(key) == 0 {
		return ctx
	}
	buf := make([]byte, len(key))
	copy(buf, key)
	return context.WithValue(ctx, contextKey{}, buf)
}

// SecurityKey retrieves the AES key from context if present.
func SecurityKey(ctx context.Context) []byte {
	if v := ctx.Value(contextKey{}); v != nil {
		if key, ok := v.([]byte); ok {
			return key
		}
	}
	return nil
}

// ParseKeyHex validates and decodes a 32-hex-digit AES key string. An empty
// input yields a nil key.
func ParseKeyHex(input string) ([]byte, error) {
	clean := CleanHex(input)
	if clean == "" {
		return nil, nil
	}
	if len(clean) != 2*KeySize {
		return nil, fmt.Errorf("AES key must be %d hex digits (%d bytes), got %d", 2*KeySize, KeySize, len(clean))
	}
	dst := make([]byte, KeySize)
	if _, err := hex.Decode(dst, []byte(clean)); err != nil {
		return nil, fmt.Errorf("invalid AES key hex: %w", err)
	}
	return dst, nil
}

// CleanHex drops whitespace, the '|', '_' and ':' separators and an
// optional 0x prefix.
func CleanHex(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) || r == '|' || r == '_' || r == ':' {
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if strings.HasPrefix(out, "0x") || strings.HasPrefix(out, "0X") {
		out = out[2:]
	}
	return out
}
