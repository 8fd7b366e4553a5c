package testutil

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// LoadHex returns a trimmed hex string from testdata relative path.
func LoadHex(t *testing.T, rel string) string {
	t.Helper()
	data := readTestdata(t, rel)
	return strings.TrimSpace(string(data))
}

// LoadBytes decodes a hex fixture from testdata relative path.
func LoadBytes(t *testing.T, rel string) []byte {
	t.Helper()
	s := LoadHex(t, rel)
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("decode %s: %v", rel, err)
	}
	return b
}

func readTestdata(t *testing.T, rel string) []byte {
	t.Helper()
	candidates := []string{
		filepath.Join("testdata", rel),
		filepath.Join("..", "testdata", rel),
		filepath.Join("..", "..", "testdata", rel),
	}
	for _, path := range candidates {
		if data, err := os.ReadFile(path); err == nil {
			return data
		}
	}
	t.Fatalf("unable to locate testdata file %s", rel)
	return nil
}
