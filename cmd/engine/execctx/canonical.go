package execctx

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CanonicalJSON encodes v as UTF-8 JSON with sorted object keys and no
// extra whitespace. Every byte count in context accounting is the length
// of this encoding, so it must be stable across replays. HTML escaping
// is disabled so '<' and friends cost one byte like any other rune;
// multi-byte runes count by UTF-8 length, not code units.
func CanonicalJSON(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical encode: %w", err)
	}
	b := buf.Bytes()
	// Encoder appends a trailing newline that is not part of the value.
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
	}
	return b, nil
}

// ByteSize returns the canonical encoded size of v in bytes.
func ByteSize(v interface{}) (int64, error) {
	b, err := CanonicalJSON(v)
	if err != nil {
		return 0, err
	}
	return int64(len(b)), nil
}
