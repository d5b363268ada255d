package execctx

import (
	"bytes"
	"testing"
)

// TestCanonicalJSON_KeyOrder verifies two maps with the same content
// encode to identical bytes regardless of construction order.
func TestCanonicalJSON_KeyOrder(t *testing.T) {
	a := map[string]interface{}{"b": 2, "a": 1, "c": 3}
	b := map[string]interface{}{"c": 3, "a": 1, "b": 2}

	rawA, err := CanonicalJSON(a)
	if err != nil {
		t.Fatalf("CanonicalJSON failed: %v", err)
	}
	rawB, err := CanonicalJSON(b)
	if err != nil {
		t.Fatalf("CanonicalJSON failed: %v", err)
	}

	if !bytes.Equal(rawA, rawB) {
		t.Errorf("Encodings differ: %s vs %s", rawA, rawB)
	}
	if string(rawA) != `{"a":1,"b":2,"c":3}` {
		t.Errorf("Expected sorted keys, got %s", rawA)
	}
}

// TestCanonicalJSON_NoHTMLEscape verifies <, > and & survive verbatim.
func TestCanonicalJSON_NoHTMLEscape(t *testing.T) {
	raw, err := CanonicalJSON(map[string]interface{}{"q": "a < b && c > d"})
	if err != nil {
		t.Fatalf("CanonicalJSON failed: %v", err)
	}
	if string(raw) != `{"q":"a < b && c > d"}` {
		t.Errorf("HTML characters were escaped: %s", raw)
	}
}

// TestCanonicalJSON_NoTrailingNewline verifies the encoder's newline is
// stripped, so byte counts match what gets stored.
func TestCanonicalJSON_NoTrailingNewline(t *testing.T) {
	raw, err := CanonicalJSON([]interface{}{1, 2})
	if err != nil {
		t.Fatalf("CanonicalJSON failed: %v", err)
	}
	if len(raw) == 0 || raw[len(raw)-1] == '\n' {
		t.Errorf("Encoding ends in newline: %q", raw)
	}
}

// TestByteSize_UTF8 verifies sizes count UTF-8 bytes, not runes.
func TestByteSize_UTF8(t *testing.T) {
	n, err := ByteSize("héllo")
	if err != nil {
		t.Fatalf("ByteSize failed: %v", err)
	}
	// "héllo" is 6 bytes plus two quotes.
	if n != 8 {
		t.Errorf("Expected 8 bytes, got %d", n)
	}
}
