package events

import (
	"encoding/json"
	"testing"
)

func TestValidID(t *testing.T) {
	cases := map[string]bool{
		"abc-123.def_456": true,
		"":                false,
		"has space":       false,
		"has/slash":       false,
	}
	for id, want := range cases {
		if got := ValidID(id); got != want {
			t.Errorf("ValidID(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestValidIDLengthBound(t *testing.T) {
	long := make([]byte, MaxIDLen+1)
	for i := range long {
		long[i] = 'a'
	}
	if ValidID(string(long)) {
		t.Fatalf("id longer than %d must be rejected", MaxIDLen)
	}
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	if err != ErrInvalidJSON {
		t.Fatalf("expected ErrInvalidJSON, got %v", err)
	}
}

func TestDecodeRejectsMissingDiscriminator(t *testing.T) {
	_, err := Decode([]byte(`{"timestamp":"2025-01-01T00:00:00Z"}`))
	if err != ErrMissingFields {
		t.Fatalf("expected ErrMissingFields, got %v", err)
	}
}

func TestDecodePreservesKnownFields(t *testing.T) {
	raw := `{"type":"tool_start","timestamp":"2025-01-01T00:00:00Z","sessionId":"s1","input":"hello"}`
	w, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Type != ToolStart || w.SessionID != "s1" || w.Input != "hello" {
		t.Fatalf("unexpected decode: %+v", w)
	}
}

func TestDecodeKeepsExtraFields(t *testing.T) {
	raw := `{"type":"tool_start","timestamp":"2025-01-01T00:00:00Z","tool":"Bash"}`
	w, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := w.Extra["tool"]; !ok {
		t.Fatalf("expected unknown field 'tool' preserved in Extra")
	}
	out, err := w.Marshal()
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	var back map[string]interface{}
	json.Unmarshal(out, &back)
	if back["tool"] != "Bash" {
		t.Fatalf("expected 'tool' field to survive round trip, got %+v", back)
	}
}

func TestIsRecognized(t *testing.T) {
	if !IsRecognized(ToolStart) {
		t.Fatalf("tool_start must be recognized")
	}
	if IsRecognized(Type("bogus")) {
		t.Fatalf("unknown type must not be recognized")
	}
}
