package wire

import (
	"encoding/json"
	"testing"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	b, err := EncodeEnvelope("chat.message", map[string]string{"text": "hi"})
	if err != nil {
		t.Fatal(err)
	}
	env, err := DecodeEnvelope(b)
	if err != nil {
		t.Fatal(err)
	}
	if env.Type != "chat.message" {
		t.Errorf("type = %q, want chat.message", env.Type)
	}
	var payload map[string]string
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload["text"] != "hi" {
		t.Errorf("payload = %v", payload)
	}
}

func TestDecodeEnvelopeErrors(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"not json", "{"},
		{"missing type", `{"payload":{}}`},
		{"non-string type", `{"type":7,"payload":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeEnvelope([]byte(tt.frame)); err == nil {
				t.Errorf("DecodeEnvelope(%q): expected error", tt.frame)
			}
		})
	}
}

func TestChunkFrames(t *testing.T) {
	t.Run("chunk", func(t *testing.T) {
		b, err := EncodeChunk(map[string]int{"n": 1})
		if err != nil {
			t.Fatal(err)
		}
		if got, want := string(b), `{"kind":"chunk","value":{"n":1}}`; got != want {
			t.Errorf("chunk frame = %s, want %s", got, want)
		}
		f, err := DecodeFrame(b)
		if err != nil {
			t.Fatal(err)
		}
		if f.Kind != FrameChunk || !f.HasValue {
			t.Errorf("frame = %+v", f)
		}
	})

	t.Run("final with value", func(t *testing.T) {
		b, err := EncodeFinal(map[string]int{"total": 3}, true)
		if err != nil {
			t.Fatal(err)
		}
		f, err := DecodeFrame(b)
		if err != nil {
			t.Fatal(err)
		}
		if f.Kind != FrameFinal || !f.HasValue {
			t.Errorf("frame = %+v", f)
		}
	})

	t.Run("final without value", func(t *testing.T) {
		b, err := EncodeFinal(nil, false)
		if err != nil {
			t.Fatal(err)
		}
		if got, want := string(b), `{"kind":"final"}`; got != want {
			t.Errorf("final frame = %s, want %s", got, want)
		}
		f, err := DecodeFrame(b)
		if err != nil {
			t.Fatal(err)
		}
		if f.Kind != FrameFinal || f.HasValue {
			t.Errorf("frame = %+v", f)
		}
	})

	// A chunk whose payload contains a "kind" key of its own must still be a
	// chunk: the discriminator lives at the frame level, not in the payload.
	t.Run("payload containing kind key", func(t *testing.T) {
		b, err := EncodeChunk(map[string]any{"kind": "final", "done": true})
		if err != nil {
			t.Fatal(err)
		}
		f, err := DecodeFrame(b)
		if err != nil {
			t.Fatal(err)
		}
		if f.Kind != FrameChunk {
			t.Errorf("kind = %q, want chunk", f.Kind)
		}
	})

	t.Run("unknown kind", func(t *testing.T) {
		if _, err := DecodeFrame([]byte(`{"kind":"nope"}`)); err == nil {
			t.Error("expected error for unknown kind")
		}
	})
}

func TestAppendEvent(t *testing.T) {
	tests := []struct {
		name  string
		event string
		data  string
		want  string
	}{
		{"single line", "log", `{"n":1}`, "event: log\ndata: {\"n\":1}\n\n"},
		{"multiline data", "log", "a\nb", "event: log\ndata: a\ndata: b\n\n"},
		{"empty data", "tick", "", "event: tick\ndata: \n\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(AppendEvent(nil, tt.event, []byte(tt.data)))
			if got != tt.want {
				t.Errorf("AppendEvent = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAppendComment(t *testing.T) {
	if got, want := string(AppendComment(nil, "hb")), ": hb\n\n"; got != want {
		t.Errorf("AppendComment = %q, want %q", got, want)
	}
}
