package protocol

import (
	"encoding/base64"
	"errors"
	"testing"
)

func TestParseClientMessageFrame(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"kind":"frame","image":"AQID"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	frame, ok := msg.(Frame)
	if !ok {
		t.Fatalf("message type = %T, want Frame", msg)
	}
	if frame.Image != "AQID" {
		t.Fatalf("Image = %q, want %q", frame.Image, "AQID")
	}
}

func TestParseClientMessageAcceptsTypeDiscriminator(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"ping"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if msg.Kind() != KindPing {
		t.Fatalf("Kind() = %q, want %q", msg.Kind(), KindPing)
	}
}

func TestParseClientMessageChatWithImage(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"kind":"chat","text":"what next?","image":"data:image/png;base64,AQID"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	chat, ok := msg.(Chat)
	if !ok {
		t.Fatalf("message type = %T, want Chat", msg)
	}
	if chat.Text != "what next?" || chat.Image == "" {
		t.Fatalf("unexpected chat: %+v", chat)
	}
}

func TestParseClientMessageUpdateMetadata(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"kind":"update_metadata","metadata":{"cursor":{"x":1,"y":2},"step":3}}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	md, ok := msg.(UpdateMetadata)
	if !ok {
		t.Fatalf("message type = %T, want UpdateMetadata", msg)
	}
	if md.Metadata["step"] != float64(3) {
		t.Fatalf("step = %v, want 3", md.Metadata["step"])
	}
}

func TestParseClientMessageRejects(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		kind MessageKind
	}{
		{"not json", `nope`, ""},
		{"missing kind", `{"image":"AQID"}`, ""},
		{"unknown kind", `{"kind":"wat"}`, ""},
		{"empty frame", `{"kind":"frame","image":"  "}`, KindFrame},
		{"empty chat", `{"kind":"chat","text":""}`, KindChat},
		{"metadata missing", `{"kind":"update_metadata"}`, KindUpdateMetadata},
		{"frame wrong type", `{"kind":"frame","image":42}`, KindFrame},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseClientMessage([]byte(tc.raw))
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error = %v, want *ValidationError", err)
			}
			if verr.Kind != tc.kind {
				t.Fatalf("Kind = %q, want %q", verr.Kind, tc.kind)
			}
			if tc.kind == "" && verr.Error() != ReasonMalformed {
				t.Fatalf("Error() = %q, want %q", verr.Error(), ReasonMalformed)
			}
		})
	}
}

func TestParseClientMessageUnknownKindWrapsSentinel(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"kind":"dance"}`))
	if !errors.Is(err, ErrUnsupportedKind) {
		t.Fatalf("error = %v, want ErrUnsupportedKind", err)
	}
}

func TestDecodeImagePayload(t *testing.T) {
	pngHeader := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}
	encoded := base64.StdEncoding.EncodeToString(pngHeader)

	data, mimeType, err := DecodeImagePayload("data:image/png;base64," + encoded)
	if err != nil {
		t.Fatalf("DecodeImagePayload(data URI) error = %v", err)
	}
	if mimeType != "image/png" || len(data) != len(pngHeader) {
		t.Fatalf("got mime=%q len=%d", mimeType, len(data))
	}

	data, mimeType, err = DecodeImagePayload(encoded)
	if err != nil {
		t.Fatalf("DecodeImagePayload(raw) error = %v", err)
	}
	if mimeType != "image/png" || len(data) != len(pngHeader) {
		t.Fatalf("sniffed mime=%q len=%d", mimeType, len(data))
	}

	if _, _, err := DecodeImagePayload(base64.RawStdEncoding.EncodeToString(pngHeader[:5])); err != nil {
		t.Fatalf("DecodeImagePayload(unpadded) error = %v", err)
	}
}

func TestDecodeImagePayloadRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "data:image/png;base64,", "data:image/png,AQID", "!!!not-base64!!!", "data:image/png;base64"} {
		if _, _, err := DecodeImagePayload(in); !errors.Is(err, ErrInvalidImage) {
			t.Fatalf("DecodeImagePayload(%q) error = %v, want ErrInvalidImage", in, err)
		}
	}
}

func TestKindOf(t *testing.T) {
	if k, ok := KindOf(Guidance{Kind: KindGuidance}); !ok || k != KindGuidance {
		t.Fatalf("KindOf(Guidance) = %q, %v", k, ok)
	}
	if k, ok := KindOf(Chat{Text: "x"}); !ok || k != KindChat {
		t.Fatalf("KindOf(Chat) = %q, %v", k, ok)
	}
	if _, ok := KindOf(42); ok {
		t.Fatalf("KindOf(int) should be false")
	}
}

func BenchmarkParseClientMessageFrame(b *testing.B) {
	raw := []byte(`{"kind":"frame","image":"data:image/png;base64,AQIDBAUGBwgJCgsMDQ4P"}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(Frame); !ok {
			b.Fatalf("message type = %T, want Frame", msg)
		}
	}
}
