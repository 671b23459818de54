package valueobject

import "testing"

func TestNormalizeNumber(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"5511999999999@s.whatsapp.net", "5511999999999"},
		{"5511999999999:12@s.whatsapp.net", "5511999999999"},
		{"+55 (11) 99999-9999", "5511999999999"},
		{"  5511900000000 ", "5511900000000"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeNumber(tt.in); got != tt.want {
				t.Errorf("NormalizeNumber(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestJIDKinds(t *testing.T) {
	if !IsGroupJID("120363025246125486@g.us") {
		t.Error("group jid not detected")
	}
	if IsGroupJID("5511999999999@s.whatsapp.net") {
		t.Error("user jid detected as group")
	}
	if !IsBroadcastJID("status@broadcast") {
		t.Error("status broadcast not detected")
	}
	if got := ToJID("+55 11 99999-9999"); got != "5511999999999@s.whatsapp.net" {
		t.Errorf("ToJID = %q", got)
	}
}

func TestParseMessageType(t *testing.T) {
	tests := map[string]MessageType{
		"text":          MessageTypeText,
		"extended_text": MessageTypeText,
		"image":         MessageTypeImage,
		"audio":         MessageTypeAudio,
		"sticker":       MessageTypeOther,
		"video":         MessageTypeOther,
		"document":      MessageTypeOther,
	}
	for in, want := range tests {
		if got := ParseMessageType(in); got != want {
			t.Errorf("ParseMessageType(%q) = %q, want %q", in, got, want)
		}
	}
	if MessageTypeText.IsMedia() || !MessageTypeImage.IsMedia() || !MessageTypeOther.IsMedia() {
		t.Error("IsMedia mismatch")
	}
}

func TestDefaultProcessorFor(t *testing.T) {
	tests := []struct {
		name      string
		typ       MessageType
		variant   string
		preferOCR bool
		want      ProcessorType
	}{
		{"audio", MessageTypeAudio, "audio", true, ProcessorAudioTranscription},
		{"image", MessageTypeImage, "image", false, ProcessorVisionCaption},
		{"image ocr", MessageTypeImage, "image", true, ProcessorOCR},
		{"video", MessageTypeOther, VariantVideo, false, ProcessorVisionCaption},
		{"document", MessageTypeOther, VariantDocument, false, ProcessorOCR},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DefaultProcessorFor(tt.typ, tt.variant, tt.preferOCR); got != tt.want {
				t.Errorf("DefaultProcessorFor(%q, %q) = %q, want %q", tt.typ, tt.variant, got, tt.want)
			}
		})
	}
}
