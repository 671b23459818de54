package markdown

import "testing"

func TestFormatter_WhatsApp(t *testing.T) {
	f := NewFormatter(false)
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text", "Atendemos das 8h às 18h.", "Atendemos das 8h às 18h."},
		{"bold", "Horário: **8h às 18h**", "Horário: *8h às 18h*"},
		{"italic", "isso é *importante*", "isso é _importante_"},
		{"strike", "~~antigo~~ novo", "~antigo~ novo"},
		{"heading", "## Horários\n\nSegunda a sexta", "*Horários*\n\nSegunda a sexta"},
		{"bullets", "- um\n- dois", "• um\n• dois"},
		{"ordered", "1. um\n2. dois", "1. um\n2. dois"},
		{"link", "veja [o site](https://example.com)", "veja o site (https://example.com)"},
		{"code block", "```go\nfmt.Println()\n```", "```\nfmt.Println()\n```"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.Format(tt.in); got != tt.want {
				t.Errorf("Format(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatter_Plain(t *testing.T) {
	f := NewFormatter(true)
	got := f.Format("# Título\n\n**negrito** e `code`")
	want := "Título\n\nnegrito e code"
	if got != want {
		t.Errorf("Format() = %q, want %q", got, want)
	}
}
