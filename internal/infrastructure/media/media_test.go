package media

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/domain/service"
	"github.com/ngoclaw/wagent/internal/domain/valueobject"
	llm "github.com/ngoclaw/wagent/internal/infrastructure/llm"
)

// png 文件头，足以让 DetectContentType 识别
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type fakeLLM struct {
	req  *service.LLMRequest
	resp string
	err  error
}

func (f *fakeLLM) Generate(_ context.Context, req *service.LLMRequest) (*service.LLMResponse, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return &service.LLMResponse{Content: f.resp}, nil
}

type fakeTranscriber struct {
	req  *llm.TranscriptionRequest
	text string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, req *llm.TranscriptionRequest) (string, error) {
	f.req = req
	return f.text, nil
}

func TestFetcher_HTTPAndDataURI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(pngHeader)
	}))
	defer srv.Close()

	f := NewFetcher(5*time.Second, zap.NewNop())
	data, mime, err := f.Fetch(context.Background(), srv.URL+"/img")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if mime != "image/png" || len(data) != len(pngHeader) {
		t.Errorf("got mime=%s len=%d", mime, len(data))
	}

	data, mime, err = f.Fetch(context.Background(), DataURI("image/jpeg", []byte("abc")))
	if err != nil {
		t.Fatalf("Fetch data uri: %v", err)
	}
	if mime != "image/jpeg" || string(data) != "abc" {
		t.Errorf("got mime=%s data=%q", mime, data)
	}

	if _, _, err := f.Fetch(context.Background(), "ftp://x"); err == nil {
		t.Error("expected error for unsupported scheme")
	}
}

func TestFetcher_SizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 32)))
	}))
	defer srv.Close()

	f := NewFetcher(5*time.Second, zap.NewNop())
	f.maxBytes = 16
	if _, _, err := f.Fetch(context.Background(), srv.URL); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestVisionProcessor_BuildsMultimodalRequest(t *testing.T) {
	client := &fakeLLM{resp: "  Um comprovante de pagamento  "}
	p := NewVisionProcessor(client, NewFetcher(0, zap.NewNop()), "gpt-4o-mini", VisionOCR, zap.NewNop())

	out, err := p.Process(context.Background(), service.MediaRequest{
		JobID:    "j1",
		MediaRef: DataURI("image/png", pngHeader),
		Caption:  "segue o comprovante",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out != "Um comprovante de pagamento" {
		t.Errorf("out = %q", out)
	}
	if client.req.Temperature != 0 || client.req.Model != "gpt-4o-mini" {
		t.Errorf("unexpected request %+v", client.req)
	}
	parts := client.req.Messages[0].Parts
	if len(parts) != 2 || parts[1].Type != "image" || !strings.HasPrefix(parts[1].MediaURL, "data:image/png;base64,") {
		t.Fatalf("unexpected parts %+v", parts)
	}
	if !strings.Contains(parts[0].Text, "Transcribe all text") || !strings.Contains(parts[0].Text, "segue o comprovante") {
		t.Errorf("prompt = %q", parts[0].Text)
	}
}

func TestVisionProcessor_RejectsNonImage(t *testing.T) {
	p := NewVisionProcessor(&fakeLLM{resp: "x"}, NewFetcher(0, zap.NewNop()), "", VisionCaption, zap.NewNop())
	_, err := p.Process(context.Background(), service.MediaRequest{MediaRef: DataURI("audio/ogg", []byte("x"))})
	if err == nil {
		t.Fatal("expected error for audio media")
	}
}

func TestTranscriptionProcessor(t *testing.T) {
	tr := &fakeTranscriber{text: " olá, tudo bem? "}
	p := NewTranscriptionProcessor(tr, NewFetcher(0, zap.NewNop()), "whisper-1", "pt", zap.NewNop())

	out, err := p.Process(context.Background(), service.MediaRequest{MediaRef: DataURI("audio/ogg; codecs=opus", []byte("OggS"))})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out != "olá, tudo bem?" {
		t.Errorf("out = %q", out)
	}
	if tr.req.Filename != "audio.ogg" || tr.req.Language != "pt" || tr.req.Model != "whisper-1" {
		t.Errorf("unexpected request %+v", tr.req)
	}
}

func TestRegisterDefaults(t *testing.T) {
	registry := service.NewMediaProcessorRegistry()
	RegisterDefaults(registry, &fakeLLM{}, nil, NewFetcher(0, zap.NewNop()), Options{}, zap.NewNop())

	types := registry.Types()
	if len(types) != 2 {
		t.Fatalf("types = %v", types)
	}
	if _, ok := registry.Get(valueobject.ProcessorAudioTranscription); ok {
		t.Error("transcription registered without a transcriber")
	}
}
