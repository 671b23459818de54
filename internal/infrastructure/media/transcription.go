package media

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/domain/service"
	llm "github.com/ngoclaw/wagent/internal/infrastructure/llm"
)

// TranscriptionProcessor 语音转写
type TranscriptionProcessor struct {
	transcriber llm.Transcriber
	fetcher     *Fetcher
	model       string
	language    string
	logger      *zap.Logger
}

var _ service.MediaProcessor = (*TranscriptionProcessor)(nil)

// NewTranscriptionProcessor 创建转写处理器
func NewTranscriptionProcessor(t llm.Transcriber, fetcher *Fetcher, model, language string, logger *zap.Logger) *TranscriptionProcessor {
	return &TranscriptionProcessor{
		transcriber: t,
		fetcher:     fetcher,
		model:       model,
		language:    language,
		logger:      logger.With(zap.String("component", "transcription")),
	}
}

// Process 下载音频并转写
func (p *TranscriptionProcessor) Process(ctx context.Context, req service.MediaRequest) (string, error) {
	data, mime, err := p.fetcher.Fetch(ctx, req.MediaRef)
	if err != nil {
		return "", err
	}
	if mime == "" || mime == "application/octet-stream" {
		mime = "audio/ogg"
	}

	text, err := p.transcriber.Transcribe(ctx, &llm.TranscriptionRequest{
		Audio:    data,
		Filename: "audio" + extensionFor(mime),
		MimeType: mime,
		Model:    p.model,
		Language: p.language,
	})
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("transcription is empty")
	}
	p.logger.Debug("Audio transcribed",
		zap.String("job_id", req.JobID),
		zap.Int("audio_bytes", len(data)),
		zap.Int("chars", len([]rune(text))),
	)
	return text, nil
}

func extensionFor(mime string) string {
	switch {
	case strings.Contains(mime, "ogg"), strings.Contains(mime, "opus"):
		return ".ogg"
	case strings.Contains(mime, "mpeg"), strings.Contains(mime, "mp3"):
		return ".mp3"
	case strings.Contains(mime, "mp4"), strings.Contains(mime, "m4a"), strings.Contains(mime, "aac"):
		return ".m4a"
	case strings.Contains(mime, "wav"):
		return ".wav"
	case strings.Contains(mime, "webm"):
		return ".webm"
	}
	return ".ogg"
}
