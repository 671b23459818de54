package media

import (
	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/domain/service"
	"github.com/ngoclaw/wagent/internal/domain/valueobject"
	llm "github.com/ngoclaw/wagent/internal/infrastructure/llm"
)

// Options 处理器装配参数
type Options struct {
	VisionModel        string
	TranscriptionModel string
	Language           string
}

// RegisterDefaults 注册 vision_caption / ocr / audio_transcription 三种能力
// transcriber 为 nil 时不注册转写
func RegisterDefaults(registry *service.MediaProcessorRegistry, client service.LLMClient, transcriber llm.Transcriber, fetcher *Fetcher, opts Options, logger *zap.Logger) {
	registry.Register(valueobject.ProcessorVisionCaption, NewVisionProcessor(client, fetcher, opts.VisionModel, VisionCaption, logger))
	registry.Register(valueobject.ProcessorOCR, NewVisionProcessor(client, fetcher, opts.VisionModel, VisionOCR, logger))
	if transcriber != nil {
		registry.Register(valueobject.ProcessorAudioTranscription, NewTranscriptionProcessor(transcriber, fetcher, opts.TranscriptionModel, opts.Language, logger))
	}
	logger.Info("Media processors registered", zap.Int("count", len(registry.Types())))
}
