package media

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/domain/service"
)

const (
	captionPrompt = "Describe this image in detail so it can be answered by a text-only assistant. Reply in the same language as the caption when one is given."
	ocrPrompt     = "Transcribe all text visible in this image verbatim, preserving line breaks. Reply only with the text."
)

// VisionMode 视觉处理变体
type VisionMode string

const (
	VisionCaption VisionMode = "caption"
	VisionOCR     VisionMode = "ocr"
)

// VisionProcessor 通过多模态模型生成图像描述或提取文字
type VisionProcessor struct {
	llm     service.LLMClient
	fetcher *Fetcher
	model   string
	mode    VisionMode
	logger  *zap.Logger
}

var _ service.MediaProcessor = (*VisionProcessor)(nil)

// NewVisionProcessor 创建视觉处理器
func NewVisionProcessor(llm service.LLMClient, fetcher *Fetcher, model string, mode VisionMode, logger *zap.Logger) *VisionProcessor {
	return &VisionProcessor{
		llm:     llm,
		fetcher: fetcher,
		model:   model,
		mode:    mode,
		logger:  logger.With(zap.String("component", "vision_"+string(mode))),
	}
}

// Process 下载图片并调用模型
func (p *VisionProcessor) Process(ctx context.Context, req service.MediaRequest) (string, error) {
	data, mime, err := p.fetcher.Fetch(ctx, req.MediaRef)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(mime, "image/") {
		return "", fmt.Errorf("vision processor cannot handle %s", mime)
	}

	prompt := captionPrompt
	if p.mode == VisionOCR {
		prompt = ocrPrompt
	}
	if c := strings.TrimSpace(req.Caption); c != "" {
		prompt += "\n\nCaption: " + c
	}

	resp, err := p.llm.Generate(ctx, &service.LLMRequest{
		Model:       p.model,
		Temperature: 0,
		Messages: []service.LLMMessage{{
			Role: "user",
			Parts: []service.ContentPart{
				{Type: "text", Text: prompt},
				{Type: "image", MediaURL: DataURI(mime, data), MimeType: mime},
			},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("vision generate: %w", err)
	}

	out := strings.TrimSpace(resp.Content)
	if out == "" {
		return "", fmt.Errorf("vision model returned empty output")
	}
	p.logger.Debug("Image processed",
		zap.String("job_id", req.JobID),
		zap.Int("image_bytes", len(data)),
		zap.Int("output_chars", len(out)),
	)
	return out, nil
}
