package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/domain/entity"
	"github.com/ngoclaw/wagent/internal/domain/service"
	"github.com/ngoclaw/wagent/internal/infrastructure/config"
)

// ErrNoEndpoint 实例与全局配置都没有发送地址
var ErrNoEndpoint = errors.New("no evolution api endpoint configured")

// EvolutionSender 通过 Evolution API 发送文本消息
//
//	POST {apiURL}/message/sendText/{instance}
//	apikey: <key>
//	{"number": "...", "text": "..."}
type EvolutionSender struct {
	defaultURL string
	defaultKey string
	client     *http.Client
	logger     *zap.Logger
}

var _ service.MessageSender = (*EvolutionSender)(nil)

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

// NewEvolutionSender 创建发送客户端; 实例自身的 apiURL/apiKey 优先于全局配置
func NewEvolutionSender(cfg config.EvolutionConfig, logger *zap.Logger) *EvolutionSender {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &EvolutionSender{
		defaultURL: strings.TrimRight(cfg.BaseURL, "/"),
		defaultKey: cfg.APIKey,
		client:     &http.Client{Timeout: timeout},
		logger:     logger.With(zap.String("component", "evolution_sender")),
	}
}

// SendText 发送文本
func (s *EvolutionSender) SendText(ctx context.Context, inst *entity.ConnectorInstance, to, text string) error {
	base := strings.TrimRight(inst.APIURL(), "/")
	if base == "" {
		base = s.defaultURL
	}
	if base == "" {
		return ErrNoEndpoint
	}
	key := inst.APIKey()
	if key == "" {
		key = s.defaultKey
	}
	instanceName := inst.Name()
	if instanceName == "" {
		instanceName = inst.ExternalInstanceID()
	}

	body, err := json.Marshal(sendTextRequest{Number: to, Text: text})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/message/sendText/%s", base, url.PathEscape(instanceName))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("apikey", key)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("evolution API error %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	io.Copy(io.Discard, resp.Body)

	s.logger.Debug("Text sent",
		zap.String("instance", instanceName),
		zap.String("to", to),
		zap.Int("chars", len([]rune(text))),
	)
	return nil
}

// LogSender 只记录日志的发送器（本地调试或未配置渠道时使用）
type LogSender struct {
	Logger *zap.Logger
}

// SendText 记录待发送内容
func (s LogSender) SendText(_ context.Context, inst *entity.ConnectorInstance, to, text string) error {
	s.Logger.Info("Outbound message (dry run)",
		zap.String("instance_id", inst.ID()),
		zap.String("to", to),
		zap.String("text", text),
	)
	return nil
}
