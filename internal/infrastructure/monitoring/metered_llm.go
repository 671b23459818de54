package monitoring

import (
	"context"

	"github.com/ngoclaw/wagent/internal/domain/service"
)

// MeteredLLM 包装 LLMClient，统计模型调用次数与令牌用量
type MeteredLLM struct {
	next    service.LLMClient
	monitor *Monitor
}

var _ service.LLMClient = (*MeteredLLM)(nil)

// NewMeteredLLM 创建计量包装
func NewMeteredLLM(next service.LLMClient, monitor *Monitor) *MeteredLLM {
	return &MeteredLLM{next: next, monitor: monitor}
}

// Generate 调用下游并计数
func (m *MeteredLLM) Generate(ctx context.Context, req *service.LLMRequest) (*service.LLMResponse, error) {
	m.monitor.IncModelCall()
	resp, err := m.next.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp != nil {
		m.monitor.AddTokensUsed(resp.TokensUsed)
	}
	return resp, nil
}
