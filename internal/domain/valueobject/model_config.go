package valueobject

import "time"

// GenerationConfig 回答生成参数值对象（不可变）
type GenerationConfig struct {
	provider    string
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
}

// NewGenerationConfig 创建生成参数
func NewGenerationConfig(provider, model string, maxTokens int, temperature float64, timeout time.Duration) GenerationConfig {
	return GenerationConfig{
		provider:    provider,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		timeout:     timeout,
	}
}

// DefaultGenerationConfig 默认生成参数: 确定性输出
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		provider:    "openai",
		model:       "gpt-4o-mini",
		maxTokens:   1024,
		temperature: 0,
		timeout:     60 * time.Second,
	}
}

// Provider 返回提供商
func (gc GenerationConfig) Provider() string {
	return gc.provider
}

// Model 返回模型名称
func (gc GenerationConfig) Model() string {
	return gc.model
}

// MaxTokens 返回最大令牌数
func (gc GenerationConfig) MaxTokens() int {
	return gc.maxTokens
}

// Temperature 返回温度参数
func (gc GenerationConfig) Temperature() float64 {
	return gc.temperature
}

// Timeout 返回单次调用超时
func (gc GenerationConfig) Timeout() time.Duration {
	return gc.timeout
}

// WithModel 返回替换模型后的副本
func (gc GenerationConfig) WithModel(model string) GenerationConfig {
	gc.model = model
	return gc
}
