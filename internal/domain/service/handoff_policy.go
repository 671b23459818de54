package service

import (
	"strings"
	"sync"

	"github.com/ngoclaw/wagent/internal/domain/entity"
	"github.com/ngoclaw/wagent/internal/domain/valueobject"
)

// HandoffAction 会话接管动作
type HandoffAction string

const (
	HandoffNone       HandoffAction = ""
	HandoffToHuman    HandoffAction = "to_human"
	HandoffToAI       HandoffAction = "to_ai"
	HandoffClose      HandoffAction = "close"
	HandoffActivate   HandoffAction = "activate"
	HandoffDeactivate HandoffAction = "deactivate"
	HandoffStatus     HandoffAction = "status"
)

// HandoffInput 策略判定输入
type HandoffInput struct {
	FromNumber string
	Content    string
	FromMe     bool
}

// HandoffDecision 策略判定结果
// Command 为 true 表示这是实例所有者的管理命令，不作为联系人消息路由
type HandoffDecision struct {
	Action       HandoffAction
	TargetNumber string
	Command      bool
}

// IsNone 无需动作
func (d HandoffDecision) IsNone() bool { return d.Action == HandoffNone }

// HandoffPolicy ai <-> human 迁移的可插拔触发策略
type HandoffPolicy interface {
	Evaluate(inst *entity.ConnectorInstance, in HandoffInput) HandoffDecision
}

var (
	activateWords   = []string{"ativar", "ativar instancia", "ligar", "on"}
	deactivateWords = []string{"desativar", "desativar instancia", "desligar", "off"}
	statusWords     = []string{"status", "estado", "info"}
)

// CommandHandoffPolicy 实例所有者从自身号码发出的管理命令
//
//	<<< [numero]   转人工
//	>>> [numero]   交还 AI
//	[]  [numero]   关闭会话
//	ativar / desativar / status
//
// 未给号码时作用于发送者自身的会话。
type CommandHandoffPolicy struct{}

// Evaluate 解析所有者命令
func (CommandHandoffPolicy) Evaluate(inst *entity.ConnectorInstance, in HandoffInput) HandoffDecision {
	if inst == nil || !inst.IsOwnNumber(in.FromNumber) {
		return HandoffDecision{}
	}
	content := strings.ToLower(strings.TrimSpace(in.Content))
	if content == "" {
		return HandoffDecision{}
	}

	sender := valueobject.NormalizeNumber(in.FromNumber)
	target := func(rest string) string {
		if n := valueobject.NormalizeNumber(rest); n != "" {
			return n
		}
		return sender
	}

	switch {
	case strings.HasPrefix(content, "<<<"):
		return HandoffDecision{Action: HandoffToHuman, TargetNumber: target(content[3:]), Command: true}
	case strings.HasPrefix(content, ">>>"):
		return HandoffDecision{Action: HandoffToAI, TargetNumber: target(content[3:]), Command: true}
	case strings.HasPrefix(content, "[]"):
		return HandoffDecision{Action: HandoffClose, TargetNumber: target(content[2:]), Command: true}
	case strings.HasPrefix(content, "[ "):
		return HandoffDecision{Action: HandoffClose, TargetNumber: target(content[1:]), Command: true}
	case containsWord(activateWords, content):
		return HandoffDecision{Action: HandoffActivate, Command: true}
	case containsWord(deactivateWords, content):
		return HandoffDecision{Action: HandoffDeactivate, Command: true}
	case containsWord(statusWords, content):
		return HandoffDecision{Action: HandoffStatus, Command: true}
	}
	return HandoffDecision{}
}

func containsWord(words []string, content string) bool {
	for _, w := range words {
		if content == w {
			return true
		}
	}
	return false
}

// KeywordHandoffPolicy 联系人消息包含关键词时转人工
type KeywordHandoffPolicy struct {
	mu       sync.RWMutex
	keywords []string
}

// NewKeywordHandoffPolicy 创建关键词策略
func NewKeywordHandoffPolicy(keywords []string) *KeywordHandoffPolicy {
	p := &KeywordHandoffPolicy{}
	p.SetKeywords(keywords)
	return p
}

// SetKeywords 热更新关键词
func (p *KeywordHandoffPolicy) SetKeywords(keywords []string) {
	clean := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			clean = append(clean, k)
		}
	}
	p.mu.Lock()
	p.keywords = clean
	p.mu.Unlock()
}

// Keywords 当前关键词
func (p *KeywordHandoffPolicy) Keywords() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.keywords...)
}

// Evaluate 命中关键词时把发送者自身会话转人工
func (p *KeywordHandoffPolicy) Evaluate(inst *entity.ConnectorInstance, in HandoffInput) HandoffDecision {
	if in.FromMe || (inst != nil && inst.IsOwnNumber(in.FromNumber)) {
		return HandoffDecision{}
	}
	content := strings.ToLower(in.Content)
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, k := range p.keywords {
		if strings.Contains(content, k) {
			return HandoffDecision{
				Action:       HandoffToHuman,
				TargetNumber: valueobject.NormalizeNumber(in.FromNumber),
			}
		}
	}
	return HandoffDecision{}
}

// ChainHandoffPolicy 依次判定，第一个非空结果生效
type ChainHandoffPolicy []HandoffPolicy

// Evaluate 依次判定
func (c ChainHandoffPolicy) Evaluate(inst *entity.ConnectorInstance, in HandoffInput) HandoffDecision {
	for _, p := range c {
		if d := p.Evaluate(inst, in); !d.IsNone() {
			return d
		}
	}
	return HandoffDecision{}
}
