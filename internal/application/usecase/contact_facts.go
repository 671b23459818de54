package usecase

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/domain/service"
)

const factsPrompt = `Extract short, durable facts about the customer from the exchange below (name, preferences, order numbers, location). Reply with one fact per line starting with "- ". Reply NONE when there is nothing worth keeping.

Customer: %s
Assistant: %s`

// maxFacts 单轮最多合并的事实条数
const maxFacts = 5

// ContactFacts 从对话中抽取联系人事实并只追加地合并到会话摘要
type ContactFacts struct {
	llm      service.LLMClient
	sessions *service.SessionManager
	model    string
	logger   *zap.Logger
}

// NewContactFacts 创建事实抽取器
func NewContactFacts(llm service.LLMClient, sessions *service.SessionManager, model string, logger *zap.Logger) *ContactFacts {
	return &ContactFacts{
		llm:      llm,
		sessions: sessions,
		model:    model,
		logger:   logger.With(zap.String("component", "contact_facts")),
	}
}

// Extract 抽取并合并事实
func (f *ContactFacts) Extract(ctx context.Context, sessionID, question, answer string) error {
	resp, err := f.llm.Generate(ctx, &service.LLMRequest{
		Messages:    []service.LLMMessage{service.UserMessage(fmt.Sprintf(factsPrompt, question, answer))},
		Model:       f.model,
		MaxTokens:   256,
		Temperature: 0,
	})
	if err != nil {
		return err
	}
	facts := ParseFacts(resp.Content)
	if len(facts) == 0 {
		return nil
	}
	summary, err := f.sessions.MergeContactSummary(ctx, sessionID, facts)
	if err != nil {
		return err
	}
	f.logger.Debug("Contact summary updated",
		zap.String("session_id", sessionID),
		zap.Int("facts", len(facts)),
		zap.Int("summary_len", len(summary)),
	)
	return nil
}

// ParseFacts 解析 "- " 开头的行; NONE 表示没有事实
func ParseFacts(text string) []string {
	var facts []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "- ") {
			continue
		}
		fact := strings.TrimSpace(line[2:])
		if fact == "" || strings.EqualFold(fact, "none") {
			continue
		}
		facts = append(facts, fact)
		if len(facts) == maxFacts {
			break
		}
	}
	return facts
}
