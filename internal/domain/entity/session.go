package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/ngoclaw/wagent/internal/domain/valueobject"
)

// SessionStatus 会话状态
type SessionStatus string

const (
	SessionAI     SessionStatus = "ai"     // AI 自动应答
	SessionHuman  SessionStatus = "human"  // 人工接管
	SessionClosed SessionStatus = "closed" // 已关闭，不可重开
)

// validSessionTransitions defines the allowed session state changes.
// Key = from state, Value = set of allowed target states.
var validSessionTransitions = map[SessionStatus]map[SessionStatus]bool{
	SessionAI: {
		SessionHuman:  true,
		SessionClosed: true,
	},
	SessionHuman: {
		SessionAI:     true,
		SessionClosed: true,
	},
	// Terminal
	SessionClosed: {},
}

// CanTransitionSession 判断会话状态迁移是否合法
func CanTransitionSession(from, to SessionStatus) bool {
	allowed, ok := validSessionTransitions[from]
	return ok && allowed[to]
}

// ParseSessionStatus 校验会话状态
func ParseSessionStatus(s string) (SessionStatus, error) {
	switch SessionStatus(s) {
	case SessionAI, SessionHuman, SessionClosed:
		return SessionStatus(s), nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidSessionTransition, s)
}

// ChatSession 会话实体，按 (instance, fromNumber) 唯一
type ChatSession struct {
	id             string
	instanceID     string
	fromNumber     string
	toNumber       string
	status         SessionStatus
	contactSummary string
	createdAt      time.Time
	updatedAt      time.Time
	closedAt       *time.Time
}

// NewChatSession 创建会话（初始状态 ai）
func NewChatSession(id, instanceID, fromNumber, toNumber string) (*ChatSession, error) {
	if id == "" {
		return nil, ErrInvalidSessionID
	}
	if instanceID == "" {
		return nil, ErrInvalidInstanceID
	}
	from := valueobject.NormalizeNumber(fromNumber)
	if from == "" {
		return nil, ErrInvalidNumber
	}
	now := time.Now()
	return &ChatSession{
		id:         id,
		instanceID: instanceID,
		fromNumber: from,
		toNumber:   valueobject.NormalizeNumber(toNumber),
		status:     SessionAI,
		createdAt:  now,
		updatedAt:  now,
	}, nil
}

// ReconstructChatSession 重建会话（用于从持久化层恢复）
func ReconstructChatSession(
	id, instanceID, fromNumber, toNumber string,
	status SessionStatus,
	contactSummary string,
	createdAt, updatedAt time.Time,
	closedAt *time.Time,
) *ChatSession {
	return &ChatSession{
		id:             id,
		instanceID:     instanceID,
		fromNumber:     fromNumber,
		toNumber:       toNumber,
		status:         status,
		contactSummary: contactSummary,
		createdAt:      createdAt,
		updatedAt:      updatedAt,
		closedAt:       closedAt,
	}
}

func (s *ChatSession) ID() string              { return s.id }
func (s *ChatSession) InstanceID() string      { return s.instanceID }
func (s *ChatSession) FromNumber() string      { return s.fromNumber }
func (s *ChatSession) ToNumber() string        { return s.toNumber }
func (s *ChatSession) Status() SessionStatus   { return s.status }
func (s *ChatSession) ContactSummary() string  { return s.contactSummary }
func (s *ChatSession) CreatedAt() time.Time    { return s.createdAt }
func (s *ChatSession) UpdatedAt() time.Time    { return s.updatedAt }
func (s *ChatSession) ClosedAt() *time.Time    { return s.closedAt }
func (s *ChatSession) IsClosed() bool          { return s.status == SessionClosed }
func (s *ChatSession) IsAIHandled() bool       { return s.status == SessionAI }
func (s *ChatSession) IsHumanHandled() bool    { return s.status == SessionHuman }

// ActiveKey 未关闭会话的唯一键; 关闭后为空
func (s *ChatSession) ActiveKey() string {
	if s.IsClosed() {
		return ""
	}
	return SessionActiveKey(s.instanceID, s.fromNumber)
}

// SessionActiveKey (instance, fromNumber) 唯一键
func SessionActiveKey(instanceID, fromNumber string) string {
	return instanceID + "|" + valueobject.NormalizeNumber(fromNumber)
}

// Transition 状态迁移，非法迁移返回错误
func (s *ChatSession) Transition(to SessionStatus, now time.Time) error {
	if !CanTransitionSession(s.status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidSessionTransition, s.status, to)
	}
	s.status = to
	s.updatedAt = now
	if to == SessionClosed {
		closed := now
		s.closedAt = &closed
	}
	return nil
}

// Touch 记录会话活跃时间
func (s *ChatSession) Touch(now time.Time) {
	s.updatedAt = now
}

// MergeContactSummary appends facts not already present. Prior facts are never
// rewritten; returns true when the summary changed.
func (s *ChatSession) MergeContactSummary(facts []string) bool {
	merged, changed := MergeSummaryFacts(s.contactSummary, facts)
	if changed {
		s.contactSummary = merged
		s.updatedAt = time.Now()
	}
	return changed
}

// MergeSummaryFacts is the append-only merge used by sessions and repositories.
// One fact per line, exact duplicates (case-insensitive) skipped.
func MergeSummaryFacts(existing string, facts []string) (string, bool) {
	seen := make(map[string]struct{})
	lines := make([]string, 0)
	for _, line := range strings.Split(existing, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		seen[strings.ToLower(line)] = struct{}{}
		lines = append(lines, line)
	}

	changed := false
	for _, f := range facts {
		f = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(f), "- "))
		if f == "" {
			continue
		}
		key := strings.ToLower(f)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		lines = append(lines, f)
		changed = true
	}
	if !changed {
		return existing, false
	}
	return strings.Join(lines, "\n"), true
}
