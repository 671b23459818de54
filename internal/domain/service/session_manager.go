package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/domain/entity"
	"github.com/ngoclaw/wagent/internal/domain/repository"
	apperrors "github.com/ngoclaw/wagent/pkg/errors"
)

// SessionManager 会话生命周期领域服务
// 状态迁移全部落到仓储的条件更新上，不持有跨调用的锁
type SessionManager struct {
	repo   repository.SessionRepository
	events EventPublisher
	logger *zap.Logger
	now    func() time.Time
}

// NewSessionManager 创建会话管理器
func NewSessionManager(repo repository.SessionRepository, events EventPublisher, logger *zap.Logger) *SessionManager {
	if events == nil {
		events = NopPublisher{}
	}
	return &SessionManager{
		repo:   repo,
		events: events,
		logger: logger.With(zap.String("component", "session_manager")),
		now:    time.Now,
	}
}

// GetOrCreateSession 返回 (instance, fromNumber) 的未关闭会话，不存在则以 ai 状态创建
func (m *SessionManager) GetOrCreateSession(ctx context.Context, instanceID, fromNumber, toNumber string) (*entity.ChatSession, bool, error) {
	candidate, err := entity.NewChatSession(uuid.New().String(), instanceID, fromNumber, toNumber)
	if err != nil {
		return nil, false, err
	}

	session, created, err := m.repo.GetOrCreateActive(ctx, candidate)
	if err != nil {
		return nil, false, fmt.Errorf("get or create session: %w", err)
	}
	if created {
		m.logger.Info("Session created",
			zap.String("session_id", session.ID()),
			zap.String("instance_id", instanceID),
			zap.String("from", session.FromNumber()),
		)
		m.events.Publish(ctx, entity.DomainEvent{
			Type:       entity.EventSessionCreated,
			InstanceID: instanceID,
			SessionID:  session.ID(),
			Number:     session.FromNumber(),
			To:         string(entity.SessionAI),
			Timestamp:  m.now(),
		})
	}
	return session, created, nil
}

// TransitionToHuman ai -> human
func (m *SessionManager) TransitionToHuman(ctx context.Context, sessionID string) (*entity.ChatSession, error) {
	return m.transition(ctx, sessionID, entity.SessionHuman, "")
}

// TransitionToAI human -> ai
func (m *SessionManager) TransitionToAI(ctx context.Context, sessionID string) (*entity.ChatSession, error) {
	return m.transition(ctx, sessionID, entity.SessionAI, "")
}

// Close 任意未关闭状态 -> closed
func (m *SessionManager) Close(ctx context.Context, sessionID string) (*entity.ChatSession, error) {
	return m.transition(ctx, sessionID, entity.SessionClosed, "")
}

// TransitionByNumber 对 (instance, number) 的未关闭会话执行迁移（管理命令使用）
func (m *SessionManager) TransitionByNumber(ctx context.Context, instanceID, number string, to entity.SessionStatus, reason string) (*entity.ChatSession, error) {
	session, err := m.repo.FindActive(ctx, instanceID, number)
	if err != nil {
		return nil, err
	}
	return m.transition(ctx, session.ID(), to, reason)
}

func (m *SessionManager) transition(ctx context.Context, sessionID string, to entity.SessionStatus, reason string) (*entity.ChatSession, error) {
	session, err := m.repo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	from := session.Status()
	now := m.now()

	// validate locally first so illegal moves never reach storage
	if err := session.Transition(to, now); err != nil {
		if from == entity.SessionClosed {
			return nil, fmt.Errorf("%w: %v", entity.ErrSessionClosed, err)
		}
		return nil, err
	}
	if err := m.repo.CompareAndSetStatus(ctx, sessionID, from, to, now); err != nil {
		if errors.Is(err, entity.ErrInvalidSessionTransition) {
			m.logger.Debug("Session transition lost race",
				zap.String("session_id", sessionID),
				zap.String("from", string(from)),
				zap.String("to", string(to)),
			)
		}
		return nil, err
	}

	m.logger.Info("Session transitioned",
		zap.String("session_id", sessionID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	m.events.Publish(ctx, entity.DomainEvent{
		Type:       entity.EventSessionTransition,
		InstanceID: session.InstanceID(),
		SessionID:  sessionID,
		Number:     session.FromNumber(),
		From:       string(from),
		To:         string(to),
		Reason:     reason,
		Timestamp:  now,
	})
	return session, nil
}

// MergeContactSummary 追加联系人事实（只追加不覆盖）
func (m *SessionManager) MergeContactSummary(ctx context.Context, sessionID string, facts []string) (string, error) {
	if len(facts) == 0 {
		session, err := m.repo.FindByID(ctx, sessionID)
		if err != nil {
			return "", err
		}
		return session.ContactSummary(), nil
	}
	return m.repo.AppendContactSummary(ctx, sessionID, facts)
}

// Touch 刷新会话活跃时间
func (m *SessionManager) Touch(ctx context.Context, sessionID string) error {
	return m.repo.Touch(ctx, sessionID, m.now())
}

// FindActive 查找未关闭会话
func (m *SessionManager) FindActive(ctx context.Context, instanceID, number string) (*entity.ChatSession, error) {
	return m.repo.FindActive(ctx, instanceID, number)
}

// Get 按ID获取会话
func (m *SessionManager) Get(ctx context.Context, sessionID string) (*entity.ChatSession, error) {
	return m.repo.FindByID(ctx, sessionID)
}

// List 列出实例会话
func (m *SessionManager) List(ctx context.Context, instanceID string, status entity.SessionStatus, limit, offset int) ([]*entity.ChatSession, error) {
	return m.repo.ListByInstance(ctx, instanceID, status, limit, offset)
}

// CloseIdle 关闭 idleFor 时间内无活动的会话，返回关闭数量
func (m *SessionManager) CloseIdle(ctx context.Context, idleFor time.Duration, limit int) (int, error) {
	idle, err := m.repo.ListIdle(ctx, m.now().Add(-idleFor), limit)
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, s := range idle {
		if _, err := m.transition(ctx, s.ID(), entity.SessionClosed, "inactivity"); err != nil {
			if errors.Is(err, entity.ErrInvalidSessionTransition) || errors.Is(err, entity.ErrSessionClosed) || apperrors.IsNotFound(err) {
				continue
			}
			return closed, err
		}
		closed++
	}
	return closed, nil
}
