package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/domain/entity"
	"github.com/ngoclaw/wagent/internal/domain/repository"
	apperrors "github.com/ngoclaw/wagent/pkg/errors"
)

// SenderInfo 判断是否忽略自身消息所需的发送方信息
type SenderInfo struct {
	FromMe     bool
	FromNumber string
	SenderName string
}

// ConnectorRegistry 连接实例注册表
// 读多写少; 状态与启用标记通过仓储单列原子写入
type ConnectorRegistry struct {
	repo   repository.ConnectorRepository
	events EventPublisher
	logger *zap.Logger
}

// NewConnectorRegistry 创建注册表
func NewConnectorRegistry(repo repository.ConnectorRepository, events EventPublisher, logger *zap.Logger) *ConnectorRegistry {
	if events == nil {
		events = NopPublisher{}
	}
	return &ConnectorRegistry{
		repo:   repo,
		events: events,
		logger: logger.With(zap.String("component", "connector_registry")),
	}
}

// Resolve 按内部ID查找，找不到时按渠道侧实例ID/实例名查找
func (r *ConnectorRegistry) Resolve(ctx context.Context, ref string) (*entity.ConnectorInstance, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, entity.ErrInvalidInstanceID
	}
	inst, err := r.repo.FindByID(ctx, ref)
	if err == nil {
		return inst, nil
	}
	if !apperrors.IsNotFound(err) {
		return nil, err
	}
	return r.repo.FindByExternalID(ctx, ref)
}

// IsAuthorized 白名单检查
func (r *ConnectorRegistry) IsAuthorized(inst *entity.ConnectorInstance, number string) bool {
	return inst.IsAuthorized(number)
}

// ShouldIgnore 实例开启 ignoreOwnMessages 且消息由实例自身资料发出时为 true
func (r *ConnectorRegistry) ShouldIgnore(inst *entity.ConnectorInstance, info SenderInfo) bool {
	if !inst.IgnoreOwnMessages() {
		return false
	}
	if info.FromMe {
		return true
	}
	profile := strings.TrimSpace(inst.ProfileName())
	return profile != "" && strings.EqualFold(profile, strings.TrimSpace(info.SenderName))
}

// Register 保存连接实例（启动种子与管理接口使用）
func (r *ConnectorRegistry) Register(ctx context.Context, inst *entity.ConnectorInstance) error {
	if err := r.repo.Save(ctx, inst); err != nil {
		return fmt.Errorf("save connector %s: %w", inst.ID(), err)
	}
	r.logger.Info("Connector registered",
		zap.String("instance_id", inst.ID()),
		zap.String("name", inst.Name()),
		zap.Int("authorized_numbers", len(inst.AuthorizedNumbers())),
	)
	return nil
}

// List 列出全部实例
func (r *ConnectorRegistry) List(ctx context.Context) ([]*entity.ConnectorInstance, error) {
	return r.repo.List(ctx)
}

// SetStatus 外部轮询器写入连接状态
func (r *ConnectorRegistry) SetStatus(ctx context.Context, id string, status entity.ConnectorStatus) error {
	if _, err := entity.ParseConnectorStatus(string(status)); err != nil {
		return apperrors.NewInvalidInputError(fmt.Sprintf("unknown connector status %q", status))
	}
	if err := r.repo.UpdateStatus(ctx, id, status); err != nil {
		return err
	}
	r.events.Publish(ctx, entity.DomainEvent{
		Type:       entity.EventConnectorStatus,
		InstanceID: id,
		Reason:     string(status),
		Timestamp:  time.Now(),
	})
	return nil
}

// SetActive 启用/停用实例
func (r *ConnectorRegistry) SetActive(ctx context.Context, id string, active bool) error {
	if err := r.repo.SetActive(ctx, id, active); err != nil {
		return err
	}
	r.logger.Info("Connector activation changed",
		zap.String("instance_id", id),
		zap.Bool("active", active),
	)
	return nil
}
