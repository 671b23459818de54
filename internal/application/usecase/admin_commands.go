package usecase

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/domain/entity"
	"github.com/ngoclaw/wagent/internal/domain/service"
	apperrors "github.com/ngoclaw/wagent/pkg/errors"
)

// statusListLimit 状态汇总时每种状态统计的会话上限
const statusListLimit = 500

// AdminCommands 执行实例所有者的管理命令并生成回复文本
type AdminCommands struct {
	connectors *service.ConnectorRegistry
	sessions   *service.SessionManager
	logger     *zap.Logger
}

// NewAdminCommands 创建命令执行器
func NewAdminCommands(connectors *service.ConnectorRegistry, sessions *service.SessionManager, logger *zap.Logger) *AdminCommands {
	return &AdminCommands{
		connectors: connectors,
		sessions:   sessions,
		logger:     logger.With(zap.String("component", "admin_commands")),
	}
}

// Execute 执行命令; 返回给所有者的确认文本
func (a *AdminCommands) Execute(ctx context.Context, inst *entity.ConnectorInstance, d service.HandoffDecision) (string, error) {
	a.logger.Info("Owner command",
		zap.String("instance_id", inst.ID()),
		zap.String("action", string(d.Action)),
		zap.String("target", d.TargetNumber),
	)

	switch d.Action {
	case service.HandoffToHuman:
		return a.transition(ctx, inst, d.TargetNumber, entity.SessionHuman,
			"Atendimento de %s transferido para humano.")
	case service.HandoffToAI:
		return a.transition(ctx, inst, d.TargetNumber, entity.SessionAI,
			"Atendimento de %s devolvido para a IA.")
	case service.HandoffClose:
		return a.transition(ctx, inst, d.TargetNumber, entity.SessionClosed,
			"Conversa com %s encerrada.")
	case service.HandoffActivate:
		if err := a.connectors.SetActive(ctx, inst.ID(), true); err != nil {
			return "", err
		}
		inst.SetActive(true)
		return "Instância ativada.", nil
	case service.HandoffDeactivate:
		if err := a.connectors.SetActive(ctx, inst.ID(), false); err != nil {
			return "", err
		}
		inst.SetActive(false)
		return "Instância desativada.", nil
	case service.HandoffStatus:
		return a.status(ctx, inst)
	}
	return "", apperrors.NewInvalidInputError(fmt.Sprintf("unsupported command %q", d.Action))
}

func (a *AdminCommands) transition(ctx context.Context, inst *entity.ConnectorInstance, number string, to entity.SessionStatus, done string) (string, error) {
	session, err := a.sessions.FindActive(ctx, inst.ID(), number)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return fmt.Sprintf("Nenhuma conversa ativa com %s.", number), nil
		}
		return "", err
	}
	if session.Status() == to {
		return fmt.Sprintf("Conversa com %s já está em modo %s.", number, to), nil
	}
	if _, err := a.sessions.TransitionByNumber(ctx, inst.ID(), number, to, "owner_command"); err != nil {
		return "", err
	}
	return fmt.Sprintf(done, number), nil
}

func (a *AdminCommands) status(ctx context.Context, inst *entity.ConnectorInstance) (string, error) {
	ai, err := a.sessions.List(ctx, inst.ID(), entity.SessionAI, statusListLimit, 0)
	if err != nil {
		return "", err
	}
	human, err := a.sessions.List(ctx, inst.ID(), entity.SessionHuman, statusListLimit, 0)
	if err != nil {
		return "", err
	}

	active := "não"
	if inst.IsActive() {
		active = "sim"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Instância %s\n", inst.Name())
	fmt.Fprintf(&b, "Ativa: %s\n", active)
	fmt.Fprintf(&b, "Conexão: %s\n", inst.Status())
	fmt.Fprintf(&b, "Conversas com IA: %d\n", len(ai))
	fmt.Fprintf(&b, "Conversas com humano: %d", len(human))
	return b.String(), nil
}
