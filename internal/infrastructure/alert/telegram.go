package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/domain/entity"
	"github.com/ngoclaw/wagent/internal/domain/service"
	"github.com/ngoclaw/wagent/internal/infrastructure/config"
	"github.com/ngoclaw/wagent/internal/infrastructure/eventbus"
)

// botSender 发送能力，便于测试替换
type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier 通过 Telegram 机器人向运维群推送告警
type TelegramNotifier struct {
	bot    botSender
	chatID int64
	logger *zap.Logger
}

var _ service.OperatorNotifier = (*TelegramNotifier)(nil)

// NewTelegramNotifier 创建告警通道
func NewTelegramNotifier(cfg config.TelegramConfig, logger *zap.Logger) (*TelegramNotifier, error) {
	if cfg.BotToken == "" {
		return nil, errors.New("telegram bot token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	logger.Info("Telegram alert notifier authorized", zap.String("username", bot.Self.UserName))
	return newTelegramNotifier(bot, cfg.ChatID, logger), nil
}

func newTelegramNotifier(bot botSender, chatID int64, logger *zap.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		bot:    bot,
		chatID: chatID,
		logger: logger.With(zap.String("component", "telegram_alert")),
	}
}

// Notify 发送一条告警
func (n *TelegramNotifier) Notify(ctx context.Context, event entity.DomainEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(n.chatID, FormatAlert(event))
	msg.DisableWebPagePreview = true
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram alert: %w", err)
	}
	return nil
}

// FormatAlert 告警文本
func FormatAlert(event entity.DomainEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ %s\n", event.Type)
	field := func(name, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s: %s\n", name, value)
		}
	}
	field("instance", event.InstanceID)
	field("number", event.Number)
	field("message", event.MessageID)
	field("job", event.JobID)
	field("reason", event.Reason)
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	fmt.Fprintf(&b, "at: %s", ts.UTC().Format(time.RFC3339))
	return b.String()
}

// AlertRouter 把总线上需要告警的事件转给通知通道
type AlertRouter struct {
	notifier service.OperatorNotifier
	logger   *zap.Logger
}

// NewAlertRouter 创建告警路由
func NewAlertRouter(notifier service.OperatorNotifier, logger *zap.Logger) *AlertRouter {
	return &AlertRouter{
		notifier: notifier,
		logger:   logger.With(zap.String("component", "alert_router")),
	}
}

// Attach 订阅全部事件
func (r *AlertRouter) Attach(bus eventbus.Bus) func() {
	return bus.Subscribe(eventbus.Wildcard, r.Handle)
}

// Handle 仅转发告警类事件
func (r *AlertRouter) Handle(ctx context.Context, event entity.DomainEvent) {
	if !event.IsAlert() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := r.notifier.Notify(ctx, event); err != nil {
		r.logger.Warn("Operator alert failed", zap.String("type", string(event.Type)), zap.Error(err))
	}
}

// LogNotifier 未配置告警通道时写日志
type LogNotifier struct {
	Logger *zap.Logger
}

// Notify 以 Warn 级别记录
func (n LogNotifier) Notify(_ context.Context, event entity.DomainEvent) error {
	n.Logger.Warn("Operator alert",
		zap.String("type", string(event.Type)),
		zap.String("instance_id", event.InstanceID),
		zap.String("message_id", event.MessageID),
		zap.String("job_id", event.JobID),
		zap.String("reason", event.Reason),
	)
	return nil
}
