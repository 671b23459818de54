package usecase

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ngoclaw/wagent/internal/domain/valueobject"
)

// ErrValidation 入站事件缺少必填字段或格式错误，不做任何持久化
var ErrValidation = errors.New("invalid inbound event")

var validate = validator.New()

// InboundEvent 渠道 webhook 归一化后的入站事件
type InboundEvent struct {
	InstanceID string          `json:"instance_id" validate:"required"`
	FromNumber string          `json:"from_number" validate:"required"`
	ToNumber   string          `json:"to_number"`
	MessageID  string          `json:"message_id" validate:"required,max=255"`
	Type       string          `json:"type" validate:"required"`
	Content    string          `json:"content" validate:"required_if=Type text"`
	MediaRef   string          `json:"media_ref"`
	SenderName string          `json:"sender_name"`
	FromMe     bool            `json:"from_me"`
	RawPayload json.RawMessage `json:"raw_payload,omitempty"`
	ReceivedAt time.Time       `json:"received_at,omitempty"`
}

// Validate 校验必填字段并归一化号码
func (e *InboundEvent) Validate() error {
	e.InstanceID = strings.TrimSpace(e.InstanceID)
	e.MessageID = strings.TrimSpace(e.MessageID)
	e.Type = strings.ToLower(strings.TrimSpace(e.Type))

	if err := validate.Struct(e); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrValidation, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	from := valueobject.NormalizeNumber(e.FromNumber)
	if from == "" {
		return fmt.Errorf("%w: from_number %q has no digits", ErrValidation, e.FromNumber)
	}
	e.FromNumber = from
	e.ToNumber = valueobject.NormalizeNumber(e.ToNumber)
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now()
	}
	return nil
}

// MessageType 解析后的消息类型
func (e *InboundEvent) MessageType() valueobject.MessageType {
	return valueobject.ParseMessageType(e.Type)
}
