package handlers

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ngoclaw/wagent/internal/application/usecase"
	"github.com/ngoclaw/wagent/internal/domain/valueobject"
)

// Evolution API webhook 载荷（只解析用到的字段）
type evolutionWebhook struct {
	Event    string        `json:"event"`
	Instance string        `json:"instance"`
	Sender   string        `json:"sender"`
	Data     *evolutionMsg `json:"data"`
}

type evolutionMsg struct {
	Key struct {
		ID        string `json:"id"`
		RemoteJid string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
	} `json:"key"`
	PushName         string            `json:"pushName"`
	InstanceID       string            `json:"instanceId"`
	Owner            string            `json:"owner"`
	MessageType      string            `json:"messageType"`
	MessageTimestamp int64             `json:"messageTimestamp"`
	Message          *evolutionContent `json:"message"`
}

type evolutionContent struct {
	Conversation        string `json:"conversation"`
	ExtendedTextMessage *struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage"`
	ImageMessage    *evolutionMedia `json:"imageMessage"`
	AudioMessage    *evolutionMedia `json:"audioMessage"`
	VideoMessage    *evolutionMedia `json:"videoMessage"`
	DocumentMessage *evolutionMedia `json:"documentMessage"`
	Base64          string          `json:"base64"`
}

type evolutionMedia struct {
	URL      string `json:"url"`
	Caption  string `json:"caption"`
	Mimetype string `json:"mimetype"`
}

// 渠道侧 JID 后缀
const (
	jidBroadcast = "status@broadcast"
	jidGroup     = "@g.us"
)

// 跳过原因
const (
	SkipBroadcast = "status_broadcast"
	SkipGroup     = "group_message"
	SkipNoMessage = "no_message"
)

// WebhookFilter 入站前的 JID 过滤
type WebhookFilter struct {
	IgnoreGroups    bool
	IgnoreBroadcast bool
}

// ParseEvolutionWebhook 将 Evolution 载荷映射为入站事件
// skip 非空表示该事件在进入流水线前被忽略
func ParseEvolutionWebhook(body []byte, filter WebhookFilter) (ev usecase.InboundEvent, skip string, err error) {
	var payload evolutionWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		return ev, "", err
	}
	data := payload.Data
	if data == nil || data.Message == nil {
		return ev, SkipNoMessage, nil
	}

	jid := data.Key.RemoteJid
	if filter.IgnoreBroadcast && jid == jidBroadcast {
		return ev, SkipBroadcast, nil
	}
	if filter.IgnoreGroups && (strings.HasSuffix(jid, jidGroup) || data.MessageType == "group") {
		return ev, SkipGroup, nil
	}

	ev = usecase.InboundEvent{
		InstanceID: firstNonEmpty(data.InstanceID, payload.Instance),
		FromNumber: stripJID(jid),
		ToNumber:   stripJID(firstNonEmpty(payload.Sender, data.Owner)),
		MessageID:  data.Key.ID,
		SenderName: data.PushName,
		FromMe:     data.Key.FromMe,
		RawPayload: json.RawMessage(body),
	}
	if data.MessageTimestamp > 0 {
		ev.ReceivedAt = time.Unix(data.MessageTimestamp, 0)
	}

	m := data.Message
	switch {
	case m.ImageMessage != nil:
		ev.Type, ev.Content, ev.MediaRef = "image", m.ImageMessage.Caption, mediaRef(m.ImageMessage, m.Base64)
	case m.AudioMessage != nil:
		ev.Type, ev.MediaRef = "audio", mediaRef(m.AudioMessage, m.Base64)
	case m.VideoMessage != nil:
		ev.Type, ev.Content, ev.MediaRef = valueobject.VariantVideo, m.VideoMessage.Caption, mediaRef(m.VideoMessage, m.Base64)
	case m.DocumentMessage != nil:
		ev.Type, ev.Content, ev.MediaRef = valueobject.VariantDocument, m.DocumentMessage.Caption, mediaRef(m.DocumentMessage, m.Base64)
	case m.ExtendedTextMessage != nil:
		ev.Type, ev.Content = "text", m.ExtendedTextMessage.Text
	default:
		ev.Type, ev.Content = "text", m.Conversation
	}
	return ev, "", nil
}

// mediaRef 优先使用内联 base64（webhook 开启 base64 时），否则使用下载地址
func mediaRef(m *evolutionMedia, b64 string) string {
	if b64 != "" {
		mime := m.Mimetype
		if mime == "" {
			mime = "application/octet-stream"
		}
		return "data:" + mime + ";base64," + b64
	}
	return m.URL
}

// stripJID 去掉 @s.whatsapp.net 之类的后缀与设备号
func stripJID(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		jid = jid[:i]
	}
	if i := strings.IndexByte(jid, ':'); i >= 0 {
		jid = jid[:i]
	}
	return jid
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
