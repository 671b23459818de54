package valueobject

import (
	"strings"
	"unicode"
)

const (
	jidUserSuffix    = "@s.whatsapp.net"
	jidGroupSuffix   = "@g.us"
	jidBroadcast     = "status@broadcast"
	jidDeviceDivider = ":"
)

// NormalizeNumber 把 JID 或带格式的号码规整为纯数字
// "5511999999999@s.whatsapp.net" -> "5511999999999"
// "+55 (11) 99999-9999"          -> "5511999999999"
func NormalizeNumber(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "@"); i >= 0 {
		s = s[:i]
	}
	// multi-device JIDs carry ":<device>" before the server part
	if i := strings.Index(s, jidDeviceDivider); i >= 0 {
		s = s[:i]
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ToJID 号码转为用户 JID
func ToJID(number string) string {
	return NormalizeNumber(number) + jidUserSuffix
}

// IsGroupJID 是否群组 JID
func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, jidGroupSuffix)
}

// IsBroadcastJID 是否状态广播
func IsBroadcastJID(jid string) bool {
	return jid == jidBroadcast
}
