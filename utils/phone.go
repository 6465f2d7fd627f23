package utils

import (
	"strings"

	waTypes "go.mau.fi/whatsmeow/types"
)

// NormalizePhone reduces a phone value to its digits. The backend sometimes
// forwards the full WhatsApp JID (5511999999999@s.whatsapp.net or a device
// JID with a ":n" suffix) instead of the bare number.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.Contains(raw, "@") {
		jid, err := waTypes.ParseJID(raw)
		if err == nil && jid.User != "" {
			return jid.User
		}
		raw = raw[:strings.Index(raw, "@")]
	}
	raw = strings.TrimPrefix(raw, "+")
	if i := strings.Index(raw, ":"); i >= 0 {
		raw = raw[:i]
	}
	return raw
}

// NormalizePhonePtr is NormalizePhone for optional values. Empty results become nil.
func NormalizePhonePtr(raw *string) *string {
	if raw == nil {
		return nil
	}
	phone := NormalizePhone(*raw)
	if phone == "" {
		return nil
	}
	return &phone
}

// PhoneJID builds the user JID for a normalized phone number
func PhoneJID(phone string) waTypes.JID {
	return waTypes.NewJID(NormalizePhone(phone), waTypes.DefaultUserServer)
}
