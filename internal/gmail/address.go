package gmail

import (
	"net/mail"
	"regexp"
	"strings"
)

var angleAddrRe = regexp.MustCompile(`<([^>]+)>`)

// SenderAddress extracts the lower-cased address from a message's From
// header. It tolerates the usual display-name forms
// (`Name <a@b.com>`, `a@b.com`) and returns false when no address can
// be recovered.
func SenderAddress(m MessageMeta) (string, bool) {
	raw := strings.TrimSpace(m.Headers["From"])
	if raw == "" {
		return "", false
	}
	if addr, err := mail.ParseAddress(raw); err == nil {
		return normalizeAddress(addr.Address)
	}
	if match := angleAddrRe.FindStringSubmatch(raw); len(match) == 2 {
		return normalizeAddress(match[1])
	}
	return normalizeAddress(raw)
}

func normalizeAddress(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || !strings.Contains(s, "@") {
		return "", false
	}
	return s, true
}
