package connectors

import (
	"context"
	"net/mail"
	"strings"

	"fabricsync/internal"
)

// MailConnector finds the newest supplier message in a mailbox.
// A nil message with a nil error means nothing matched.
type MailConnector interface {
	FetchLatest(ctx context.Context, sender, subjectContains string) (*internal.FetchedMailMessage, error)
}

// SenderMatches reports whether a From header names sender. A sender that
// starts with "@" matches the whole domain.
func SenderMatches(from, sender string) bool {
	sender = strings.ToLower(strings.TrimSpace(sender))
	if sender == "" {
		return true
	}
	addrs, err := mail.ParseAddressList(from)
	if err != nil {
		return strings.Contains(strings.ToLower(from), sender)
	}
	for _, a := range addrs {
		addr := strings.ToLower(a.Address)
		if addr == sender || (strings.HasPrefix(sender, "@") && strings.HasSuffix(addr, sender)) {
			return true
		}
	}
	return false
}

func SubjectMatches(subject, contains string) bool {
	return contains == "" || strings.Contains(strings.ToLower(subject), strings.ToLower(contains))
}
