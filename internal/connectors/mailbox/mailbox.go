// Package mailbox picks the mail connector named by MAIL_PROVIDER.
package mailbox

import (
	"context"
	"fmt"
	"strings"

	"fabricsync/internal/config"
	"fabricsync/internal/connectors"
	gmailconnector "fabricsync/internal/connectors/gmail"
	imapconnector "fabricsync/internal/connectors/imap"
)

// New returns nil without error when mail is disabled ("" or "none"); email
// sources then fail with a SourceUnavailableError at run time.
func New(ctx context.Context, cfg config.Config) (connectors.MailConnector, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.MailProvider)) {
	case "", "none":
		return nil, nil
	case "gmail":
		conn, err := gmailconnector.NewConnector(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return conn, nil
	case "imap":
		conn, err := imapconnector.NewConnector(cfg)
		if err != nil {
			return nil, err
		}
		return conn, nil
	default:
		return nil, fmt.Errorf("unsupported mail provider: %s", cfg.MailProvider)
	}
}
