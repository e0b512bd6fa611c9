// Package email abstracts outbound email behind the EmailSender
// interface. The current implementation uses the Resend API; services
// depend on the interface only.
package email

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v3"
)

// EmailSender sends transactional emails.
type EmailSender interface {
	// SendServerInvitation emails an invitation code for a server.
	SendServerInvitation(ctx context.Context, toEmail, serverName, invitationCode string) error
}

type resendSender struct {
	client    *resend.Client
	fromEmail string
	appURL    string
}

// NewResendSender creates an EmailSender backed by the Resend API.
// fromEmail must belong to a domain verified in Resend.
func NewResendSender(apiKey, fromEmail, appURL string) EmailSender {
	return &resendSender{
		client:    resend.NewClient(apiKey),
		fromEmail: fromEmail,
		appURL:    appURL,
	}
}

// SendServerInvitation sends an invitation email containing a join link
// of the form {appURL}/join?code={invitationCode}.
func (s *resendSender) SendServerInvitation(ctx context.Context, toEmail, serverName, invitationCode string) error {
	joinLink := fmt.Sprintf("%s/join?code=%s", s.appURL, invitationCode)

	html := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="margin:0;padding:0;background-color:#1a1a2e;font-family:Arial,Helvetica,sans-serif;">
  <table width="100%%" cellpadding="0" cellspacing="0" style="background-color:#1a1a2e;padding:40px 0;">
    <tr>
      <td align="center">
        <table width="480" cellpadding="0" cellspacing="0" style="background-color:#16213e;border-radius:8px;padding:40px;">
          <tr>
            <td>
              <h1 style="color:#e2e8f0;font-size:24px;margin:0 0 8px 0;">You have been invited</h1>
              <p style="color:#94a3b8;font-size:15px;line-height:1.6;margin:0 0 24px 0;">
                You have been invited to join <strong style="color:#e2e8f0;">%s</strong>.
                Click the button below to accept the invitation.
              </p>
              <table cellpadding="0" cellspacing="0" style="margin:0 0 24px 0;">
                <tr>
                  <td style="background-color:#6366f1;border-radius:6px;padding:12px 32px;">
                    <a href="%s" style="color:#ffffff;text-decoration:none;font-size:15px;font-weight:600;">
                      Join Server
                    </a>
                  </td>
                </tr>
              </table>
              <p style="color:#64748b;font-size:13px;line-height:1.6;margin:0 0 16px 0;">
                Or enter the invitation code manually: <strong style="color:#e2e8f0;">%s</strong>
              </p>
              <p style="color:#475569;font-size:13px;line-height:1.6;margin:0;word-break:break-all;">
                If the button doesn't work, copy and paste this link:<br>
                <a href="%s" style="color:#6366f1;">%s</a>
              </p>
            </td>
          </tr>
        </table>
      </td>
    </tr>
  </table>
</body>
</html>`, serverName, joinLink, invitationCode, joinLink, joinLink)

	params := &resend.SendEmailRequest{
		From:    fmt.Sprintf("commsapp <%s>", s.fromEmail),
		To:      []string{toEmail},
		Subject: fmt.Sprintf("Invitation to join %s", serverName),
		Html:    html,
	}

	_, err := s.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return fmt.Errorf("failed to send invitation email: %w", err)
	}

	return nil
}
