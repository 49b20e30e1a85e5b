package notification

import (
	"bytes"
	"log/slog"
	"text/template"
)

// ConsoleNotifier logs notifications instead of delivering them. Used as
// the fallback transport in development and in tests that exercise the
// full dispatch path without external providers.
type ConsoleNotifier struct{}

func NewConsoleNotifier() *ConsoleNotifier {
	return &ConsoleNotifier{}
}

func (c *ConsoleNotifier) Send(noticeType NoticeType, notification NotificationData, noticeTemplate NoticeTemplate) error {
	body := notification.Body
	if noticeTemplate.Text != "" {
		tmpl, err := template.New("console").Parse(noticeTemplate.Text)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, notification.Data); err != nil {
			return err
		}
		body = buf.String()
	}

	slog.Info("Console notification", "type", noticeType, "to", notification.To, "subject", noticeTemplate.Subject, "body", body)
	return nil
}
