package notification

import (
	"embed"
	"log/slog"
)

//go:embed templates/*
var templateFiles embed.FS

func loadTemplate(filename string) string {
	content, err := templateFiles.ReadFile(filename)
	if err != nil {
		slog.Error("Error reading template file!", "err", err, "filename", filename)
		return ""
	}
	return string(content)
}

// NotificationManagerOption is a function that configures a NotificationManager
type NotificationManagerOption func(*NotificationManager) error

// WithSMTP adds an email notifier with the provided SMTP configuration
func WithSMTP(config SMTPConfig) NotificationManagerOption {
	return func(nm *NotificationManager) error {
		emailNotifier, err := NewEmailNotifier(config)
		if err != nil {
			return err
		}
		nm.RegisterNotifier(EmailSystem, emailNotifier)
		return nil
	}
}

// WithTwilio adds an SMS notifier with the provided Twilio configuration
func WithTwilio(config TwilioConfig) NotificationManagerOption {
	return func(nm *NotificationManager) error {
		nm.RegisterNotifier(SMSSystem, NewSMSNotifier(config))
		return nil
	}
}

// WithConsoleFallback registers the console notifier for any system that
// has no real transport configured
func WithConsoleFallback(systems ...NotificationSystem) NotificationManagerOption {
	return func(nm *NotificationManager) error {
		console := NewConsoleNotifier()
		for _, system := range systems {
			if !nm.HasNotifier(system) {
				nm.RegisterNotifier(system, console)
			}
		}
		return nil
	}
}

// WithTwofaCodeEmailTemplate registers the 2FA passcode email template
func WithTwofaCodeEmailTemplate() NotificationManagerOption {
	return func(nm *NotificationManager) error {
		return nm.RegisterNotification(TwofaCodeNoticeEmail, EmailSystem, NoticeTemplate{
			Subject: "Your verification code",
			Html:    loadTemplate("templates/email/twofa_code.html"),
		})
	}
}

// WithTwofaCodeSmsTemplate registers the 2FA passcode SMS template
func WithTwofaCodeSmsTemplate() NotificationManagerOption {
	return func(nm *NotificationManager) error {
		return nm.RegisterNotification(TwofaCodeNoticeSms, SMSSystem, NoticeTemplate{
			Subject: "Your verification code",
			Text:    "Your verification code is: {{.Passcode}}. It expires in {{.ExpiresMinutes}} minutes.",
		})
	}
}

// WithBackupCodesTemplate registers the backup-codes-generated email template
func WithBackupCodesTemplate() NotificationManagerOption {
	return func(nm *NotificationManager) error {
		return nm.RegisterNotification(BackupCodesNotice, EmailSystem, NoticeTemplate{
			Subject: "New backup codes generated",
			Html:    loadTemplate("templates/email/backup_codes.html"),
		})
	}
}

// WithDefaultTemplates registers all default notification templates
func WithDefaultTemplates() NotificationManagerOption {
	return func(nm *NotificationManager) error {
		options := []NotificationManagerOption{
			WithTwofaCodeEmailTemplate(),
			WithTwofaCodeSmsTemplate(),
			WithBackupCodesTemplate(),
		}

		for _, opt := range options {
			if err := opt(nm); err != nil {
				return err
			}
		}

		return nil
	}
}

// NewNotificationManagerWithOptions creates a new notification manager with the provided options
func NewNotificationManagerWithOptions(opts ...NotificationManagerOption) (*NotificationManager, error) {
	notificationManager := NewNotificationManager()

	for _, opt := range opts {
		if err := opt(notificationManager); err != nil {
			return nil, err
		}
	}

	return notificationManager, nil
}
