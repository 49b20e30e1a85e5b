package notification

// NotificationSystem represents a delivery channel (e.g., email, SMS).
type NotificationSystem string

// NoticeType represents a kind of notification (e.g., "twofa_code_email").
type NoticeType string

const (
	EmailSystem   NotificationSystem = "email"
	SMSSystem     NotificationSystem = "sms"
	ConsoleSystem NotificationSystem = "console"
)

const (
	TwofaCodeNoticeEmail NoticeType = "twofa_code_email"
	TwofaCodeNoticeSms   NoticeType = "twofa_code_sms"
	BackupCodesNotice    NoticeType = "backup_codes_generated"
)

// NoticeTemplate holds the renderable pieces of a notification.
type NoticeTemplate struct {
	Subject string
	Text    string
	Html    string
}

type NotificationData struct {
	To      string            // Recipient identifier (e.g., email address, phone number)
	Subject string            // Optional: Subject for notifications like email
	Body    string            // The content or message to send
	Data    map[string]string // Template values (e.g., passcode, expiry minutes)
}

type Notifier interface {
	Send(noticeType NoticeType, notification NotificationData, template NoticeTemplate) error
}
