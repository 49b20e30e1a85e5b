package notification

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationManagerSend(t *testing.T) {
	manager := NewNotificationManager()
	mock := &MockNotifier{}
	manager.RegisterNotifier(EmailSystem, mock)
	require.NoError(t, manager.RegisterNotification(TwofaCodeNoticeEmail, EmailSystem, NoticeTemplate{Subject: "Your code"}))

	err := manager.Send(TwofaCodeNoticeEmail, EmailSystem, NotificationData{
		To:   "user@example.com",
		Data: map[string]string{"Passcode": "123456"},
	})
	require.NoError(t, err)

	require.Len(t, mock.SentNotifications, 1)
	assert.Equal(t, "user@example.com", mock.SentNotifications[0].To)
	assert.Equal(t, "123456", mock.SentNotifications[0].Data["Passcode"])
}

func TestNotificationManagerMissingPieces(t *testing.T) {
	manager := NewNotificationManager()

	t.Run("NoTemplate", func(t *testing.T) {
		err := manager.Send(TwofaCodeNoticeEmail, EmailSystem, NotificationData{})
		assert.Error(t, err)
	})

	t.Run("NoNotifier", func(t *testing.T) {
		require.NoError(t, manager.RegisterNotification(TwofaCodeNoticeEmail, EmailSystem, NoticeTemplate{}))
		err := manager.Send(TwofaCodeNoticeEmail, EmailSystem, NotificationData{})
		assert.Error(t, err)
	})

	t.Run("EmptyRegistration", func(t *testing.T) {
		assert.Error(t, manager.RegisterNotification("", EmailSystem, NoticeTemplate{}))
	})
}

func TestHasNotifier(t *testing.T) {
	manager := NewNotificationManager()
	assert.False(t, manager.HasNotifier(SMSSystem))

	manager.RegisterNotifier(SMSSystem, &MockNotifier{})
	assert.True(t, manager.HasNotifier(SMSSystem))
}
