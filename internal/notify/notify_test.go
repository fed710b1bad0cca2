package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"fieldsync/internal/config"
	"fieldsync/internal/domain"

	"firebase.google.com/go/v4/messaging"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var reminder = domain.Message{Title: "Reminder: Fix pump", Body: "Scheduled 10:00", Meta: map[string]string{"taskId": "t1"}}

func TestWhatsApp(t *testing.T) {
	var got waTextMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v19.0/12345/messages", r.URL.Path)
		assert.Equal(t, "Bearer wa-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.1"}]}`))
	}))
	defer srv.Close()

	wa := NewWhatsApp(config.WhatsAppConfig{BaseURL: srv.URL + "/", APIVersion: "v19.0", PhoneNumberID: "12345", AccessToken: "wa-token"})
	require.NoError(t, wa.Send(context.Background(), "+5215550001", reminder))

	assert.Equal(t, "whatsapp", got.MessagingProduct)
	assert.Equal(t, "5215550001", got.To)
	assert.Equal(t, "Reminder: Fix pump\nScheduled 10:00", got.Text.Body)
	assert.Equal(t, "whatsapp", wa.Name())
}

func TestWhatsApp_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Recipient not in allowed list","code":131030}}`))
	}))
	defer srv.Close()

	wa := NewWhatsApp(config.WhatsAppConfig{BaseURL: srv.URL, APIVersion: "v19.0", PhoneNumberID: "1"})
	err := wa.Send(context.Background(), "5215550001", reminder)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Recipient not in allowed list")

	assert.Error(t, wa.Send(context.Background(), "  ", reminder))
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return args.Get(0).(tgbotapi.Message), args.Error(1)
}

func TestTelegram(t *testing.T) {
	sender := new(mockSender)
	tg := NewTelegram(sender)

	sender.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg, ok := c.(tgbotapi.MessageConfig)
		return ok && msg.ChatID == 42 && msg.Text == "Reminder: Fix pump\nScheduled 10:00"
	})).Return(tgbotapi.Message{}, nil).Once()
	require.NoError(t, tg.Send(context.Background(), "42", reminder))

	sender.On("Send", mock.Anything).Return(tgbotapi.Message{}, errors.New("chat not found")).Once()
	assert.Error(t, tg.Send(context.Background(), "43", reminder))

	assert.Error(t, tg.Send(context.Background(), "+5215550001", reminder))
	sender.AssertExpectations(t)
}

func TestTelegram_GroupChat(t *testing.T) {
	sender := new(mockSender)
	tg := NewTelegram(sender)

	sender.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg, ok := c.(tgbotapi.MessageConfig)
		return ok && msg.ChatID == -1001234
	})).Return(tgbotapi.Message{}, nil).Once()
	require.NoError(t, tg.Send(context.Background(), " -1001234 ", reminder))

	for _, addr := range []string{"+42", "", "-", "12a", "52 155"} {
		assert.Error(t, tg.Send(context.Background(), addr, reminder), addr)
	}
	sender.AssertExpectations(t)
}

func TestLogTransport(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	lt := NewLogTransport(&logger)

	require.NoError(t, lt.Send(context.Background(), "+1", reminder))
	assert.Contains(t, buf.String(), `"meta_taskId":"t1"`)
	assert.Contains(t, buf.String(), `"address":"+1"`)
}

func TestNew(t *testing.T) {
	logger := zerolog.New(io.Discard)

	tr, err := New(context.Background(), config.NotificationsConfig{Transport: "log"}, &logger)
	require.NoError(t, err)
	assert.Equal(t, "log", tr.Name())

	tr, err = New(context.Background(), config.NotificationsConfig{Transport: "whatsapp", WhatsApp: config.WhatsAppConfig{BaseURL: "http://x", APIVersion: "v1", PhoneNumberID: "1"}}, &logger)
	require.NoError(t, err)
	assert.Equal(t, "whatsapp", tr.Name())

	_, err = New(context.Background(), config.NotificationsConfig{Transport: "pigeon"}, &logger)
	assert.Error(t, err)
}

type mockFCM struct {
	mock.Mock
}

func (m *mockFCM) Send(ctx context.Context, message *messaging.Message) (string, error) {
	args := m.Called(ctx, message)
	return args.String(0), args.Error(1)
}

func TestFCM(t *testing.T) {
	client := new(mockFCM)
	f := NewFCMWithSender(client, "")

	assert.Equal(t, "tech-5215550001", f.Topic("+52 1 555 0001"))
	assert.Empty(t, f.Topic("n/a"))

	client.On("Send", mock.Anything, mock.MatchedBy(func(m *messaging.Message) bool {
		return m.Topic == "tech-5215550001" &&
			m.Notification.Title == "Reminder: Fix pump" &&
			m.Data["taskId"] == "t1"
	})).Return("projects/p/messages/1", nil).Once()
	require.NoError(t, f.Send(context.Background(), "+5215550001", reminder))

	client.On("Send", mock.Anything, mock.Anything).Return("", errors.New("topic quota exceeded")).Once()
	assert.ErrorContains(t, f.Send(context.Background(), "+5215550001", reminder), "quota")

	assert.Error(t, f.Send(context.Background(), "unknown", reminder))
	client.AssertExpectations(t)
}
