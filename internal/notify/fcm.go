package notify

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"fieldsync/internal/config"
	"fieldsync/internal/domain"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// FCMSender is the part of the messaging client the transport needs.
type FCMSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCM pushes reminders to the technician app. Each device subscribes to the
// topic derived from its owner's phone number.
type FCM struct {
	client      FCMSender
	topicPrefix string
}

func NewFCM(ctx context.Context, cfg config.FCMConfig) (*FCM, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	var fbCfg *firebase.Config
	if cfg.ProjectID != "" {
		fbCfg = &firebase.Config{ProjectID: cfg.ProjectID}
	}
	app, err := firebase.NewApp(ctx, fbCfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}
	return NewFCMWithSender(client, cfg.TopicPrefix), nil
}

func NewFCMWithSender(client FCMSender, topicPrefix string) *FCM {
	if topicPrefix == "" {
		topicPrefix = "tech-"
	}
	return &FCM{client: client, topicPrefix: topicPrefix}
}

func (f *FCM) Name() string { return "fcm" }

// Topic maps a phone number to the topic name the device subscribes to.
func (f *FCM) Topic(address string) string {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, address)
	if digits == "" {
		return ""
	}
	return f.topicPrefix + digits
}

func (f *FCM) Send(ctx context.Context, address string, msg domain.Message) error {
	topic := f.Topic(address)
	if topic == "" {
		return fmt.Errorf("fcm: address %q has no digits", address)
	}

	message := &messaging.Message{
		Topic: topic,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data: msg.Meta,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
	if _, err := f.client.Send(ctx, message); err != nil {
		return fmt.Errorf("fcm: %w", err)
	}
	return nil
}
