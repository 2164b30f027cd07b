package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer used here
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NotificationEvent is published for a downstream delivery service
type NotificationEvent struct {
	Type       string   `json:"type"`
	Kind       string   `json:"kind"`
	Subject    string   `json:"subject"`
	Message    string   `json:"message"`
	HTML       string   `json:"html,omitempty"`
	Recipients []string `json:"recipients"`
}

// KafkaSender publishes notification events to a topic
type KafkaSender struct {
	l     *slog.Logger
	w     messageWriter
	topic string
}

// NewKafkaSender creates an async writer against brokers
func NewKafkaSender(l *slog.Logger, brokers []string, topic string) *KafkaSender {
	l = l.WithGroup("kafka").With("topic", topic)

	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		Async:                  true,
		Logger:                 &infoLogger{l: l},
		ErrorLogger:            &errorLogger{l: l},
		AllowAutoTopicCreation: true,
	}

	return &KafkaSender{l: l, w: w, topic: topic}
}

// SendMFACode implements services.Notifier
func (k *KafkaSender) SendMFACode(ctx context.Context, email, name, code string) error {
	return k.publish(ctx, MFACodeMessage(email, name, code))
}

// SendLoginAlert implements services.Notifier
func (k *KafkaSender) SendLoginAlert(ctx context.Context, email, name, locationSummary, warning string) error {
	return k.publish(ctx, LoginAlertMessage(email, name, locationSummary, warning))
}

func (k *KafkaSender) publish(ctx context.Context, msg Message) error {
	b, err := json.Marshal(NotificationEvent{
		Type:       "email",
		Kind:       msg.Kind,
		Subject:    msg.Subject,
		Message:    msg.Text,
		HTML:       msg.HTML,
		Recipients: []string{msg.Recipient},
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = k.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Recipient),
		Value: b,
		Topic: k.topic,
	})
	if err != nil {
		return fmt.Errorf("write kafka message: %w", err)
	}
	return nil
}

// Close flushes pending messages
func (k *KafkaSender) Close() {
	if err := k.w.Close(); err != nil {
		k.l.Error(fmt.Sprintf("close kafka writer: %s", err))
	}
}

type infoLogger struct {
	l *slog.Logger
}

func (l *infoLogger) Printf(format string, v ...any) {
	l.l.Info(fmt.Sprintf(format, v...))
}

type errorLogger struct {
	l *slog.Logger
}

func (l *errorLogger) Printf(format string, v ...any) {
	l.l.Error(fmt.Sprintf(format, v...))
}
