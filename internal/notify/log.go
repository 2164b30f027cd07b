package notify

import (
	"context"
	"log/slog"

	"github.com/BradenHooton/loginguard/pkg/logger"
)

// LogSender records that a notification would have been sent. Message
// bodies carry codes and are never written out.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// SendMFACode implements services.Notifier
func (s *LogSender) SendMFACode(_ context.Context, email, _, _ string) error {
	s.logger.Info("notification suppressed",
		slog.String("kind", KindMFACode),
		slog.String("email", logger.SanitizedEmail(email)))
	return nil
}

// SendLoginAlert implements services.Notifier
func (s *LogSender) SendLoginAlert(_ context.Context, email, _, locationSummary, warning string) error {
	s.logger.Info("notification suppressed",
		slog.String("kind", KindLoginAlert),
		slog.String("email", logger.SanitizedEmail(email)),
		slog.String("location", locationSummary),
		slog.Bool("warning", warning != ""))
	return nil
}
