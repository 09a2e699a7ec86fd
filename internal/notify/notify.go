// Package notify delivers long execution warnings of jobs.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/CZERTAINLY/rem/internal/job"
)

// Log writes every message to a logger, useful when no mail server is configured.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) Log {
	if logger == nil {
		logger = slog.Default()
	}
	return Log{logger: logger}
}

func (n Log) Send(ctx context.Context, recipients []string, message string) error {
	n.logger.WarnContext(ctx, "notification", "recipients", recipients, "message", message)
	return nil
}

// Multi sends to all notifiers, errors are joined.
type Multi []job.Notifier

func (m Multi) Send(ctx context.Context, recipients []string, message string) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Send(ctx, recipients, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ job.Notifier = Log{}
	_ job.Notifier = Multi{}
	_ job.Notifier = (*SMTP)(nil)
)
