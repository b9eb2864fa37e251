package backup

import (
	"context"

	"github.com/rs/zerolog"
)

// Notifier is the external notification collaborator. The main application
// wires its email queue here; failures to notify are logged and never
// escalated.
type Notifier interface {
	SendFailureNotification(ctx context.Context, adminEmails []string, errorMessage, runID string) error
}

// LogNotifier writes the notification to the log instead of sending email.
// Used when backupd runs standalone.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n *LogNotifier) SendFailureNotification(ctx context.Context, adminEmails []string, errorMessage, runID string) error {
	n.Logger.Warn().
		Strs("admins", adminEmails).
		Str("run_id", runID).
		Str("error", errorMessage).
		Msg("backup failure notification")
	return nil
}
