package portbridge

import (
	"github.com/gen2brain/beeep"
	"go.uber.org/zap"
)

// Notifier provides a generic interface for sending notifications.
type Notifier interface {
	Notify(title string, message string)
}

// ToastNotifier sends desktop notifications.
type ToastNotifier struct {
	logger *zap.SugaredLogger
}

// NewToastNotifier creates a new instance of ToastNotifier.
func NewToastNotifier(logger *zap.SugaredLogger) (*ToastNotifier, error) {
	logger = logger.Named("notifier")
	logger.Debug("Created toast notifier instance")

	return &ToastNotifier{logger: logger}, nil
}

// Notify sends a desktop notification.
func (tn *ToastNotifier) Notify(title, message string) {
	tn.logger.Infow("Sending toast notification", "title", title, "message", message)

	if err := beeep.Notify(title, message, ""); err != nil {
		tn.logger.Errorw("Failed to send toast notification", "error", err)
	}
}

// logNotifier only records notifications in the log, for headless runs.
type logNotifier struct {
	logger *zap.SugaredLogger
}

func newLogNotifier(logger *zap.SugaredLogger) *logNotifier {
	return &logNotifier{logger: logger.Named("notifier")}
}

func (ln *logNotifier) Notify(title, message string) {
	ln.logger.Infow("Notification", "title", title, "message", message)
}
