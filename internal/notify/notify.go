// Package notify provides desktop notifications for finished uploads.
// It uses github.com/gen2brain/beeep for cross-platform notification support.
package notify

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/beeep"

	"github.com/closetconnect/closet-tracker/internal/config"
	"github.com/closetconnect/closet-tracker/internal/logging"
	"github.com/closetconnect/closet-tracker/internal/models"
)

// Notification texts shown to the user.
const (
	ReadyTitle   = "Cloth registered!"
	ReadyMessage = "Image processing is complete. Please check the category."
	FailedTitle  = "Cloth processing failed"
)

// Sender delivers one notification. The beeep sender is the default;
// tests substitute a recorder.
type Sender interface {
	Notify(title, message string) error
	Alert(title, message string) error
}

type beeepSender struct{}

func (beeepSender) Notify(title, message string) error { return beeep.Notify(title, message, "") }
func (beeepSender) Alert(title, message string) error  { return beeep.Alert(title, message, "") }

// Notifier sends upload notifications. It satisfies tracker.Notifier.
type Notifier struct {
	logger *logging.Logger
	sender Sender

	mu         sync.RWMutex
	enabled    bool
	showReady  bool
	showFailed bool
}

// NewNotifier creates a notifier from the [notifications] section. A nil
// cfg enables everything.
func NewNotifier(cfg *config.NotificationConfig, logger *logging.Logger) *Notifier {
	if cfg == nil {
		cfg = &config.NotificationConfig{Enabled: true, ShowReady: true, ShowFailed: true}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Notifier{
		logger:     logger.With("notify"),
		sender:     beeepSender{},
		enabled:    cfg.Enabled,
		showReady:  cfg.ShowReady,
		showFailed: cfg.ShowFailed,
	}
}

// SetSender replaces the delivery backend.
func (n *Notifier) SetSender(s Sender) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sender = s
}

// SetEnabled enables or disables notifications.
func (n *Notifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled
}

// IsEnabled returns whether notifications are enabled.
func (n *Notifier) IsEnabled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.enabled
}

// UploadReady invites the user into the review of a processed upload.
// Notification permission problems are logged, never returned.
func (n *Notifier) UploadReady(rec models.UploadRecord) {
	n.mu.RLock()
	ok, sender := n.enabled && n.showReady, n.sender
	n.mu.RUnlock()
	if !ok {
		return
	}

	if err := sender.Notify(ReadyTitle, ReadyMessage); err != nil {
		n.logger.Warn().Err(err).Int64("cloth_id", rec.ClothID).Msg("Failed to send ready notification")
	}
}

// UploadFailed raises an alert with the backend's failure reason.
func (n *Notifier) UploadFailed(rec models.UploadRecord) {
	n.mu.RLock()
	ok, sender := n.enabled && n.showFailed, n.sender
	n.mu.RUnlock()
	if !ok {
		return
	}

	message := FailureMessage(rec.ErrorMessage)
	if err := sender.Alert(FailedTitle, message); err != nil {
		// Fall back to regular notify
		if err := sender.Notify(FailedTitle, message); err != nil {
			n.logger.Error().Err(err).Int64("cloth_id", rec.ClothID).Msg("Failed to send failure alert")
		}
	}
}

// FailureMessage renders the failure alert text.
func FailureMessage(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown error"
	}
	return fmt.Sprintf("AI processing failed: %s", truncate(reason, 200))
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
