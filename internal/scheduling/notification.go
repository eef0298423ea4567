package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/medrex/scheduling-engine/pkg/interfaces"
	"github.com/medrex/scheduling-engine/pkg/logger"
	"github.com/medrex/scheduling-engine/pkg/monitoring"
	"github.com/medrex/scheduling-engine/pkg/types"
)

// Notifier records user-visible events for clinicians. It is best-effort:
// failures are logged and counted, never returned to the operation that
// triggered them.
type Notifier struct {
	repo      interfaces.NotificationRepository
	publisher interfaces.NotificationPublisher
	metrics   *monitoring.MetricsCollector
	logger    *logger.Logger
}

// NewNotifier creates a notifier. publisher may be nil.
func NewNotifier(
	repo interfaces.NotificationRepository,
	publisher interfaces.NotificationPublisher,
	metrics *monitoring.MetricsCollector,
	log *logger.Logger,
) *Notifier {
	return &Notifier{
		repo:      repo,
		publisher: publisher,
		metrics:   metrics,
		logger:    log,
	}
}

// Emit appends an unread notification for clinicianID stamped with the
// triggering operation's now, and returns its id. The id is returned even
// when persisting fails so callers never branch on it.
func (n *Notifier) Emit(ctx context.Context, now time.Time, clinicianID, title, message string) string {
	notification := &types.Notification{
		ID:          uuid.New().String(),
		ClinicianID: clinicianID,
		Title:       title,
		Message:     message,
		Read:        false,
		CreatedAt:   now,
	}

	entry := n.logger.WithComponent("notifier").WithFields(map[string]interface{}{
		"notification_id": notification.ID,
		"clinician_id":    clinicianID,
		"title":           title,
	})

	if err := n.repo.Create(ctx, notification); err != nil {
		entry.WithError(err).Error("Failed to store notification")
		n.metrics.RecordNotification("store", "failed")
		return notification.ID
	}
	n.metrics.RecordNotification("store", "ok")

	if n.publisher != nil {
		if err := n.publisher.Publish(ctx, notification); err != nil {
			entry.WithError(err).Warn("Failed to publish notification")
			n.metrics.RecordNotification("publish", "failed")
		} else {
			n.metrics.RecordNotification("publish", "ok")
		}
	}

	entry.Debug("Notification emitted")
	return notification.ID
}

// MarkRead flips the read flag of a notification
func (n *Notifier) MarkRead(ctx context.Context, notificationID string) error {
	if err := n.repo.MarkRead(ctx, notificationID); err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	return nil
}

// List returns a clinician's notifications, newest first
func (n *Notifier) List(ctx context.Context, clinicianID string, unreadOnly bool) ([]*types.Notification, error) {
	notifications, err := n.repo.ListByClinician(ctx, clinicianID, unreadOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to get notifications: %w", err)
	}
	return notifications, nil
}

// UnreadCount returns how many notifications clinicianID has not read
func (n *Notifier) UnreadCount(ctx context.Context, clinicianID string) (int, error) {
	unread, err := n.List(ctx, clinicianID, true)
	if err != nil {
		return 0, err
	}
	return len(unread), nil
}
