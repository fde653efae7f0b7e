// Package notify defines the outbound notification collaborator. Delivery
// (mail, chat, pager) happens outside the core; from here it is
// fire-and-forget and a delivery failure never fails the primary operation.
package notify

import (
	"context"

	"github.com/mzakharov/filevault/internal/logging"
)

// EventKind names a notification event.
type EventKind string

const (
	EventShareCreated    EventKind = "share-created"
	EventSuspiciousLogin EventKind = "suspicious-login"
	EventKeyIntegrity    EventKind = "key-integrity"
)

// Notifier is the external alerting collaborator.
type Notifier interface {
	Notify(ctx context.Context, userID string, event EventKind, payload map[string]string) error
}

// Async wraps a Notifier so Send never blocks or fails the caller: delivery
// runs in its own goroutine and errors are only logged.
type Async struct {
	notifier Notifier
	logger   logging.Logger
}

// NewAsync builds the fire-and-forget wrapper.
func NewAsync(n Notifier, logger logging.Logger) *Async {
	return &Async{notifier: n, logger: logger}
}

// Send dispatches the notification in the background. The background send
// uses a fresh context so it is not cancelled with the triggering request.
func (a *Async) Send(userID string, event EventKind, payload map[string]string) {
	go func() {
		ctx := context.Background()
		if err := a.notifier.Notify(ctx, userID, event, payload); err != nil {
			a.logger.Warn(ctx, "notification delivery failed",
				"event", string(event), "user_id", userID, "error", err.Error())
		}
	}()
}

// LogNotifier is a Notifier that only logs, for deployments without an
// alerting backend wired up.
type LogNotifier struct {
	logger logging.Logger
}

// NewLogNotifier returns a logging-only notifier.
func NewLogNotifier(logger logging.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, userID string, event EventKind, payload map[string]string) error {
	n.logger.Info(ctx, "notification", "event", string(event), "user_id", userID)
	return nil
}
