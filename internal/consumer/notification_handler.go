package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"example.com/habits/internal/events"
)

// Notifier delivers user-facing notifications. Delivery is fire-and-forget
// as far as the core engine is concerned; failures only affect redelivery of
// the consumed message.
type Notifier interface {
	Notify(ctx context.Context, userID, title, body string) error
}

// LogNotifier writes notifications to a logger; the local-dev default.
type LogNotifier struct {
	logger *log.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *log.Logger) *LogNotifier {
	if logger == nil {
		logger = log.New(log.Writer(), "[notify] ", log.LstdFlags)
	}
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(ctx context.Context, userID, title, body string) error {
	n.logger.Printf("user=%s %s: %s", userID, title, body)
	return nil
}

// NotificationHandler turns progression events into notifications.
type NotificationHandler struct {
	notifier Notifier
}

// NewNotificationHandler constructs the handler.
func NewNotificationHandler(notifier Notifier) *NotificationHandler {
	return &NotificationHandler{notifier: notifier}
}

// Handle dispatches a notification for the event types users care about.
// Unknown event types are ignored so new producers never break the consumer.
func (h *NotificationHandler) Handle(ctx context.Context, msg Message) error {
	switch msg.EventType {
	case events.TypeUserLeveledUp:
		var evt events.UserLeveledUp
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			return fmt.Errorf("decode %s: %w", msg.EventType, err)
		}
		body := fmt.Sprintf("You reached level %d!", evt.ToLevel)
		if evt.BadgeAwarded {
			body += " A new badge is waiting for you."
		}
		if evt.BonusToken {
			body += " Bonus forgiveness token earned."
		}
		return h.notifier.Notify(ctx, evt.UserID, "Level up", body)

	case events.TypeStreakMilestone:
		var evt events.StreakMilestone
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			return fmt.Errorf("decode %s: %w", msg.EventType, err)
		}
		return h.notifier.Notify(ctx, evt.UserID, "Streak milestone",
			fmt.Sprintf("%d days in a row. Keep it going!", evt.Streak))

	case events.TypeForgivenessGranted:
		var evt events.ForgivenessGranted
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			return fmt.Errorf("decode %s: %w", msg.EventType, err)
		}
		return h.notifier.Notify(ctx, evt.UserID, "Forgiveness token earned",
			fmt.Sprintf("Perfect day on %s. Balance: %d.", evt.Day, evt.BalanceAfter))

	case events.TypeForgivenessSpent:
		var evt events.ForgivenessSpent
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			return fmt.Errorf("decode %s: %w", msg.EventType, err)
		}
		return h.notifier.Notify(ctx, evt.UserID, "Missed day forgiven",
			fmt.Sprintf("%s is covered. Tokens left: %d.", evt.TargetDay, evt.BalanceAfter))
	}

	return nil
}
