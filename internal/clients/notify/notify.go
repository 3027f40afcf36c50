// Package notify holds the log-backed Notifier and SubscriptionController used when no
// delivery or card-processor integration is configured.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogNotifier writes alerts to the log
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a new log-backed notifier
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notifier").Logger()}
}

// Notify logs the alert
func (n *LogNotifier) Notify(ctx context.Context, userID, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.log.Info().Str("user_id", userID).Str("message", message).Msg("Alert")
	return nil
}

// LogSubscriptionController tracks freezes in memory and logs each change
type LogSubscriptionController struct {
	mu     sync.Mutex
	frozen map[string]time.Time // user|merchant -> until
	log    zerolog.Logger
}

// NewLogSubscriptionController creates a new log-backed subscription controller
func NewLogSubscriptionController(log zerolog.Logger) *LogSubscriptionController {
	return &LogSubscriptionController{
		frozen: make(map[string]time.Time),
		log:    log.With().Str("component", "subscriptions").Logger(),
	}
}

func freezeKey(userID, merchant string) string {
	return userID + "|" + merchant
}

// Freeze pauses charges from merchant until the given time
func (c *LogSubscriptionController) Freeze(ctx context.Context, userID, merchant string, until time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if merchant == "" {
		return fmt.Errorf("merchant is required")
	}

	c.mu.Lock()
	c.frozen[freezeKey(userID, merchant)] = until
	c.mu.Unlock()

	c.log.Info().
		Str("user_id", userID).
		Str("merchant", merchant).
		Time("until", until).
		Msg("Subscription frozen")
	return nil
}

// Unfreeze lifts a freeze. Unfreezing a merchant that is not frozen is a no-op.
func (c *LogSubscriptionController) Unfreeze(ctx context.Context, userID, merchant string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.frozen, freezeKey(userID, merchant))
	c.mu.Unlock()

	c.log.Info().
		Str("user_id", userID).
		Str("merchant", merchant).
		Msg("Subscription unfrozen")
	return nil
}

// FrozenUntil reports whether merchant is frozen for the user and until when
func (c *LogSubscriptionController) FrozenUntil(userID, merchant string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.frozen[freezeKey(userID, merchant)]
	return until, ok
}
