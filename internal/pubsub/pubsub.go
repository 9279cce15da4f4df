// Package pubsub decouples the process that mutates quiz state from the
// processes holding the WebSocket connections that observe it. One global
// channel carries cross-quiz announcements; each quiz gets its own channel.
package pubsub

import (
	"context"
	"net/url"
	"strings"

	"live-quiz-service/internal/domain"
)

// GlobalChannel carries cross-quiz announcements (quiz became active or
// inactive, global status requests).
const GlobalChannel = "quiz:global"

// QuizChannel derives the per-quiz channel name from the quiz name. The name
// is trimmed and URI-safe encoded so arbitrary quiz names map to valid
// channel identifiers.
func QuizChannel(quizName string) string {
	return "quiz:" + url.PathEscape(strings.TrimSpace(quizName))
}

// Bus is the fan-out abstraction. Delivery is at-most-once, best-effort
// broadcast: no acknowledgment, no replay. A subscriber that attaches after a
// publish simply misses it.
type Bus interface {
	// Publish sends the envelope to every current subscriber of the channel.
	Publish(ctx context.Context, channel string, env domain.Envelope) error
	// Subscribe returns a receive channel for the named bus channel plus a
	// cancel function the caller must invoke to release the subscription.
	Subscribe(ctx context.Context, channel string) (<-chan domain.Envelope, func(), error)
	// SubscriberCount reports how many subscribers the channel currently has.
	// It exists solely for the empty-quiz watchdog's polling side-channel.
	SubscriberCount(ctx context.Context, channel string) (int, error)
	// Close releases all subscriptions and underlying connections.
	Close() error
}
