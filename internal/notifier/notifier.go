// Package notifier delivers operator messages and receives chat commands.
package notifier

import (
	"context"

	"github.com/rs/zerolog"
)

// Notifier sends a pre-formatted HTML message to the operator.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// CommandHandler is called when a user command is received. A non-empty
// reply is sent back to the chat.
type CommandHandler func(ctx context.Context, command string) string

// LogNotifier writes messages to the log. Used when no chat is configured.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notifier").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, text string) error {
	n.log.Info().Msg(stripTags(text))
	return nil
}
