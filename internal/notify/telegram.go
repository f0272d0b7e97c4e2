package notify

import (
	"fmt"
	"strings"

	"tasksync/internal/events"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Sender is the part of the Telegram bot API the notifier needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// NewBotSender connects to the Bot API with the given token.
func NewBotSender(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}
	return bot, nil
}

// TelegramNotifier posts operator alerts about entries that need attention.
type TelegramNotifier struct {
	sender Sender
	chatID int64
	logger *zerolog.Logger
}

func NewTelegramNotifier(sender Sender, chatID int64, logger *zerolog.Logger) *TelegramNotifier {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "notify").Logger()
	return &TelegramNotifier{sender: sender, chatID: chatID, logger: &l}
}

// Subscribe hooks the notifier to dead-letter and checksum-reject events.
func (n *TelegramNotifier) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventEntryDeadLettered, n.onDeadLetter)
	bus.Subscribe(events.EventBatchRejected, n.onBatchRejected)
}

func (n *TelegramNotifier) onDeadLetter(e *events.Event) error {
	var p events.EntryEventPayload
	if err := e.Decode(&p); err != nil {
		return fmt.Errorf("decode %s: %w", e.Type, err)
	}
	return n.send(FormatDeadLetter(p))
}

func (n *TelegramNotifier) onBatchRejected(e *events.Event) error {
	var p events.BatchEventPayload
	if err := e.Decode(&p); err != nil {
		return fmt.Errorf("decode %s: %w", e.Type, err)
	}
	return n.send(FormatBatchRejected(p))
}

func (n *TelegramNotifier) send(text string) error {
	if _, err := n.sender.Send(tgbotapi.NewMessage(n.chatID, text)); err != nil {
		n.logger.Error().Err(err).Int64("chat_id", n.chatID).Msg("failed to send telegram alert")
		return err
	}
	return nil
}

func FormatDeadLetter(p events.EntryEventPayload) string {
	var b strings.Builder
	b.WriteString("Sync entry moved to dead letters\n")
	fmt.Fprintf(&b, "Task: %s\n", p.TaskID)
	fmt.Fprintf(&b, "Operation: %s\n", p.Operation)
	fmt.Fprintf(&b, "Attempts: %d\n", p.Attempts)
	if p.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", p.Error)
	}
	if p.DeadLetterID != "" {
		fmt.Fprintf(&b, "Requeue: tasksync deadletters requeue %s", p.DeadLetterID)
	}
	return strings.TrimRight(b.String(), "\n")
}

func FormatBatchRejected(p events.BatchEventPayload) string {
	return fmt.Sprintf("Batch of %d entries rejected by checksum verification\nChecksum: %s\nError: %s",
		len(p.EntryIDs), p.Checksum, p.Error)
}
