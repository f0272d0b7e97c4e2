package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tasksync/internal/models"
	"tasksync/internal/syncer"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const commandTimeout = 2 * time.Minute

// UpdateSource is the part of the Bot API the command loop needs.
type UpdateSource interface {
	Sender
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Operator is what chat commands can reach.
type Operator interface {
	Sync(ctx context.Context) models.SyncResult
	Status(ctx context.Context) (*syncer.Status, error)
}

// CommandBot answers /status and /sync from the alert chat. Messages from any other chat
// are ignored.
type CommandBot struct {
	source UpdateSource
	op     Operator
	chatID int64
	logger *zerolog.Logger
}

func NewCommandBot(source UpdateSource, op Operator, chatID int64, logger *zerolog.Logger) *CommandBot {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "telegram-commands").Logger()
	return &CommandBot{source: source, op: op, chatID: chatID, logger: &l}
}

// Start blocks until ctx is cancelled or the update channel closes.
func (b *CommandBot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.source.GetUpdatesChan(u)
	defer b.source.StopReceivingUpdates()

	b.logger.Info().Int64("chat_id", b.chatID).Msg("telegram commands listening")

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.processUpdate(ctx, update)
		}
	}
}

func (b *CommandBot) processUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || !msg.IsCommand() {
		return
	}
	if msg.Chat.ID != b.chatID {
		b.logger.Warn().Int64("chat_id", msg.Chat.ID).Str("command", msg.Command()).Msg("command from unknown chat ignored")
		return
	}

	l := b.logger.With().Str("request_id", uuid.NewString()).Str("command", msg.Command()).Logger()

	cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			l.Error().Interface("panic", r).Msg("recovered from panic in command handler")
		}
	}()

	reply := b.handle(cmdCtx, msg.Command())
	if _, err := b.source.Send(tgbotapi.NewMessage(b.chatID, reply)); err != nil {
		l.Error().Err(err).Msg("failed to send command reply")
		return
	}
	l.Debug().Msg("command handled")
}

func (b *CommandBot) handle(ctx context.Context, command string) string {
	switch command {
	case "status":
		st, err := b.op.Status(ctx)
		if err != nil {
			return fmt.Sprintf("Status unavailable: %v", err)
		}
		return FormatStatus(st)
	case "sync":
		return FormatSyncResult(b.op.Sync(ctx))
	case "start", "help":
		return "Commands:\n/status - queue depth and last sync\n/sync - run a sync cycle now"
	default:
		return fmt.Sprintf("Unknown command /%s. Try /help", command)
	}
}

func FormatStatus(st *syncer.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "State: %s\n", st.State)
	if st.LastOutcome != syncer.StateIdle {
		fmt.Fprintf(&b, "Last cycle: %s\n", st.LastOutcome)
	}
	fmt.Fprintf(&b, "Pending: %d\n", st.Pending)
	fmt.Fprintf(&b, "Dead letters: %d\n", st.DeadLetters)
	if st.LastSyncedAt != nil {
		fmt.Fprintf(&b, "Last synced: %s", st.LastSyncedAt.UTC().Format(time.RFC3339))
	} else {
		b.WriteString("Last synced: never")
	}
	return b.String()
}

func FormatSyncResult(res models.SyncResult) string {
	var b strings.Builder
	if res.Success {
		b.WriteString("Sync finished\n")
	} else {
		b.WriteString("Sync finished with errors\n")
	}
	fmt.Fprintf(&b, "Synced: %d, failed: %d", res.SyncedItems, res.FailedItems)

	const maxShown = 5
	for i, e := range res.Errors {
		if i == maxShown {
			fmt.Fprintf(&b, "\n... and %d more", len(res.Errors)-maxShown)
			break
		}
		if e.TaskID != "" {
			fmt.Fprintf(&b, "\n- %s %s: %s", e.Operation, e.TaskID, e.Error)
		} else {
			fmt.Fprintf(&b, "\n- %s: %s", e.Operation, e.Error)
		}
	}
	return b.String()
}
