package notify

import (
	"errors"
	"strings"
	"testing"

	"tasksync/internal/events"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return args.Get(0).(tgbotapi.Message), args.Error(1)
}

func TestTelegramNotifier(t *testing.T) {
	sender := new(mockSender)
	bus := events.NewEventBus()
	NewTelegramNotifier(sender, 42, nil).Subscribe(bus)

	t.Run("DeadLetter", func(t *testing.T) {
		sender.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
			msg, ok := c.(tgbotapi.MessageConfig)
			return ok && msg.ChatID == 42 &&
				strings.Contains(msg.Text, "Task: t1") &&
				strings.Contains(msg.Text, "requeue dl-1")
		})).Return(tgbotapi.Message{}, nil).Once()

		require.NoError(t, bus.PublishJSON(events.EventEntryDeadLettered, events.EntryEventPayload{
			EntryID: "e1", TaskID: "t1", Operation: "create", Attempts: 3, Error: "boom", DeadLetterID: "dl-1",
		}))
		sender.AssertExpectations(t)
	})

	t.Run("BatchRejected", func(t *testing.T) {
		sender.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
			msg, ok := c.(tgbotapi.MessageConfig)
			return ok && strings.Contains(msg.Text, "Batch of 2 entries")
		})).Return(tgbotapi.Message{}, nil).Once()

		require.NoError(t, bus.PublishJSON(events.EventBatchRejected, events.BatchEventPayload{
			Checksum: "abc", EntryIDs: []string{"e1", "e2"}, Error: "digest differs",
		}))
		sender.AssertExpectations(t)
	})

	t.Run("SendFailureReachesPublisher", func(t *testing.T) {
		sender.On("Send", mock.Anything).Return(tgbotapi.Message{}, errors.New("telegram down")).Once()

		event, err := events.NewJSONEvent(events.EventEntryDeadLettered, events.EntryEventPayload{TaskID: "t2"})
		require.NoError(t, err)
		errs := bus.Publish(&event)
		require.Len(t, errs, 1)
		assert.EqualError(t, errs[0], "telegram down")
	})

	t.Run("OtherEventsIgnored", func(t *testing.T) {
		require.NoError(t, bus.PublishJSON(events.EventEntrySynced, events.EntryEventPayload{TaskID: "t3"}))
		sender.AssertNumberOfCalls(t, "Send", 3)
	})
}

func TestFormatDeadLetter(t *testing.T) {
	text := FormatDeadLetter(events.EntryEventPayload{TaskID: "t1", Operation: "update", Attempts: 1})
	assert.Equal(t, "Sync entry moved to dead letters\nTask: t1\nOperation: update\nAttempts: 1", text)
}
