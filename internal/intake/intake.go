// Package intake handles inbound chat messages.
//
// Message format (unchanged from the bot's beginning): everything except the
// last line is the reminder text, the last line is the time expression.
// Rejections answer the user and touch neither the store nor the timer set.
package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/schedule"
	"remindbot/internal/timeparse"
	"remindbot/internal/transport"
	"remindbot/pkg/logx"
)

// Rejection reasons. These never leave intake except through tests; the user
// sees the texts below.
var (
	ErrTooFewLines    = errors.New("message has fewer than two lines")
	ErrUnparsableTime = errors.New("last line has no recognizable time")
	ErrEmptyBody      = errors.New("reminder text is empty")
)

const (
	msgTooFewLines = "A reminder needs at least two lines: the text to send, then the time on the last line."
	msgBadTime     = "I couldn't understand the time on the last line. Try something like \"tomorrow at 9am\" or \"через 2 часа\"."
	msgEmptyBody   = "The reminder text (everything above the last line) is empty."
)

// Store is the slice of the reminder store intake needs.
type Store interface {
	Insert(ctx context.Context, chatID int64, fireAt time.Time, text string) (int64, error)
}

// Scheduler registers one-shot timers.
type Scheduler interface {
	Schedule(fireAt time.Time, p reminder.Payload) schedule.TimerID
}

type Service struct {
	store     Store
	sched     Scheduler
	extractor timeparse.Extractor
	sender    transport.Sender
	log       logx.Logger
	now       func() time.Time
}

func New(store Store, sched Scheduler, ex timeparse.Extractor, sender transport.Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		store:     store,
		sched:     sched,
		extractor: ex,
		sender:    sender,
		log:       log,
		now:       time.Now,
	}
}

// HandleMessage processes one inbound message end to end: parse, persist,
// schedule, confirm. Rejections are answered in-chat and return nil; only
// operational failures (storage, send) come back as errors.
func (s *Service) HandleMessage(ctx context.Context, msg transport.Message) error {
	body, fireAt, err := s.parse(msg.Text)
	if err != nil {
		s.log.Debug("message rejected",
			logx.Int64("chat_id", msg.ChatID),
			logx.Err(err))
		return s.reply(ctx, msg.ChatID, rejectionText(err))
	}

	id, err := s.store.Insert(ctx, msg.ChatID, fireAt, body)
	if err != nil {
		return fmt.Errorf("intake: %w", err)
	}
	s.sched.Schedule(fireAt, reminder.Payload{ID: id, ChatID: msg.ChatID, Text: body})

	s.log.Info("reminder accepted",
		logx.Int64("reminder_id", id),
		logx.Int64("chat_id", msg.ChatID),
		logx.Time("fire_at", fireAt))
	return s.reply(ctx, msg.ChatID, fmt.Sprintf("Reminder saved. I'll send it %s.", fireAt.Format("2006-01-02 15:04")))
}

// parse applies the two-line policy and the time extractor.
func (s *Service) parse(text string) (body string, fireAt time.Time, err error) {
	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return "", time.Time{}, ErrTooFewLines
	}
	last := lines[len(lines)-1]
	at, ok := s.extractor.Extract(last, s.now())
	if !ok {
		return "", time.Time{}, ErrUnparsableTime
	}
	body = strings.Join(lines[:len(lines)-1], "\n")
	if strings.TrimSpace(body) == "" {
		return "", time.Time{}, ErrEmptyBody
	}
	return body, at, nil
}

func (s *Service) reply(ctx context.Context, chatID int64, text string) error {
	if err := s.sender.SendText(ctx, chatID, text); err != nil {
		return fmt.Errorf("intake: reply: %w", err)
	}
	return nil
}

func rejectionText(err error) string {
	switch {
	case errors.Is(err, ErrTooFewLines):
		return msgTooFewLines
	case errors.Is(err, ErrUnparsableTime):
		return msgBadTime
	case errors.Is(err, ErrEmptyBody):
		return msgEmptyBody
	default:
		return msgBadTime
	}
}
