// Package reminder holds the single domain entity: a text to deliver to a
// chat at an absolute moment in time.
package reminder

import "time"

// Reminder is one stored row. All fields except Sent are immutable after
// insert; Sent goes false→true exactly once and never back.
type Reminder struct {
	ID     int64
	ChatID int64
	FireAt time.Time
	Text   string
	Sent   bool
}

// Payload is what travels from the timer set to the dispatcher when a
// reminder fires: just enough to send and to mark the row sent.
type Payload struct {
	ID     int64
	ChatID int64
	Text   string
}

// Payload derives the dispatch payload for a stored reminder.
func (r Reminder) Payload() Payload {
	return Payload{ID: r.ID, ChatID: r.ChatID, Text: r.Text}
}
