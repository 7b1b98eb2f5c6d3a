// Package transport defines the chat-transport boundary the core talks to.
// The core never imports a concrete chat SDK; it sees only these types.
package transport

import "context"

// Message is one inbound text message.
type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
}

// Sender delivers outbound text to a chat.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Adapter is a full transport: inbound updates plus outbound sends.
type Adapter interface {
	Sender

	// Start begins delivering inbound messages to out. Non-blocking; the
	// adapter owns its own goroutines until Stop.
	Start(ctx context.Context, out chan<- Message) error
	Stop(ctx context.Context) error
}
