package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"remindbot/internal/reminder"
	"remindbot/pkg/logx"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []reminder.Payload
	err  error
}

func (f *fakeSender) SendText(_ context.Context, chatID int64, text string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	f.sent = append(f.sent, reminder.Payload{ChatID: chatID, Text: text})
	f.mu.Unlock()
	return nil
}

type fakeStore struct {
	mu     sync.Mutex
	marked []int64
	err    error
}

func (f *fakeStore) MarkSent(_ context.Context, id int64) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	f.marked = append(f.marked, id)
	f.mu.Unlock()
	return nil
}

func TestDeliverSendsThenMarks(t *testing.T) {
	t.Parallel()
	sn, st := &fakeSender{}, &fakeStore{}
	d := New(sn, st, logx.Nop())

	d.deliver(context.Background(), reminder.Payload{ID: 3, ChatID: 42, Text: "Buy milk"})

	if len(sn.sent) != 1 || sn.sent[0].ChatID != 42 || sn.sent[0].Text != "Buy milk" {
		t.Fatalf("sent = %+v", sn.sent)
	}
	if len(st.marked) != 1 || st.marked[0] != 3 {
		t.Fatalf("marked = %v, want [3]", st.marked)
	}
}

func TestSendFailureLeavesRowPending(t *testing.T) {
	t.Parallel()
	sn := &fakeSender{err: errors.New("network down")}
	st := &fakeStore{}
	d := New(sn, st, logx.Nop())

	d.deliver(context.Background(), reminder.Payload{ID: 5, ChatID: 1, Text: "never arrives"})

	if len(st.marked) != 0 {
		t.Fatalf("MarkSent called after a failed send: %v", st.marked)
	}
}

func TestMarkFailureAfterSendIsSurfacedNotRetried(t *testing.T) {
	t.Parallel()
	sn := &fakeSender{}
	st := &fakeStore{err: errors.New("disk gone")}
	d := New(sn, st, logx.Nop())

	d.deliver(context.Background(), reminder.Payload{ID: 6, ChatID: 1, Text: "sent anyway"})

	// The send happened; the mark did not. That is the documented
	// duplicate-delivery window.
	if len(sn.sent) != 1 {
		t.Fatalf("sent = %+v, want exactly one send", sn.sent)
	}
}

func TestDispatchRunsOffTheCallingGoroutine(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	sn := &blockingSender{release: block}
	st := &fakeStore{}
	d := New(sn, st, logx.Nop())
	d.Start(context.Background())

	done := make(chan struct{})
	go func() {
		// Must return promptly even though the send is blocked.
		d.Dispatch(context.Background(), reminder.Payload{ID: 1, ChatID: 1, Text: "slow"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a slow send")
	}

	close(block)
	deadline := time.Now().Add(2 * time.Second)
	for {
		st.mu.Lock()
		n := len(st.marked)
		st.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("delivery did not finish after unblocking the send")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !d.Stop(ctx) {
		t.Fatal("Stop did not drain in-flight deliveries")
	}
}

type blockingSender struct {
	release chan struct{}
}

func (b *blockingSender) SendText(ctx context.Context, _ int64, _ string) error {
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
