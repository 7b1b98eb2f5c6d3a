package app

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"remindbot/internal/dispatch"
	"remindbot/internal/intake"
	"remindbot/internal/recovery"
	"remindbot/internal/reminder"
	"remindbot/internal/schedule"
	"remindbot/internal/store"
	"remindbot/internal/transport"
	"remindbot/pkg/logx"
)

// chatSender records outbound sends and signals each one.
type chatSender struct {
	mu   sync.Mutex
	sent []sentMsg
	ch   chan sentMsg
}

type sentMsg struct {
	chatID int64
	text   string
}

func newChatSender() *chatSender {
	return &chatSender{ch: make(chan sentMsg, 64)}
}

func (c *chatSender) SendText(_ context.Context, chatID int64, text string) error {
	m := sentMsg{chatID: chatID, text: text}
	c.mu.Lock()
	c.sent = append(c.sent, m)
	c.mu.Unlock()
	c.ch <- m
	return nil
}

func (c *chatSender) wait(t *testing.T, n int) []sentMsg {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-c.ch:
		case <-deadline:
			t.Fatalf("timed out waiting for send %d of %d", i+1, n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMsg(nil), c.sent...)
}

// failingMarkStore wraps the real store and fails MarkSent, simulating a
// crash in the window between the send and the durable commit.
type failingMarkStore struct {
	*store.Store
}

func (f *failingMarkStore) MarkSent(context.Context, int64) error {
	return errors.New("simulated crash before commit")
}

func openPipelineStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "reminders.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func runTimers(t *testing.T, ts *schedule.TimerSet) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ts.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// The two-reminder ordering scenario: B (T+short) delivers before A
// (T+longer), both end up sent, and a subsequent recovery finds nothing.
func TestPipelineDeliversInFireOrderAndSettles(t *testing.T) {
	t.Parallel()
	st := openPipelineStore(t)
	sender := newChatSender()
	ctx := context.Background()

	d := dispatch.New(sender, st, logx.Nop())
	ts := schedule.New(d.Dispatch, logx.Nop())
	runTimers(t, ts)

	now := time.Now()
	idA, err := st.Insert(ctx, 100, now.Add(150*time.Millisecond), "Buy milk")
	if err != nil {
		t.Fatalf("Insert A: %v", err)
	}
	ts.Schedule(now.Add(150*time.Millisecond), reminder.Payload{ID: idA, ChatID: 100, Text: "Buy milk"})

	idB, err := st.Insert(ctx, 100, now.Add(50*time.Millisecond), "Call back")
	if err != nil {
		t.Fatalf("Insert B: %v", err)
	}
	ts.Schedule(now.Add(50*time.Millisecond), reminder.Payload{ID: idB, ChatID: 100, Text: "Call back"})

	sent := sender.wait(t, 2)
	if sent[0].text != "Call back" || sent[1].text != "Buy milk" {
		t.Fatalf("delivery order wrong: %+v", sent)
	}

	waitNoPending(t, st)

	// A fresh recovery pass must enqueue zero timers.
	ts2 := schedule.New(func(context.Context, reminder.Payload) {}, logx.Nop())
	n, err := recovery.Run(ctx, st, ts2, logx.Nop())
	if err != nil {
		t.Fatalf("recovery.Run: %v", err)
	}
	if n != 0 || ts2.Len() != 0 {
		t.Fatalf("recovery found %d pending after both delivered", n)
	}
}

// Crash between send and mark-sent: the next recovery re-delivers the same
// reminder. At-least-once, not exactly-once.
func TestPipelineRedeliversAfterCrashBeforeCommit(t *testing.T) {
	t.Parallel()
	st := openPipelineStore(t)
	sender := newChatSender()
	ctx := context.Background()

	id, err := st.Insert(ctx, 7, time.Now().Add(-time.Second), "pay rent")
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	// First life: send succeeds, commit "crashes".
	crashed := dispatch.New(sender, &failingMarkStore{st}, logx.Nop())
	ts := schedule.New(crashed.Dispatch, logx.Nop())
	runTimers(t, ts)
	if _, err := recovery.Run(ctx, st, ts, logx.Nop()); err != nil {
		t.Fatalf("recovery (first life): %v", err)
	}
	first := sender.wait(t, 1)
	if first[0].text != "pay rent" || first[0].chatID != 7 {
		t.Fatalf("first delivery: %+v", first[0])
	}

	// Row must still be pending: the commit never landed.
	rows, err := st.LoadPending(ctx)
	if err != nil {
		t.Fatalf("LoadPending: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != id {
		t.Fatalf("pending after crash = %+v, want the same row", rows)
	}

	// Second life: healthy dispatcher, recovery re-delivers and commits.
	healthy := dispatch.New(sender, st, logx.Nop())
	ts2 := schedule.New(healthy.Dispatch, logx.Nop())
	runTimers(t, ts2)
	if _, err := recovery.Run(ctx, st, ts2, logx.Nop()); err != nil {
		t.Fatalf("recovery (second life): %v", err)
	}
	all := sender.wait(t, 1)
	if len(all) != 2 || all[1].text != "pay rent" {
		t.Fatalf("expected duplicate delivery, got %+v", all)
	}
	waitNoPending(t, st)
}

// Full intake-to-delivery flow with the real extractor swapped for a fixed
// one: one accepted message becomes one row, one timer, one delivery.
func TestPipelineIntakeToDelivery(t *testing.T) {
	t.Parallel()
	st := openPipelineStore(t)
	sender := newChatSender()
	ctx := context.Background()

	d := dispatch.New(sender, st, logx.Nop())
	ts := schedule.New(d.Dispatch, logx.Nop())
	runTimers(t, ts)

	in := intake.New(st, ts, shortDelayExtractor{}, sender, logx.Nop())
	if err := in.HandleMessage(ctx, transport.Message{ChatID: 55, Text: "water the plants\nshortly"}); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	// First send is the confirmation, second is the delivery.
	sent := sender.wait(t, 2)
	if !strings.HasPrefix(sent[0].text, "Reminder saved") {
		t.Fatalf("missing confirmation: %+v", sent)
	}
	if sent[1].text != "water the plants" || sent[1].chatID != 55 {
		t.Fatalf("delivery: %+v", sent[1])
	}
	waitNoPending(t, st)
}

// shortDelayExtractor resolves the literal line "shortly" to base+50ms.
type shortDelayExtractor struct{}

func (shortDelayExtractor) Extract(text string, base time.Time) (time.Time, bool) {
	if strings.TrimSpace(text) == "shortly" {
		return base.Add(50 * time.Millisecond), true
	}
	return time.Time{}, false
}

// waitNoPending polls until the sent flips (dispatch commits asynchronously
// relative to the send notification).
func waitNoPending(t *testing.T, st *store.Store) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		rows, err := st.LoadPending(context.Background())
		if err != nil {
			t.Fatalf("LoadPending: %v", err)
		}
		if len(rows) == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("rows still pending: %+v", rows)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
