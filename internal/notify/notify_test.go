package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/leduftw/polymarket-price-alert/internal/alert"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testEvent() Event {
	return Event{
		AlertID:      "a-1",
		MarketID:     "M1",
		Question:     "Will X happen?",
		OutcomeIndex: 0,
		OutcomeLabel: "Yes",
		Direction:    alert.DirectionBelow,
		Threshold:    0.3,
		Price:        0.28,
		Recipient:    "user-1",
		TriggeredAt:  time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

type recordingSender struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *recordingSender) Send(ctx context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *ev)
	return s.err
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestEventText(t *testing.T) {
	ev := testEvent()
	if got := ev.Title(); got != "Price alert: Yes <= 0.3" {
		t.Errorf("Title() = %q", got)
	}
	if s := ev.Summary(); !strings.Contains(s, "Current price: 0.28") || !strings.Contains(s, "Will X happen?") {
		t.Errorf("Summary() missing fields: %q", s)
	}

	ev.OutcomeLabel = ""
	ev.Direction = alert.DirectionAbove
	if got := ev.Title(); got != "Price alert: outcome #0 >= 0.3" {
		t.Errorf("Title() without label = %q", got)
	}
}

func TestMultiSenderContinuesAfterFailure(t *testing.T) {
	failing := &recordingSender{err: errors.New("webhook down")}
	ok := &recordingSender{}
	multi := NewMultiSender(failing, ok)

	ev := testEvent()
	err := multi.Send(context.Background(), &ev)
	if err == nil || !strings.Contains(err.Error(), "webhook down") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if ok.count() != 1 {
		t.Error("healthy sender skipped after failure")
	}

	if err := NewMultiSender(ok).Send(context.Background(), &ev); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDispatcherDeliversAsynchronously(t *testing.T) {
	release := make(chan struct{})
	var delivered atomic.Int32
	sender := senderFunc(func(ctx context.Context, ev *Event) error {
		<-release
		delivered.Add(1)
		return nil
	})

	d := NewDispatcher(sender, time.Second, testLogger())

	done := make(chan struct{})
	go func() {
		d.Notify(context.Background(), testEvent())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on delivery")
	}

	close(release)
	d.Wait()
	if delivered.Load() != 1 {
		t.Errorf("delivered = %d, want 1", delivered.Load())
	}
}

func TestDispatcherTimeoutAndFailure(t *testing.T) {
	sender := senderFunc(func(ctx context.Context, ev *Event) error {
		<-ctx.Done()
		return ctx.Err()
	})
	d := NewDispatcher(sender, 20*time.Millisecond, testLogger())

	// a cancelled caller context must not abort delivery early
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	d.Notify(ctx, testEvent())
	d.Wait()
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("delivery ended after %v, before the dispatch timeout", elapsed)
	}
}

type senderFunc func(ctx context.Context, ev *Event) error

func (f senderFunc) Send(ctx context.Context, ev *Event) error { return f(ctx, ev) }

func TestDiscordSender(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ev := testEvent()
	if err := NewDiscordSender(srv.URL, "test").Send(context.Background(), &ev); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	embeds, ok := got["embeds"].([]interface{})
	if !ok || len(embeds) != 1 {
		t.Fatalf("expected one embed, got %v", got)
	}
	embed := embeds[0].(map[string]interface{})
	if embed["title"] != "Price alert: Yes <= 0.3" {
		t.Errorf("embed title = %v", embed["title"])
	}
}

func TestDiscordSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ev := testEvent()
	if err := NewDiscordSender(srv.URL, "test").Send(context.Background(), &ev); err == nil {
		t.Fatal("expected error on 429")
	}
}

func TestSMTPSender(t *testing.T) {
	s := NewSMTPSender("mail.example.com", 587, "user", "pass", "alerts@example.com", []string{"a@example.com", "b@example.com"})

	var gotAddr string
	var gotTo []string
	var gotMsg string
	s.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}

	ev := testEvent()
	if err := s.Send(context.Background(), &ev); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if gotAddr != "mail.example.com:587" || len(gotTo) != 2 {
		t.Errorf("unexpected envelope: %s %v", gotAddr, gotTo)
	}
	if !strings.Contains(gotMsg, "Subject: Price alert: Yes <= 0.3\r\n") {
		t.Errorf("missing subject in %q", gotMsg)
	}
	if !strings.Contains(gotMsg, "To: a@example.com, b@example.com\r\n") {
		t.Errorf("missing recipients in %q", gotMsg)
	}

	s.sendMail = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("relay denied") }
	if err := s.Send(context.Background(), &ev); err == nil {
		t.Error("expected error from failing relay")
	}
}

type fakeBot struct {
	failures int
	calls    int
	last     tgbotapi.MessageConfig
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.calls++
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		b.last = msg
	}
	if b.calls <= b.failures {
		return tgbotapi.Message{}, errors.New("bad gateway")
	}
	return tgbotapi.Message{}, nil
}

func TestTelegramSender(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		wantErr   bool
		wantCalls int
	}{
		{"first try", 0, false, 1},
		{"retry then succeed", 2, false, 3},
		{"exhaust retries", 5, true, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bot := &fakeBot{failures: tt.failures}
			s := newTelegramSender(bot, 42)
			s.retryDelayBase = time.Millisecond

			ev := testEvent()
			err := s.Send(context.Background(), &ev)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Send() error = %v, wantErr %v", err, tt.wantErr)
			}
			if bot.calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", bot.calls, tt.wantCalls)
			}
			if bot.last.ChatID != 42 || bot.last.ParseMode != tgbotapi.ModeMarkdownV2 {
				t.Errorf("unexpected message config: chat=%d mode=%s", bot.last.ChatID, bot.last.ParseMode)
			}
		})
	}
}

func TestEscapeMarkdownV2(t *testing.T) {
	if got := escapeMarkdownV2("0.3 (yes) - a_b!"); got != `0\.3 \(yes\) \- a\_b\!` {
		t.Errorf("escapeMarkdownV2() = %q", got)
	}
}

func TestHubRoutesByRecipient(t *testing.T) {
	hub := NewHub(testLogger())
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()
	defer hub.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?recipient=user-1", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Connections("user-1") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.Connections("user-1") != 1 {
		t.Fatal("connection not registered")
	}

	other := testEvent()
	other.Recipient = "user-2"
	if err := hub.Send(context.Background(), &other); err != nil {
		t.Fatalf("Send to offline recipient failed: %v", err)
	}

	ev := testEvent()
	if err := hub.Send(context.Background(), &ev); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	var msg struct {
		Type    string `json:"type"`
		Payload Event  `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "alert_triggered" || msg.Payload.AlertID != "a-1" || msg.Payload.Recipient != "user-1" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestHubRejectsMissingRecipient(t *testing.T) {
	hub := NewHub(testLogger())
	rec := httptest.NewRecorder()
	hub.HandleWS(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHubUnregistersOnClose(t *testing.T) {
	hub := NewHub(testLogger())
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?recipient=user-9", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.Connections("user-9") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	conn.Close()

	deadline = time.Now().Add(2 * time.Second)
	for hub.Connections("user-9") != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.Connections("user-9") != 0 {
		t.Error("connection still registered after client closed")
	}
}
