package notify

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/CDourado10/Emprestimo-Facil/pkg/models"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []Message
	done chan struct{}
}

func (r *recordingSender) Send(recipient, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Message{Recipient: recipient, Subject: subject, Body: body})
	select {
	case r.done <- struct{}{}:
	default:
	}
	return nil
}

func testLoanAndClient() (*models.Loan, *models.Client) {
	loan := &models.Loan{
		ID:        uuid.New(),
		Principal: decimal.RequireFromString("1000.00"),
		NextDue:   time.Date(2024, time.June, 10, 0, 0, 0, 0, time.UTC),
	}
	client := &models.Client{ID: uuid.New(), Name: "Ana", Email: "ana@example.com"}
	return loan, client
}

func TestBuildMessage(t *testing.T) {
	loan, client := testLoanAndClient()

	tests := []struct {
		event    Event
		wantPart string
	}{
		{EventCreated, "criado com sucesso"},
		{EventUpdated, "atualizado"},
		{EventCancelled, "cancelado"},
		{EventPayment, "Recebemos seu pagamento"},
		{EventOverdue, "atrasado"},
	}

	for _, tc := range tests {
		msg := BuildMessage(loan, client, tc.event, decimal.RequireFromString("1100.00"))
		if msg.Recipient != client.Email {
			t.Errorf("%s: expected recipient %s, got %s", tc.event, client.Email, msg.Recipient)
		}
		if !strings.Contains(msg.Body, tc.wantPart) {
			t.Errorf("%s: body %q does not contain %q", tc.event, msg.Body, tc.wantPart)
		}
	}

	overdue := BuildMessage(loan, client, EventOverdue, decimal.RequireFromString("1234.50"))
	if !strings.Contains(overdue.Body, "1234.50") {
		t.Errorf("Overdue body should carry the owed amount, got %q", overdue.Body)
	}
}

func TestDispatcherDelivers(t *testing.T) {
	sender := &recordingSender{done: make(chan struct{}, 1)}
	d := NewDispatcher(map[Channel]Sender{ChannelEmail: sender}, 2, 10, slog.Default())
	defer d.Shutdown(context.Background())

	d.Dispatch(Message{Recipient: "ana@example.com", Subject: "test", Body: "hello", Channel: ChannelEmail})

	select {
	case <-sender.done:
	case <-time.After(time.Second):
		t.Fatal("Message was not delivered within a second")
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.sent) != 1 {
		t.Fatalf("Expected 1 delivery, got %d", len(sender.sent))
	}
	if sender.sent[0].Recipient != "ana@example.com" {
		t.Errorf("Unexpected recipient %s", sender.sent[0].Recipient)
	}
}

func TestDispatcherDoesNotBlockWhenFull(t *testing.T) {
	// Zero-capacity queue and no workers draining yet: Dispatch must
	// return immediately instead of blocking the producer.
	d := NewDispatcher(map[Channel]Sender{}, 1, 0, slog.Default())
	defer d.Shutdown(context.Background())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			d.Dispatch(Message{Channel: ChannelSMS, Recipient: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a full queue")
	}
}
