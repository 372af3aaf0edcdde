// Package notify builds loan-event notification messages and dispatches
// them asynchronously. Producers only enqueue plain message records; a
// worker pool performs delivery, so callers never wait on a provider.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/CDourado10/Emprestimo-Facil/pkg/models"
)

type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

type Event string

const (
	EventCreated   Event = "criacao"
	EventUpdated   Event = "atualizacao"
	EventCancelled Event = "cancelamento"
	EventPayment   Event = "pagamento"
	EventOverdue   Event = "atraso"
)

// Message is the outbound record: who, what, over which channel. It is
// the only thing the ledger ever produces; delivery belongs here.
type Message struct {
	Recipient string
	Subject   string
	Body      string
	Channel   Channel
	CreatedAt time.Time
}

// BuildMessage renders the notification for a loan event. The owed amount
// is only used for overdue events and may be zero otherwise.
func BuildMessage(loan *models.Loan, client *models.Client, event Event, owed decimal.Decimal) Message {
	var subject, body string
	switch event {
	case EventCreated:
		subject = "Empréstimo criado"
		body = fmt.Sprintf("Seu empréstimo de R$%s foi criado com sucesso. Próximo vencimento: %s",
			loan.Principal.StringFixed(2), loan.NextDue.Format("02/01/2006"))
	case EventUpdated:
		subject = "Empréstimo atualizado"
		body = fmt.Sprintf("Seu empréstimo foi atualizado. Valor atual: R$%s", loan.Principal.StringFixed(2))
	case EventCancelled:
		subject = "Empréstimo cancelado"
		body = fmt.Sprintf("Seu empréstimo de R$%s foi cancelado.", loan.Principal.StringFixed(2))
	case EventPayment:
		subject = "Pagamento recebido"
		body = fmt.Sprintf("Recebemos seu pagamento. Saldo atual do empréstimo: R$%s", loan.Principal.StringFixed(2))
	case EventOverdue:
		subject = "Empréstimo em atraso"
		body = fmt.Sprintf("Seu empréstimo está atrasado. Valor atual devido: R$%s. Por favor, entre em contato conosco.",
			owed.StringFixed(2))
	default:
		subject = "Atualização do empréstimo"
		body = fmt.Sprintf("Atualização sobre seu empréstimo de R$%s.", loan.Principal.StringFixed(2))
	}

	return Message{
		Recipient: client.Email,
		Subject:   subject,
		Body:      body,
		Channel:   ChannelEmail,
		CreatedAt: time.Now(),
	}
}

// Sender delivers a message over one concrete channel.
type Sender interface {
	Send(recipient, subject, body string) error
}

// Dispatcher fans messages out to per-channel senders on a worker pool.
type Dispatcher struct {
	senders  map[Channel]Sender
	queue    chan Message
	workers  int
	shutdown chan struct{}
	wg       sync.WaitGroup
	logger   *slog.Logger
}

func NewDispatcher(senders map[Channel]Sender, workers int, queueSize int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if workers < 1 {
		workers = 1
	}
	d := &Dispatcher{
		senders:  senders,
		queue:    make(chan Message, queueSize),
		workers:  workers,
		shutdown: make(chan struct{}),
		logger:   logger,
	}
	d.start()
	return d
}

// Dispatch enqueues a message without blocking the caller. Messages are
// dropped with a warning when the queue is full; notification delivery is
// best-effort by contract.
func (d *Dispatcher) Dispatch(msg Message) {
	select {
	case d.queue <- msg:
	default:
		d.logger.Warn("Notification queue full, dropping message",
			slog.String("channel", string(msg.Channel)),
			slog.String("recipient", msg.Recipient))
	}
}

func (d *Dispatcher) start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for {
		select {
		case msg := <-d.queue:
			d.deliver(msg, id)
		case <-d.shutdown:
			return
		}
	}
}

func (d *Dispatcher) deliver(msg Message, workerID int) {
	sender, ok := d.senders[msg.Channel]
	if !ok {
		d.logger.Error("No sender configured for channel",
			slog.String("channel", string(msg.Channel)))
		return
	}

	if err := sender.Send(msg.Recipient, msg.Subject, msg.Body); err != nil {
		d.logger.Error("Failed to send notification",
			slog.String("channel", string(msg.Channel)),
			slog.String("recipient", msg.Recipient),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID))
		return
	}
	d.logger.Info("Notification sent",
		slog.String("channel", string(msg.Channel)),
		slog.String("recipient", msg.Recipient),
		slog.Int("worker_id", workerID))
}

// Shutdown stops the workers, waiting up to the context deadline.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	close(d.shutdown)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogSender logs deliveries instead of performing them. Stand-in for real
// providers in development and tests.
type LogSender struct {
	Logger *slog.Logger
}

func (s *LogSender) Send(recipient, subject, body string) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Delivering notification",
		slog.String("recipient", recipient),
		slog.String("subject", subject))
	return nil
}
