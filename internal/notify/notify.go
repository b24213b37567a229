// Package notify delivers customer and influencer notifications outside of
// the request path. Delivery is best-effort: failures are logged and never
// reach the operation that triggered them.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Kind identifies a notification template.
type Kind string

const (
	KindOrderConfirmation   Kind = "order_confirmation"
	KindOrderPaymentProblem Kind = "order_payment_problem"
	KindPaymentRequest      Kind = "payment_request"
	KindInvoiceApproved     Kind = "invoice_approved"
	KindInvoiceRejected     Kind = "invoice_rejected"
	KindPaymentCompleted    Kind = "payment_completed"
)

// Message is one notification to one recipient.
type Message struct {
	Kind      Kind
	To        string
	Name      string
	Reference string
	Amount    decimal.Decimal
	Reason    string
}

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// Dispatcher sends every message on its own goroutine with a timeout.
type Dispatcher struct {
	sender  Sender
	lg      *zap.Logger
	timeout time.Duration

	// mu orders wg.Add against Close so that Wait never races a new send.
	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// NewDispatcher creates a Dispatcher. A zero timeout means 30 seconds.
func NewDispatcher(sender Sender, lg *zap.Logger, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{sender: sender, lg: lg, timeout: timeout}
}

// OrderConfirmation tells a customer their order was paid.
func (d *Dispatcher) OrderConfirmation(ctx context.Context, to, name, orderID string, total decimal.Decimal) {
	d.dispatch(ctx, Message{Kind: KindOrderConfirmation, To: to, Name: name, Reference: orderID, Amount: total})
}

// OrderPaymentProblem tells a customer their order was cancelled.
func (d *Dispatcher) OrderPaymentProblem(ctx context.Context, to, name, orderID string) {
	d.dispatch(ctx, Message{Kind: KindOrderPaymentProblem, To: to, Name: name, Reference: orderID})
}

// PaymentRequest tells an influencer a payout was requested for them.
func (d *Dispatcher) PaymentRequest(ctx context.Context, to, name string, amount decimal.Decimal) {
	d.dispatch(ctx, Message{Kind: KindPaymentRequest, To: to, Name: name, Amount: amount})
}

// InvoiceApproved tells an influencer their invoice was accepted.
func (d *Dispatcher) InvoiceApproved(ctx context.Context, to, name string, amount decimal.Decimal) {
	d.dispatch(ctx, Message{Kind: KindInvoiceApproved, To: to, Name: name, Amount: amount})
}

// InvoiceRejected tells an influencer why their invoice was turned down.
func (d *Dispatcher) InvoiceRejected(ctx context.Context, to, name, reason string) {
	d.dispatch(ctx, Message{Kind: KindInvoiceRejected, To: to, Name: name, Reason: reason})
}

// PaymentCompleted tells an influencer the payout was transferred.
func (d *Dispatcher) PaymentCompleted(ctx context.Context, to, name string, amount decimal.Decimal) {
	d.dispatch(ctx, Message{Kind: KindPaymentCompleted, To: to, Name: name, Amount: amount})
}

func (d *Dispatcher) dispatch(ctx context.Context, m Message) {
	lg := d.lg.With(zap.String("kind", string(m.Kind)), zap.String("to", m.To))
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		lg.Warn("Dispatcher closed, dropping notification")
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	// Detach from the request so that its end does not abort delivery.
	ctx = context.WithoutCancel(ctx)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				lg.Error("Notification sender panicked", zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		start := time.Now()
		if err := d.sender.Send(ctx, m); err != nil {
			lg.Warn("Notification failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
			return
		}
		lg.Debug("Notification sent", zap.Duration("duration", time.Since(start)))
	}()
}

// Close stops accepting messages and waits for in-flight sends until ctx
// is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "wait for notifications")
	}
}

// LogSender writes messages to the log instead of delivering them. It is
// used when no mail server is configured.
type LogSender struct {
	lg *zap.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(lg *zap.Logger) *LogSender {
	return &LogSender{lg: lg}
}

// Send implements Sender.
func (s *LogSender) Send(_ context.Context, m Message) error {
	s.lg.Info("Notification",
		zap.String("kind", string(m.Kind)),
		zap.String("to", m.To),
		zap.String("reference", m.Reference),
		zap.String("amount", m.Amount.StringFixed(2)),
		zap.String("reason", m.Reason),
	)
	return nil
}
