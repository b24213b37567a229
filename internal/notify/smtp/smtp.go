// Package smtp delivers notifications by e-mail.
package smtp

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"gopkg.in/gomail.v2"

	"github.com/xenking/influencer-settlement/internal/notify"
)

// Config holds the mail server settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// dialer is the part of gomail.Dialer the sender uses.
type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// Sender sends notifications through an SMTP server.
type Sender struct {
	from   string
	dialer dialer
}

var _ notify.Sender = (*Sender)(nil)

// New creates a Sender for cfg.
func New(cfg Config) *Sender {
	return &Sender{
		from:   cfg.From,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
	}
}

// Send implements notify.Sender. gomail has no context support, so ctx is
// only checked before dialing.
func (s *Sender) Send(ctx context.Context, m notify.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subject, body, err := Render(m)
	if err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", s.from)
	msg.SetHeader("To", m.To)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	if err := s.dialer.DialAndSend(msg); err != nil {
		return errors.Wrapf(err, "send %s to %s", m.Kind, m.To)
	}
	return nil
}

// Render returns the subject and plain-text body of m.
func Render(m notify.Message) (subject, body string, err error) {
	name := m.Name
	if name == "" {
		name = "Hola"
	} else {
		name = "Hola " + name
	}
	amount := "$" + m.Amount.StringFixed(2)

	var b strings.Builder
	fmt.Fprintf(&b, "%s,\n\n", name)
	switch m.Kind {
	case notify.KindOrderConfirmation:
		subject = "Confirmamos tu pedido"
		fmt.Fprintf(&b, "Recibimos el pago de tu pedido %s por %s. Te avisaremos cuando sea despachado.\n", m.Reference, amount)
	case notify.KindOrderPaymentProblem:
		subject = "Hubo un problema con el pago de tu pedido"
		fmt.Fprintf(&b, "No pudimos confirmar el pago de tu pedido %s y fue cancelado.\n", m.Reference)
	case notify.KindPaymentRequest:
		subject = "Nueva solicitud de pago"
		fmt.Fprintf(&b, "Generamos una solicitud de pago por %s. Subí tu factura para continuar.\n", amount)
	case notify.KindInvoiceApproved:
		subject = "Tu factura fue aprobada"
		fmt.Fprintf(&b, "Aprobamos tu factura por %s. El pago se procesará en los próximos días.\n", amount)
	case notify.KindInvoiceRejected:
		subject = "Tu factura fue rechazada"
		fmt.Fprintf(&b, "Tu factura fue rechazada por el siguiente motivo:\n\n%s\n\nPor favor subí una nueva.\n", m.Reason)
	case notify.KindPaymentCompleted:
		subject = "Pago realizado"
		fmt.Fprintf(&b, "Transferimos %s a tu cuenta.\n", amount)
	default:
		return "", "", errors.Errorf("unknown notification kind %q", m.Kind)
	}
	return subject, b.String(), nil
}
