package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"biosummit.app/concierge/internal/model"
)

// devLogHost disables delivery and logs the message instead, for local
// development without an SMTP server.
const devLogHost = "dev-log"

// Notifier sends out-of-band notifications to registered participants.
type Notifier interface {
	SendConfirmation(ctx context.Context, p *model.Participant) error
}

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

type emailNotifier struct {
	cfg Config
}

func NewEmailNotifier(cfg Config) Notifier {
	return &emailNotifier{cfg: cfg}
}

func (n *emailNotifier) SendConfirmation(ctx context.Context, p *model.Participant) error {
	subject := "Inscrição confirmada - BioSummit 2026"
	body := confirmationBody(p)

	if n.cfg.Host == devLogHost || n.cfg.Host == "" {
		slog.InfoContext(ctx, "email delivery skipped (dev-log mode)",
			"to", p.Email,
			"subject", subject)
		slog.DebugContext(ctx, "email body", "body", body)
		return nil
	}

	msg := buildMessage(n.cfg.From, p.Email, subject, body)
	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)

	var auth smtp.Auth
	if n.cfg.User != "" {
		auth = smtp.PlainAuth("", n.cfg.User, n.cfg.Password, n.cfg.Host)
	}

	if err := smtp.SendMail(addr, auth, n.cfg.From, []string{p.Email}, msg); err != nil {
		return fmt.Errorf("sending confirmation email: %w", err)
	}

	slog.InfoContext(ctx, "confirmation email sent", "to", p.Email)
	return nil
}

func confirmationBody(p *model.Participant) string {
	firstName := p.FullName
	if idx := strings.IndexByte(firstName, ' '); idx > 0 {
		firstName = firstName[:idx]
	}

	return fmt.Sprintf(`Olá, %s!

Sua inscrição no BioSummit 2026 foi confirmada. 🎉

Detalhes do evento:
- Data: 6 e 7 de maio de 2026
- Local: Expo Dom Pedro, Campinas - SP

Guarde este e-mail: ele é o seu comprovante de inscrição.

Até lá!
Equipe BioSummit 2026`, firstName)
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}
