package email

import (
	"fmt"
	"net/smtp"
	"regexp"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/qs3c/aigc_server/config"
)

func newSender(cfg *config.EmailConfig) Sender {
	switch cfg.Provider {
	case "sendgrid":
		if cfg.SendGridAPIKey != "" {
			return &sendgridSender{cfg: cfg, client: sendgrid.NewSendClient(cfg.SendGridAPIKey)}
		}
	case "smtp":
		if cfg.SMTPHost != "" {
			return &smtpSender{cfg: cfg}
		}
	}
	return nil
}

type sendgridSender struct {
	cfg    *config.EmailConfig
	client *sendgrid.Client
}

func (s *sendgridSender) Send(to, subject, body string) error {
	msg := mail.NewSingleEmail(
		mail.NewEmail(s.cfg.FromName, s.cfg.From),
		subject,
		mail.NewEmail("", to),
		plainText(body),
		body,
	)
	resp, err := s.client.Send(msg)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid: status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

type smtpSender struct {
	cfg *config.EmailConfig
}

func (s *smtpSender) Send(to, subject, body string) error {
	from := s.cfg.From
	if s.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.cfg.FromName, s.cfg.From)
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\nTo: %s\r\nSubject: %s\r\n", from, to, subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.SMTPHost)
	if err := smtp.SendMail(addr, auth, s.cfg.From, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("smtp: %w", err)
	}
	return nil
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// plainText HTML 正文的纯文本版本
func plainText(body string) string {
	var lines []string
	for _, l := range strings.Split(tagPattern.ReplaceAllString(body, ""), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return strings.Join(lines, "\n")
}
