package notify

import (
	"fmt"

	"github.com/socialnet/socialnet-chat/config"
	"gopkg.in/gomail.v2"
)

const defaultSubject = "You have received a notification!"

// SMTPSender sends notification mails through a plain SMTP account.
type SMTPSender struct {
	cfg config.NotificationConfig
}

// NewSMTPSender returns nil if no SMTP host is configured, which disables
// notifications.
func NewSMTPSender(cfg config.NotificationConfig) *SMTPSender {
	if cfg.Host == "" {
		return nil
	}
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) Send(sender, receiver, receiverEmail string) error {
	subject := s.cfg.Subject
	if subject == "" {
		subject = defaultSubject
	}
	m := gomail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", receiverEmail)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", fmt.Sprintf("Hey, %s! You have received a notification from %s.", receiver, sender))

	d := gomail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.Username, s.cfg.Password)
	return d.DialAndSend(m)
}
