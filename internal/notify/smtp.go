package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	htmltpl "html/template"
	"strings"
	texttpl "text/template"
	"time"

	mail "github.com/go-mail/mail"

	"github.com/dropDatabas3/tubelink/internal/observability/logger"
)

// SMTPConfig contiene la configuración para conectarse a un servidor SMTP.
type SMTPConfig struct {
	Host               string
	Port               int // default 587
	Username           string
	Password           string
	FromEmail          string
	TLSMode            string // "auto" | "starttls" | "ssl" | "none"
	InsecureSkipVerify bool
}

// Sender envía un email ya renderizado.
type Sender interface {
	Send(to, subject, htmlBody, textBody string) error
}

// SMTPSender implementa Sender usando SMTP.
type SMTPSender struct {
	cfg SMTPConfig
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.TLSMode == "" {
		cfg.TLSMode = "auto"
	}
	return &SMTPSender{cfg: cfg}
}

// Send envía un email con contenido HTML y texto plano.
func (s *SMTPSender) Send(to, subject, htmlBody, textBody string) error {
	log := logger.L().With(
		logger.Component("smtp"),
		logger.String("host", s.cfg.Host),
		logger.Int("port", s.cfg.Port),
	)

	m := mail.NewMessage()
	m.SetHeader("From", s.cfg.FromEmail)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)

	// multipart/alternative (txt + html)
	if textBody != "" {
		m.SetBody("text/plain", textBody)
	}
	if htmlBody != "" {
		if textBody == "" {
			m.SetBody("text/html", htmlBody)
		} else {
			m.AddAlternative("text/html", htmlBody)
		}
	}

	d := mail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.Username, s.cfg.Password)
	d.Timeout = 15 * time.Second
	d.TLSConfig = &tls.Config{
		ServerName:         s.cfg.Host,
		InsecureSkipVerify: s.cfg.InsecureSkipVerify, // solo dev
	}
	switch s.cfg.TLSMode {
	case "ssl":
		d.SSL = true
	case "none":
		d.StartTLSPolicy = mail.NoStartTLS
	default:
		// auto/starttls: go-mail negocia STARTTLS si el server lo ofrece
	}

	if err := d.DialAndSend(m); err != nil {
		log.Error("smtp send failed", logger.Err(err))
		return fmt.Errorf("smtp send: %w", err)
	}
	log.Debug("email sent")
	return nil
}

const (
	subjectTpl = `[tubelink] Google account for {{.TenantID}} is {{.Status}}`

	textTpl = `The Google/YouTube account linked to tenant {{.TenantID}} needs attention.

Status: {{.Status}}
Account: {{if .Email}}{{.Email}}{{else}}(unknown){{end}}
Reason: {{.Reason}}
When: {{.At.Format "2006-01-02 15:04:05 MST"}}

{{if eq .Status "REVOKED"}}Access was revoked. The store owner must link the account again.{{else}}Automatic refresh failed. It will not be retried until an admin refreshes the credential.{{end}}
`

	htmlTpl = `<p>The Google/YouTube account linked to tenant <b>{{.TenantID}}</b> needs attention.</p>
<ul>
<li>Status: <b>{{.Status}}</b></li>
<li>Account: {{if .Email}}{{.Email}}{{else}}(unknown){{end}}</li>
<li>Reason: {{.Reason}}</li>
<li>When: {{.At.Format "2006-01-02 15:04:05 MST"}}</li>
</ul>
{{if eq .Status "REVOKED"}}<p>Access was revoked. The store owner must link the account again.</p>{{else}}<p>Automatic refresh failed. It will not be retried until an admin refreshes the credential.</p>{{end}}
`
)

var (
	subjectT = texttpl.Must(texttpl.New("subject").Parse(subjectTpl))
	textT    = texttpl.Must(texttpl.New("text").Parse(textTpl))
	htmlT    = htmltpl.Must(htmltpl.New("html").Parse(htmlTpl))
)

// Email envía cada evento a una lista fija de destinatarios (operaciones).
type Email struct {
	sender Sender
	to     []string
}

func NewEmail(sender Sender, to []string) *Email {
	clean := make([]string, 0, len(to))
	for _, addr := range to {
		if a := strings.TrimSpace(addr); a != "" {
			clean = append(clean, a)
		}
	}
	return &Email{sender: sender, to: clean}
}

func (e *Email) CredentialFailed(ctx context.Context, ev Event) error {
	if len(e.to) == 0 {
		return nil
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	subject, text, html, err := render(ev)
	if err != nil {
		return err
	}
	for _, to := range e.to {
		if err := e.sender.Send(to, subject, html, text); err != nil {
			return err
		}
	}
	return nil
}

func render(ev Event) (subject, text, html string, err error) {
	var sb, tb, hb bytes.Buffer
	if err = subjectT.Execute(&sb, ev); err != nil {
		return
	}
	if err = textT.Execute(&tb, ev); err != nil {
		return
	}
	if err = htmlT.Execute(&hb, ev); err != nil {
		return
	}
	return sb.String(), tb.String(), hb.String(), nil
}
