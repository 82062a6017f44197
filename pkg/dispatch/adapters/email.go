package adapters

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"text/template"
)

// EmailDestination renders a template against the payload and sends it to
// destination_config's "recipients" through an SMTP relay configured by
// destination_config's "smtp_host"/"smtp_port"/"from". No pack example
// repo carries an SMTP client library, so this talks to net/smtp directly,
// matching how the teacher reaches for the standard library whenever a
// concern is thin and protocol-level (see DESIGN.md).
type EmailDestination struct {
	Dial func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailDestination() *EmailDestination {
	return &EmailDestination{Dial: smtp.SendMail}
}

func (e *EmailDestination) Send(ctx context.Context, cfg map[string]any, payload map[string]any) (Result, error) {
	host, _ := cfg["smtp_host"].(string)
	port, _ := cfg["smtp_port"].(string)
	from, _ := cfg["from"].(string)
	subjectTpl, _ := cfg["subject_template"].(string)
	bodyTpl, _ := cfg["body_template"].(string)
	if host == "" || from == "" {
		return Result{}, fmt.Errorf("email destination config missing smtp_host or from")
	}

	var recipients []string
	if raw, ok := cfg["recipients"].([]any); ok {
		for _, r := range raw {
			if s, ok := r.(string); ok {
				recipients = append(recipients, s)
			}
		}
	}
	if len(recipients) == 0 {
		return Result{}, fmt.Errorf("email destination config has no recipients")
	}

	subject, err := renderTemplate(subjectTpl, payload)
	if err != nil {
		return Result{}, err
	}
	body, err := renderTemplate(bodyTpl, payload)
	if err != nil {
		return Result{}, err
	}

	msg := []byte("Subject: " + subject + "\r\n\r\n" + body)
	addr := host
	if port != "" {
		addr = host + ":" + port
	}

	var auth smtp.Auth
	if user, _ := cfg["smtp_user"].(string); user != "" {
		pass, _ := cfg["smtp_password"].(string)
		auth = smtp.PlainAuth("", user, pass, host)
	}

	if err := e.Dial(addr, auth, from, recipients, msg); err != nil {
		return Result{}, fmt.Errorf("sending email: %w", err)
	}
	return Result{ResponseStatus: 200, ResponseBody: "sent"}, nil
}

func renderTemplate(tpl string, payload map[string]any) (string, error) {
	if tpl == "" {
		return "", nil
	}
	t, err := template.New("email").Parse(tpl)
	if err != nil {
		return "", fmt.Errorf("parsing email template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, payload); err != nil {
		return "", fmt.Errorf("rendering email template: %w", err)
	}
	return buf.String(), nil
}
