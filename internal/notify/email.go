package notify

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/rewired-gh/repricer/internal/logger"
	"github.com/rewired-gh/repricer/internal/models"
	"gopkg.in/gomail.v2"
)

type EmailConfig struct {
	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	From     string
	To       []string
}

// EmailNotifier sends notifications over SMTP.
type EmailNotifier struct {
	cfg  EmailConfig
	send func(*gomail.Message) error
}

func NewEmailNotifier(cfg EmailConfig) *EmailNotifier {
	d := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass)
	return &EmailNotifier{
		cfg:  cfg,
		send: func(m *gomail.Message) error { return d.DialAndSend(m) },
	}
}

func (n *EmailNotifier) SendReport(stats models.RunStats) error {
	subject := fmt.Sprintf("[repricer] %d updated, %d failed", stats.Updated, stats.Failed)
	return n.deliver(subject, buildReportBody(stats))
}

func (n *EmailNotifier) SendError(cycleErr error) error {
	body := fmt.Sprintf("<p>Repricing cycle failed:</p><pre>%s</pre>", html.EscapeString(cycleErr.Error()))
	return n.deliver("[repricer] cycle error", body)
}

func (n *EmailNotifier) SendRecovery(failureCount int) error {
	body := fmt.Sprintf("<p>Repricing recovered after %d consecutive failure(s).</p>", failureCount)
	return n.deliver("[repricer] recovered", body)
}

func (n *EmailNotifier) deliver(subject, body string) error {
	if n.cfg.SMTPHost == "" || n.cfg.From == "" || len(n.cfg.To) == 0 {
		logger.Warn("Email config incomplete, skipping notification %q", subject)
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.From)
	m.SetHeader("To", n.cfg.To...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	if err := n.send(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	logger.Info("Email notification sent to %s: %s", strings.Join(n.cfg.To, ", "), subject)
	return nil
}

func buildReportBody(stats models.RunStats) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<body style=\"font-family: Arial, sans-serif;\">\n")
	fmt.Fprintf(&b, "<h2>Repricing cycle %s</h2>\n", html.EscapeString(stats.RunID))
	fmt.Fprintf(&b, "<p>Started %s, took %s.</p>\n", stats.StartedAt.Format("2006-01-02 15:04:05"), stats.Duration.Round(time.Millisecond))
	b.WriteString("<table>\n")
	rows := []struct {
		label string
		value int
	}{
		{"Total", stats.Total},
		{"First position", stats.FirstPosition},
		{"Updated", stats.Updated},
		{"Skipped", stats.Skipped},
		{"Below floor", stats.BelowMin},
		{"Cancelled", stats.Cancelled},
		{"Failed", stats.Failed},
	}
	for _, r := range rows {
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%d</td></tr>\n", r.label, r.value)
	}
	b.WriteString("</table>\n")

	if len(stats.Failures) > 0 {
		b.WriteString("<h3>Failures</h3>\n<ul>\n")
		for _, f := range stats.Failures {
			fmt.Fprintf(&b, "<li>%s</li>\n", html.EscapeString(f.String()))
		}
		b.WriteString("</ul>\n")
	}
	b.WriteString("</body>\n</html>")
	return b.String()
}
