package notify

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/dev-tams/cloudsweep/internal/config"
)

type emailNotifier struct {
	addr string
	from string
	to   []string
	auth smtp.Auth
}

// NewEmail sends a plain-text report per event over SMTP. All missing settings
// are reported together.
func NewEmail(cfg config.NotificationDetails) (Notifier, error) {
	host := strings.TrimSpace(cfg.SMTPHost)
	from := strings.TrimSpace(cfg.From)
	to := recipients(cfg.To)
	user, pass := strings.TrimSpace(cfg.Username), strings.TrimSpace(cfg.Password)

	var errs *multierror.Error
	if host == "" {
		errs = multierror.Append(errs, errors.New("config.smtp_host is required"))
	}
	if cfg.SMTPPort <= 0 {
		errs = multierror.Append(errs, errors.New("config.smtp_port must be > 0"))
	}
	if from == "" {
		errs = multierror.Append(errs, errors.New("config.from is required"))
	}
	if len(to) == 0 {
		errs = multierror.Append(errs, errors.New("config.to needs at least one recipient"))
	}
	if (user == "") != (pass == "") {
		errs = multierror.Append(errs, errors.New("config.username and config.password go together"))
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	n := &emailNotifier{
		addr: host + ":" + strconv.Itoa(cfg.SMTPPort),
		from: from,
		to:   to,
	}
	if user != "" {
		n.auth = smtp.PlainAuth("", user, pass, host)
	}
	return n, nil
}

func (e *emailNotifier) Notify(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := smtp.SendMail(e.addr, e.auth, e.from, e.to, e.message(event)); err != nil {
		return fmt.Errorf("send mail to %s: %w", e.addr, err)
	}
	return nil
}

func (e *emailNotifier) message(event Event) []byte {
	var b strings.Builder
	header := func(k, v string) { b.WriteString(k + ": " + v + "\r\n") }
	header("From", e.from)
	header("To", strings.Join(e.to, ", "))
	header("Subject", "[cloudsweep] "+event.Summary())
	header(HeaderCommand, event.Command)
	header("MIME-Version", "1.0")
	header("Content-Type", "text/plain; charset=UTF-8")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(reportBody(event), "\n", "\r\n"))
	return []byte(b.String())
}

// reportBody lists counts first, then every leftover on its own line.
func reportBody(event Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "cloudsweep %s finished with %s after %s.\n", event.Command, event.Status, event.Duration)
	fmt.Fprintf(&b, "done %d, failed %d, skipped %d\n", event.Succeeded, event.Failed, event.Skipped)
	if event.Output != "" {
		fmt.Fprintf(&b, "report: %s\n", event.Output)
	}
	if event.Error != "" {
		fmt.Fprintf(&b, "error: %s\n", event.Error)
	}
	if len(event.Leftovers) > 0 {
		b.WriteString("\nLeft behind, remove by hand or rerun:\n")
		for _, l := range event.Leftovers {
			b.WriteString("  - " + l + "\n")
		}
	}
	return b.String()
}

func recipients(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
