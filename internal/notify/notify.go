// Package notify tells people and error trackers that a job finished.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-smtp"
	"github.com/welldanyogia/evidence-ingest/internal/models"
)

// SMTPNotifier mails a summary of every terminal job through a relay
type SMTPNotifier struct {
	addr   string
	from   string
	to     []string
	send   func(addr, from string, to []string, msg []byte) error
	logger *slog.Logger
}

// NewSMTPNotifier creates a notifier relaying through addr (host:port)
func NewSMTPNotifier(addr, from string, to []string, logger *slog.Logger) *SMTPNotifier {
	recipients := make([]string, 0, len(to))
	for _, r := range to {
		if r = strings.TrimSpace(r); r != "" {
			recipients = append(recipients, r)
		}
	}
	return &SMTPNotifier{
		addr:   addr,
		from:   from,
		to:     recipients,
		send:   sendMail,
		logger: logger,
	}
}

func sendMail(addr, from string, to []string, msg []byte) error {
	return smtp.SendMail(addr, nil, from, to, bytes.NewReader(msg))
}

// JobFinished mails the final statistics of a terminal job
func (n *SMTPNotifier) JobFinished(ctx context.Context, result *models.JobResult) error {
	if len(n.to) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := n.compose(result, time.Now())
	if err != nil {
		return fmt.Errorf("failed to compose notification: %w", err)
	}
	if err := n.send(n.addr, n.from, n.to, msg); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}

	if n.logger != nil {
		n.logger.Info("job notification sent",
			slog.Uint64("job_id", uint64(result.JobID)),
			slog.Int("recipients", len(n.to)),
		)
	}
	return nil
}

func (n *SMTPNotifier) compose(result *models.JobResult, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{{Name: "Evidence Ingest", Address: n.from}})
	to := make([]*mail.Address, len(n.to))
	for i, addr := range n.to {
		to[i] = &mail.Address{Address: addr}
	}
	h.SetAddressList("To", to)
	h.SetSubject(Subject(result))
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write([]byte(Summary(result))); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Subject is the notification subject line of a job
func Subject(result *models.JobResult) string {
	status := string(result.Status)
	if result.FailureReason != models.FailureNone {
		status = fmt.Sprintf("%s (%s)", status, result.FailureReason)
	}
	return fmt.Sprintf("[evidence-ingest] job %d %s", result.JobID, status)
}

// Summary renders the statistics block of a job result
func Summary(result *models.JobResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job:                %d\n", result.JobID)
	fmt.Fprintf(&b, "Status:             %s\n", result.Status)
	if result.FailureReason != models.FailureNone {
		fmt.Fprintf(&b, "Failure reason:     %s\n", result.FailureReason)
	}
	fmt.Fprintf(&b, "Messages:           %d\n", result.MessagesProcessed)
	fmt.Fprintf(&b, "Attachments:        %d (%d unique)\n", result.AttachmentsProcessed, result.UniqueAttachments)
	fmt.Fprintf(&b, "Threads:            %d\n", result.ThreadsIdentified)
	fmt.Fprintf(&b, "Unreadable nodes:   %d\n", result.NodeErrors)
	fmt.Fprintf(&b, "Recorded errors:    %d\n", len(result.Errors))
	if result.StartedAt != nil && result.CompletedAt != nil {
		fmt.Fprintf(&b, "Duration:           %s\n", result.CompletedAt.Sub(*result.StartedAt).Round(time.Second))
	}
	return b.String()
}
