package fixtures

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/welldanyogia/evidence-ingest/internal/models"
)

// attachmentSpec is one MIME attachment part
type attachmentSpec struct {
	filename    string
	contentType string
	content     []byte
	inline      bool
}

// MessageBuilder creates raw RFC 5322 messages with fluent API
type MessageBuilder struct {
	headers     [][2]string
	text        string
	html        string
	attachments []attachmentSpec
}

// NewMessageBuilder creates a new MessageBuilder with sensible defaults
func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{
		headers: [][2]string{
			{"From", "Alice Sender <alice@example.com>"},
			{"To", "Bob Receiver <bob@example.com>"},
			{"Subject", "Test Subject"},
			{"Date", "Mon, 02 Jan 2006 15:04:05 +0000"},
		},
		text: "This is a test email body.",
	}
}

// WithHeader sets a header, replacing an existing one with the same name
func (b *MessageBuilder) WithHeader(name, value string) *MessageBuilder {
	for i := range b.headers {
		if strings.EqualFold(b.headers[i][0], name) {
			b.headers[i][1] = value
			return b
		}
	}
	b.headers = append(b.headers, [2]string{name, value})
	return b
}

// AddHeader appends a header even if one with the same name exists
func (b *MessageBuilder) AddHeader(name, value string) *MessageBuilder {
	b.headers = append(b.headers, [2]string{name, value})
	return b
}

// WithoutHeader removes every header with the given name
func (b *MessageBuilder) WithoutHeader(name string) *MessageBuilder {
	kept := b.headers[:0]
	for _, h := range b.headers {
		if !strings.EqualFold(h[0], name) {
			kept = append(kept, h)
		}
	}
	b.headers = kept
	return b
}

// WithMessageID sets the Message-ID header
func (b *MessageBuilder) WithMessageID(id string) *MessageBuilder {
	return b.WithHeader("Message-ID", "<"+id+">")
}

// WithInReplyTo sets the In-Reply-To header
func (b *MessageBuilder) WithInReplyTo(id string) *MessageBuilder {
	return b.WithHeader("In-Reply-To", "<"+id+">")
}

// WithReferences sets the References header
func (b *MessageBuilder) WithReferences(ids ...string) *MessageBuilder {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = "<" + id + ">"
	}
	return b.WithHeader("References", strings.Join(parts, " "))
}

// WithSubject sets the Subject header
func (b *MessageBuilder) WithSubject(subject string) *MessageBuilder {
	return b.WithHeader("Subject", subject)
}

// WithFrom sets the From header
func (b *MessageBuilder) WithFrom(from string) *MessageBuilder {
	return b.WithHeader("From", from)
}

// WithTo sets the To header
func (b *MessageBuilder) WithTo(to string) *MessageBuilder {
	return b.WithHeader("To", to)
}

// WithText sets the plain text body
func (b *MessageBuilder) WithText(text string) *MessageBuilder {
	b.text = text
	return b
}

// WithHTML sets the HTML body
func (b *MessageBuilder) WithHTML(html string) *MessageBuilder {
	b.html = html
	return b
}

// WithAttachment adds an attachment part
func (b *MessageBuilder) WithAttachment(filename, contentType string, content []byte) *MessageBuilder {
	b.attachments = append(b.attachments, attachmentSpec{filename: filename, contentType: contentType, content: content})
	return b
}

// WithInline adds an inline part with a filename
func (b *MessageBuilder) WithInline(filename, contentType string, content []byte) *MessageBuilder {
	b.attachments = append(b.attachments, attachmentSpec{filename: filename, contentType: contentType, content: content, inline: true})
	return b
}

// Build returns the raw message with CRLF line endings
func (b *MessageBuilder) Build() []byte {
	var buf bytes.Buffer
	for _, h := range b.headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", h[0], h[1])
	}
	buf.WriteString("MIME-Version: 1.0\r\n")

	if len(b.attachments) == 0 && b.html == "" {
		buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
		buf.WriteString(crlf(b.text))
		buf.WriteString("\r\n")
		return buf.Bytes()
	}

	const boundary = "evidence-boundary-0001"
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", boundary)

	if b.text != "" {
		fmt.Fprintf(&buf, "--%s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n", boundary, crlf(b.text))
	}
	if b.html != "" {
		fmt.Fprintf(&buf, "--%s\r\nContent-Type: text/html; charset=utf-8\r\n\r\n%s\r\n", boundary, crlf(b.html))
	}
	for _, a := range b.attachments {
		disposition := "attachment"
		if a.inline {
			disposition = "inline"
		}
		fmt.Fprintf(&buf, "--%s\r\nContent-Type: %s; name=%q\r\nContent-Disposition: %s; filename=%q\r\nContent-Transfer-Encoding: base64\r\n\r\n",
			boundary, a.contentType, a.filename, disposition, a.filename)
		buf.WriteString(wrapBase64(a.content))
	}
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes()
}

func crlf(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

func wrapBase64(data []byte) string {
	enc := base64.StdEncoding.EncodeToString(data)
	var sb strings.Builder
	for len(enc) > 76 {
		sb.WriteString(enc[:76])
		sb.WriteString("\r\n")
		enc = enc[76:]
	}
	sb.WriteString(enc)
	sb.WriteString("\r\n")
	return sb.String()
}

// Mbox joins raw messages into mboxrd format
func Mbox(messages ...[]byte) []byte {
	var buf bytes.Buffer
	for _, m := range messages {
		buf.WriteString("From MAILER-DAEMON Mon Jan  2 15:04:05 2006\n")
		text := strings.ReplaceAll(string(m), "\r\n", "\n")
		for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
			if strings.HasPrefix(strings.TrimLeft(line, ">"), "From ") {
				line = ">" + line
			}
			buf.WriteString(line)
			buf.WriteString("\n")
		}
		buf.WriteString("\n")
	}
	return buf.Bytes()
}

// Zip packs members into a ZIP archive in sorted name order
func Zip(members map[string][]byte) []byte {
	names := make([]string, 0, len(members))
	for name := range members {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			panic(err)
		}
		if _, err := w.Write(members[name]); err != nil {
			panic(err)
		}
	}
	if err := zw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// WriteFile writes data under t.TempDir and returns the path
func WriteFile(t testing.TB, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write fixture %s: %v", name, err)
	}
	return path
}

// CorruptMessage is a message whose first line is not a header field
func CorruptMessage() []byte {
	return []byte("\x00\x01\x02 garbage that is not a header\r\n\r\nbody\r\n")
}

// JobBuilder creates test ArchiveJob instances with fluent API
type JobBuilder struct {
	job models.ArchiveJob
}

// NewJobBuilder creates a new JobBuilder with sensible defaults
func NewJobBuilder() *JobBuilder {
	now := time.Now()
	return &JobBuilder{
		job: models.ArchiveJob{
			ID:             1,
			SourceLocation: "/evidence/custodian.zip",
			ScopeType:      models.ScopeCase,
			ScopeID:        10,
			Status:         models.JobStatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		},
	}
}

// WithID sets the job ID
func (b *JobBuilder) WithID(id uint) *JobBuilder {
	b.job.ID = id
	return b
}

// WithSource sets the source location
func (b *JobBuilder) WithSource(source string) *JobBuilder {
	b.job.SourceLocation = source
	return b
}

// WithStatus sets the job status
func (b *JobBuilder) WithStatus(status models.JobStatus) *JobBuilder {
	b.job.Status = status
	return b
}

// WithProgress sets processed and total counts
func (b *JobBuilder) WithProgress(processed, total int) *JobBuilder {
	b.job.ProcessedEmails = processed
	b.job.TotalEmails = total
	return b
}

// WithFailure marks the job failed with a reason
func (b *JobBuilder) WithFailure(reason models.FailureReason, msg string) *JobBuilder {
	b.job.Status = models.JobStatusFailed
	b.job.FailureReason = reason
	b.job.LastError = msg
	return b
}

// Build returns the constructed ArchiveJob
func (b *JobBuilder) Build() *models.ArchiveJob {
	return &b.job
}
