package archive

import (
	"bytes"
	"fmt"
	"io"
	"net/textproto"
	"regexp"
	"strings"

	"github.com/jhillyerd/enmime"
)

// fieldLine matches the start of an RFC 5322 header field
var fieldLine = regexp.MustCompile(`^[!-9;-~]+[ \t]*:`)

// mboxMessage adapts a parsed enmime envelope to Message
type mboxMessage struct {
	env         *enmime.Envelope
	header      textproto.MIMEHeader
	rawHeaders  string
	size        int64
	attachments []Attachment
}

// ParseMessage parses one raw RFC 5322 message outside of an archive walk.
// It applies the same node checks as Walk.
func ParseMessage(raw []byte) (Message, error) {
	m, err := parseMessage(raw)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// parseMessage validates and parses one framed message.
// An error means the message is an unreadable node.
func parseMessage(raw []byte) (*mboxMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmptyMessage
	}

	headerBlock := splitHeaderBlock(raw)
	firstLine := headerBlock
	if i := bytes.IndexByte(headerBlock, '\n'); i >= 0 {
		firstLine = headerBlock[:i]
	}
	if !fieldLine.Match(firstLine) {
		return nil, ErrMalformedHeader
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse mime: %w", err)
	}
	if env.Root == nil {
		return nil, fmt.Errorf("parse mime: no root part")
	}

	m := &mboxMessage{
		env:        env,
		header:     env.Root.Header,
		rawHeaders: string(headerBlock),
		size:       int64(len(raw)),
	}

	for _, p := range env.Attachments {
		m.attachments = append(m.attachments, &partAttachment{part: p})
	}
	for _, p := range env.Inlines {
		if p.FileName != "" {
			m.attachments = append(m.attachments, &partAttachment{part: p, inline: true})
		}
	}

	return m, nil
}

// splitHeaderBlock returns the bytes before the first empty line
func splitHeaderBlock(raw []byte) []byte {
	if i := bytes.Index(raw, []byte("\r\n\r\n")); i >= 0 {
		if j := bytes.Index(raw, []byte("\n\n")); j >= 0 && j < i {
			return raw[:j]
		}
		return raw[:i]
	}
	if i := bytes.Index(raw, []byte("\n\n")); i >= 0 {
		return raw[:i]
	}
	return raw
}

func (m *mboxMessage) Header(name string) string {
	return m.header.Get(name)
}

func (m *mboxMessage) HeaderValues(name string) []string {
	return m.header.Values(name)
}

func (m *mboxMessage) DecodedHeader(name string) string {
	return m.env.GetHeader(name)
}

func (m *mboxMessage) RawHeaders() string {
	return m.rawHeaders
}

func (m *mboxMessage) TextBody() string {
	return m.env.Text
}

func (m *mboxMessage) HTMLBody() string {
	return m.env.HTML
}

func (m *mboxMessage) Size() int64 {
	return m.size
}

func (m *mboxMessage) AttachmentCount() int {
	return len(m.attachments)
}

func (m *mboxMessage) Attachments() []Attachment {
	return m.attachments
}

// Priority derives the native importance from transport headers.
// Importance wins over X-Priority, which wins over X-MSMail-Priority.
func (m *mboxMessage) Priority() Priority {
	return nativePriority(m.header)
}

func nativePriority(h textproto.MIMEHeader) Priority {
	if p, ok := namedPriority(h.Get("Importance")); ok {
		return p
	}
	if v := strings.TrimSpace(h.Get("X-Priority")); v != "" {
		switch v[0] {
		case '1', '2':
			return PriorityHigh
		case '3':
			return PriorityNormal
		case '4', '5':
			return PriorityLow
		}
	}
	if p, ok := namedPriority(h.Get("X-MSMail-Priority")); ok {
		return p
	}
	return PriorityUnknown
}

func namedPriority(v string) (Priority, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "high", "urgent":
		return PriorityHigh, true
	case "normal":
		return PriorityNormal, true
	case "low", "non-urgent":
		return PriorityLow, true
	}
	return PriorityUnknown, false
}

// partAttachment serves an attachment from an already parsed MIME part
type partAttachment struct {
	part   *enmime.Part
	inline bool
}

func (a *partAttachment) Filename() string {
	return a.part.FileName
}

func (a *partAttachment) ContentType() string {
	return a.part.ContentType
}

func (a *partAttachment) Inline() bool {
	return a.inline
}

// Open fails when the part could not be decoded and yielded no content
func (a *partAttachment) Open() (io.ReadCloser, error) {
	if len(a.part.Content) == 0 {
		for _, e := range a.part.Errors {
			if e.Severe {
				return nil, fmt.Errorf("decode attachment: %s: %s", e.Name, e.Detail)
			}
		}
	}
	return io.NopCloser(bytes.NewReader(a.part.Content)), nil
}
