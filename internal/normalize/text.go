package normalize

import (
	"strings"
	"unicode/utf8"

	"github.com/welldanyogia/evidence-ingest/internal/archive"
	"golang.org/x/text/encoding/charmap"
)

// cleanText makes s storable as database text. NUL bytes are removed and
// bytes that are not valid UTF-8 are read as windows-1252, the usual
// charset of undeclared 8-bit mail. Valid UTF-8 runs are kept as they are.
func cleanText(s string) (string, string) {
	var diag []string
	if strings.IndexByte(s, 0) >= 0 {
		s = strings.ReplaceAll(s, "\x00", "")
		diag = append(diag, "NUL bytes removed")
	}
	if !utf8.ValidString(s) {
		var sb strings.Builder
		sb.Grow(len(s) + len(s)/4)
		for i := 0; i < len(s); {
			r, size := utf8.DecodeRuneInString(s[i:])
			if r == utf8.RuneError && size == 1 {
				sb.WriteRune(charmap.Windows1252.DecodeByte(s[i]))
			} else {
				sb.WriteString(s[i : i+size])
			}
			i += size
		}
		s = sb.String()
		diag = append(diag, "undeclared 8-bit text read as windows-1252")
	}
	return s, strings.Join(diag, ", ")
}

// cleanMessage serves every text value of a message through cleanText and
// records one note per field that had to be repaired
type cleanMessage struct {
	archive.Message
	diag     *notes
	repaired map[string]bool
}

func newCleanMessage(msg archive.Message, diag *notes) *cleanMessage {
	return &cleanMessage{Message: msg, diag: diag, repaired: make(map[string]bool)}
}

func (m *cleanMessage) clean(field, s string) string {
	out, d := cleanText(s)
	if d != "" && !m.repaired[field] {
		m.repaired[field] = true
		m.diag.record(field, d)
	}
	return out
}

func (m *cleanMessage) Header(name string) string {
	return m.clean(strings.ToLower(name), m.Message.Header(name))
}

func (m *cleanMessage) HeaderValues(name string) []string {
	values := m.Message.HeaderValues(name)
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = m.clean(strings.ToLower(name), v)
	}
	return out
}

func (m *cleanMessage) DecodedHeader(name string) string {
	return m.clean(strings.ToLower(name), m.Message.DecodedHeader(name))
}

func (m *cleanMessage) TextBody() string {
	return m.clean("body", m.Message.TextBody())
}

func (m *cleanMessage) HTMLBody() string {
	return m.clean("body", m.Message.HTMLBody())
}
