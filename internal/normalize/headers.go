package normalize

import (
	"encoding/base64"
	"encoding/hex"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/welldanyogia/evidence-ingest/internal/archive"
	"github.com/welldanyogia/evidence-ingest/internal/models"
)

var msgIDToken = regexp.MustCompile(`<([^<>\s]+)>`)

// Layouts tried after net/mail for dates seen in old exports
var fallbackDateLayouts = []string{
	"Mon, 2 Jan 2006 15:04 -0700",
	"2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"Mon, 2 Jan 06 15:04:05 -0700",
	"Monday, January 2, 2006 3:04 PM",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC850,
	time.ANSIC,
	time.RFC3339,
}

// parseMessageID normalizes a single message-id, dropping whitespace and angle brackets
func parseMessageID(raw string) Field[string] {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Absent[string]()
	}
	if m := msgIDToken.FindStringSubmatch(raw); m != nil {
		return Present(m[1])
	}
	id := strings.Trim(raw, "<> \t")
	if id == "" || strings.ContainsAny(id, " \t") {
		return Degraded[string]("unparseable message id %q", raw)
	}
	return Present(id)
}

// parseReferences returns the ordered id tokens of a References header
func parseReferences(raw string) Field[[]string] {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Absent[[]string]()
	}

	var ids []string
	if matches := msgIDToken.FindAllStringSubmatch(raw, -1); len(matches) > 0 {
		for _, m := range matches {
			ids = append(ids, m[1])
		}
	} else {
		for _, tok := range strings.Fields(raw) {
			if tok = strings.Trim(tok, "<>,"); tok != "" {
				ids = append(ids, tok)
			}
		}
	}
	if len(ids) == 0 {
		return Degraded[[]string]("no message ids in references")
	}
	return Present(ids)
}

// parseConversationIndex decodes a base64 Thread-Index to lowercase hex
func parseConversationIndex(raw string) Field[string] {
	raw = strings.Join(strings.Fields(raw), "")
	if raw == "" {
		return Absent[string]()
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return Degraded[string]("invalid thread index encoding")
	}
	if len(decoded) == 0 {
		return Degraded[string]("empty thread index")
	}
	return Present(hex.EncodeToString(decoded))
}

// parseDate parses an RFC 5322 date, tolerating common deviations
func parseDate(raw string) Field[time.Time] {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Absent[time.Time]()
	}
	if t, err := mail.ParseDate(raw); err == nil {
		return Present(t.UTC())
	}

	// Drop a trailing "(UTC)" style comment before retrying
	cleaned := raw
	if i := strings.Index(cleaned, "("); i > 0 {
		cleaned = strings.TrimSpace(cleaned[:i])
	}
	for _, layout := range fallbackDateLayouts {
		if t, err := time.Parse(layout, cleaned); err == nil {
			return Present(t.UTC())
		}
	}
	return Degraded[time.Time]("unparseable date %q", raw)
}

// parseReceived takes the timestamp of the top-most Received header,
// the hop closest to the mailbox owner.
func parseReceived(values []string) Field[time.Time] {
	if len(values) == 0 {
		return Absent[time.Time]()
	}
	top := values[0]
	i := strings.LastIndex(top, ";")
	if i < 0 {
		return Degraded[time.Time]("received header has no date clause")
	}
	f := parseDate(top[i+1:])
	if !f.OK && f.Diag != "" {
		f.Diag = "received " + f.Diag
	}
	return f
}

// mapImportance converts the archive's native priority
func mapImportance(p archive.Priority) models.Importance {
	switch p {
	case archive.PriorityHigh:
		return models.ImportanceHigh
	case archive.PriorityLow:
		return models.ImportanceLow
	default:
		return models.ImportanceNormal
	}
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
