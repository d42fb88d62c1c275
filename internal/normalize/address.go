package normalize

import (
	"strings"

	"github.com/badoux/checkmail"
	gomail "github.com/emersion/go-message/mail"
	"github.com/welldanyogia/evidence-ingest/internal/models"
)

// splitRecipients splits a recipient header on ';' and ',' outside of
// quoted strings, comments and angle-bracketed addresses. Group display
// names ("Team: a@x, b@y;") are dropped.
func splitRecipients(raw string) []string {
	var (
		parts   []string
		cur     strings.Builder
		inQuote bool
		escaped bool
		angle   int
		comment int
	)

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			parts = append(parts, s)
		}
		cur.Reset()
	}

	for _, r := range raw {
		if escaped {
			cur.WriteRune(r)
			escaped = false
			continue
		}
		switch {
		case r == '\\' && (inQuote || comment > 0):
			escaped = true
		case r == '"' && comment == 0:
			inQuote = !inQuote
		case r == '<' && !inQuote && comment == 0:
			angle++
		case r == '>' && !inQuote && comment == 0 && angle > 0:
			angle--
		case r == '(' && !inQuote:
			comment++
		case r == ')' && !inQuote && comment > 0:
			comment--
		case (r == ',' || r == ';') && !inQuote && angle == 0 && comment == 0:
			flush()
			continue
		case r == ':' && !inQuote && angle == 0 && comment == 0:
			cur.Reset()
			continue
		}
		cur.WriteRune(r)
	}
	flush()
	return parts
}

// parseParticipant parses one recipient entry. An entry that is not a
// valid mailbox keeps its raw text as the name and an empty address.
func parseParticipant(entry string) (models.Participant, bool) {
	entry = strings.TrimSpace(entry)

	if addr, err := gomail.ParseAddress(entry); err == nil {
		if checkmail.ValidateFormat(addr.Address) == nil {
			return models.Participant{Name: strings.TrimSpace(addr.Name), Address: addr.Address}, true
		}
	}

	// Bare address with stray brackets or whitespace
	bare := strings.Trim(entry, "<> \t")
	if checkmail.ValidateFormat(bare) == nil {
		return models.Participant{Address: bare}, true
	}

	return models.Participant{Name: entry}, false
}

// parseParticipants parses every header value of a recipient field
func parseParticipants(values []string) Field[[]models.Participant] {
	var (
		out       []models.Participant
		malformed int
	)
	for _, v := range values {
		for _, entry := range splitRecipients(v) {
			p, ok := parseParticipant(entry)
			if !ok {
				malformed++
			}
			out = append(out, p)
		}
	}

	if len(out) == 0 {
		return Absent[[]models.Participant]()
	}
	f := Present(out)
	if malformed > 0 {
		f.Diag = pluralize(malformed, "malformed entry", "malformed entries") + " kept as raw text"
	}
	return f
}

// parseSender takes the first mailbox of From, falling back to Sender
func parseSender(from, sender []string) Field[models.Participant] {
	for _, values := range [][]string{from, sender} {
		f := parseParticipants(values)
		if f.OK {
			res := Present(f.Value[0])
			res.Diag = f.Diag
			return res
		}
	}
	return Degraded[models.Participant]("no originator header")
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return itoa(n) + " " + many
}
