package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/welldanyogia/evidence-ingest/internal/models"
)

const snippetLength = 255

var (
	scriptOrStyle = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	htmlTag       = regexp.MustCompile(`<[^>]*>`)
	htmlEntities  = strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
	)
)

// chooseBody prefers HTML, then plain text, then a header summary
func chooseBody(html, text string, summary func() string) (string, models.BodyFormat) {
	if strings.TrimSpace(html) != "" {
		return html, models.BodyFormatHTML
	}
	if strings.TrimSpace(text) != "" {
		return text, models.BodyFormatText
	}
	return summary(), models.BodyFormatPlaceholder
}

// placeholderBody summarizes the headers of a message without any body part
func placeholderBody(from, to, subject, date string) string {
	var b strings.Builder
	b.WriteString("[no message body]")
	for _, kv := range [][2]string{{"From", from}, {"To", to}, {"Subject", subject}, {"Date", date}} {
		if v := strings.TrimSpace(kv[1]); v != "" {
			b.WriteString("\n")
			b.WriteString(kv[0])
			b.WriteString(": ")
			b.WriteString(v)
		}
	}
	return b.String()
}

// excerpt returns the longest prefix of s within limit bytes that does not split a rune
func excerpt(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// bodyBlobKey derives the object key of an offloaded body.
// Identity is the message id, or folder#offset when there is none.
func bodyBlobKey(identity, body string) string {
	id := sha256.Sum256([]byte(identity))
	content := sha256.Sum256([]byte(body))
	return "bodies/" + hex.EncodeToString(id[:]) + "_" + hex.EncodeToString(content[:8])
}

// generateSnippet creates a preview snippet from the message body
func generateSnippet(bodyText, bodyHTML string) string {
	var text string

	if bodyText != "" {
		text = bodyText
	} else if bodyHTML != "" {
		text = stripHTMLTags(bodyHTML)
	}

	text = strings.Join(strings.Fields(text), " ")

	if len(text) > snippetLength {
		text = excerpt(text, snippetLength-3) + "..."
	}
	return text
}

func stripHTMLTags(html string) string {
	html = scriptOrStyle.ReplaceAllString(html, "")
	html = htmlTag.ReplaceAllString(html, " ")
	return htmlEntities.Replace(html)
}
