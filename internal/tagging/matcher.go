// Package tagging matches evidence records against case dictionaries.
package tagging

import (
	"regexp"
	"sort"
	"strings"

	"github.com/welldanyogia/evidence-ingest/internal/logger"
	"github.com/welldanyogia/evidence-ingest/internal/models"
)

type stakeholderRule struct {
	id      uint
	address string
	domain  string
	name    string
}

type keywordRule struct {
	id       uint
	literals []string
	patterns []*regexp.Regexp
}

// Matcher is compiled once per job and is safe for concurrent use
type Matcher struct {
	stakeholders []stakeholderRule
	keywords     []keywordRule
}

// NewMatcher compiles a dictionary. Invalid patterns are logged and never match.
func NewMatcher(dict *Dictionary, audit *logger.AuditLogger) *Matcher {
	m := &Matcher{}
	if dict == nil {
		return m
	}

	for _, s := range dict.Stakeholders {
		m.stakeholders = append(m.stakeholders, stakeholderRule{
			id:      s.ID,
			address: strings.ToLower(strings.TrimSpace(s.Email)),
			domain:  strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s.EmailDomain), "@")),
			name:    strings.ToLower(strings.TrimSpace(s.Name)),
		})
	}

	for _, k := range dict.Keywords {
		rule := keywordRule{id: k.ID}
		for _, term := range k.Terms() {
			if !k.IsRegex {
				rule.literals = append(rule.literals, strings.ToLower(term))
				continue
			}
			re, err := regexp.Compile(term)
			if err != nil {
				audit.InvalidPattern(k.ID, term, err.Error())
				continue
			}
			rule.patterns = append(rule.patterns, re)
		}
		m.keywords = append(m.keywords, rule)
	}
	return m
}

// Match returns the sorted ids of matching stakeholders and keywords
func (m *Matcher) Match(rec *models.EmailRecord) (stakeholderIDs, keywordIDs []uint) {
	participants := participantsOf(rec)
	for _, s := range m.stakeholders {
		if s.matches(participants) {
			stakeholderIDs = append(stakeholderIDs, s.id)
		}
	}

	text := rec.Subject + "\n" + rec.Body
	lower := strings.ToLower(text)
	for _, k := range m.keywords {
		if k.matches(text, lower) {
			keywordIDs = append(keywordIDs, k.id)
		}
	}

	return sortedUnique(stakeholderIDs), sortedUnique(keywordIDs)
}

// Apply stores the match result on the record
func (m *Matcher) Apply(rec *models.EmailRecord) {
	rec.MatchedStakeholderIDs, rec.MatchedKeywordIDs = m.Match(rec)
}

func participantsOf(rec *models.EmailRecord) []models.Participant {
	out := make([]models.Participant, 0, 1+len(rec.To)+len(rec.Cc)+len(rec.Bcc))
	out = append(out, rec.Sender)
	out = append(out, rec.To...)
	out = append(out, rec.Cc...)
	out = append(out, rec.Bcc...)
	return out
}

// matches tries exact address, then address domain, then display name
func (s stakeholderRule) matches(participants []models.Participant) bool {
	if s.address != "" {
		for _, p := range participants {
			if strings.EqualFold(p.Address, s.address) {
				return true
			}
		}
	}
	if s.domain != "" {
		for _, p := range participants {
			if i := strings.LastIndex(p.Address, "@"); i >= 0 && strings.EqualFold(p.Address[i+1:], s.domain) {
				return true
			}
		}
	}
	if s.name != "" {
		for _, p := range participants {
			if p.Name != "" && strings.Contains(strings.ToLower(p.Name), s.name) {
				return true
			}
		}
	}
	return false
}

func (k keywordRule) matches(text, lower string) bool {
	for _, lit := range k.literals {
		if strings.Contains(lower, lit) {
			return true
		}
	}
	for _, re := range k.patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func sortedUnique(ids []uint) []uint {
	if len(ids) == 0 {
		return []uint{}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := ids[:1]
	for _, id := range ids[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	return out
}
