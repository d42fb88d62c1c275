package tagging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/welldanyogia/evidence-ingest/internal/logger"
	"github.com/welldanyogia/evidence-ingest/internal/models"
	"github.com/welldanyogia/evidence-ingest/internal/validator"
	"github.com/welldanyogia/evidence-ingest/tests/fixtures"
)

func record() *models.EmailRecord {
	return &models.EmailRecord{
		Sender: models.Participant{Name: "Alice Sender", Address: "alice@acme.com"},
		To: []models.Participant{
			{Name: "Bob Receiver", Address: "Bob@Partner.org"},
		},
		Cc:      []models.Participant{{Name: "not an address"}},
		Subject: "Project Falcon update",
		Body:    "The ACQUISITION closes Friday. Ref INV-2024-0042.",
	}
}

// ==================== Stakeholder Tests ====================

func TestMatch_Stakeholders(t *testing.T) {
	tests := []struct {
		name        string
		stakeholder models.Stakeholder
		want        bool
	}{
		{"exact address case-insensitive", models.Stakeholder{ID: 1, Email: "bob@partner.org"}, true},
		{"domain", models.Stakeholder{ID: 2, EmailDomain: "acme.com"}, true},
		{"domain with at sign", models.Stakeholder{ID: 3, EmailDomain: "@PARTNER.ORG"}, true},
		{"display name substring", models.Stakeholder{ID: 4, Name: "receiver"}, true},
		{"raw text participant name", models.Stakeholder{ID: 5, Name: "an address"}, true},
		{"no match", models.Stakeholder{ID: 6, Name: "Carol", Email: "carol@acme.com", EmailDomain: "other.com"}, false},
		{"subdomain is not domain", models.Stakeholder{ID: 7, EmailDomain: "mail.acme.com"}, false},
		{"empty rule", models.Stakeholder{ID: 8}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMatcher(&Dictionary{Stakeholders: []models.Stakeholder{tt.stakeholder}}, nil)

			ids, _ := m.Match(record())

			if tt.want {
				assert.Equal(t, []uint{tt.stakeholder.ID}, ids)
			} else {
				assert.Empty(t, ids)
			}
		})
	}
}

// ==================== Keyword Tests ====================

func TestMatch_Keywords(t *testing.T) {
	tests := []struct {
		name    string
		keyword models.Keyword
		want    bool
	}{
		{"literal in subject", models.Keyword{ID: 1, Name: "falcon"}, true},
		{"literal in body case-insensitive", models.Keyword{ID: 2, Name: "Acquisition"}, true},
		{"variation", models.Keyword{ID: 3, Name: "merger", Variations: []string{"closes friday"}}, true},
		{"regex", models.Keyword{ID: 4, Name: `INV-\d{4}-\d+`, IsRegex: true}, true},
		{"regex is case sensitive", models.Keyword{ID: 5, Name: `inv-\d{4}`, IsRegex: true}, false},
		{"malformed regex never matches", models.Keyword{ID: 6, Name: `(unclosed`, IsRegex: true}, false},
		{"no match", models.Keyword{ID: 7, Name: "bankruptcy"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMatcher(&Dictionary{Keywords: []models.Keyword{tt.keyword}}, nil)

			_, ids := m.Match(record())

			if tt.want {
				assert.Equal(t, []uint{tt.keyword.ID}, ids)
			} else {
				assert.Empty(t, ids)
			}
		})
	}
}

func TestNewMatcher_LogsInvalidPattern(t *testing.T) {
	// Arrange
	var buf bytes.Buffer
	audit := logger.NewAuditLoggerWithHandler(slog.NewJSONHandler(&buf, nil))
	dict := &Dictionary{Keywords: []models.Keyword{
		{ID: 9, Name: "[bad", IsRegex: true, Variations: []string{"good"}},
	}}

	// Act
	m := NewMatcher(dict, audit)
	_, ids := m.Match(&models.EmailRecord{Subject: "good news"})

	// Assert
	assert.Contains(t, buf.String(), "invalid_pattern")
	assert.Equal(t, []uint{9}, ids)
}

func TestMatch_SortedAndDoesNotMutateDictionary(t *testing.T) {
	// Arrange
	dict := &Dictionary{
		Stakeholders: []models.Stakeholder{
			{ID: 30, EmailDomain: "acme.com"},
			{ID: 10, Email: "bob@partner.org"},
		},
		Keywords: []models.Keyword{
			{ID: 5, Name: "friday"},
			{ID: 2, Name: "falcon", Variations: []string{"project"}},
		},
	}
	m := NewMatcher(dict, nil)
	rec := record()

	// Act
	m.Apply(rec)

	// Assert
	assert.Equal(t, []uint{10, 30}, rec.MatchedStakeholderIDs)
	assert.Equal(t, []uint{2, 5}, rec.MatchedKeywordIDs)
	assert.Equal(t, uint(30), dict.Stakeholders[0].ID)
	assert.Equal(t, []string{"project"}, dict.Keywords[1].Variations)
}

func TestMatch_EmptyDictionary(t *testing.T) {
	m := NewMatcher(nil, nil)

	stakeholders, keywords := m.Match(record())

	assert.Empty(t, stakeholders)
	assert.Empty(t, keywords)
	assert.NotNil(t, stakeholders)
}

// ==================== Dictionary Source Tests ====================

func TestLoadDictionaryFile_YAML(t *testing.T) {
	// Arrange
	path := fixtures.WriteFile(t, "dict.yaml", []byte(`
stakeholders:
  - id: 1
    name: Jane Doe
    email: jane@example.com
  - id: 2
    email_domain: acme.com
keywords:
  - id: 10
    name: merger
    variations: [acquisition, takeover]
  - id: 11
    name: 'INV-\d+'
    is_regex: true
`))

	// Act
	dict, err := LoadDictionaryFile(path)

	// Assert
	require.NoError(t, err)
	require.Len(t, dict.Stakeholders, 2)
	assert.Equal(t, "jane@example.com", dict.Stakeholders[0].Email)
	assert.Equal(t, "acme.com", dict.Stakeholders[1].EmailDomain)
	require.Len(t, dict.Keywords, 2)
	assert.Equal(t, []string{"acquisition", "takeover"}, dict.Keywords[0].Variations)
	assert.True(t, dict.Keywords[1].IsRegex)
}

func TestLoadDictionaryFile_JSON(t *testing.T) {
	path := fixtures.WriteFile(t, "dict.json", []byte(`{"keywords":[{"id":3,"name":"falcon"}]}`))

	dict, err := LoadDictionaryFile(path)

	require.NoError(t, err)
	require.Len(t, dict.Keywords, 1)
	assert.Equal(t, uint(3), dict.Keywords[0].ID)
}

func TestLoadDictionaryFile_Errors(t *testing.T) {
	_, err := LoadDictionaryFile("/nonexistent/dict.yaml")
	assert.Error(t, err)

	path := fixtures.WriteFile(t, "dict.yaml", []byte("keywords:\n  - name: missing id\n"))
	_, err = LoadDictionaryFile(path)
	assert.ErrorContains(t, err, "has no id")

	path = fixtures.WriteFile(t, "dict.yaml", []byte("stakeholders:\n  - id: 4\n    email: not-an-address\n"))
	_, err = LoadDictionaryFile(path)
	assert.ErrorIs(t, err, validator.ErrInvalidEmail)

	path = fixtures.WriteFile(t, "dict.yaml", []byte("stakeholders:\n  - id: 5\n    email_domain: bad_domain.example\n"))
	_, err = LoadDictionaryFile(path)
	assert.ErrorIs(t, err, validator.ErrInvalidDomain)
}

func TestLoadDictionaryFile_DomainWithAtSign(t *testing.T) {
	path := fixtures.WriteFile(t, "dict.yaml", []byte("stakeholders:\n  - id: 6\n    email_domain: \"@Partner.org\"\n"))

	dict, err := LoadDictionaryFile(path)

	require.NoError(t, err)
	assert.Equal(t, "@Partner.org", dict.Stakeholders[0].EmailDomain)
}

type fakeDictionaryRepo struct {
	stakeholders []models.Stakeholder
	keywords     []models.Keyword
	err          error
}

func (f *fakeDictionaryRepo) ListStakeholders(ctx context.Context, scopeType models.ScopeType, scopeID uint) ([]models.Stakeholder, error) {
	return f.stakeholders, f.err
}

func (f *fakeDictionaryRepo) ListKeywords(ctx context.Context, scopeType models.ScopeType, scopeID uint) ([]models.Keyword, error) {
	return f.keywords, nil
}

func TestRepositorySource_Load(t *testing.T) {
	repo := &fakeDictionaryRepo{
		stakeholders: []models.Stakeholder{{ID: 1}},
		keywords:     []models.Keyword{{ID: 2}},
	}

	dict, err := NewRepositorySource(repo).Load(context.Background(), models.ScopeCase, 7)

	require.NoError(t, err)
	assert.Len(t, dict.Stakeholders, 1)
	assert.Len(t, dict.Keywords, 1)

	repo.err = errors.New("db down")
	_, err = NewRepositorySource(repo).Load(context.Background(), models.ScopeCase, 7)
	assert.ErrorContains(t, err, "failed to load stakeholders")
}

func TestFileSource_IgnoresScope(t *testing.T) {
	dict := &Dictionary{Keywords: []models.Keyword{{ID: 1}}}

	got, err := NewFileSource(dict).Load(context.Background(), models.ScopeProject, 99)

	require.NoError(t, err)
	assert.Same(t, dict, got)
}
