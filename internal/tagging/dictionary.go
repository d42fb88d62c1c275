package tagging

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"github.com/welldanyogia/evidence-ingest/internal/models"
	"github.com/welldanyogia/evidence-ingest/internal/validator"
)

// Dictionary holds the stakeholders and keywords of one scope
type Dictionary struct {
	Stakeholders []models.Stakeholder `mapstructure:"stakeholders"`
	Keywords     []models.Keyword     `mapstructure:"keywords"`
}

// Source loads the dictionary of a scope
type Source interface {
	Load(ctx context.Context, scopeType models.ScopeType, scopeID uint) (*Dictionary, error)
}

// DictionaryRepository is the subset of the dictionary repository used here
type DictionaryRepository interface {
	ListStakeholders(ctx context.Context, scopeType models.ScopeType, scopeID uint) ([]models.Stakeholder, error)
	ListKeywords(ctx context.Context, scopeType models.ScopeType, scopeID uint) ([]models.Keyword, error)
}

// RepositorySource reads dictionaries from the metadata store
type RepositorySource struct {
	repo DictionaryRepository
}

// NewRepositorySource creates a Source backed by the metadata store
func NewRepositorySource(repo DictionaryRepository) *RepositorySource {
	return &RepositorySource{repo: repo}
}

// Load reads the stakeholders and keywords of a scope
func (s *RepositorySource) Load(ctx context.Context, scopeType models.ScopeType, scopeID uint) (*Dictionary, error) {
	stakeholders, err := s.repo.ListStakeholders(ctx, scopeType, scopeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stakeholders: %w", err)
	}
	keywords, err := s.repo.ListKeywords(ctx, scopeType, scopeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load keywords: %w", err)
	}
	return &Dictionary{Stakeholders: stakeholders, Keywords: keywords}, nil
}

// FileSource serves one dictionary file for every scope
type FileSource struct {
	dict *Dictionary
}

// NewFileSource wraps an already loaded dictionary
func NewFileSource(dict *Dictionary) *FileSource {
	return &FileSource{dict: dict}
}

// Load returns the file dictionary regardless of scope
func (s *FileSource) Load(ctx context.Context, scopeType models.ScopeType, scopeID uint) (*Dictionary, error) {
	return s.dict, nil
}

// LoadDictionaryFile reads a YAML or JSON dictionary file:
//
//	stakeholders:
//	  - id: 1
//	    name: Jane Doe
//	    email: jane@example.com
//	keywords:
//	  - id: 10
//	    name: merger
//	    variations: [acquisition]
func LoadDictionaryFile(path string) (*Dictionary, error) {
	v := viper.New()
	v.SetConfigFile(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		v.SetConfigType("json")
	default:
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading dictionary file: %w", err)
	}

	var dict Dictionary
	if err := v.Unmarshal(&dict); err != nil {
		return nil, fmt.Errorf("parsing dictionary file: %w", err)
	}

	for i, s := range dict.Stakeholders {
		if s.ID == 0 {
			return nil, fmt.Errorf("stakeholder %d has no id", i)
		}
		if s.Email != "" {
			if err := validator.ValidateEmail(s.Email); err != nil {
				return nil, fmt.Errorf("stakeholder %d: email %q: %w", s.ID, s.Email, err)
			}
		}
		if s.EmailDomain != "" {
			if err := validator.ValidateDomain(strings.TrimPrefix(strings.TrimSpace(s.EmailDomain), "@")); err != nil {
				return nil, fmt.Errorf("stakeholder %d: email domain %q: %w", s.ID, s.EmailDomain, err)
			}
		}
	}
	for i, k := range dict.Keywords {
		if k.ID == 0 {
			return nil, fmt.Errorf("keyword %d has no id", i)
		}
	}
	return &dict, nil
}
