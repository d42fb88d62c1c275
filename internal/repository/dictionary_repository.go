package repository

import (
	"context"
	"fmt"

	"github.com/welldanyogia/evidence-ingest/internal/models"
	"gorm.io/gorm"
)

// DictionaryRepository reads the tag dictionaries of a scope.
// Dictionaries are owned by the case management side; seeding exists for imports and tests.
type DictionaryRepository interface {
	ListStakeholders(ctx context.Context, scopeType models.ScopeType, scopeID uint) ([]models.Stakeholder, error)
	ListKeywords(ctx context.Context, scopeType models.ScopeType, scopeID uint) ([]models.Keyword, error)
	CreateStakeholder(ctx context.Context, stakeholder *models.Stakeholder) error
	CreateKeyword(ctx context.Context, keyword *models.Keyword) error
}

// dictionaryRepository implements DictionaryRepository using GORM
type dictionaryRepository struct {
	db *gorm.DB
}

// NewDictionaryRepository creates a new DictionaryRepository instance
func NewDictionaryRepository(db *gorm.DB) DictionaryRepository {
	return &dictionaryRepository{db: db}
}

// ListStakeholders retrieves the stakeholders of a scope ordered by ID
func (r *dictionaryRepository) ListStakeholders(ctx context.Context, scopeType models.ScopeType, scopeID uint) ([]models.Stakeholder, error) {
	var stakeholders []models.Stakeholder
	result := r.db.WithContext(ctx).
		Where("scope_type = ? AND scope_id = ?", scopeType, scopeID).
		Order("id ASC").
		Find(&stakeholders)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list stakeholders: %w", result.Error)
	}
	return stakeholders, nil
}

// ListKeywords retrieves the keywords of a scope ordered by ID
func (r *dictionaryRepository) ListKeywords(ctx context.Context, scopeType models.ScopeType, scopeID uint) ([]models.Keyword, error) {
	var keywords []models.Keyword
	result := r.db.WithContext(ctx).
		Where("scope_type = ? AND scope_id = ?", scopeType, scopeID).
		Order("id ASC").
		Find(&keywords)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list keywords: %w", result.Error)
	}
	return keywords, nil
}

// CreateStakeholder creates a stakeholder
func (r *dictionaryRepository) CreateStakeholder(ctx context.Context, stakeholder *models.Stakeholder) error {
	if !stakeholder.ScopeType.Valid() {
		return ErrInvalidInput
	}
	if err := r.db.WithContext(ctx).Create(stakeholder).Error; err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateEntry
		}
		return fmt.Errorf("failed to create stakeholder: %w", err)
	}
	return nil
}

// CreateKeyword creates a keyword
func (r *dictionaryRepository) CreateKeyword(ctx context.Context, keyword *models.Keyword) error {
	if !keyword.ScopeType.Valid() {
		return ErrInvalidInput
	}
	if err := r.db.WithContext(ctx).Create(keyword).Error; err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateEntry
		}
		return fmt.Errorf("failed to create keyword: %w", err)
	}
	return nil
}
