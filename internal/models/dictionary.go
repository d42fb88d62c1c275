package models

// Stakeholder is a case or project participant used for auto-tagging.
// Owned elsewhere; the ingestion engine only reads it.
type Stakeholder struct {
	ID          uint      `gorm:"primaryKey" json:"id" mapstructure:"id"`
	ScopeType   ScopeType `gorm:"not null;size:20;index:idx_stakeholder_scope" json:"scope_type" mapstructure:"-"`
	ScopeID     uint      `gorm:"not null;index:idx_stakeholder_scope" json:"scope_id" mapstructure:"-"`
	Name        string    `gorm:"size:255" json:"name" mapstructure:"name"`
	Email       string    `gorm:"size:255" json:"email,omitempty" mapstructure:"email"`
	EmailDomain string    `gorm:"size:255" json:"email_domain,omitempty" mapstructure:"email_domain"`
}

// TableName returns the table name for Stakeholder
func (Stakeholder) TableName() string {
	return "stakeholders"
}

// Keyword is a term of interest with optional variations.
// When IsRegex is set every term is a regular expression.
type Keyword struct {
	ID         uint      `gorm:"primaryKey" json:"id" mapstructure:"id"`
	ScopeType  ScopeType `gorm:"not null;size:20;index:idx_keyword_scope" json:"scope_type" mapstructure:"-"`
	ScopeID    uint      `gorm:"not null;index:idx_keyword_scope" json:"scope_id" mapstructure:"-"`
	Name       string    `gorm:"size:255" json:"name" mapstructure:"name"`
	Variations []string  `gorm:"serializer:json" json:"variations,omitempty" mapstructure:"variations"`
	IsRegex    bool      `gorm:"default:false" json:"is_regex" mapstructure:"is_regex"`
}

// TableName returns the table name for Keyword
func (Keyword) TableName() string {
	return "keywords"
}

// Terms returns the name followed by its variations, skipping blanks
func (k *Keyword) Terms() []string {
	terms := make([]string, 0, 1+len(k.Variations))
	if k.Name != "" {
		terms = append(terms, k.Name)
	}
	for _, v := range k.Variations {
		if v != "" {
			terms = append(terms, v)
		}
	}
	return terms
}
