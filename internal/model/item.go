package model

import "time"

// Category groups verification items for display and reporting.
type Category string

const (
	CategoryClient      Category = "client"
	CategoryProduct     Category = "product"
	CategoryPayment     Category = "payment"
	CategoryCompliance  Category = "compliance"
	CategoryPrimaryUser Category = "primary_user"
	CategoryTotals      Category = "totals"
)

// IsValid checks whether the category is a known value.
func (c Category) IsValid() bool {
	switch c {
	case CategoryClient, CategoryProduct, CategoryPayment,
		CategoryCompliance, CategoryPrimaryUser, CategoryTotals:
		return true
	}
	return false
}

// Item is one field's snapshot versus its current value and confirmation flags.
//
// OriginalValue is fixed at creation. IsModified always mirrors
// VerifiedValue != OriginalValue; IsVerified is set independently.
type Item struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	FieldName     string    `json:"field_name"`
	FieldCategory Category  `json:"field_category"`
	Position      int       `json:"position"`
	OriginalValue string    `json:"original_value"`
	VerifiedValue string    `json:"verified_value"`
	IsVerified    bool      `json:"is_verified"`
	IsModified    bool      `json:"is_modified"`
	Revision      int64     `json:"revision"`
	UpdatedAt     time.Time `json:"updated_at"`
	UpdatedBy     string    `json:"updated_by,omitempty"`
}

// SetValue replaces the verified value and recomputes IsModified.
// IsVerified is left untouched.
func (it *Item) SetValue(v string) {
	it.VerifiedValue = v
	it.IsModified = v != it.OriginalValue
}

// SetVerified sets the confirmation flag. Value and IsModified are left untouched.
func (it *Item) SetVerified(checked bool) {
	it.IsVerified = checked
}

// Clone returns a shallow copy of the item.
func (it *Item) Clone() *Item {
	c := *it
	return &c
}
