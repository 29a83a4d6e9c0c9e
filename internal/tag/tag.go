// Package tag stores tag definitions and the tags attached to accounts.
package tag

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

const ObjectTypeAccount = "ACCOUNT"

// Control tags recognised by invoicing.
const (
	AutoInvoicingOff        = "AUTO_INVOICING_OFF"
	AutoInvoicingDraft      = "AUTO_INVOICING_DRAFT"
	AutoInvoicingReuseDraft = "AUTO_INVOICING_REUSE_DRAFT"
)

var (
	ErrDefinitionNotFound  = errors.New("tag_definition_not_found")
	ErrDuplicateDefinition = errors.New("tag_definition_exists")
	ErrInvalidTag          = errors.New("invalid_tag")
)

// Definition names a tag.
type Definition struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	Name         string       `gorm:"type:text;not null;uniqueIndex:ux_tag_definitions_name"`
	Description  string       `gorm:"type:text"`
	IsControlTag bool         `gorm:"not null;default:false"`
	CreatedAt    time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (Definition) TableName() string { return "tag_definitions" }

// Tag attaches a definition to an object.
type Tag struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	TenantID     int64        `gorm:"not null;index"`
	ObjectID     snowflake.ID `gorm:"not null;uniqueIndex:ux_tags_object_definition"`
	ObjectType   string       `gorm:"type:text;not null;uniqueIndex:ux_tags_object_definition"`
	DefinitionID snowflake.ID `gorm:"not null;uniqueIndex:ux_tags_object_definition"`
	CreatedAt    time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (Tag) TableName() string { return "tags" }

// Store is the tag CRUD used by invoicing. AddTag and RemoveTag are idempotent.
type Store interface {
	GetDefinitionByName(ctx context.Context, name string) (*Definition, error)
	CreateDefinition(ctx context.Context, def Definition) (*Definition, error)
	AddTag(ctx context.Context, objectType string, objectID, definitionID snowflake.ID) error
	RemoveTag(ctx context.Context, objectType string, objectID, definitionID snowflake.ID) error
	HasTag(ctx context.Context, objectType string, objectID, definitionID snowflake.ID) (bool, error)
	ListDefinitionNames(ctx context.Context, objectType string, objectID snowflake.ID) ([]string, error)
}
