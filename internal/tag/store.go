package tag

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicing/internal/clock"
	"github.com/smallbiznis/invoicing/pkg/db"
	"github.com/smallbiznis/invoicing/pkg/tenantctx"
	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	GenID *snowflake.Node
	Clock clock.Clock
}

type GormStore struct {
	db    *gorm.DB
	genID *snowflake.Node
	clock clock.Clock
}

func NewGormStore(p Params) (*GormStore, error) {
	if p.DB == nil || p.GenID == nil || p.Clock == nil {
		return nil, errors.New("tag store requires db, id generator and clock")
	}
	return &GormStore{db: p.DB, genID: p.GenID, clock: p.Clock}, nil
}

func (s *GormStore) GetDefinitionByName(ctx context.Context, name string) (*Definition, error) {
	var def Definition
	err := s.db.WithContext(ctx).Where("name = ?", strings.TrimSpace(name)).Take(&def).Error
	if db.IsNotFound(err) {
		return nil, ErrDefinitionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &def, nil
}

func (s *GormStore) CreateDefinition(ctx context.Context, def Definition) (*Definition, error) {
	def.Name = strings.TrimSpace(def.Name)
	if def.Name == "" {
		return nil, ErrInvalidTag
	}
	if def.ID == 0 {
		def.ID = s.genID.Generate()
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = s.clock.Now()
	}
	if err := s.db.WithContext(ctx).Create(&def).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, ErrDuplicateDefinition
		}
		return nil, err
	}
	return &def, nil
}

func (s *GormStore) AddTag(ctx context.Context, objectType string, objectID, definitionID snowflake.ID) error {
	if objectID == 0 || definitionID == 0 {
		return ErrInvalidTag
	}
	tenantID, _ := tenantctx.TenantID(ctx)
	row := Tag{
		ID:           s.genID.Generate(),
		TenantID:     tenantID,
		ObjectID:     objectID,
		ObjectType:   objectType,
		DefinitionID: definitionID,
		CreatedAt:    s.clock.Now(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
}

func (s *GormStore) RemoveTag(ctx context.Context, objectType string, objectID, definitionID snowflake.ID) error {
	return s.db.WithContext(ctx).
		Where("object_type = ? AND object_id = ? AND definition_id = ?", objectType, objectID, definitionID).
		Delete(&Tag{}).Error
}

func (s *GormStore) HasTag(ctx context.Context, objectType string, objectID, definitionID snowflake.ID) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Tag{}).
		Where("object_type = ? AND object_id = ? AND definition_id = ?", objectType, objectID, definitionID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *GormStore) ListDefinitionNames(ctx context.Context, objectType string, objectID snowflake.ID) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).Table("tags").
		Select("tag_definitions.name").
		Joins("JOIN tag_definitions ON tag_definitions.id = tags.definition_id").
		Where("tags.object_type = ? AND tags.object_id = ?", objectType, objectID).
		Order("tag_definitions.name ASC").
		Pluck("tag_definitions.name", &names).Error
	if err != nil {
		return nil, err
	}
	return names, nil
}
