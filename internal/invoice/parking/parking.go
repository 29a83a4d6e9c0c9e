// Package parking suspends background invoicing for accounts whose invoicing state is inconsistent.
package parking

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicing/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/invoicing/internal/observability/metrics"
	"github.com/smallbiznis/invoicing/internal/tag"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ParkedTagName is the control tag marking a parked account.
const ParkedTagName = "__PARK__"

type Params struct {
	fx.In

	Tags    tag.Store
	Log     *zap.Logger
	Metrics *obsmetrics.InvoiceMetrics `optional:"true"`
}

// Manager parks and unparks accounts through the __PARK__ control tag.
type Manager struct {
	tags         tag.Store
	log          *zap.Logger
	metrics      *obsmetrics.InvoiceMetrics
	definitionID snowflake.ID
}

// NewManager retrieves or creates the __PARK__ definition. A concurrent creator winning the
// insert is not an error.
func NewManager(ctx context.Context, p Params) (*Manager, error) {
	if p.Tags == nil || p.Log == nil {
		return nil, domain.ErrInvalidConfig
	}
	def, err := ensureDefinition(ctx, p.Tags)
	if err != nil {
		return nil, err
	}
	return &Manager{
		tags:         p.Tags,
		log:          p.Log.Named("invoice.parking"),
		metrics:      p.Metrics,
		definitionID: def.ID,
	}, nil
}

func ensureDefinition(ctx context.Context, tags tag.Store) (*tag.Definition, error) {
	def, err := tags.GetDefinitionByName(ctx, ParkedTagName)
	if err == nil {
		return def, nil
	}
	if !errors.Is(err, tag.ErrDefinitionNotFound) {
		return nil, fmt.Errorf("load parked tag definition: %w", err)
	}

	def, err = tags.CreateDefinition(ctx, tag.Definition{
		Name:         ParkedTagName,
		Description:  "Invoicing suspended for background triggers",
		IsControlTag: true,
	})
	if errors.Is(err, tag.ErrDuplicateDefinition) {
		def, err = tags.GetDefinitionByName(ctx, ParkedTagName)
	}
	if err != nil {
		return nil, fmt.Errorf("create parked tag definition: %w", err)
	}
	return def, nil
}

// DefinitionID returns the id of the __PARK__ definition.
func (m *Manager) DefinitionID() snowflake.ID {
	return m.definitionID
}

func (m *Manager) ParkAccount(ctx context.Context, accountID snowflake.ID) error {
	if err := m.tags.AddTag(ctx, tag.ObjectTypeAccount, accountID, m.definitionID); err != nil {
		return fmt.Errorf("park account %s: %w", accountID, err)
	}
	m.metrics.IncParkingTransition(obsmetrics.ParkingTransitionPark)
	m.log.Warn("invoice.parking.parked", zap.String("account_id", accountID.String()))
	return nil
}

func (m *Manager) UnparkAccount(ctx context.Context, accountID snowflake.ID) error {
	if err := m.tags.RemoveTag(ctx, tag.ObjectTypeAccount, accountID, m.definitionID); err != nil {
		return fmt.Errorf("unpark account %s: %w", accountID, err)
	}
	m.metrics.IncParkingTransition(obsmetrics.ParkingTransitionUnpark)
	m.log.Info("invoice.parking.unparked", zap.String("account_id", accountID.String()))
	return nil
}

func (m *Manager) IsParked(ctx context.Context, accountID snowflake.ID) (bool, error) {
	return m.tags.HasTag(ctx, tag.ObjectTypeAccount, accountID, m.definitionID)
}
