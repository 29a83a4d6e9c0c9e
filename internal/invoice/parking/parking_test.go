package parking

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/invoicing/internal/clock"
	"github.com/smallbiznis/invoicing/internal/tag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTagStore(t *testing.T) *tag.GormStore {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&tag.Definition{}, &tag.Tag{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	store, err := tag.NewGormStore(tag.Params{DB: conn, GenID: node, Clock: clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))})
	require.NoError(t, err)
	return store
}

// racingStore simulates another process creating the definition between lookup and insert.
type racingStore struct {
	tag.Store
	lookups int
}

func (s *racingStore) GetDefinitionByName(ctx context.Context, name string) (*tag.Definition, error) {
	s.lookups++
	return s.Store.GetDefinitionByName(ctx, name)
}

func (s *racingStore) CreateDefinition(ctx context.Context, def tag.Definition) (*tag.Definition, error) {
	if _, err := s.Store.CreateDefinition(ctx, def); err != nil {
		return nil, err
	}
	return s.Store.CreateDefinition(ctx, def)
}

func TestParkUnparkIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager(ctx, Params{Tags: newTagStore(t), Log: zap.NewNop()})
	require.NoError(t, err)

	parked, err := mgr.IsParked(ctx, 10)
	require.NoError(t, err)
	assert.False(t, parked)

	require.NoError(t, mgr.ParkAccount(ctx, 10))
	require.NoError(t, mgr.ParkAccount(ctx, 10))
	parked, err = mgr.IsParked(ctx, 10)
	require.NoError(t, err)
	assert.True(t, parked)

	other, err := mgr.IsParked(ctx, 11)
	require.NoError(t, err)
	assert.False(t, other)

	require.NoError(t, mgr.UnparkAccount(ctx, 10))
	require.NoError(t, mgr.UnparkAccount(ctx, 10))
	parked, err = mgr.IsParked(ctx, 10)
	require.NoError(t, err)
	assert.False(t, parked)
}

func TestNewManagerReusesExistingDefinition(t *testing.T) {
	ctx := context.Background()
	store := newTagStore(t)

	first, err := NewManager(ctx, Params{Tags: store, Log: zap.NewNop()})
	require.NoError(t, err)
	second, err := NewManager(ctx, Params{Tags: store, Log: zap.NewNop()})
	require.NoError(t, err)
	assert.Equal(t, first.DefinitionID(), second.DefinitionID())
}

func TestNewManagerToleratesConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	store := &racingStore{Store: newTagStore(t)}

	mgr, err := NewManager(ctx, Params{Tags: store, Log: zap.NewNop()})
	require.NoError(t, err)
	assert.Equal(t, 2, store.lookups)

	def, err := store.Store.GetDefinitionByName(ctx, ParkedTagName)
	require.NoError(t, err)
	assert.Equal(t, def.ID, mgr.DefinitionID())
}

func TestNewManagerRequiresDependencies(t *testing.T) {
	_, err := NewManager(context.Background(), Params{})
	assert.Error(t, err)
}
