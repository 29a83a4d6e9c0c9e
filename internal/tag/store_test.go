package tag

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/invoicing/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&Definition{}, &Tag{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	store, err := NewGormStore(Params{DB: conn, GenID: node, Clock: clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))})
	require.NoError(t, err)
	return store
}

func TestDefinitionLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.GetDefinitionByName(ctx, "__PARK__")
	assert.ErrorIs(t, err, ErrDefinitionNotFound)

	def, err := store.CreateDefinition(ctx, Definition{Name: "__PARK__", IsControlTag: true})
	require.NoError(t, err)
	assert.NotZero(t, def.ID)

	_, err = store.CreateDefinition(ctx, Definition{Name: "__PARK__"})
	assert.ErrorIs(t, err, ErrDuplicateDefinition)

	found, err := store.GetDefinitionByName(ctx, "__PARK__")
	require.NoError(t, err)
	assert.Equal(t, def.ID, found.ID)
}

func TestTagsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	def, err := store.CreateDefinition(ctx, Definition{Name: AutoInvoicingOff, IsControlTag: true})
	require.NoError(t, err)
	account := snowflake.ID(77)

	require.NoError(t, store.AddTag(ctx, ObjectTypeAccount, account, def.ID))
	require.NoError(t, store.AddTag(ctx, ObjectTypeAccount, account, def.ID))

	has, err := store.HasTag(ctx, ObjectTypeAccount, account, def.ID)
	require.NoError(t, err)
	assert.True(t, has)

	names, err := store.ListDefinitionNames(ctx, ObjectTypeAccount, account)
	require.NoError(t, err)
	assert.Equal(t, []string{AutoInvoicingOff}, names)

	require.NoError(t, store.RemoveTag(ctx, ObjectTypeAccount, account, def.ID))
	require.NoError(t, store.RemoveTag(ctx, ObjectTypeAccount, account, def.ID))
	has, err = store.HasTag(ctx, ObjectTypeAccount, account, def.ID)
	require.NoError(t, err)
	assert.False(t, has)
}
