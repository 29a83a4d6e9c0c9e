package tenantctx

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
)

func TestWithCallContext(t *testing.T) {
	ctx := WithCallContext(context.Background(), CallContext{TenantID: 9, AccountID: snowflake.ID(42)})

	cc, ok := FromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, int64(9), cc.TenantID)
	assert.Equal(t, snowflake.ID(42), cc.AccountID)
	assert.NotEmpty(t, cc.UserToken)

	tenantID, ok := TenantID(ctx)
	assert.True(t, ok)
	assert.Equal(t, int64(9), tenantID)
}

func TestForAccountKeepsToken(t *testing.T) {
	ctx := WithCallContext(context.Background(), CallContext{TenantID: 1, UserToken: "tok"})
	ctx = ForAccount(ctx, snowflake.ID(7))

	cc, _ := FromContext(ctx)
	assert.Equal(t, "tok", cc.UserToken)
	assert.Equal(t, snowflake.ID(7), cc.AccountID)
	assert.Equal(t, int64(1), cc.TenantID)
}
