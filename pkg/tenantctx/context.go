package tenantctx

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

type keyType string

const (
	TenantIDKey    keyType = "tenant_id"
	callContextKey keyType = "call_context"
)

// CallContext carries the record keys of the tenant and account a call operates on.
type CallContext struct {
	TenantID  int64
	AccountID snowflake.ID
	// UserToken correlates every write performed by one logical user operation.
	UserToken string
}

// WithCallContext stores cc on ctx, generating a user token when none is set.
func WithCallContext(ctx context.Context, cc CallContext) context.Context {
	if cc.UserToken == "" {
		cc.UserToken = uuid.NewString()
	}
	ctx = context.WithValue(ctx, TenantIDKey, cc.TenantID)
	return context.WithValue(ctx, callContextKey, cc)
}

func FromContext(ctx context.Context) (CallContext, bool) {
	if ctx == nil {
		return CallContext{}, false
	}
	cc, ok := ctx.Value(callContextKey).(CallContext)
	return cc, ok
}

func TenantID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(TenantIDKey).(int64)
	return id, ok
}

// ForAccount returns a context whose call context targets accountID, keeping tenant and token.
func ForAccount(ctx context.Context, accountID snowflake.ID) context.Context {
	cc, _ := FromContext(ctx)
	cc.AccountID = accountID
	return WithCallContext(ctx, cc)
}
