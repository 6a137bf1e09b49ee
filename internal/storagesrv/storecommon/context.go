// Package storecommon provides context management utilities shared by the
// storage service packages. Every engine operation resolves its tenant from
// the request context.
package storecommon

import (
	"context"

	"github.com/corralhq/corral-internal/pkg/types"
)

// ctxKeyType represents the type for all context keys
type ctxKeyType string

const ctxTenantIdKey ctxKeyType = "StoreTenantId"

// SetTenantIdInContext sets the tenant ID in the provided context.
func SetTenantIdInContext(ctx context.Context, tenantId types.TenantId) context.Context {
	return context.WithValue(ctx, ctxTenantIdKey, tenantId)
}

// TenantIdFromContext retrieves the tenant ID from the provided context.
func TenantIdFromContext(ctx context.Context) types.TenantId {
	if tenantId, ok := ctx.Value(ctxTenantIdKey).(types.TenantId); ok {
		return tenantId
	}
	return ""
}
