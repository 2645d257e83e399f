package shared

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Tenant carries the authenticated caller supplied by the upstream session verifier.
type Tenant struct {
	UserID    uuid.UUID
	CompanyID uuid.UUID
	Email     string
}

type tenantContextKey struct{}

// ContextWithTenant stores the tenant in context.
func ContextWithTenant(ctx context.Context, tenant Tenant) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tenant)
}

// TenantFromContext extracts the tenant from context.
func TenantFromContext(ctx context.Context) (Tenant, bool) {
	tenant, ok := ctx.Value(tenantContextKey{}).(Tenant)
	return tenant, ok
}

// RequireTenant returns the tenant or ErrAuthorization when the company scope is missing.
func RequireTenant(ctx context.Context) (Tenant, error) {
	tenant, ok := TenantFromContext(ctx)
	if !ok || tenant.CompanyID == uuid.Nil {
		return Tenant{}, fmt.Errorf("%w: company scope required", ErrAuthorization)
	}
	return tenant, nil
}
