package repository

import "context"

// TenantRegistry es el registro externo de tenants (stores). Solo se consulta existencia.
type TenantRegistry interface {
	TenantExists(ctx context.Context, tenantID string) (bool, error)
}
