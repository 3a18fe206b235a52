package pg

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/dropDatabas3/tubelink/internal/domain/repository"
)

// TenantExists consulta la tabla de tenants configurada (owned por otro servicio).
func (s *Store) TenantExists(ctx context.Context, tenantID string) (bool, error) {
	q := `SELECT EXISTS (SELECT 1 FROM ` + pgx.Identifier{s.tenantTable}.Sanitize() + ` WHERE id::text = $1)`
	var ok bool
	if err := s.pool.QueryRow(ctx, q, tenantID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

var _ repository.TenantRegistry = (*Store)(nil)
