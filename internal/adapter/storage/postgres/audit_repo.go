package postgres

import (
	"context"

	"github.com/Ni8crawler18/Phloem/internal/core/domain"
	"github.com/Ni8crawler18/Phloem/internal/core/ports"
)

type auditRepo struct {
	pool Pool
}

// NewAuditRepository creates a PostgreSQL-backed AuditRepository.
func NewAuditRepository(pool Pool) ports.AuditRepository {
	return &auditRepo{pool: pool}
}

func (r *auditRepo) Create(ctx context.Context, log *domain.AuditLog) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_logs (id, fiduciary_id, action, resource_type, resource_id, ip_address, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		log.ID, log.FiduciaryID, string(log.Action), log.ResourceType,
		log.ResourceID, log.IPAddress, log.Details, log.CreatedAt,
	)
	return err
}
