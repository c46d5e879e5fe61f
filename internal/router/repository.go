package router

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type Repository interface {
	GetByID(ctx context.Context, id int64) (*Router, error)
	ListByTenant(ctx context.Context, tenantID int64) ([]Router, error)
}

const routerColumns = "id, tenant_id, name, host, api_port, ssh_port, username, password, use_tls, disabled, updated_at"

type sqlRepository struct {
	db *sqlx.DB
}

// NewRepository reads routers from the `routers` table.
func NewRepository(db *sqlx.DB) Repository {
	return &sqlRepository{db: db}
}

func (r *sqlRepository) GetByID(ctx context.Context, id int64) (*Router, error) {
	var rt Router
	err := r.db.GetContext(ctx, &rt, "SELECT "+routerColumns+" FROM routers WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRouterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get router %d: %w", id, err)
	}
	return &rt, nil
}

func (r *sqlRepository) ListByTenant(ctx context.Context, tenantID int64) ([]Router, error) {
	routers := make([]Router, 0)
	err := r.db.SelectContext(ctx, &routers,
		"SELECT "+routerColumns+" FROM routers WHERE tenant_id = ? ORDER BY name", tenantID)
	if err != nil {
		return nil, fmt.Errorf("list routers of tenant %d: %w", tenantID, err)
	}
	return routers, nil
}
