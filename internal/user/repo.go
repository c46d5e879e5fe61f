package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

var (
	ErrNotFound  = errors.New("operator not found")
	ErrDuplicate = errors.New("username already taken")
)

// Operator is a dashboard user. Every operator belongs to one tenant.
type Operator struct {
	ID           int64  `db:"id" json:"id"`
	TenantID     int64  `db:"tenant_id" json:"tenantId"`
	Username     string `db:"username" json:"username"`
	PasswordHash string `db:"password_hash" json:"-"`
	Nickname     string `db:"nickname" json:"nickname"`
	Role         string `db:"role" json:"role"`
}

type Repository interface {
	Insert(ctx context.Context, op *Operator) error
	GetByUsername(ctx context.Context, username string) (*Operator, error)
}

type sqlRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &sqlRepository{db: db}
}

func (r *sqlRepository) Insert(ctx context.Context, op *Operator) error {
	query := "INSERT INTO operators (tenant_id, username, password_hash, nickname, role) VALUES (:tenant_id, :username, :password_hash, :nickname, :role)"
	res, err := r.db.NamedExecContext(ctx, query, op)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == 1062 {
			return ErrDuplicate
		}
		zap.L().Error("failed to insert operator", zap.Error(err))
		return fmt.Errorf("failed to insert operator: %w", err)
	}
	op.ID, _ = res.LastInsertId()
	return nil
}

func (r *sqlRepository) GetByUsername(ctx context.Context, username string) (*Operator, error) {
	var op Operator
	err := r.db.GetContext(ctx, &op,
		"SELECT id, tenant_id, username, password_hash, nickname, role FROM operators WHERE username = ?", username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		zap.L().Error("failed to get operator by username", zap.Error(err))
		return nil, fmt.Errorf("failed to get operator by username: %w", err)
	}
	return &op, nil
}
